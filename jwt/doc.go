// Package jwt reads the access tokens the CRM backend issues. The gateway
// never mints tokens for browsers; it only inspects the credential it holds
// on a session's behalf to cross-check the identity and learn its expiry.
package jwt
