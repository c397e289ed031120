// Package middleware exposes HTTP middleware that binds browser requests to
// crmgate.Gateway sessions and enforces route gate decisions.
//
// # Middleware
//
//   - [Bootstrap] assigns the browser-session cookie, activates the session
//     and holds the first navigation until the restore settles.
//   - [Guard] enforces one route Requirement.
//   - [RootSwitch] enforces the route table for whatever path was requested.
//
// Guards map PENDING to 503 with Retry-After, REDIRECT to 302 (303 after a
// POST) and RENDER to the wrapped handler with the decided State in context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gateway calls. It does NOT
// implement authorization itself; every decision comes from the Gateway.
//
// # What this package must NOT do
//
//   - Call the CRM backend directly (the Gateway owns credentials).
//   - Access Redis.
//   - Render application screens beyond the neutral pending response.
package middleware
