// Package backend is the HTTP client for the CRM authentication endpoints
// (/auth/me, /auth/login, /auth/logout, /users/register).
//
// A [Client] is shared by the whole gateway; [Client.Session] binds it to one
// browser session's cookie jar, so backend credentials never cross sessions.
// Responses use the backend envelope {success, message, data, error}; any
// non-success answer becomes an [*AuthFailure].
package backend
