// Package route is the authorization gate in front of every screen.
//
// [Decide] is a pure function of a session State and a route [Requirement].
// [Table] declares the application's routes once, then freezes, and
// [Table.Resolve] applies the root switch: which tree of routes is reachable
// depends on whether the session is authenticated.
//
// # What this package must NOT do
//
//   - Mutate session state or call the backend.
//   - Render anything; it returns a [Decision] and the caller maps it to a response.
package route
