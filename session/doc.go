// Package session owns the per-browser Session State of the gateway: the
// authenticated [Identity], the loading/initialized flags and the restore
// [Phase] that guards the one-time session restore.
//
// # Components
//
//   - [Store]: the in-memory, mutex-serialized single writer for one browser session.
//   - [RedisSnapshots]: optional Redis mirror of each State plus the cross-replica
//     restore claim.
//   - [Registry]: one Store and one backend cookie jar per browser session ID,
//     loaded once per process.
//
// # Binary encoding
//
// Snapshots are stored as a compact versioned binary format. New versions add
// fields at the end and never reinterpret old ones.
//
// # Architecture boundaries
//
// This package holds state. It does NOT call the authentication backend, parse
// access tokens or decide whether a route renders. Those belong to
// internal/flows, jwt and route respectively.
//
// # What this package must NOT do
//
//   - Import crmgate, backend, route or internal/flows (no upward imports).
//   - Persist credentials. The cookie jar lives only in process memory.
//   - Let initialized revert to false once it has been set.
package session
