// Package crmgate is the session and authorization gateway of the Prospect
// CRM web front-end. It owns one Session State per browser session, restores
// it from the CRM backend exactly once per session lifetime, and decides for
// every navigation whether the requested screen may render.
//
// The package is designed for concurrent server workloads: Gateway methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// crmgate is the public surface. It exposes [Gateway], [Builder], [Config]
// and value types (State, Identity, Decision, MetricsSnapshot). Flow
// orchestration, metrics and audit dispatch live under internal/ and are never
// exported. Session storage lives in the session package, the backend wire
// protocol in backend, and the pure gate in route.
//
// # What this package must NOT do
//
//   - Render screens or know about CRM business data.
//   - Expose Redis clients or snapshot encoding in its public API.
//   - Perform I/O outside of Gateway methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports crmgate (no import cycles).
package crmgate
