// Package internal holds the gateway's private building blocks.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: CRMGATE_* environment loading for the binaries
//   - flows: pure-function orchestrators for every Gateway operation
//   - metrics: lock-free counters and the restore latency histogram
//   - rate: Redis-backed failed sign-in throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public crmgate API.
//   - Be imported by any package outside the crmgate module.
package internal
