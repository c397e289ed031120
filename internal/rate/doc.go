// Package rate implements the Redis-backed failed sign-in throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys:
//   - <prefix>:signin:{<email>}  failed sign-ins per account email
//   - <prefix>:signin-ip:{<ip>}  failed sign-ins per client IP (optional)
//
// A counter that has reached the configured maximum refuses further attempts
// until its window expires. A successful sign-in clears both counters.
//
// # What this package must NOT do
//
//   - Decide whether credentials are valid (the CRM backend does).
//   - Be imported outside the crmgate module.
package rate
