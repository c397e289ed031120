// Package prometheus renders gateway metrics in the Prometheus text
// exposition format.
//
// Counters are named crmgate_*_total; the restore latency histogram is
// crmgate_restore_latency_seconds. Mount [Exporter.Handler] on the metrics
// listener.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate gateway state.
package prometheus
