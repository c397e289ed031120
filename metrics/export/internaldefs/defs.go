package internaldefs

import (
	"github.com/prospectcrm/crmgate"
)

// CounterDef names one gateway counter for exporters.
type CounterDef struct {
	ID   crmgate.MetricID
	Name string
	Help string
}

// HistogramDef names one gateway histogram for exporters.
type HistogramDef struct {
	ID   crmgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: crmgate.MetricRestoreStarted, Name: "crmgate_restore_started_total", Help: "Session restores started against the backend."},
	{ID: crmgate.MetricRestoreSucceeded, Name: "crmgate_restore_succeeded_total", Help: "Session restores that found an authenticated user."},
	{ID: crmgate.MetricRestoreFailed, Name: "crmgate_restore_failed_total", Help: "Session restores that settled anonymous after a backend failure."},
	{ID: crmgate.MetricRestoreSkipped, Name: "crmgate_restore_skipped_total", Help: "Sessions opened on an entry surface without a restore."},
	{ID: crmgate.MetricRestoreDeduplicated, Name: "crmgate_restore_deduplicated_total", Help: "Activations that joined an existing restore."},
	{ID: crmgate.MetricRestoreDeferred, Name: "crmgate_restore_deferred_total", Help: "Restores left to the replica holding the shared claim."},
	{ID: crmgate.MetricSnapshotAdopted, Name: "crmgate_snapshot_adopted_total", Help: "Session states adopted from the shared snapshot store."},
	{ID: crmgate.MetricLoginSuccess, Name: "crmgate_login_success_total", Help: "Successful logins."},
	{ID: crmgate.MetricLoginFailure, Name: "crmgate_login_failure_total", Help: "Logins that failed for reasons other than bad credentials."},
	{ID: crmgate.MetricLoginRejected, Name: "crmgate_login_rejected_total", Help: "Logins rejected for invalid credentials."},
	{ID: crmgate.MetricRegisterSuccess, Name: "crmgate_register_success_total", Help: "Successful registrations."},
	{ID: crmgate.MetricRegisterFailure, Name: "crmgate_register_failure_total", Help: "Failed registrations."},
	{ID: crmgate.MetricLogout, Name: "crmgate_logout_total", Help: "Logouts."},
	{ID: crmgate.MetricLogoutBackendFailure, Name: "crmgate_logout_backend_failure_total", Help: "Logouts whose backend call failed."},
	{ID: crmgate.MetricUnauthorized, Name: "crmgate_unauthorized_total", Help: "Sessions cleared after the backend answered 401."},
	{ID: crmgate.MetricIdentityUpdated, Name: "crmgate_identity_updated_total", Help: "In-place identity updates."},
	{ID: crmgate.MetricGatePending, Name: "crmgate_gate_pending_total", Help: "Route decisions answered as pending."},
	{ID: crmgate.MetricGateRender, Name: "crmgate_gate_render_total", Help: "Route decisions answered as render."},
	{ID: crmgate.MetricGateRedirect, Name: "crmgate_gate_redirect_total", Help: "Route decisions answered as redirect."},
	{ID: crmgate.MetricPersistFailure, Name: "crmgate_persist_failure_total", Help: "Session snapshots that could not be written."},
	{ID: crmgate.MetricLoginThrottled, Name: "crmgate_login_throttled_total", Help: "Sign-in attempts refused by the failed-attempt throttle."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: crmgate.MetricRestoreLatency, Name: "crmgate_restore_latency_seconds", Help: "Backend session restore latency."},
}

// HistogramBounds are the upper bounds of the latency buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
