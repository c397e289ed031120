package crmgate

import internalmetrics "github.com/prospectcrm/crmgate/internal/metrics"

// MetricID identifies one gateway counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of all gateway counters.
type MetricsSnapshot = internalmetrics.Snapshot

// MetricsConfig toggles metric collection.
type MetricsConfig = internalmetrics.Config

const (
	MetricRestoreStarted       = internalmetrics.MetricRestoreStarted
	MetricRestoreSucceeded     = internalmetrics.MetricRestoreSucceeded
	MetricRestoreFailed        = internalmetrics.MetricRestoreFailed
	MetricRestoreSkipped       = internalmetrics.MetricRestoreSkipped
	MetricRestoreDeduplicated  = internalmetrics.MetricRestoreDeduplicated
	MetricRestoreDeferred      = internalmetrics.MetricRestoreDeferred
	MetricSnapshotAdopted      = internalmetrics.MetricSnapshotAdopted
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricLoginRejected        = internalmetrics.MetricLoginRejected
	MetricRegisterSuccess      = internalmetrics.MetricRegisterSuccess
	MetricRegisterFailure      = internalmetrics.MetricRegisterFailure
	MetricLogout               = internalmetrics.MetricLogout
	MetricLogoutBackendFailure = internalmetrics.MetricLogoutBackendFailure
	MetricUnauthorized         = internalmetrics.MetricUnauthorized
	MetricIdentityUpdated      = internalmetrics.MetricIdentityUpdated
	MetricGatePending          = internalmetrics.MetricGatePending
	MetricGateRender           = internalmetrics.MetricGateRender
	MetricGateRedirect         = internalmetrics.MetricGateRedirect
	MetricPersistFailure       = internalmetrics.MetricPersistFailure
	MetricLoginThrottled       = internalmetrics.MetricLoginThrottled
	MetricRestoreLatency       = internalmetrics.MetricRestoreLatency
)
