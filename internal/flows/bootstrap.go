package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/metrics"
)

// BootstrapOutcome reports what one activation did.
type BootstrapOutcome uint8

const (
	// OutcomeSkipped: opened on an entry surface, settled anonymous without a backend call.
	OutcomeSkipped BootstrapOutcome = iota
	// OutcomeRestored: the backend returned an identity.
	OutcomeRestored
	// OutcomeAnonymous: the restore failed and the session settled without identity.
	OutcomeAnonymous
	// OutcomeDuplicate: the restore was already claimed or done in this lifetime.
	OutcomeDuplicate
	// OutcomeDeferred: another replica holds the restore claim.
	OutcomeDeferred
)

func (o BootstrapOutcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRestored:
		return "restored"
	case OutcomeAnonymous:
		return "anonymous"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

const claimReleaseTimeout = time.Second

// RunBootstrap performs the one-time restore of a session.
//
// The local phase is claimed before the backend call, then (with Redis) the
// cross-replica claim. Losing either makes the call a no-op. The backend
// call runs detached from ctx cancellation, bounded by RestoreTimeout, and
// always settles the session: any failure settles it anonymous.
func RunBootstrap(ctx context.Context, s Session, entryPath string, deps BootstrapDeps) BootstrapOutcome {
	log := deps.log().With(zap.String("session_id", s.ID), zap.String("path", entryPath))

	if deps.IsEntrySurface != nil && deps.IsEntrySurface(entryPath) {
		if s.Store.SkipRestore() {
			deps.inc(metrics.MetricRestoreSkipped)
			log.Debug("restore skipped on entry surface")
			return OutcomeSkipped
		}
		deps.inc(metrics.MetricRestoreDeduplicated)
		return OutcomeDuplicate
	}

	attempt, ok := s.Store.StartRestore()
	if !ok {
		deps.inc(metrics.MetricRestoreDeduplicated)
		return OutcomeDuplicate
	}

	ctx = context.WithoutCancel(ctx)
	if deps.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.RestoreTimeout)
		defer cancel()
	}

	if deps.Claims != nil {
		won, err := deps.Claims.ClaimRestore(ctx, s.ID, deps.RestoreTimeout)
		switch {
		case err != nil:
			// Redis is only an arbiter; the local claim still holds.
			log.Warn("restore claim unavailable", zap.Error(err))
		case !won:
			attempt.Abandon()
			deps.inc(metrics.MetricRestoreDeferred)
			log.Debug("restore owned by another replica")
			return OutcomeDeferred
		default:
			defer releaseClaim(ctx, s.ID, deps.Claims, log)
		}
	}

	deps.inc(metrics.MetricRestoreStarted)
	start := deps.now()
	id, err := s.Backend.RestoreSession(ctx)
	deps.Metrics.Observe(metrics.MetricRestoreLatency, deps.now().Sub(start))

	if err != nil {
		if !attempt.Complete(nil) {
			deps.inc(metrics.MetricRestoreDeduplicated)
			return OutcomeDuplicate
		}
		deps.inc(metrics.MetricRestoreFailed)
		ev := identityEvent(audit.EventRestore, s, nil)
		ev.Error = err.Error()
		deps.emit(ctx, ev)
		log.Debug("restore settled anonymous", zap.Error(err))
		return OutcomeAnonymous
	}

	if !attempt.Complete(id) {
		// superseded by login or logout while the call was in flight
		deps.inc(metrics.MetricRestoreDeduplicated)
		return OutcomeDuplicate
	}
	deps.inc(metrics.MetricRestoreSucceeded)
	ev := identityEvent(audit.EventRestore, s, id)
	ev.Success = true
	deps.emit(ctx, ev)
	log.Debug("restore settled", zap.Int64("user_id", id.ID), zap.Stringer("role", id.Role))
	return OutcomeRestored
}

func releaseClaim(ctx context.Context, sessionID string, claims RestoreClaims, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimReleaseTimeout)
	defer cancel()
	if err := claims.ReleaseRestore(ctx, sessionID); err != nil {
		log.Warn("restore claim release failed", zap.Error(err))
	}
}
