package flows

import (
	"context"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/metrics"
)

// LogoutResult reports what a logout observed. The session is cleared
// regardless of its contents.
type LogoutResult struct {
	HadIdentity bool
	BackendErr  error
}

// RunLogout signs the session out.
//
// The backend call is best effort: it runs detached from ctx cancellation,
// bounded by LogoutTimeout, and its failure is only logged and counted. The
// identity, the restore phase, the cookie jar and the cross-replica claim are
// then reset unconditionally.
func RunLogout(ctx context.Context, s Session, deps LogoutDeps) LogoutResult {
	log := deps.log().With(zap.String("session_id", s.ID))
	prev := s.Store.State().Identity

	callCtx := context.WithoutCancel(ctx)
	if deps.LogoutTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, deps.LogoutTimeout)
		defer cancel()
	}
	backendErr := s.Backend.Logout(callCtx)
	if backendErr != nil {
		deps.inc(metrics.MetricLogoutBackendFailure)
		log.Warn("backend logout failed", zap.Error(backendErr))
	}

	reset(callCtx, s, deps, log)
	deps.inc(metrics.MetricLogout)

	ev := identityEvent(audit.EventLogout, s, prev)
	ev.Success = backendErr == nil
	if backendErr != nil {
		ev.Error = backendErr.Error()
	}
	deps.emit(ctx, ev)

	return LogoutResult{HadIdentity: prev != nil, BackendErr: backendErr}
}

// RunUnauthorized handles a 401 reported by a screen after the session
// settled. The credential is dropped locally without a backend call so the
// next navigation lands on sign-in.
func RunUnauthorized(ctx context.Context, s Session, deps LogoutDeps) bool {
	prev := s.Store.State().Identity
	if prev == nil {
		return false
	}
	log := deps.log().With(zap.String("session_id", s.ID))

	reset(context.WithoutCancel(ctx), s, deps, log)
	deps.inc(metrics.MetricUnauthorized)
	deps.emit(ctx, identityEvent(audit.EventUnauthorized, s, prev))
	log.Info("session credential rejected by backend", zap.Int64("user_id", prev.ID))
	return true
}

func reset(ctx context.Context, s Session, deps LogoutDeps, log *zap.Logger) {
	s.Store.SetIdentity(nil)
	s.Store.Disarm()
	s.Store.SetLoading(false)

	if s.ClearCredential != nil {
		if err := s.ClearCredential(); err != nil {
			log.Warn("credential clear failed", zap.Error(err))
		}
	}
	if deps.Claims != nil {
		if err := deps.Claims.DropClaim(ctx, s.ID); err != nil {
			log.Warn("restore claim drop failed", zap.Error(err))
		}
	}
}
