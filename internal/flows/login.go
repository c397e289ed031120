package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/metrics"
	"github.com/prospectcrm/crmgate/internal/rate"
	"github.com/prospectcrm/crmgate/session"
)

// RunLogin describes the login operation and its observable behavior.
//
// The operation slot rejects a second login or register while one is in
// flight. Loading is set for the duration of the backend call and cleared on
// every exit path. On success the identity is installed and the restore phase
// armed; on failure the identity is untouched and the error returned as is.
//
// With a throttle, an email or client IP whose failed-attempt budget is spent
// is refused with rate.ErrRateLimited before the backend is asked. An
// unreachable throttle store lets the attempt through.
func RunLogin(ctx context.Context, s Session, creds backend.Credentials, deps AuthDeps) (*session.Identity, error) {
	return runCredentialFlow(ctx, s, deps, audit.EventLogin, func(ctx context.Context) (*session.Identity, error) {
		if deps.Throttle == nil {
			return s.Backend.Login(ctx, creds)
		}
		log := deps.log().With(zap.String("session_id", s.ID))
		if err := deps.Throttle.Check(ctx, creds.Email, s.ClientIP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return nil, err
			}
			log.Warn("sign-in throttle unavailable", zap.Error(err))
		}

		id, err := s.Backend.Login(ctx, creds)
		switch {
		case err == nil:
			err := deps.Throttle.Reset(ctx, creds.Email, s.ClientIP)
			logThrottleError(log, err)
		case errors.Is(err, backend.ErrInvalidCredentials):
			err := deps.Throttle.RecordFailure(ctx, creds.Email, s.ClientIP)
			logThrottleError(log, err)
		}
		return id, err
	})
}

func logThrottleError(log *zap.Logger, err error) {
	if err != nil {
		log.Warn("sign-in throttle update failed", zap.Error(err))
	}
}

// RunRegister creates an account and signs the session in with it. It has the
// same contract as RunLogin.
func RunRegister(ctx context.Context, s Session, reg backend.Registration, deps AuthDeps) (*session.Identity, error) {
	return runCredentialFlow(ctx, s, deps, audit.EventRegister, func(ctx context.Context) (*session.Identity, error) {
		return s.Backend.Register(ctx, reg)
	})
}

func runCredentialFlow(
	ctx context.Context,
	s Session,
	deps AuthDeps,
	eventType string,
	call func(context.Context) (*session.Identity, error),
) (*session.Identity, error) {
	if !s.Store.BeginOperation() {
		return nil, deps.Errors.OperationInFlight
	}
	defer s.Store.EndOperation()

	s.Store.SetLoading(true)
	defer s.Store.FinishLoading()

	log := deps.log().With(zap.String("session_id", s.ID), zap.String("operation", eventType))

	id, err := call(ctx)
	if err == nil && id == nil {
		err = backend.ErrMalformedResponse
	}
	if err != nil {
		countCredentialFailure(deps.Observer, eventType, err)
		ev := identityEvent(eventType, s, nil)
		ev.Error = err.Error()
		deps.emit(ctx, ev)
		log.Info("credential operation failed", zap.Error(err))
		return nil, err
	}

	s.Store.SetIdentity(id)
	s.Store.Arm()

	if eventType == audit.EventRegister {
		deps.inc(metrics.MetricRegisterSuccess)
	} else {
		deps.inc(metrics.MetricLoginSuccess)
	}
	ev := identityEvent(eventType, s, id)
	ev.Success = true
	deps.emit(ctx, ev)
	log.Info("signed in", zap.Int64("user_id", id.ID), zap.Stringer("role", id.Role))
	return id.Clone(), nil
}

func countCredentialFailure(o Observer, eventType string, err error) {
	if eventType == audit.EventRegister {
		o.inc(metrics.MetricRegisterFailure)
		return
	}
	if errors.Is(err, rate.ErrRateLimited) {
		o.inc(metrics.MetricLoginThrottled)
		return
	}
	// rejected credentials are expected traffic; everything else is a failure
	var failure *backend.AuthFailure
	if errors.As(err, &failure) && errors.Is(err, backend.ErrInvalidCredentials) {
		o.inc(metrics.MetricLoginRejected)
		return
	}
	o.inc(metrics.MetricLoginFailure)
}
