package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/metrics"
	"github.com/prospectcrm/crmgate/session"
)

// AuthBackend is the per-session view of the authentication backend.
type AuthBackend interface {
	RestoreSession(ctx context.Context) (*session.Identity, error)
	Login(ctx context.Context, creds backend.Credentials) (*session.Identity, error)
	Register(ctx context.Context, reg backend.Registration) (*session.Identity, error)
	Logout(ctx context.Context) error
}

// RestoreClaims arbitrates restores between replicas. *session.RedisSnapshots
// implements it.
type RestoreClaims interface {
	ClaimRestore(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseRestore(ctx context.Context, sessionID string) error
	DropClaim(ctx context.Context, sessionID string) error
}

// Session is the target of one flow call.
type Session struct {
	ID      string
	Store   *session.Store
	Backend AuthBackend

	// ClearCredential drops the backend cookies held for the session.
	ClearCredential func() error

	// ClientIP is the browser's address for the current call, when known.
	ClientIP string
}

// Throttle counts failed sign-ins. *rate.Limiter implements it.
type Throttle interface {
	Check(ctx context.Context, email, ip string) error
	RecordFailure(ctx context.Context, email, ip string) error
	Reset(ctx context.Context, email, ip string) error
}

// Errors carries host-level sentinel errors returned by the flows.
type Errors struct {
	OperationInFlight error
	NotAuthenticated  error
	InvalidIdentity   error
}

// Observer bundles the observability sinks shared by all flows. Every field
// may be nil.
type Observer struct {
	Metrics *metrics.Metrics
	Audit   *audit.Dispatcher
	Logger  *zap.Logger
	Now     func() time.Time
}

func (o Observer) inc(id metrics.MetricID) {
	o.Metrics.Inc(id)
}

func (o Observer) emit(ctx context.Context, ev audit.Event) {
	o.Audit.Emit(ctx, ev)
}

func (o Observer) log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Observer) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// BootstrapDeps captures restore dependencies.
type BootstrapDeps struct {
	IsEntrySurface func(path string) bool
	Claims         RestoreClaims
	RestoreTimeout time.Duration
	Observer
}

// AuthDeps captures login and register dependencies.
type AuthDeps struct {
	Errors Errors
	// Throttle is nil when sign-in throttling is off.
	Throttle Throttle
	Observer
}

// LogoutDeps captures logout and unauthorized dependencies.
type LogoutDeps struct {
	Claims        RestoreClaims
	LogoutTimeout time.Duration
	Observer
}

// IdentityDeps captures identity update dependencies.
type IdentityDeps struct {
	Errors Errors
	Observer
}

// Deps groups flow dependency sets. The Gateway builds this once and
// delegates each operation to the matching flow.
type Deps struct {
	Bootstrap BootstrapDeps
	Auth      AuthDeps
	Logout    LogoutDeps
	Identity  IdentityDeps
}

func identityEvent(eventType string, s Session, id *session.Identity) audit.Event {
	ev := audit.Event{EventType: eventType, SessionID: s.ID}
	if id != nil {
		ev.UserID = id.ID
		ev.Role = id.Role.String()
	}
	return ev
}
