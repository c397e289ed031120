package crmgate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/flows"
	"github.com/prospectcrm/crmgate/internal/metrics"
	"github.com/prospectcrm/crmgate/route"
	"github.com/prospectcrm/crmgate/session"
)

// Gateway owns every browser session of one process. Build it with
// [Builder.Build]; all methods are safe for concurrent use.
type Gateway struct {
	config    Config
	routes    *route.Table
	registry  *session.Registry
	snapshots *session.RedisSnapshots
	backend   BackendFactory
	flows     *flows.Service
	metrics   *metrics.Metrics
	audit     *audit.Dispatcher
	logger    *zap.Logger
	entry     map[string]struct{}

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

// Close stops the idle-session janitor and drains the audit dispatcher.
func (g *Gateway) Close() {
	if g == nil {
		return
	}
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		close(g.stop)
		g.wg.Wait()
		g.audit.Close()
	})
}

func (g *Gateway) ready() error {
	if g == nil || g.closed.Load() {
		return ErrNotReady
	}
	return nil
}

/*
====================================
BOOTSTRAP
====================================
*/

// Activate describes the session bootstrap operation and its observable behavior.
//
// It runs the one-time restore for sessionID as if the browser opened the
// application at entryPath. On an entry surface the session settles anonymous
// without a backend call. Otherwise the first activation of a lifetime asks
// the backend who holds the session's credential; every later or concurrent
// activation is a no-op. With Redis, a settled snapshot written by another
// replica is adopted first and only one replica runs the restore.
//
// Restore failures never surface here: they settle the session anonymous.
// Activate returns only ErrNotReady and ErrSessionIDRequired style errors.
func (g *Gateway) Activate(ctx context.Context, sessionID, entryPath string) (State, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	g.adopt(ctx, e)

	outcome := g.flows.Bootstrap(ctx, g.flowSession(e), entryPath)
	st := e.Store.State()
	g.logger.Debug("session activated",
		zap.String("session_id", sessionID),
		zap.String("path", entryPath),
		zap.Stringer("outcome", outcome),
		zap.Stringer("phase", st.Phase),
	)
	return st, nil
}

// Await blocks until the session is initialized and not loading, or until
// ctx is done. With Redis it also adopts a snapshot settled by the replica
// owning the restore, and takes the restore over once that replica's claim
// lapses. On ctx expiry it returns the last state with ctx.Err().
func (g *Gateway) Await(ctx context.Context, sessionID string) (State, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	if g.snapshots == nil {
		return e.Store.Await(ctx)
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, g.config.Redis.AdoptPollInterval)
		st, err := e.Store.Await(waitCtx)
		cancel()
		if err == nil {
			return st, nil
		}
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		if g.adopt(ctx, e) {
			continue
		}
		if cur := e.Store.State(); cur.Phase == session.PhaseNotStarted && !cur.Initialized {
			g.flows.Bootstrap(ctx, g.flowSession(e), "")
		}
	}
}

// State returns the current state of sessionID. An unknown session is
// created in its pre-bootstrap state. With Redis, a newer state saved by
// another replica (a logout or login there) replaces the local one first.
func (g *Gateway) State(ctx context.Context, sessionID string) (State, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	g.sync(ctx, e)
	return e.Store.State(), nil
}

/*
====================================
CREDENTIAL OPERATIONS
====================================
*/

// Login describes the login operation and its observable behavior.
//
// A second Login or Register for the same session while one is running fails
// with ErrOperationInFlight. The session is loading for the duration of the
// backend call. On success the returned identity is installed and no restore
// will run on top of it; on failure the identity is unchanged and the backend
// error is returned (a *AuthFailure for backend rejections).
//
// With Redis and throttling enabled, an email (or the client IP from
// WithClientIP, when PerIP is set) that has spent its failed-attempt budget
// fails with ErrLoginThrottled without reaching the backend.
func (g *Gateway) Login(ctx context.Context, sessionID string, creds Credentials) (*Identity, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s := g.flowSession(e)
	s.ClientIP, _ = ClientIPFromContext(ctx)
	return g.flows.Login(ctx, s, creds)
}

// Register creates an account and signs the session in with it. It has the
// same contract as Login.
func (g *Gateway) Register(ctx context.Context, sessionID string, reg Registration) (*Identity, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return g.flows.Register(ctx, g.flowSession(e), reg)
}

// Logout signs the session out. The backend is told on a best-effort basis;
// the session is cleared regardless of its answer, so the only errors are
// argument errors.
func (g *Gateway) Logout(ctx context.Context, sessionID string) error {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return err
	}
	g.flows.Logout(ctx, g.flowSession(e))
	return nil
}

// Unauthorized records that the backend rejected the session's credential
// on a later call. The identity is dropped so the next navigation redirects
// to sign-in. It reports whether an identity was present.
func (g *Gateway) Unauthorized(ctx context.Context, sessionID string) (bool, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return g.flows.Unauthorized(ctx, g.flowSession(e)), nil
}

// UpdateIdentity atomically replaces the session's identity after a profile
// edit. The user ID cannot change.
func (g *Gateway) UpdateIdentity(ctx context.Context, sessionID string, next *Identity) (*Identity, error) {
	e, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return g.flows.UpdateIdentity(ctx, g.flowSession(e), next)
}

/*
====================================
GATE
====================================
*/

// Decide applies the route gate to the current state of sessionID.
func (g *Gateway) Decide(ctx context.Context, sessionID string, req Requirement) (Decision, error) {
	d, _, err := g.Check(ctx, sessionID, req)
	return d, err
}

// Resolve runs the root switch for path against the current state of sessionID.
func (g *Gateway) Resolve(ctx context.Context, sessionID, path string) (Decision, error) {
	d, _, err := g.CheckPath(ctx, sessionID, path)
	return d, err
}

// Check is Decide that also returns the state the decision was made on.
// Redirect decisions carry the concrete path of their target.
func (g *Gateway) Check(ctx context.Context, sessionID string, req Requirement) (Decision, State, error) {
	return g.gate(ctx, sessionID, func(st State) Decision {
		d := route.Decide(st, req)
		if d.Kind == route.Redirect {
			d.Path = g.routes.PathFor(d.Target, st.Identity)
		}
		return d
	})
}

// CheckPath is Resolve that also returns the state the decision was made on.
func (g *Gateway) CheckPath(ctx context.Context, sessionID, path string) (Decision, State, error) {
	return g.gate(ctx, sessionID, func(st State) Decision {
		return g.routes.Resolve(st, path)
	})
}

func (g *Gateway) gate(ctx context.Context, sessionID string, decide func(State) Decision) (Decision, State, error) {
	st, err := g.State(ctx, sessionID)
	if err != nil {
		return Decision{}, State{}, err
	}
	d := decide(st)
	g.countDecision(d)
	return d, st, nil
}

func (g *Gateway) countDecision(d Decision) {
	switch d.Kind {
	case route.Pending:
		g.metrics.Inc(metrics.MetricGatePending)
	case route.Render:
		g.metrics.Inc(metrics.MetricGateRender)
	default:
		g.metrics.Inc(metrics.MetricGateRedirect)
	}
}

// IsEntrySurface reports whether path is a public entry point on which a new
// session settles without a restore.
func (g *Gateway) IsEntrySurface(path string) bool {
	if g == nil {
		return false
	}
	p := strings.TrimRight(path, "/")
	if p == "" {
		p = path
	}
	_, ok := g.entry[p]
	return ok
}

/*
====================================
HOUSEKEEPING
====================================
*/

// Forget drops sessionID from memory and from Redis.
func (g *Gateway) Forget(ctx context.Context, sessionID string) error {
	if err := g.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionIDRequired
	}
	return g.registry.Forget(ctx, sessionID)
}

// Sessions returns the number of sessions held in memory.
func (g *Gateway) Sessions() int {
	if g == nil {
		return 0
	}
	return g.registry.Len()
}

func (g *Gateway) Routes() *route.Table {
	return g.routes
}

// Config returns a copy of the configuration the gateway was built with.
func (g *Gateway) Config() Config {
	return cloneConfig(g.config)
}

func (g *Gateway) Logger() *zap.Logger {
	return g.logger
}

// MetricsSnapshot copies the gateway counters.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	if g == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (g *Gateway) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

func (g *Gateway) session(ctx context.Context, sessionID string) (*session.Entry, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	return g.registry.Get(ctx, sessionID)
}

func (g *Gateway) flowSession(e *session.Entry) flows.Session {
	return flows.Session{
		ID:              e.ID,
		Store:           e.Store,
		Backend:         g.backend(e),
		ClearCredential: e.ClearCookies,
	}
}

// adopt pulls a snapshot settled elsewhere into an uninitialized entry.
func (g *Gateway) adopt(ctx context.Context, e *session.Entry) bool {
	if g.snapshots == nil {
		return false
	}
	ok, err := g.registry.Refresh(ctx, e)
	if err != nil {
		g.logger.Warn("snapshot refresh failed", zap.String("session_id", e.ID), zap.Error(err))
		return false
	}
	if ok {
		g.metrics.Inc(metrics.MetricSnapshotAdopted)
	}
	return ok
}

// sync pulls a later snapshot into an initialized entry.
func (g *Gateway) sync(ctx context.Context, e *session.Entry) {
	if g.snapshots == nil {
		return
	}
	ok, err := g.registry.Sync(ctx, e)
	if err != nil {
		g.logger.Warn("snapshot sync failed", zap.String("session_id", e.ID), zap.Error(err))
	}
	if ok {
		g.metrics.Inc(metrics.MetricSnapshotAdopted)
		g.logger.Debug("session state taken from another replica", zap.String("session_id", e.ID))
	}
}

func (g *Gateway) persistFailed(sessionID string, err error) {
	g.metrics.Inc(metrics.MetricPersistFailure)
	g.logger.Warn("session snapshot persistence failed", zap.String("session_id", sessionID), zap.Error(err))
}

func (g *Gateway) janitor(every, idle time.Duration) {
	defer g.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := g.registry.Sweep(idle); n > 0 {
				g.logger.Debug("idle sessions evicted", zap.Int("count", n))
			}
		case <-g.stop:
			return
		}
	}
}
