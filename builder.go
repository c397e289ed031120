package crmgate

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/flows"
	"github.com/prospectcrm/crmgate/internal/metrics"
	"github.com/prospectcrm/crmgate/internal/rate"
	"github.com/prospectcrm/crmgate/jwt"
	"github.com/prospectcrm/crmgate/route"
	"github.com/prospectcrm/crmgate/session"
)

// Builder assembles a Gateway. Configure it during start-up, call Build once
// and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	backend   BackendFactory
	transport http.RoundTripper
	routes    *route.Table
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis enables snapshot persistence and cross-replica restore claims.
// Without it every session lives only in this process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend replaces the HTTP backend client. Tests and embedders use it to
// plug in their own AuthBackend.
func (b *Builder) WithBackend(factory BackendFactory) *Builder {
	b.backend = factory
	return b
}

// WithTransport sets the round tripper of the default HTTP backend client.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithRoutes sets the route table. It must be frozen. The default is
// route.DefaultTable.
func (b *Builder) WithRoutes(t *route.Table) *Builder {
	b.routes = t
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go. It only takes effect with
// Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now for snapshot TTLs, audit timestamps and
// latency measurements.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a running Gateway. A Builder
// can build only once.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	routes := b.routes
	if routes == nil {
		routes = route.DefaultTable()
	}
	if !routes.Frozen() {
		return nil, errors.New("route table must be frozen")
	}
	if err := routes.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- BACKEND --------
	factory := b.backend
	if factory == nil {
		reader, err := jwt.NewReader(jwt.Config{
			Secret:   cfg.Token.Secret,
			Issuer:   cfg.Token.Issuer,
			Audience: cfg.Token.Audience,
			Leeway:   cfg.Token.Leeway,
		})
		if err != nil {
			return nil, err
		}
		opts := []backend.Option{backend.WithTokenReader(reader), backend.WithClock(now)}
		if b.transport != nil {
			opts = append(opts, backend.WithTransport(b.transport))
		}
		client, err := backend.NewClient(backend.Config{
			BaseURL:      cfg.Backend.BaseURL,
			Timeout:      cfg.Backend.Timeout,
			UserAgent:    cfg.Backend.UserAgent,
			AccessCookie: cfg.Backend.AccessCookie,
		}, opts...)
		if err != nil {
			return nil, err
		}
		factory = func(jar http.CookieJar) AuthBackend { return client.Session(jar) }
	}

	gw := &Gateway{
		config:  cloneConfig(cfg),
		routes:  routes,
		backend: factory,
		logger:  logger,
		metrics: metrics.New(cfg.Metrics),
		entry:   make(map[string]struct{}, len(cfg.Session.EntrySurfaces)),
		stop:    make(chan struct{}),
	}
	for _, p := range cfg.Session.EntrySurfaces {
		gw.entry[p] = struct{}{}
	}
	replica := uuid.NewString()
	if cfg.Audit.Enabled {
		gw.audit = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Keep:       []string{audit.EventLogout, audit.EventUnauthorized},
			Replica:    replica,
			Now:        now,
		}, b.auditSink)
	}

	// -------- SESSION REGISTRY --------
	regCfg := session.RegistryConfig{
		OnPersistError: gw.persistFailed,
		Now:            now,
	}
	if b.redis != nil {
		gw.snapshots = session.NewRedisSnapshots(b.redis, cfg.Redis.Prefix, replica)
		regCfg.Snapshots = gw.snapshots
		regCfg.SnapshotTTL = cfg.Redis.SnapshotTTL
		regCfg.PersistTimeout = cfg.Redis.PersistTimeout
	}
	gw.registry = session.NewRegistry(regCfg)

	// -------- FLOWS --------
	observer := flows.Observer{
		Metrics: gw.metrics,
		Audit:   gw.audit,
		Logger:  logger,
		Now:     now,
	}
	flowErrors := flows.Errors{
		OperationInFlight: ErrOperationInFlight,
		NotAuthenticated:  ErrNotAuthenticated,
		InvalidIdentity:   ErrInvalidIdentity,
	}
	var claims flows.RestoreClaims
	if gw.snapshots != nil {
		claims = gw.snapshots
	}
	var throttle flows.Throttle
	switch {
	case cfg.Throttle.Enabled && b.redis != nil:
		throttle = rate.New(b.redis, rate.Config{
			Prefix:      cfg.Redis.Prefix,
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.Window,
			PerIP:       cfg.Throttle.PerIP,
		})
	case cfg.Throttle.Enabled:
		logger.Warn("sign-in throttle needs Redis; failed sign-ins are not throttled")
	}
	gw.flows = flows.New(flows.Deps{
		Bootstrap: flows.BootstrapDeps{
			IsEntrySurface: gw.IsEntrySurface,
			Claims:         claims,
			RestoreTimeout: cfg.Backend.RestoreTimeout,
			Observer:       observer,
		},
		Auth: flows.AuthDeps{Errors: flowErrors, Throttle: throttle, Observer: observer},
		Logout: flows.LogoutDeps{
			Claims:        claims,
			LogoutTimeout: cfg.Backend.LogoutTimeout,
			Observer:      observer,
		},
		Identity: flows.IdentityDeps{Errors: flowErrors, Observer: observer},
	})

	if cfg.Session.IdleTimeout > 0 {
		gw.wg.Add(1)
		go gw.janitor(cfg.Session.SweepInterval, cfg.Session.IdleTimeout)
	}

	b.built = true
	logger.Info("gateway built",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Bool("redis", b.redis != nil),
		zap.Int("routes", routes.Count()),
	)
	return gw, nil
}
