// Package config loads gateway settings from CRMGATE_* environment
// variables on top of crmgate.DefaultConfig.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/prospectcrm/crmgate"
)

// Env is the process environment of the gateway binary. Unset variables keep
// the DefaultConfig value.
type Env struct {
	ListenAddr        string        `env:"CRMGATE_LISTEN_ADDR" envDefault:":3000"`
	MetricsListenAddr string        `env:"CRMGATE_METRICS_LISTEN_ADDR"`
	RedisURL          string        `env:"CRMGATE_REDIS_URL"`
	LogLevel          string        `env:"CRMGATE_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout   time.Duration `env:"CRMGATE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins       []string      `env:"CRMGATE_CORS_ORIGINS" envSeparator:","`

	CookieName    *string        `env:"CRMGATE_COOKIE_NAME"`
	CookieSecure  *bool          `env:"CRMGATE_COOKIE_SECURE"`
	EntrySurfaces []string       `env:"CRMGATE_ENTRY_SURFACES" envSeparator:","`
	AwaitTimeout  *time.Duration `env:"CRMGATE_AWAIT_TIMEOUT"`
	IdleTimeout   *time.Duration `env:"CRMGATE_IDLE_TIMEOUT"`
	SweepInterval *time.Duration `env:"CRMGATE_SWEEP_INTERVAL"`

	BackendURL     *string        `env:"CRMGATE_BACKEND_URL"`
	BackendTimeout *time.Duration `env:"CRMGATE_BACKEND_TIMEOUT"`
	RestoreTimeout *time.Duration `env:"CRMGATE_RESTORE_TIMEOUT"`
	LogoutTimeout  *time.Duration `env:"CRMGATE_LOGOUT_TIMEOUT"`
	UserAgent      *string        `env:"CRMGATE_USER_AGENT"`
	AccessCookie   *string        `env:"CRMGATE_ACCESS_COOKIE"`

	TokenSecret   *string        `env:"CRMGATE_TOKEN_SECRET,unset"`
	TokenIssuer   *string        `env:"CRMGATE_TOKEN_ISSUER"`
	TokenAudience *string        `env:"CRMGATE_TOKEN_AUDIENCE"`
	TokenLeeway   *time.Duration `env:"CRMGATE_TOKEN_LEEWAY"`

	RedisPrefix       *string        `env:"CRMGATE_REDIS_PREFIX"`
	SnapshotTTL       *time.Duration `env:"CRMGATE_SNAPSHOT_TTL"`
	PersistTimeout    *time.Duration `env:"CRMGATE_PERSIST_TIMEOUT"`
	AdoptPollInterval *time.Duration `env:"CRMGATE_ADOPT_POLL_INTERVAL"`

	ThrottleEnabled     *bool          `env:"CRMGATE_THROTTLE_ENABLED"`
	ThrottleMaxAttempts *int           `env:"CRMGATE_THROTTLE_MAX_ATTEMPTS"`
	ThrottleWindow      *time.Duration `env:"CRMGATE_THROTTLE_WINDOW"`
	ThrottlePerIP       *bool          `env:"CRMGATE_THROTTLE_PER_IP"`

	AuditEnabled    *bool `env:"CRMGATE_AUDIT_ENABLED"`
	AuditBufferSize *int  `env:"CRMGATE_AUDIT_BUFFER_SIZE"`
	AuditDropIfFull *bool `env:"CRMGATE_AUDIT_DROP_IF_FULL"`

	MetricsEnabled    *bool `env:"CRMGATE_METRICS_ENABLED"`
	LatencyHistograms *bool `env:"CRMGATE_LATENCY_HISTOGRAMS"`
}

// Load parses the process environment.
func Load() (Env, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Env, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Gateway overlays the set variables on crmgate.DefaultConfig and validates
// the result.
func (e Env) Gateway() (crmgate.Config, error) {
	cfg := crmgate.DefaultConfig()

	set(&cfg.Session.CookieName, e.CookieName)
	set(&cfg.Session.CookieSecure, e.CookieSecure)
	if len(e.EntrySurfaces) > 0 {
		cfg.Session.EntrySurfaces = append([]string(nil), e.EntrySurfaces...)
	}
	set(&cfg.Session.AwaitTimeout, e.AwaitTimeout)
	set(&cfg.Session.IdleTimeout, e.IdleTimeout)
	set(&cfg.Session.SweepInterval, e.SweepInterval)

	set(&cfg.Backend.BaseURL, e.BackendURL)
	set(&cfg.Backend.Timeout, e.BackendTimeout)
	set(&cfg.Backend.RestoreTimeout, e.RestoreTimeout)
	set(&cfg.Backend.LogoutTimeout, e.LogoutTimeout)
	set(&cfg.Backend.UserAgent, e.UserAgent)
	set(&cfg.Backend.AccessCookie, e.AccessCookie)

	if e.TokenSecret != nil {
		cfg.Token.Secret = []byte(*e.TokenSecret)
	}
	set(&cfg.Token.Issuer, e.TokenIssuer)
	set(&cfg.Token.Audience, e.TokenAudience)
	set(&cfg.Token.Leeway, e.TokenLeeway)

	set(&cfg.Redis.Prefix, e.RedisPrefix)
	set(&cfg.Redis.SnapshotTTL, e.SnapshotTTL)
	set(&cfg.Redis.PersistTimeout, e.PersistTimeout)
	set(&cfg.Redis.AdoptPollInterval, e.AdoptPollInterval)

	set(&cfg.Throttle.Enabled, e.ThrottleEnabled)
	set(&cfg.Throttle.MaxAttempts, e.ThrottleMaxAttempts)
	set(&cfg.Throttle.Window, e.ThrottleWindow)
	set(&cfg.Throttle.PerIP, e.ThrottlePerIP)

	set(&cfg.Audit.Enabled, e.AuditEnabled)
	set(&cfg.Audit.BufferSize, e.AuditBufferSize)
	set(&cfg.Audit.DropIfFull, e.AuditDropIfFull)

	set(&cfg.Metrics.Enabled, e.MetricsEnabled)
	set(&cfg.Metrics.EnableLatencyHistograms, e.LatencyHistograms)

	if err := cfg.Validate(); err != nil {
		return crmgate.Config{}, err
	}
	return cfg, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
