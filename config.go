package crmgate

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/prospectcrm/crmgate/backend"
)

// Config is the full gateway configuration. Build it from DefaultConfig and
// override what the deployment needs.
type Config struct {
	Session SessionConfig
	Backend BackendConfig
	Token   TokenConfig
	Redis    RedisConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls browser sessions held by the gateway.
type SessionConfig struct {
	CookieName   string
	CookieSecure bool

	// EntrySurfaces are the paths on which a freshly opened session settles
	// anonymous without asking the backend.
	EntrySurfaces []string

	// AwaitTimeout bounds how long the bootstrap middleware holds the first
	// navigation while the restore runs.
	AwaitTimeout time.Duration

	// IdleTimeout evicts sessions not seen for this long from memory.
	// Zero keeps them until Forget.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig locates the CRM backend.
type BackendConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RestoreTimeout time.Duration
	LogoutTimeout  time.Duration
	UserAgent      string
	AccessCookie   string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls how backend access tokens are read. With an empty
// Secret tokens are parsed without signature verification.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig applies when a Redis client is passed to the Builder.
type RedisConfig struct {
	Prefix         string
	SnapshotTTL    time.Duration
	PersistTimeout time.Duration

	// AdoptPollInterval is how often a waiting replica checks Redis for a
	// snapshot settled by the replica that owns the restore.
	AdoptPollInterval time.Duration
}

// ThrottleConfig limits failed sign-ins per email, and optionally per client
// IP, within a fixed window. Counters live in Redis, so the throttle is off
// when the gateway runs without it.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	PerIP       bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns a configuration for a gateway in front of a backend
// on localhost.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			CookieName:    "crm_session",
			CookieSecure:  false,
			EntrySurfaces: []string{"/login", "/register"},
			AwaitTimeout:  6 * time.Second,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Backend: BackendConfig{
			BaseURL:        backend.DefaultBaseURL,
			Timeout:        10 * time.Second,
			RestoreTimeout: 5 * time.Second,
			LogoutTimeout:  3 * time.Second,
			UserAgent:      "crmgate",
			AccessCookie:   backend.DefaultAccessCookie,
		},
		Token: TokenConfig{
			Leeway: 30 * time.Second,
		},
		Redis: RedisConfig{
			Prefix:            "crmgate",
			SnapshotTTL:       24 * time.Hour,
			PersistTimeout:    time.Second,
			AdoptPollInterval: 50 * time.Millisecond,
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.EntrySurfaces = append([]string(nil), cfg.Session.EntrySurfaces...)
	if len(cfg.Token.Secret) > 0 {
		out.Token.Secret = append([]byte(nil), cfg.Token.Secret...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("Session CookieName is required")
	}
	if strings.ContainsAny(c.Session.CookieName, " ;,=\t\r\n") {
		return errors.New("Session CookieName contains invalid characters")
	}
	for _, p := range c.Session.EntrySurfaces {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Session EntrySurfaces must be absolute paths")
		}
	}
	if c.Session.AwaitTimeout < 0 {
		return errors.New("Session AwaitTimeout must be >= 0")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("Session IdleTimeout must be >= 0")
	}
	if c.Session.IdleTimeout > 0 && c.Session.SweepInterval <= 0 {
		return errors.New("Session SweepInterval must be > 0 when IdleTimeout is set")
	}

	// Backend
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("Backend BaseURL must be an absolute http(s) URL")
	}
	if c.Backend.Timeout < 0 {
		return errors.New("Backend Timeout must be >= 0")
	}
	if c.Backend.RestoreTimeout <= 0 {
		return errors.New("Backend RestoreTimeout must be > 0")
	}
	if c.Backend.LogoutTimeout <= 0 {
		return errors.New("Backend LogoutTimeout must be > 0")
	}
	if strings.TrimSpace(c.Backend.AccessCookie) == "" {
		return errors.New("Backend AccessCookie is required")
	}

	// Token
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if c.Token.Audience != strings.TrimSpace(c.Token.Audience) {
		return errors.New("Token Audience must not have surrounding whitespace")
	}

	// Redis
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix is required")
	}
	if c.Redis.SnapshotTTL <= 0 {
		return errors.New("Redis SnapshotTTL must be > 0")
	}
	if c.Redis.PersistTimeout <= 0 {
		return errors.New("Redis PersistTimeout must be > 0")
	}
	if c.Redis.AdoptPollInterval <= 0 {
		return errors.New("Redis AdoptPollInterval must be > 0")
	}

	// Throttle
	if c.Throttle.Enabled && c.Throttle.MaxAttempts <= 0 {
		return errors.New("Throttle MaxAttempts must be > 0 when throttling is enabled")
	}
	if c.Throttle.Enabled && c.Throttle.Window <= 0 {
		return errors.New("Throttle Window must be > 0 when throttling is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintSeverity grades a LintWarning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
)

func (s LintSeverity) String() string {
	if s == LintWarn {
		return "warn"
	}
	return "info"
}

// LintWarning is one valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings produced by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that are valid but likely wrong for production. It
// never fails; call Validate for hard errors.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if !c.Session.CookieSecure {
		add("cookie_insecure", LintWarn, "session cookie is sent over plain HTTP")
	}
	if c.Session.AwaitTimeout > 0 && c.Session.AwaitTimeout < c.Backend.RestoreTimeout {
		add("await_shorter_than_restore", LintInfo, "first navigation may render the loading page before the restore settles")
	}
	if c.Session.IdleTimeout == 0 {
		add("sessions_never_evicted", LintWarn, "sessions stay in memory until Forget")
	}
	if c.Backend.RestoreTimeout > 10*time.Second {
		add("restore_timeout_long", LintWarn, "a slow backend keeps sessions pending for more than 10s")
	}
	if u, err := url.Parse(c.Backend.BaseURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		add("backend_plain_http", LintWarn, "credentials travel to a remote backend over plain HTTP")
	}
	if len(c.Token.Secret) == 0 {
		add("token_unverified", LintInfo, "access tokens are read without signature verification")
	} else if len(c.Token.Secret) < 32 {
		add("token_secret_short", LintWarn, "hs256 secret is shorter than 256 bits")
	}
	if c.Token.Leeway > time.Minute {
		add("leeway_large", LintInfo, "token leeway above 1m")
	}
	if c.Redis.SnapshotTTL > 7*24*time.Hour {
		add("snapshot_ttl_long", LintInfo, "session snapshots outlive a week")
	}
	if !c.Throttle.Enabled {
		add("throttle_disabled", LintWarn, "failed sign-ins are not throttled")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "session lifecycle events are not audited")
	}
	return ws
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
