package crmgate

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{"empty cookie name", func(c *Config) { c.Session.CookieName = " " }, false},
		{"cookie name with separator", func(c *Config) { c.Session.CookieName = "crm;session" }, false},
		{"relative entry surface", func(c *Config) { c.Session.EntrySurfaces = []string{"login"} }, false},
		{"no entry surfaces", func(c *Config) { c.Session.EntrySurfaces = nil }, true},
		{"idle without sweep", func(c *Config) { c.Session.SweepInterval = 0 }, false},
		{"idle disabled without sweep", func(c *Config) {
			c.Session.IdleTimeout = 0
			c.Session.SweepInterval = 0
		}, true},
		{"backend url relative", func(c *Config) { c.Backend.BaseURL = "/v1" }, false},
		{"backend url ftp", func(c *Config) { c.Backend.BaseURL = "ftp://crm/v1" }, false},
		{"backend https", func(c *Config) { c.Backend.BaseURL = "https://api.crm.io/v1" }, true},
		{"restore timeout zero", func(c *Config) { c.Backend.RestoreTimeout = 0 }, false},
		{"logout timeout zero", func(c *Config) { c.Backend.LogoutTimeout = 0 }, false},
		{"access cookie empty", func(c *Config) { c.Backend.AccessCookie = "" }, false},
		{"leeway too large", func(c *Config) { c.Token.Leeway = 3 * time.Minute }, false},
		{"audience padded", func(c *Config) { c.Token.Audience = " crm " }, false},
		{"redis prefix empty", func(c *Config) { c.Redis.Prefix = "" }, false},
		{"snapshot ttl zero", func(c *Config) { c.Redis.SnapshotTTL = 0 }, false},
		{"poll interval zero", func(c *Config) { c.Redis.AdoptPollInterval = 0 }, false},
		{"throttle attempts zero", func(c *Config) { c.Throttle.MaxAttempts = 0 }, false},
		{"throttle window zero", func(c *Config) { c.Throttle.Window = 0 }, false},
		{"throttle off ignores limits", func(c *Config) {
			c.Throttle.Enabled = false
			c.Throttle.MaxAttempts = 0
		}, true},
		{"audit buffer zero", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestLintDefaults(t *testing.T) {
	cfg := DefaultConfig()
	codes := cfg.Lint().Codes()
	require.Contains(t, codes, "cookie_insecure")
	require.Contains(t, codes, "token_unverified")
	require.Contains(t, codes, "audit_disabled")
	require.NotContains(t, codes, "backend_plain_http", "localhost backend is fine")
	require.NotContains(t, codes, "await_shorter_than_restore")
}

func TestLintProductionLike(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.CookieSecure = true
	cfg.Backend.BaseURL = "https://api.crm.io/v1"
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = true
	require.Empty(t, cfg.Lint())
}

func TestLintWarnings(t *testing.T) {
	cases := map[string]func(*Config){
		"backend_plain_http":         func(c *Config) { c.Backend.BaseURL = "http://api.crm.io/v1" },
		"token_secret_short":         func(c *Config) { c.Token.Secret = []byte("short") },
		"restore_timeout_long":       func(c *Config) { c.Backend.RestoreTimeout = 20 * time.Second },
		"await_shorter_than_restore": func(c *Config) { c.Session.AwaitTimeout = time.Second },
		"sessions_never_evicted":     func(c *Config) { c.Session.IdleTimeout = 0 },
		"snapshot_ttl_long":          func(c *Config) { c.Redis.SnapshotTTL = 30 * 24 * time.Hour },
		"leeway_large":               func(c *Config) { c.Token.Leeway = 90 * time.Second },
		"throttle_disabled":          func(c *Config) { c.Throttle.Enabled = false },
	}
	for code, mutate := range cases {
		t.Run(code, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.True(t, slices.Contains(cfg.Lint().Codes(), code))
		})
	}
}

func TestConfigCopiesAreIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	gw, err := New().WithConfig(cfg).WithBackend((&scriptedBackend{}).factory()).Build()
	require.NoError(t, err)
	defer gw.Close()

	cfg.Token.Secret[0] = 'X'
	cfg.Session.EntrySurfaces[0] = "/hijack"
	got := gw.Config()
	require.Equal(t, byte('0'), got.Token.Secret[0])
	require.True(t, gw.IsEntrySurface("/login"))
	require.False(t, gw.IsEntrySurface("/hijack"))
}
