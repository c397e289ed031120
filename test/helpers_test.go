//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/prospectcrm/crmgate"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test against.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
// A cluster is used when REDIS_CLUSTER_ADDRS is set (comma-separated).
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// cmdCounter is a go-redis Hook that counts Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// countedRedis returns a miniredis client with a warmed connection and a
// cmdCounter installed.
func countedRedis(t *testing.T) (*redis.Client, *cmdCounter, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	// go-redis may issue handshake commands on first use.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter.Reset()

	return rdb, counter, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

// crmStub is a CRM backend shared by every replica of a test. It counts
// restore calls across all of them.
type crmStub struct {
	restores atomic.Int32
	logouts  atomic.Int32
	delay    time.Duration
	identity *crmgate.Identity
}

func (s *crmStub) factory() crmgate.BackendFactory {
	return func(http.CookieJar) crmgate.AuthBackend {
		return crmgate.BackendFuncs{
			RestoreFunc: func(ctx context.Context) (*crmgate.Identity, error) {
				s.restores.Add(1)
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return s.identity.Clone(), nil
			},
			LoginFunc: func(context.Context, crmgate.Credentials) (*crmgate.Identity, error) {
				return s.identity.Clone(), nil
			},
			LogoutFunc: func(context.Context) error {
				s.logouts.Add(1)
				return nil
			},
		}
	}
}

// newReplica builds a gateway sharing rdb with every other replica of the test.
func newReplica(t *testing.T, rdb redis.UniversalClient, stub *crmStub) *crmgate.Gateway {
	t.Helper()
	cfg := crmgate.DefaultConfig()
	cfg.Redis.Prefix = "it-" + strings.ReplaceAll(t.Name(), "/", "-")
	cfg.Redis.AdoptPollInterval = 5 * time.Millisecond
	gw, err := crmgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithBackend(stub.factory()).
		Build()
	if err != nil {
		t.Fatalf("build replica: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw
}

func awaitSettled(t *testing.T, gw *crmgate.Gateway, sessionID string) crmgate.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := gw.Await(ctx, sessionID)
	if err != nil {
		t.Fatalf("await %s: %v (phase %s)", sessionID, err, st.Phase)
	}
	return st
}
