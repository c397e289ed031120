// Command crmgate-loadtest drives session activation and route gating
// against in-process gateway replicas sharing one Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/prospectcrm/crmgate"
	"github.com/prospectcrm/crmgate/route"
)

type loadOptions struct {
	sessions    int
	fanout      int
	replicas    int
	concurrency int
	ops         int
	latency     time.Duration
	redisAddr   string
	prefix      string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &loadOptions{}
	cmd := &cobra.Command{
		Use:           "crmgate-loadtest",
		Short:         "Load-test session activation and route gating across replicas",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.sessions, "sessions", 10000, "number of browser sessions")
	f.IntVar(&o.fanout, "fanout", 4, "concurrent first navigations per session")
	f.IntVar(&o.replicas, "replicas", 2, "gateway replicas sharing redis")
	f.IntVar(&o.concurrency, "concurrency", 256, "number of concurrent workers")
	f.IntVar(&o.ops, "ops", 200000, "gate checks in the second phase")
	f.DurationVar(&o.latency, "backend-latency", 2*time.Millisecond, "simulated /auth/me latency")
	f.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&o.prefix, "prefix", "crmgate-load", "redis key prefix")
	return cmd
}

func run(ctx context.Context, o *loadOptions) error {
	if o.sessions <= 0 || o.fanout <= 0 || o.replicas <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("sessions, fanout, replicas, concurrency, and ops must be > 0")
	}

	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	var restores atomic.Int64
	gateways := make([]*crmgate.Gateway, o.replicas)
	for i := range gateways {
		gw, err := newReplica(client, o.prefix, o.latency, &restores)
		if err != nil {
			return fmt.Errorf("build replica %d: %w", i, err)
		}
		defer gw.Close()
		gateways[i] = gw
	}

	ids := make([]string, o.sessions)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	activateStats := runActivatePhase(ctx, gateways, ids, o.fanout, o.concurrency)
	gateStats := runGatePhase(ctx, gateways, ids, o.ops, o.concurrency)

	fmt.Println("---- results ----")
	printStats("activate", activateStats)
	printStats("gate", gateStats)
	fmt.Printf("restores: %d for %d sessions\n", restores.Load(), len(ids))
	if restores.Load() != int64(len(ids)) {
		return errors.New("restore count does not match session count")
	}
	return nil
}

func newReplica(client redis.UniversalClient, prefix string, latency time.Duration, restores *atomic.Int64) (*crmgate.Gateway, error) {
	cfg := crmgate.DefaultConfig()
	cfg.Redis.Prefix = prefix
	cfg.Session.IdleTimeout = 0
	cfg.Redis.AdoptPollInterval = 5 * time.Millisecond

	return crmgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithBackend(func(http.CookieJar) crmgate.AuthBackend {
			return crmgate.BackendFuncs{
				RestoreFunc: func(ctx context.Context) (*crmgate.Identity, error) {
					restores.Add(1)
					select {
					case <-time.After(latency):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return &crmgate.Identity{ID: 1, Role: crmgate.RoleStandard, DisplayName: "load"}, nil
				},
			}
		}).
		Build()
}

// runActivatePhase opens every session fanout times at once, spread across
// the replicas, and waits for each open to settle.
func runActivatePhase(ctx context.Context, gateways []*crmgate.Gateway, ids []string, fanout, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(ids)*fanout)
		mu        sync.Mutex
	)
	total := len(ids) * fanout

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= total {
					return
				}
				sid := ids[i%len(ids)]
				gw := gateways[(i/len(ids))%len(gateways)]

				t0 := time.Now()
				err := activate(ctx, gw, sid)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func activate(ctx context.Context, gw *crmgate.Gateway, sid string) error {
	if _, err := gw.Activate(ctx, sid, "/leads"); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := gw.Await(waitCtx, sid)
	if err != nil {
		return err
	}
	if !st.IsAuthenticated() {
		return fmt.Errorf("session %s settled anonymous", sid)
	}
	return nil
}

func runGatePhase(ctx context.Context, gateways []*crmgate.Gateway, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)
	paths := []string{"/leads", "/emails", "/admin", "/", "/login"}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				gw := gateways[r.Intn(len(gateways))]
				t0 := time.Now()
				d, err := gw.Resolve(ctx, ids[r.Intn(len(ids))], paths[r.Intn(len(paths))])
				elapsed := time.Since(t0)
				if err != nil || d.Kind == route.Pending {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
