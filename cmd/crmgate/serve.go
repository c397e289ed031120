package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
	otelexport "github.com/prospectcrm/crmgate/metrics/export/otel"
	"github.com/prospectcrm/crmgate/metrics/export/prometheus"
	"github.com/prospectcrm/crmgate/web"
)

type serveFlags struct {
	listen        string
	metricsListen string
	redisURL      string
	backendURL    string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Starts the gateway HTTP server. With a Redis URL, session state is shared
between replicas and each session is restored by one replica only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, flags)
		},
	}
	cmd.Flags().StringVar(&flags.listen, "listen", "", "listen address (env: CRMGATE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&flags.metricsListen, "metrics-listen", "", "separate metrics listen address (env: CRMGATE_METRICS_LISTEN_ADDR)")
	cmd.Flags().StringVar(&flags.redisURL, "redis-url", "", "redis URL for shared session state (env: CRMGATE_REDIS_URL)")
	cmd.Flags().StringVar(&flags.backendURL, "backend-url", "", "CRM backend API root (env: CRMGATE_BACKEND_URL)")
	return cmd
}

func (f *serveFlags) apply(env *processSettings) {
	if f.listen != "" {
		env.listen = f.listen
	}
	if f.metricsListen != "" {
		env.metricsListen = f.metricsListen
	}
	if f.redisURL != "" {
		env.redisURL = f.redisURL
	}
}

// processSettings are the resolved settings that live outside crmgate.Config.
type processSettings struct {
	listen        string
	metricsListen string
	redisURL      string
	shutdown      time.Duration
	corsOrigins   []string
}

func runServe(ctx context.Context, opts *rootOptions, flags *serveFlags) error {
	log := opts.log
	cfg, err := opts.env.Gateway()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if flags.backendURL != "" {
		cfg.Backend.BaseURL = flags.backendURL
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	proc := processSettings{
		listen:        opts.env.ListenAddr,
		metricsListen: opts.env.MetricsListenAddr,
		redisURL:      opts.env.RedisURL,
		shutdown:      opts.env.ShutdownTimeout,
		corsOrigins:   opts.env.CORSOrigins,
	}
	flags.apply(&proc)

	for _, w := range cfg.Lint() {
		log.Warn("configuration lint", zap.String("code", w.Code), zap.Stringer("severity", w.Severity), zap.String("detail", w.Message))
	}

	// -------- REDIS --------
	builder := crmgate.New().WithConfig(cfg).WithLogger(log)
	if proc.redisURL != "" {
		ropts, err := redis.ParseURL(proc.redisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		builder.WithRedis(client)
		log.Info("shared session state enabled", zap.String("redis_addr", ropts.Addr))
	}

	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	// -------- METRICS --------
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	otelExp, err := otelexport.NewExporter(otel.Meter("github.com/prospectcrm/crmgate"), gw)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	defer otelExp.Close()

	metrics := chi.NewRouter()
	metrics.Method(http.MethodGet, "/", prometheus.NewExporter(gw).Handler())
	metrics.Get("/otel", otelSnapshot(reader))

	routerOpts := web.RouterOptions{Gateway: gw}
	if len(proc.corsOrigins) > 0 {
		c := web.DefaultCORSOptions()
		c.AllowedOrigins = proc.corsOrigins
		routerOpts.CORSOptions = &c
	}
	servers := []*http.Server{}
	if proc.metricsListen == "" {
		routerOpts.Metrics = metrics
	} else {
		servers = append(servers, newServer(proc.metricsListen, metricsMux(metrics)))
	}
	servers = append([]*http.Server{newServer(proc.listen, web.NewRouter(routerOpts))}, servers...)

	// -------- RUN --------
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case runErr = <-serverErrors:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), proc.shutdown)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			log.Warn("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	log.Info("stopped", zap.Int("sessions", gw.Sessions()))
	return runErr
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func metricsMux(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/metrics", metrics)
	return r
}

// otelSnapshot collects the meter provider on demand and writes the result
// as JSON.
func otelSnapshot(reader *sdkmetric.ManualReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rm.ScopeMetrics)
	}
}
