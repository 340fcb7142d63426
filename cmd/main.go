package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/calcstore/internal/adapters/http/api"
	"github.com/okian/calcstore/internal/adapters/http/swagger"
	"github.com/okian/calcstore/internal/adapters/ratelimit"
	app "github.com/okian/calcstore/internal/app"
	"github.com/okian/calcstore/internal/config"
	"github.com/okian/calcstore/pkg/logger"
	"github.com/okian/calcstore/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	redisPingTimeout          = 2 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		os.Stderr.WriteString("failed to read .env: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Fatal releases the signal handler before exiting.
	exit := func(code int) {
		stop()
		os.Exit(code)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithExitFunc(exit)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "calcstore exited with error", logger.Error(err))
	}
}

// run starts the service and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc := newService(cfg, log)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()
	log.Info(ctx, "storage ready", logger.String("driver", cfg.StorageDriver))

	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())
	go startServiceMetricsUpdater(ctx, svc, metrics.RefreshInterval())

	apiOpts := []api.Option{
		api.WithLogger(log.Named("api")),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
	}
	if cfg.RateLimitEnabled {
		opt, closeLimiter := newRateLimit(ctx, cfg, log)
		defer closeLimiter()
		apiOpts = append(apiOpts, opt)
	}

	srv := newHTTPServer(cfg.Addr(), newHandler(ctx, svc, apiOpts...))

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", srv.Addr),
			logger.Int64("max_body_bytes", cfg.MaxBodyBytes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newService maps configuration onto service options.
func newService(cfg *config.Config, log logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(log.Named("service")),
		app.WithStorageDriver(cfg.StorageDriver),
		app.WithMongo(cfg.MongoURI, cfg.Database, cfg.Collection),
		app.WithTimeouts(cfg.ConnectTimeout(), cfg.StorageTimeout()),
		app.WithListLimits(cfg.DefaultListLimit, cfg.MaxListLimit),
	)
}

// newHandler registers docs and API routes on a fresh mux.
func newHandler(ctx context.Context, svc *app.Service, opts ...api.Option) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux, api.CORSMiddleware)
	api.NewServer(svc, svc, svc, opts...).Register(ctx, mux)
	return mux
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// newRateLimit builds the limiter option. Redis counters are attached only
// when the server answers a ping; the limiter itself never depends on Redis.
func newRateLimit(ctx context.Context, cfg *config.Config, log logger.Logger) (api.Option, func()) {
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartJanitor(ctx)
	keyFn := ratelimit.DefaultKeyFunc(cfg.RateLimitKeyHeader, cfg.RateLimitTrustXFF)

	var (
		recorder ratelimit.StatsRecorder
		closeFn  = func() {}
	)
	if cfg.RateStatsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateStatsRedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn(ctx, "rate limit stats disabled; redis unreachable",
				logger.String("addr", cfg.RateStatsRedisAddr), logger.Error(err))
			_ = rdb.Close()
		} else {
			recorder = ratelimit.NewRedisStats(rdb, ratelimit.WithStatsPrefix(cfg.RateStatsPrefix))
			closeFn = func() { _ = rdb.Close() }
		}
	}

	log.Info(ctx, "rate limiting enabled",
		logger.Float64("rps", cfg.RateLimitRPS),
		logger.Int("burst", cfg.RateLimitBurst),
		logger.Bool("redis_stats", recorder != nil))
	return api.WithRateLimit(limiter, keyFn, recorder), closeFn
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the record count and storage_up gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	// GetStats refreshes the calculations gauge as a side effect.
	_ = svc.GetStats(ctx)
	metrics.UpdateStorageUp(svc.Ping(ctx) == nil)
}
