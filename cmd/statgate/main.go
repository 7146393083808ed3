// Package main is the entry point for the statgate access core.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statgate/statgate/internal/analytics"
	"github.com/statgate/statgate/internal/cache"
	"github.com/statgate/statgate/internal/circuitbreaker"
	"github.com/statgate/statgate/internal/config"
	"github.com/statgate/statgate/internal/health"
	"github.com/statgate/statgate/internal/metadata"
	"github.com/statgate/statgate/internal/observability"
	"github.com/statgate/statgate/internal/ratelimit"
	"github.com/statgate/statgate/internal/ratelimit/store"
	"github.com/statgate/statgate/internal/repository"
	"github.com/statgate/statgate/internal/retry"
	"github.com/statgate/statgate/internal/threat"
	"github.com/statgate/statgate/internal/upstream"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("STATGATE_CONFIG_PATH", "configs/statgate.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("STATGATE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("STATGATE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("statgate %s\n", version)
	fmt.Printf("  build time: %s\n", buildTime)
	fmt.Printf("  git commit: %s\n", gitCommit)
}

// initLogger initializes the logger from flags.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting statgate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	if _, statErr := os.Stat(configPath); statErr != nil {
		logger.Info("configuration file not present, using defaults and environment",
			observability.String("path", configPath))
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", observability.Error(err))
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", observability.Error(err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		observability.String("rate_limit_backend", cfg.RateLimitBackend),
		observability.String("cache_backend", cfg.CacheBackend),
		observability.String("metadata_path", cfg.MetadataPath),
		observability.String("influx_url", cfg.InfluxURL),
		observability.Bool("upstream_enabled", cfg.UpstreamBaseURL != ""),
	)

	return cfg
}

// application holds all application components.
type application struct {
	cfg *config.Config

	db        *badger.DB
	metaStore *metadata.Store
	analytics *analytics.Adapter
	counters  store.Store

	scorer   *threat.Scorer
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Registry

	upstream *upstream.Client
	repo     *repository.Repository
	checker  *health.Checker

	metricsServer *http.Server
	healthServer  *http.Server
}

// initApplication wires all components together.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := badger.Open(badger.DefaultOptions(cfg.MetadataPath).
		WithLogger(nil).
		WithCompactL0OnClose(true))
	if err != nil {
		logger.Error("failed to open metadata database", observability.Error(err))
		os.Exit(1)
	}

	metaStore, err := metadata.NewStore(&metadata.Config{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create metadata store", observability.Error(err))
		os.Exit(1)
	}

	counters := buildCounterStore(cfg, db, logger)

	scorer := threat.NewScorer(threatConfig(cfg, logger))

	blocklist := ratelimit.NewBlocklist(metaStore, logger)
	if err := blocklist.Load(ctx); err != nil {
		logger.Warn("failed to restore persisted blocks", observability.Error(err))
	}

	adaptive := ratelimit.NewAdaptiveController(ratelimit.AdaptiveConfig{
		LatencyThreshold: cfg.ResponseTimeThreshold.Duration(),
		AdjustmentFactor: cfg.AdjustmentFactor,
		MinRatio:         cfg.MinAdjustmentRatio,
		MaxRatio:         cfg.MaxAdjustmentRatio,
	})

	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Tiers:                  tiersFromConfig(cfg),
		BurstWindow:            cfg.BurstWindow.Duration(),
		BlockDuration:          cfg.BlockDuration.Duration(),
		ThreatAdjustmentFactor: cfg.AdjustmentFactor,
		Logger:                 logger,
	}, counters, blocklist, adaptive, scorer)

	breakers := buildBreakerRegistry(cfg, metaStore, logger)
	restoreCircuitSnapshots(ctx, metaStore, logger)

	responseCache, err := cache.New(&cache.Config{
		Backend:       cfg.CacheBackend,
		DefaultTTL:    cfg.CacheTTL.Duration(),
		MaxEntries:    cfg.CacheMaxEntries,
		RedisAddress:  cfg.RedisAddress,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create response cache", observability.Error(err))
		os.Exit(1)
	}

	// Repository reads are cached separately so upstream payloads and
	// query rows never share eviction pressure.
	readCache, err := cache.New(&cache.Config{
		Backend:    cache.BackendMemory,
		DefaultTTL: cfg.RepositoryCacheTTL.Duration(),
		MaxEntries: cfg.CacheMaxEntries,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create read cache", observability.Error(err))
		os.Exit(1)
	}

	var client *upstream.Client
	if cfg.UpstreamBaseURL != "" {
		client = buildUpstreamClient(cfg, breakers, limiter, responseCache, scorer, logger)
	}

	analyticsStore, err := analytics.NewAdapter(ctx, &analytics.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to connect to analytics store", observability.Error(err))
		os.Exit(1)
	}

	repo, err := repository.New(&repository.Config{
		ReadCacheTTL: cfg.RepositoryCacheTTL.Duration(),
		Logger:       logger,
	}, metaStore, analyticsStore, breakers, limiter, readCache)
	if err != nil {
		logger.Error("failed to create repository", observability.Error(err))
		os.Exit(1)
	}

	checker := health.NewChecker(version)
	checker.RegisterCheck("metadata", health.PingCheck(metaStore.Ping, true))
	checker.RegisterCheck("analytics", health.PingCheck(analyticsStore.Ping, false))
	checker.RegisterCheck("counters", health.PingCheck(counters.Ping, false))
	checker.RegisterCheck("circuits", health.BreakerCheck(breakers))
	checker.RegisterCheck("limiter", health.LimiterCheck(limiter))

	return &application{
		cfg:       cfg,
		db:        db,
		metaStore: metaStore,
		analytics: analyticsStore,
		counters:  counters,
		scorer:    scorer,
		limiter:   limiter,
		breakers:  breakers,
		upstream:  client,
		repo:      repo,
		checker:   checker,
	}
}

// buildCounterStore selects the counter backend. The redis backend falls
// back to local in-memory counters when the shared store is unreachable.
func buildCounterStore(cfg *config.Config, db *badger.DB, logger observability.Logger) store.Store {
	switch cfg.RateLimitBackend {
	case "redis":
		redisCfg := store.DefaultRedisConfig()
		redisCfg.Address = cfg.RedisAddress
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.Logger = logger

		shared, err := store.NewRedisStore(redisCfg)
		if err != nil {
			logger.Warn("redis counter store unavailable, starting on local counters",
				observability.Error(err))
		}
		local := store.NewMemoryStore()
		if shared == nil {
			return local
		}
		return store.NewFallbackStore(shared, local, &store.FallbackConfig{
			SharedName: "redis",
			Logger:     logger,
		})
	case "badger":
		badgerStore, err := store.NewBadgerStore(&store.BadgerStoreConfig{
			DB:     db,
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to create badger counter store", observability.Error(err))
			os.Exit(1)
		}
		return badgerStore
	default:
		return store.NewMemoryStore()
	}
}

// threatConfig maps configuration onto scorer settings.
func threatConfig(cfg *config.Config, logger observability.Logger) *threat.Config {
	tc := threat.DefaultConfig()
	tc.DecayHalfLife = cfg.ThreatDecayHalfLife.Duration()
	tc.FanoutWindow = cfg.ThreatFanoutWindow.Duration()
	tc.Logger = logger
	return tc
}

// buildBreakerRegistry creates the breaker registry with state-change
// persistence. Snapshots are best effort; a failed write never blocks a
// state transition.
func buildBreakerRegistry(cfg *config.Config, metaStore *metadata.Store, logger observability.Logger) *circuitbreaker.Registry {
	var registry *circuitbreaker.Registry

	breakerCfg := circuitbreaker.DefaultConfig().
		WithFailureThreshold(cfg.FailureThreshold).
		WithRecoveryTimeouts(cfg.RecoveryTimeoutBase.Duration(), cfg.RecoveryTimeoutMax.Duration())
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		snapshot := &metadata.CircuitSnapshot{
			Name:  name,
			State: to.String(),
		}
		if breaker := registry.Get(name); breaker != nil {
			stats := breaker.Stats()
			snapshot.FailureCount = stats.FailureCount
			snapshot.OpenedAt = stats.OpenedAt
			if to == circuitbreaker.StateOpen {
				snapshot.RetryAt = stats.OpenedAt.Add(stats.RecoveryTimeout)
			}
		}
		if err := metaStore.SaveCircuitSnapshot(ctx, snapshot); err != nil {
			logger.Warn("failed to persist circuit snapshot",
				observability.String("circuit", name),
				observability.Error(err),
			)
		}
	}

	registry = circuitbreaker.NewRegistry(breakerCfg, logger)
	return registry
}

// restoreCircuitSnapshots surfaces circuits that were not closed when the
// process last stopped. Breakers restart closed; the snapshots exist so an
// operator can see a dependency was failing across the restart.
func restoreCircuitSnapshots(ctx context.Context, metaStore *metadata.Store, logger observability.Logger) {
	snapshots, err := metaStore.LoadCircuitSnapshots(ctx)
	if err != nil {
		logger.Warn("failed to load circuit snapshots", observability.Error(err))
		return
	}
	for _, snapshot := range snapshots {
		if snapshot.State == circuitbreaker.StateClosed.String() {
			continue
		}
		logger.Warn("circuit was not closed before restart",
			observability.String("circuit", snapshot.Name),
			observability.String("state", snapshot.State),
			observability.Int("failure_count", snapshot.FailureCount),
			observability.Time("saved_at", snapshot.SavedAt),
		)
	}
}

// buildUpstreamClient creates the resilient upstream client.
func buildUpstreamClient(
	cfg *config.Config,
	breakers *circuitbreaker.Registry,
	limiter *ratelimit.Limiter,
	responseCache cache.Cache,
	scorer *threat.Scorer,
	logger observability.Logger,
) *upstream.Client {
	policy := retry.DefaultPolicy().
		WithMaxAttempts(cfg.RetryMaxAttempts).
		WithBackoff(cfg.RetryInitialBackoff.Duration(), cfg.RetryMaxBackoff.Duration(), cfg.RetryBackoffFactor, cfg.RetryJitter).
		WithLogger(logger)

	clientCfg := upstream.DefaultConfig()
	clientCfg.BaseURL = cfg.UpstreamBaseURL
	clientCfg.AttemptTimeout = cfg.UpstreamTimeout.Duration()
	clientCfg.CacheTTL = cfg.CacheTTL.Duration()
	clientCfg.StaleFallback = cfg.StaleFallbackEnabled
	clientCfg.MaxIdleConns = cfg.UpstreamMaxIdleConns
	clientCfg.MaxIdleConnsPerHost = cfg.UpstreamMaxConnsPerHost
	clientCfg.IdleConnTimeout = cfg.UpstreamIdleConnTimeout.Duration()
	clientCfg.Logger = logger

	breaker := breakers.GetOrCreate(clientCfg.DependencyName)

	client, err := upstream.NewClient(clientCfg, breaker, limiter, responseCache, scorer, policy)
	if err != nil {
		logger.Error("failed to create upstream client", observability.Error(err))
		os.Exit(1)
	}
	return client
}

// tiersFromConfig maps configured tier limits, dropping disabled tiers.
func tiersFromConfig(cfg *config.Config) map[ratelimit.Tier]int64 {
	tiers := make(map[ratelimit.Tier]int64, 5)
	for tier, limit := range map[ratelimit.Tier]int{
		ratelimit.TierBurst:  cfg.BurstLimit,
		ratelimit.TierSecond: cfg.PerSecondLimit,
		ratelimit.TierMinute: cfg.PerMinuteLimit,
		ratelimit.TierHour:   cfg.PerHourLimit,
		ratelimit.TierDay:    cfg.PerDayLimit,
	} {
		if limit > 0 {
			tiers[tier] = int64(limit)
		}
	}
	return tiers
}

// run starts the HTTP servers and the config watcher, then blocks until
// shutdown.
func run(app *application, configPath string, logger observability.Logger) {
	app.metricsServer = startMetricsServer(app.cfg.MetricsPort, logger)
	app.healthServer = startHealthServer(app.cfg.HealthPort, app.checker, logger)

	watcher := startConfigWatcher(app, configPath, logger)

	logger.Info("statgate started",
		observability.Int("metrics_port", app.cfg.MetricsPort),
		observability.Int("health_port", app.cfg.HealthPort),
	)

	waitForShutdown(app, watcher, logger)
}

// startConfigWatcher watches the configuration file and applies tunable
// limits on change. Structural settings (backends, ports, stores) require
// a restart.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err != nil {
		logger.Info("configuration file not present, hot reload disabled",
			observability.String("path", configPath))
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := next.Validate(); err != nil {
			logger.Warn("ignoring invalid configuration reload", observability.Error(err))
			return
		}
		app.limiter.UpdateTiers(tiersFromConfig(next))
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	logger.Info("watching configuration for limit changes",
		observability.String("path", configPath))
	return watcher
}

// startMetricsServer serves Prometheus metrics.
func startMetricsServer(port int, logger observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", observability.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", observability.Error(err))
		}
	}()
	return server
}

// startHealthServer serves the health, readiness, and liveness probes.
func startHealthServer(port int, checker *health.Checker, logger observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HealthHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", checker.LivenessHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("starting health server", observability.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", observability.Error(err))
		}
	}()
	return server
}

// waitForShutdown blocks until a termination signal, then drains and closes
// everything in dependency order.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	app.checker.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop health server", observability.Error(err))
	}
	if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", observability.Error(err))
	}

	app.scorer.Close()
	app.analytics.Close()

	if err := app.counters.Close(); err != nil {
		logger.Error("failed to close counter store", observability.Error(err))
	}

	// The metadata store shares the database, so the database closes last.
	if err := app.metaStore.Close(); err != nil {
		logger.Error("failed to close metadata store", observability.Error(err))
	}
	if !app.db.IsClosed() {
		if err := app.db.Close(); err != nil {
			logger.Error("failed to close metadata database", observability.Error(err))
		}
	}

	logger.Info("statgate stopped")
}
