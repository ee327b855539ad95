// Package main is the entry point for the cartable workflow service.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pitabwire/cartable/internal/adapter"
	"github.com/pitabwire/cartable/internal/capability"
	"github.com/pitabwire/cartable/internal/cartable"
	"github.com/pitabwire/cartable/internal/config"
	"github.com/pitabwire/cartable/internal/definition"
	"github.com/pitabwire/cartable/internal/events"
	"github.com/pitabwire/cartable/internal/idempotency"
	"github.com/pitabwire/cartable/internal/inbox"
	"github.com/pitabwire/cartable/internal/jobs"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/internal/record"
	"github.com/pitabwire/cartable/internal/transport"
	"github.com/pitabwire/cartable/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "cartable", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Open the record store.
	records, recordsCloser, err := buildRecordStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("record store initialization failed", zap.Error(err))
		return 1
	}
	defer recordsCloser()

	definitions := definition.NewStore(records)
	items := cartable.NewStore(records)

	// Step 5: Load and seed definitions.
	if cfg.Definitions.SeedOnStart {
		defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
		if err != nil {
			logger.Error("definition loading failed", zap.Error(err))
			return 1
		}
		if err := definition.Seed(ctx, definitions, defs, logger); err != nil {
			logger.Error("definition seeding failed", zap.Error(err))
			return 1
		}
	}

	// Step 6: Register module hooks.
	hooks := buildHooks(cfg.Workflow)

	// Step 7: Initialize the event publisher.
	publisher, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}
	defer func() { _ = publisher.Close() }()

	// Step 8: Build the engine and inbox projection.
	access := inbox.Policy{BroadcastModules: cfg.Workflow.BroadcastModules()}
	engine := workflow.NewEngine(definitions, items,
		workflow.WithAccess(access),
		workflow.WithHooks(hooks),
		workflow.WithPublisher(publisher),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
		workflow.WithArchiveRole(cfg.Workflow.ArchiveRole),
		workflow.WithSensitiveFields(cfg.Observability.SensitiveFields),
	)
	projection := inbox.NewProjection(items, access, metrics, logger)

	// Step 9: Initialize capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, cfg.Capability.Cache.MaxEntries, metrics)

	// Step 10: Initialize idempotency store (optional).
	idempotencyStore, idempotencyCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	defer idempotencyCloser()

	// Step 11: Build HTTP router.
	secret := cfg.Identity.Secret()
	if secret == "" {
		logger.Error("token secret not set", zap.String("env", cfg.Identity.SecretEnv))
		return 1
	}

	healthChecks := map[string]observability.HealthChecker{
		"definitions": observability.HealthCheckFunc(func(ctx context.Context) error {
			defs, err := definitions.List(ctx)
			if err != nil {
				return err
			}
			if len(defs) == 0 && cfg.Definitions.SeedOnStart {
				return errors.New("no workflow definitions loaded")
			}
			return nil
		}),
	}
	if hc, ok := records.(observability.HealthChecker); ok {
		healthChecks["store"] = hc
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		healthChecks["idempotency"] = hc
	}
	if hc, ok := publisher.(observability.HealthChecker); ok {
		healthChecks["events"] = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            metrics,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, []byte(secret)),
		CapabilityResolver: capResolver,
		Definitions:        definitions,
		Engine:             engine,
		Inbox:              projection,
		Idempotency:        idempotencyStore,
		HealthChecks:       healthChecks,
		OptionalChecks:     []string{"events"},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 12: Start background jobs.
	scheduler := jobs.NewScheduler(logger, cfg.Store.Timeout)
	if schedule := cfg.Jobs.PendingGaugeSchedule; schedule != "" && metrics != nil {
		if err := scheduler.Add(jobs.NewPendingGauge(schedule, items, metrics)); err != nil {
			logger.Error("job registration failed", zap.Error(err))
			return 1
		}
	}
	scheduler.Start()

	// Step 13: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("broadcast_modules", cfg.Workflow.BroadcastModules()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	scheduler.Stop(shutdownCtx)

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildRecordStore opens the configured record store backend. The returned
// closer releases its connections.
func buildRecordStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (record.Store, func(), error) {
	noop := func() {}
	dsn := cfg.DSN()

	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("using in-memory record store; data is lost on restart")
		return record.NewMemoryStore(), noop, nil

	case config.DriverPostgres:
		if dsn == "" {
			return nil, noop, fmt.Errorf("record store: %s environment variable not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("record store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("record store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("record store: ping: %w", err)
		}
		store := record.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("record store: migrate: %w", err)
		}
		logger.Info("using postgres record store")
		return store, pool.Close, nil

	case config.DriverSQLite:
		path := cfg.Path
		if dsn != "" {
			path = dsn
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, noop, fmt.Errorf("record store: open sqlite: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		store, err := record.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("record store: %w", err)
		}
		logger.Info("using sqlite record store", zap.String("path", path))
		return store, func() { _ = db.Close() }, nil

	case config.DriverRedis:
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("record store: parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("record store: ping redis: %w", err)
		}
		logger.Info("using redis record store", zap.String("prefix", cfg.Prefix))
		return record.NewRedisStore(client, cfg.Prefix), func() { _ = client.Close() }, nil

	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(dsn))
		if err != nil {
			return nil, noop, fmt.Errorf("record store: connect mongo: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, fmt.Errorf("record store: ping mongo: %w", err)
		}
		logger.Info("using mongo record store", zap.String("database", cfg.Database))
		closer := func() { _ = client.Disconnect(context.Background()) }
		return record.NewMongoStore(client, cfg.Database), closer, nil

	default:
		return nil, noop, fmt.Errorf("unsupported record store driver: %q", cfg.Driver)
	}
}

// buildHooks registers the status mirror for every module, with the
// per-module step overrides from configuration.
func buildHooks(cfg config.WorkflowConfig) *adapter.Registry {
	hooks := adapter.NewRegistry()
	if !cfg.StatusMirror {
		return hooks
	}
	overrides := make(map[string]map[string]string)
	for module, m := range cfg.Modules {
		if len(m.StatusByStep) > 0 {
			overrides[module] = m.StatusByStep
		}
	}
	adapter.RegisterStatusMirrors(hooks, overrides)
	return hooks
}

// buildPublisher creates the Kafka publisher, or a no-op one when events
// are disabled.
func buildPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		ClientID:     cfg.ClientID,
		BatchTimeout: cfg.BatchTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return events.NewBreakingPublisher(p, events.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		CoolDown:         cfg.Breaker.CoolDown,
	}, func(from, to events.BreakerState) {
		logger.Warn("event publisher breaker state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}), nil
}

// buildIdempotencyStore creates the idempotency store based on config.
// It returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), noop, nil
	case config.DriverRedis:
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, noop, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
