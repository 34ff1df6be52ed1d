package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"riskcfg/internal/config"
	"riskcfg/internal/constants"
	"riskcfg/internal/dictionary"
	"riskcfg/internal/logger"
	"riskcfg/internal/versioning"
	"riskcfg/pkg/bootstrap"
	"riskcfg/pkg/cel"
	"riskcfg/pkg/circuitbreaker"
	"riskcfg/pkg/health"
	"riskcfg/pkg/logging"
	"riskcfg/pkg/metrics"
	"riskcfg/pkg/middleware"
	"riskcfg/pkg/migrations"
	"riskcfg/pkg/ratelimit"
	"riskcfg/pkg/retry"
	"riskcfg/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	store          versioning.Store
	outboxStore    versioning.OutboxStore
	service        *versioning.Service
	relay          *versioning.OutboxRelay
	dictionaries   *dictionary.Service
	limiter        *ratelimit.Limiter
	tracerProvider *tracing.Provider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	initCtx, cancel := context.WithTimeout(ctx, constants.StartupTimeout)
	defer cancel()

	if err := a.initDatabases(initCtx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if db != nil {
		if a.Config.Database.RunMigrations {
			if err := migrations.UpPostgres(db); err != nil {
				return err
			}
			a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
		}
		store := versioning.NewPostgresStore(db)
		a.store, a.outboxStore = store, store
	} else {
		a.Logger.WarnwCtx(ctx, "Using in-memory version store, data is lost on restart")
		store := versioning.NewMemoryStore()
		a.store, a.outboxStore = store, store
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	mc, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		if a.Config.Dictionary.Enabled {
			return err
		}
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, continuing with built-in dictionaries", "error", err)
		return nil
	}
	a.mongoClient = mc
	if mc != nil {
		if err := migrations.EnsureDictionaryIndexes(ctx, mc.Database(mongoDatabase(a.Config))); err != nil {
			return err
		}
	}
	return nil
}

func mongoDatabase(cfg *config.Config) string {
	if cfg.Database.MongoDB.Database != "" {
		return cfg.Database.MongoDB.Database
	}
	return constants.DefaultMongoDBName
}

func (a *App) initServices() error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	act := a.Config.Versioning.Activation
	policy := retry.DefaultPolicy()
	if act.MaxAttempts > 0 {
		policy.MaxAttempts = act.MaxAttempts
	}
	if act.InitialInterval > 0 {
		policy.InitialInterval = act.InitialInterval
	}
	if act.MaxInterval > 0 {
		policy.MaxInterval = act.MaxInterval
	}

	opts := []versioning.Option{
		versioning.WithLogger(a.Logger),
		versioning.WithActivationPolicy(act.LockTimeout, policy),
	}
	if a.redis != nil && a.Config.Versioning.Cache.Enabled {
		ttl := time.Duration(a.Config.Versioning.Cache.TTLSeconds) * time.Second
		opts = append(opts, versioning.WithCache(versioning.NewRedisCurrentCache(a.redis, a.Config.Versioning.Cache.KeyPrefix, ttl)))
		a.Logger.Infow("Current version cache enabled", "ttl", ttl)
	}
	a.service = versioning.NewService(a.store, evaluator, opts...)

	if a.Producer != nil && a.Config.Versioning.Outbox.Enabled {
		relayOpts := []versioning.RelayOption{
			versioning.WithRelayInterval(a.Config.Versioning.Outbox.PollInterval),
			versioning.WithRelayBatchSize(a.Config.Versioning.Outbox.BatchSize),
		}
		if cb := a.Config.CircuitBreaker; cb.Enabled {
			relayOpts = append(relayOpts, versioning.WithRelayBreaker(circuitbreaker.NewWrapper(circuitbreaker.Config{
				Name:         "kafka-outbox",
				MaxRequests:  cb.MaxRequests,
				Interval:     cb.Interval,
				Timeout:      cb.Timeout,
				FailureRatio: cb.FailureRatio,
				MinRequests:  cb.MinRequests,
				OnStateChange: func(name string, from, to gobreaker.State) {
					a.Logger.Warnw("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
				},
			})))
		}
		a.relay = versioning.NewOutboxRelay(a.outboxStore, a.Producer, a.Config.Broker.Kafka.EventsTopic, a.Logger, relayOpts...)
	}

	var repo dictionary.Repository
	if a.mongoClient != nil && a.Config.Dictionary.Enabled {
		repo = dictionary.NewMongoRepository(a.mongoClient.Database(mongoDatabase(a.Config)))
	}
	a.dictionaries = dictionary.NewService(repo, a.Config.Dictionary, a.Logger)

	if rl := a.Config.Management.RateLimit; rl.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		})
	}
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName)...)
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	if a.limiter != nil {
		router.Use(a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled", "rps", a.Config.Management.RateLimit.RPS, "burst", a.Config.Management.RateLimit.Burst)
	}

	versioning.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	dictionary.NewHandler(a.dictionaries, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		healthRegistry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	router.GET("/health", healthRegistry.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			a.relay.Run(logging.WithServiceName(gCtx, constants.ServiceName))
			return nil
		})
	}

	if a.Config.Dictionary.Enabled {
		g.Go(func() error {
			if err := a.dictionaries.StartReloader(gCtx); err != nil && gCtx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down config service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(shutdownCtx, additionalShutdown)
}
