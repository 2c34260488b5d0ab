package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"watchtower/internal/api"
	"watchtower/internal/catalog"
	"watchtower/internal/config"
	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/evidence"
	"watchtower/internal/incident"
	"watchtower/internal/logger"
	"watchtower/internal/run"
	"watchtower/internal/trend"
	"watchtower/pkg/blob"
	"watchtower/pkg/bootstrap"
	"watchtower/pkg/circuitbreaker"
	"watchtower/pkg/health"
	"watchtower/pkg/logging"
	"watchtower/pkg/metrics"
	"watchtower/pkg/middleware"
	"watchtower/pkg/migrations"
	"watchtower/pkg/ratelimit"
	"watchtower/pkg/retry"
	"watchtower/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	objects        *minio.Client
	tracerProvider *tracing.TracerProvider
	healthRegistry *health.CheckerRegistry
	rateLimits     *ratelimit.Store
	deps           api.Dependencies
	dispatcher     *run.Dispatcher
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:           bootstrap.NewBase(cfg, log),
		dbConnector:    bootstrap.NewDatabaseConnector(cfg, log),
		healthRegistry: health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(ctx, a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()

	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if a.Config.Broker.Type != "" {
		if err := a.InitBroker(constants.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
	}

	if err := a.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a.initHTTPServer()
	return nil
}

// Migrate connects to PostgreSQL and applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	version, err := migrations.RunPostgres(db)
	if err != nil {
		return err
	}
	a.Logger.InfowCtx(ctx, "Database migrations applied", "version", version)
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.Config.Database.RunMigrations {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	} else {
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return err
		}
		a.db = db
	}
	a.healthRegistry.Register(health.NewPostgreSQLChecker(a.db))

	// Redis, MongoDB and object storage only back optional features, so the
	// engine starts without them.
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, rule cache disabled", "error", err)
	} else if rdb != nil {
		a.redis = rdb
		a.healthRegistry.RegisterOptional(health.NewRedisChecker(rdb))
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB unavailable, trends kept in memory", "error", err)
	} else if mongoClient != nil {
		a.mongoClient = mongoClient
		if err := migrations.EnsureTrendCollection(ctx, a.mongoDatabase()); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure trend indexes", "error", err)
		}
		a.healthRegistry.RegisterOptional(health.NewMongoDBChecker(mongoClient))
	}

	objects, err := a.dbConnector.InitObjectStorage(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Object storage unavailable, evidence stored inline only", "error", err)
	} else if objects != nil {
		a.objects = objects
		a.healthRegistry.RegisterOptional(health.NewMinioChecker(objects, a.Config.Storage.Bucket))
	}

	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(dbName)
}

func (a *App) blobStore() blob.Store {
	if a.objects == nil {
		return nil
	}
	var store blob.Store = blob.NewMinioStore(a.objects)
	if a.Config.CircuitBreaker.Enabled {
		store = blob.NewCircuitBreakerStore(store, circuitbreaker.FromConfig("object-storage", a.Config.CircuitBreaker))
	}
	return store
}

func (a *App) initEngine() error {
	exec := a.Config.Execution

	var catalogRepo catalog.Repository = catalog.NewPostgresRepository(a.db)
	if a.redis != nil {
		ttl := time.Duration(a.Config.Database.Redis.TTLSeconds) * time.Second
		catalogRepo = catalog.NewCachedRepository(catalogRepo, a.redis, ttl, a.Logger.With("component", "catalog_cache"))
	}

	var trendRepo trend.Repository = trend.NewMemoryRepository()
	if a.mongoClient != nil {
		trendRepo = trend.NewMongoRepository(a.mongoDatabase())
	}
	trends := trend.NewAggregator(trendRepo)

	policy, err := incident.NewPolicy(a.Config.Incident.Policy)
	if err != nil {
		return err
	}
	incidents := incident.NewService(incident.NewPostgresRepository(a.db), policy, a.Logger.With("component", "incidents"))

	routerOpts := []dataset.RouterOption{
		dataset.WithDatabaseLoader(dataset.NewPostgresTableLoader(a.db)),
	}
	var evidenceStore evidence.Store
	if store := a.blobStore(); store != nil {
		routerOpts = append(routerOpts, dataset.WithObjectLoader(dataset.NewObjectCSVLoader(store)))
		evidenceStore = evidence.NewMinioStore(store, a.Config.Storage.Bucket)
	}
	loader := dataset.NewRetryingLoader(
		dataset.NewRouter(dataset.NewFileLoader(), routerOpts...),
		retry.FromConfig(exec.DatasetRetry),
		a.Logger,
	)

	opts := []run.Option{
		run.WithIdentity(run.NewIdentity(exec.HashAlgorithm)),
		run.WithEvidence(
			evidence.NewBuilder(evidence.WithCap(exec.EvidenceSampleCap)),
			evidence.NewOffloader(evidenceStore, exec.EvidenceMaxBytes),
		),
		run.WithReferences(catalogRepo),
		run.WithTrends(trends),
		run.WithIncidents(incidents),
	}
	if a.Producer != nil {
		opts = append(opts, run.WithEvents(run.NewEventPublisher(a.Producer, a.Config.Broker.Kafka.EventTopic)))
	}

	runs := run.NewPostgresRepository(a.db)
	coordinator := run.NewCoordinator(runs, loader, a.Logger.With("component", "coordinator"), opts...)
	a.dispatcher = run.NewDispatcher(catalogRepo, coordinator, a.Logger,
		run.WithConcurrency(exec.Concurrency),
		run.WithWeekdaysOnly(exec.WeekdaysOnly),
	)

	a.deps = api.Dependencies{
		Catalog:   catalogRepo,
		Runner:    a.dispatcher,
		Runs:      runs,
		Trends:    trends,
		Incidents: incidents,
	}
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.API.RateLimit.Enabled {
		cfg := ratelimit.FromConfig(a.Config.API.RateLimit)
		a.rateLimits = ratelimit.NewStore(cfg)
		router.Use(ratelimit.RateLimitMiddleware(a.rateLimits))
		a.Logger.Infow("Rate limiting enabled", "rps", cfg.RPS, "burst", cfg.Burst)
	}

	api.NewHandler(a.deps, a.Logger.With("component", "api")).RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		h := a.healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

// Run serves HTTP and, when a broker is configured, consumes execution
// requests until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.rateLimits != nil {
		g.Go(func() error {
			a.rateLimits.RunCleanup(gCtx)
			return nil
		})
	}

	if a.Consumer != nil {
		topic := a.Config.Broker.Kafka.RequestTopic
		if topic == "" {
			topic = constants.DefaultRequestTopic
		}
		handler := run.NewRequestHandler(a.dispatcher, a.Logger)

		g.Go(func() error {
			consumeCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(consumeCtx, "Starting execution request consumer", "topic", topic)
			err := a.Consumer.Consume(consumeCtx, topic, handler)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down engine service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
