package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"formgate/internal/challenge"
	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/delivery"
	"formgate/internal/form"
	"formgate/internal/logger"
	"formgate/internal/ratelimit"
	"formgate/internal/site"
	"formgate/internal/submission"
	"formgate/pkg/bootstrap"
	"formgate/pkg/floodguard"
	"formgate/pkg/health"
	"formgate/pkg/metrics"
	"formgate/pkg/middleware"
	"formgate/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	sqlite         *sql.DB
	limiter        *ratelimit.Limiter
	senderCloser   io.Closer
	pipeline       *submission.Pipeline
	floodGuard     *floodguard.Guard
	health         *health.CheckerRegistry
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterPipelineMetrics()
	metrics.RegisterDeliveryMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	tp, err := tracing.Init(a.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initLimiter(ctx); err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	a.initRouter()
	a.initServer()
	return nil
}

func (a *App) initStore(ctx context.Context) (ratelimit.Store, error) {
	switch a.config.RateLimit.Store {
	case constants.StoreTypeFile:
		store, err := ratelimit.NewFileStore(a.config.RateLimit.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case constants.StoreTypeRedis:
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		a.health.Register(health.NewRedisChecker(rdb))
		return ratelimit.NewRedisStore(rdb, a.config.RateLimit.Window), nil
	case constants.StoreTypeSQLite:
		db, err := a.dbConnector.InitSQLite(ctx)
		if err != nil {
			return nil, err
		}
		a.sqlite = db
		a.health.Register(health.NewSQLChecker("sqlite", db))
		return ratelimit.NewSQLiteStore(db), nil
	case constants.StoreTypeMemory, "":
		return ratelimit.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", a.config.RateLimit.Store)
	}
}

func (a *App) initLimiter(ctx context.Context) error {
	store, err := a.initStore(ctx)
	if err != nil {
		return err
	}

	store = ratelimit.NewCircuitBreakerStore(store, a.config.CircuitBreaker)
	if r, ok := store.(health.StateReporter); ok {
		a.health.Register(health.NewBreakerChecker("rate_limit_store_breaker", r))
	}

	a.limiter = ratelimit.NewLimiter(ratelimit.Config{
		Window:  a.config.RateLimit.Window,
		MaxHits: a.config.RateLimit.MaxHits,
	}, store, ratelimit.WithLogger(a.logger))

	a.logger.InfowCtx(ctx, "Rate limiter ready",
		"store", store.Name(),
		"window", a.limiter.Config().Window,
		"max_hits", a.limiter.Config().MaxHits,
	)
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	sender, closer, err := delivery.NewSender(ctx, a.config.Delivery, a.config.CircuitBreaker, a.logger)
	if err != nil {
		return err
	}
	a.senderCloser = closer
	if a.config.Delivery.Type == constants.DeliveryTypeLog {
		a.logger.WarnwCtx(ctx, "Delivery channel is log, accepted submissions are logged and not sent")
	}

	var opts []submission.Option
	if v := challenge.NewTurnstileVerifier(a.config.Challenge, a.logger); v != nil {
		verifier := challenge.NewCircuitBreakerVerifier(v, a.config.CircuitBreaker)
		opts = append(opts, submission.WithChallengeVerifier(verifier))
		if r, ok := verifier.(health.StateReporter); ok {
			a.health.Register(health.NewBreakerChecker("challenge_breaker", r))
		}
	} else {
		a.logger.WarnwCtx(ctx, "Challenge secret is not set, the challenge gate is disabled",
			"env", constants.ChallengeSecretEnv,
		)
	}

	a.pipeline = submission.NewPipeline(a.config.Gate, a.limiter, sender, a.logger, opts...)
	a.logger.InfowCtx(ctx, "Submission pipeline ready",
		"delivery", a.config.Delivery.Type,
		"gates", a.pipeline.Gates(),
	)
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ClientIPMiddleware())
	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))

	if a.config.FloodGuard.Enabled {
		a.floodGuard = floodguard.New(a.config.FloodGuard)
		router.Use(a.floodGuard.Middleware())
		a.logger.Infow("Flood guard enabled", "rps", a.config.FloodGuard.RPS, "burst", a.config.FloodGuard.Burst)
	}

	resolver := site.NewStaticResolver(a.config.Sites)
	handler := form.NewHandler(resolver, a.pipeline, form.Options{
		CSRFCookie:   a.config.Gate.CSRFCookie,
		MaxBodyBytes: a.config.Server.MaxBodyBytes,
		Locale:       a.config.Gate.Locale,
	}, a.logger)
	handler.RegisterRoutes(router)

	router.GET("/health", a.health.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}
}

// Run serves HTTP and the background janitors until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.limiter.RunJanitor(gCtx, a.config.RateLimit.JanitorInterval)
	})

	if a.floodGuard != nil {
		g.Go(func() error {
			return a.floodGuard.Run(gCtx)
		})
	}

	return g.Wait()
}

// Shutdown releases everything Initialize acquired. The HTTP server is
// stopped by Run.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down formgate")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.senderCloser != nil {
		if err := a.senderCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sender close error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.sqlite)...)

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.InfowCtx(ctx, "formgate exited successfully")
	return nil
}
