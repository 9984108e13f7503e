package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/application/services"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/cache"
	"asset-pipeline/internal/infrastructure/db/postgres"
	assetDB "asset-pipeline/internal/infrastructure/db/postgres/asset"
	quotaDB "asset-pipeline/internal/infrastructure/db/postgres/quota"
	"asset-pipeline/internal/infrastructure/imageproc"
	"asset-pipeline/internal/infrastructure/jwt"
	"asset-pipeline/internal/infrastructure/metrics"
	"asset-pipeline/internal/infrastructure/mq"
	"asset-pipeline/internal/infrastructure/s3"
	"asset-pipeline/internal/interface/api/rest"
	"asset-pipeline/internal/interface/api/rest/middleware"
	"asset-pipeline/pkg/rmqconsumer"
)

type App struct {
	logger     *zap.Logger
	cfg        config.Config
	db         *pgxpool.Pool
	s3         *s3.Client
	rdb        *redis.Client
	httpSrv    *http.Server
	router     *gin.Engine
	mCounter   *prometheus.CounterVec
	mStage     *prometheus.HistogramVec
	mq         ports.RabbitMQ
	mqConsumer ports.RMQConsumer
	limiter    *middleware.OwnerRateLimiter
	reconciler *services.ReconcileService
}

func NewApp(ctx context.Context) (*App, error) {
	// logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("cannot initialize zap logger: %v", err)
	}
	defer logger.Sync()

	// config
	if err = godotenv.Load(".env"); err != nil {
		logger.Warn("no .env file, using process environment", zap.Error(err))
	}
	cfg := config.Load()
	if cfg.App.JWTSecret == "" {
		logger.Fatal("SERVICE_JWT_SECRET is required")
	}

	// metrics
	mCounter := metrics.NewCounter()
	mStage := metrics.NewStageDuration()

	// router
	switch cfg.App.Env {
	case gin.ReleaseMode, "prod", "production":
		gin.SetMode(gin.ReleaseMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogGin(logger, mCounter))

	// httpServer; no WriteTimeout, upload progress is streamed
	httpSrv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// db
	dbDsn, err := cfg.DBDSN()
	if err != nil {
		logger.Fatal("DB config error", zap.Error(err))
	}
	if err = postgres.Migrate(logger, dbDsn); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	dbPool, err := postgres.New(ctx, logger, dbDsn)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	// s3
	s3Client, err := s3.New(ctx, logger, cfg.S3)
	if err != nil {
		logger.Fatal("failed to connect to S3", zap.Error(err))
	}

	// redis is optional, the signed URL cache falls back to process memory
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-memory url cache", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		}
	}

	// rabbitMQ
	rabbitDsn, err := cfg.AMQPDSN()
	if err != nil {
		logger.Fatal("RabbitMQ config error", zap.Error(err))
	}
	rbMQ := mq.New(cfg.MQ, logger)
	if err = rbMQ.Connect(ctx, rabbitDsn); err != nil {
		logger.Fatal("failed to connect to rabbitMQ", zap.Error(err))
	}
	if err = rbMQ.Init(); err != nil {
		logger.Fatal("failed init rabbitMQ", zap.Error(err))
	}
	//rmqConsumer
	rmqConsumer := rmqconsumer.New(cfg.MQ, logger, s3Client, assetDB.NewRepository(dbPool))
	if err = rmqConsumer.Connect(rabbitDsn); err != nil {
		logger.Fatal("failed to connect rabbitMQ consumer", zap.Error(err))
	}
	if err = rmqConsumer.Init(); err != nil {
		logger.Fatal("failed to init rabbitMQ consumer", zap.Error(err))
	}

	return &App{
		logger:     logger,
		cfg:        cfg,
		db:         dbPool,
		s3:         s3Client,
		rdb:        rdb,
		httpSrv:    httpSrv,
		router:     r,
		mCounter:   mCounter,
		mStage:     mStage,
		mq:         rbMQ,
		mqConsumer: rmqConsumer,
		limiter:    middleware.NewOwnerRateLimiter(cfg.App.UploadRateLimit, logger),
	}, nil
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.mq.GetConn() != nil {
		a.mq.GetConn().Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// Run - The central place to launch and manage our application and
// parallel processes through a single context.
func (a *App) Run(ctx context.Context) error {
	// context with os signals cancel chan
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting "+a.cfg.App.Name, zap.String("addr", a.cfg.App.Host+":"+a.cfg.App.Port))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server "+a.cfg.App.Name+" error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		a.mq.PublisherWorker(ctx)
		return nil
	})

	g.Go(func() error {
		a.mqConsumer.DeliveryWorker(ctx)
		return nil
	})

	g.Go(func() error {
		a.limiter.CleanupWorker(ctx)
		return nil
	})

	if a.reconciler != nil {
		g.Go(func() error {
			a.reconciler.Worker(ctx)
			return nil
		})
	}

	<-ctx.Done()

	a.logger.Info("shutting down " + a.cfg.App.Name + " gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown "+a.cfg.App.Name+" error", zap.Error(err))
			return err
		}
	}

	if err := g.Wait(); err != nil {
		a.logger.Error(a.cfg.App.Name+" returning an error", zap.Error(err))
		return err
	}

	a.logger.Info(a.cfg.App.Name + " gracefully stopped")

	return nil
}

func (a *App) InitControllers() {
	// repos
	assetRepo := assetDB.NewRepository(a.db)
	quotaRepo := quotaDB.NewRepository(a.db)

	// url cache
	var urlCache ports.URLCache
	if a.rdb != nil {
		urlCache = cache.NewRedis(a.rdb, a.logger)
	} else {
		urlCache = cache.NewMemory(a.cfg.Access.CacheSize, a.cfg.Access.SignedURLTTL)
	}

	// services
	jwtService := jwt.New(a.cfg.App.JWTSecret)
	quotaService := services.NewQuotaService(quotaRepo, quota.DefaultPolicy(), a.mCounter)
	accessService := services.NewAccessService(a.cfg.Access, a.cfg.S3, a.s3, urlCache, a.logger, a.mCounter)
	assetService := services.NewAssetService(assetRepo, quotaService, accessService, a.mq, a.logger, a.mCounter)
	uploadService := services.NewUploadService(
		a.cfg.Upload,
		assetRepo,
		quotaService,
		a.s3,
		imageproc.NewProcessor(a.cfg.Upload, a.logger),
		a.mq,
		a.logger,
		a.mCounter,
		a.mStage,
	)
	a.reconciler = services.NewReconcileService(a.cfg.Reconcile, assetRepo, quotaRepo, quotaService, a.s3, a.logger, a.mCounter)

	// controllers
	rest.NewAssetController(a.router, uploadService, assetService, accessService, a.cfg.Upload.MaxBytes, a.logger, jwtService, a.limiter)
	rest.NewQuotaController(a.router, quotaService, a.logger, jwtService)
	rest.NewAccessController(a.router, accessService, a.cfg.S3.BucketPrivate, a.cfg.S3.BucketPublic, a.logger, jwtService)

	// ops
	a.router.GET(rest.RouteHealth, func(c *gin.Context) { c.Status(http.StatusOK) })
	a.router.GET(rest.RouteMetrics, gin.WrapH(promhttp.Handler()))
}

func (a *App) Logger() *zap.Logger { return a.logger }
