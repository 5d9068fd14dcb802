package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-blur/internal/auth"
	"github.com/example/face-blur/internal/blur"
	"github.com/example/face-blur/internal/config"
	"github.com/example/face-blur/internal/handlers"
	"github.com/example/face-blur/internal/logging"
	"github.com/example/face-blur/internal/pipeline"
	"github.com/example/face-blur/internal/queue"
	"github.com/example/face-blur/internal/repository"
	"github.com/example/face-blur/internal/storage"
	"github.com/example/face-blur/internal/vision"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cred := initCredential(logger)

	blobClient, err := storage.NewClient(cfg.StorageAccountURL, cfg.StorageConnectionString, cred)
	if err != nil {
		logger.Fatal("failed to create blob client", zap.Error(err))
	}
	store := storage.NewBlobStore(blobClient, cfg.StorageAccountURL, logger)

	detector, closeDetector := initDetector(ctx, cfg, cred, logger)
	defer closeDetector()

	locator := vision.NewLocator(detector, cfg.VisionTimeout, logger)
	engine := blur.NewEngine(blur.SelectBackend(cfg.LocalTest), cfg.BlurSigma, cfg.JPEGQuality, logger)

	opts := pipeline.Options{
		SourceContainer:      cfg.SourceContainer,
		DestinationContainer: cfg.DestinationContainer,
		SendURL:              cfg.VisionSource == config.SourceURL,
		URLs:                 store,
	}
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		opts.Cache = pipeline.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
	}
	if cfg.DatabaseDSN != "" {
		repo := repository.NewProcessingRepository(initDatabase(ctx, cfg.DatabaseDSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts.Repository = repo
	}
	processor := pipeline.NewProcessor(store, locator, engine, opts, logger)

	var background func(context.Context) error
	if cfg.QueueEnabled() {
		background = initWorker(ctx, cfg, cred, processor, logger).Run
	} else {
		logger.Info("queue polling disabled, accepting webhook deliveries only")
	}

	r := gin.Default()

	var middlewares []gin.HandlerFunc
	if cfg.JWTSecret != "" {
		middlewares = append(middlewares, auth.RequireBearer(cfg.JWTSecret, cfg.JWTAudience, logger))
	} else {
		logger.Warn("JWT_SECRET not set, /events and /status are unauthenticated")
	}
	handlers.RegisterRoutes(r, processor, logger, middlewares...)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("face blur service listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("source", cfg.SourceContainer),
		zap.String("destination", cfg.DestinationContainer),
		zap.String("vision_transport", cfg.VisionTransport),
		zap.Bool("local_test", cfg.LocalTest),
	)
	if err := serve(server, background, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initCredential returns the ambient identity, or nil when none is
// available. Connection strings and API keys work without one.
func initCredential(logger *zap.Logger) azcore.TokenCredential {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.Warn("ambient credential unavailable", zap.Error(err))
		return nil
	}
	return cred
}

func initDetector(ctx context.Context, cfg *config.Config, cred azcore.TokenCredential, logger *zap.Logger) (vision.Detector, func()) {
	creds, err := vision.NewCredentialProvider(cfg.VisionKey, cred)
	if err != nil {
		logger.Fatal("no credential for the vision service", zap.Error(err))
	}

	if cfg.VisionTransport == config.TransportGRPC {
		detector, err := vision.DialDetector(ctx, cfg.VisionGRPCAddr, creds, logger)
		if err != nil {
			logger.Fatal("failed to connect to face detector", zap.String("addr", cfg.VisionGRPCAddr), zap.Error(err))
		}
		return detector, func() { _ = detector.Close() }
	}

	detector, err := vision.NewAnalyzeClient(cfg.VisionEndpoint, creds, nil, logger)
	if err != nil {
		logger.Fatal("failed to create vision client", zap.Error(err))
	}
	return detector, func() {}
}

func initWorker(ctx context.Context, cfg *config.Config, cred azcore.TokenCredential, processor *pipeline.Processor, logger *zap.Logger) *queue.Worker {
	svc, err := queue.NewServiceClient(cfg.QueueServiceURL, cfg.StorageConnectionString, cred)
	if err != nil {
		logger.Fatal("failed to create queue client", zap.Error(err))
	}
	source := queue.NewAzureQueue(svc, cfg.QueueName)
	poison := queue.NewAzureQueue(svc, queue.PoisonName(cfg.QueueName))
	for _, q := range []*queue.AzureQueue{source, poison} {
		if err := q.Ensure(ctx); err != nil {
			logger.Warn("failed to ensure queue exists", zap.String("queue", q.Name()), zap.Error(err))
		}
	}

	return queue.NewWorker(source, poison, processor, queue.WorkerConfig{
		Concurrency:     cfg.WorkerConcurrency,
		MaxDequeueCount: cfg.MaxDequeueCount,
		Visibility:      cfg.QueueVisibilityTimeout,
		PollInterval:    cfg.QueuePollInterval,
	}, logger)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serve(server *http.Server, background func(context.Context) error, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveWithOptions(server, background, shutdownTimeout, logger, nil, nil)
}

// serveWithOptions runs the HTTP server and, when given, a background loop
// such as the queue worker. A signal shuts both down; the first to fail
// stops the other.
func serveWithOptions(server *http.Server, background func(context.Context) error, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	bgDone := make(chan error, 1)
	if background != nil {
		go func() { bgDone <- background(bgCtx) }()
	}

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	waitBackground := func() error {
		stopBackground()
		if background == nil {
			return nil
		}
		return <-bgDone
	}

	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}

	select {
	case err := <-errCh:
		return errors.Join(err, waitBackground())
	case err := <-bgDone:
		logger.Error("background worker exited", zap.Error(err))
		return errors.Join(err, shutdown())
	case sig, ok := <-sigCh:
		if !ok {
			return errors.Join(<-errCh, waitBackground())
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		bgErr := waitBackground()
		return errors.Join(shutdown(), bgErr)
	}
}
