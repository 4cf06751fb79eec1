package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/constrain-resolution/internal/api"
	"github.com/timkrebs/constrain-resolution/internal/config"
	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/database"
	"github.com/timkrebs/constrain-resolution/internal/logging"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/processor"
	"github.com/timkrebs/constrain-resolution/internal/queue"
	"github.com/timkrebs/constrain-resolution/internal/storage"
)

const (
	metricsNamespace = "constrain_api"
	// streamMaxLen caps the job stream; XADD trims approximately beyond it
	streamMaxLen = 100000
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging())
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	defaults, err := cfg.ConstraintDefaults()
	if err != nil {
		logger.Error("invalid constraint defaults", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(ctx); err != nil {
		cancel()
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to database")

	jobRepo := database.NewJobRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to redis")

	producer := queue.NewProducer(redisClient, cfg.QueueStreamName, streamMaxLen)

	// Connect to MinIO
	storageClient, err := storage.New(storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure bucket", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(reg, metricsNamespace)
	jobMetrics := metrics.NewJobMetrics(reg, metricsNamespace)
	constrainMetrics := metrics.NewConstrainMetrics(reg, metricsNamespace)
	storageClient.SetMetrics(metrics.NewStorageMetrics(reg, metricsNamespace))
	producer.SetMetrics(metrics.NewQueueMetrics(reg, metricsNamespace))
	db.SetMetrics(metrics.NewDatabaseMetrics(reg, metricsNamespace))

	node := constrain.New(logger)
	imageProcessor := processor.New(node, cfg.MaxImagePixels)
	imageProcessor.SetMetrics(constrainMetrics)

	handlers := api.NewHandlers(jobRepo, storageClient, producer, db, imageProcessor, node, api.Options{
		Defaults:     defaults,
		GroupName:    cfg.QueueConsumerGroup,
		JobRetention: cfg.JobRetention,
	}, logger)
	handlers.SetMetrics(jobMetrics)

	router := api.NewRouter(handlers, httpMetrics, reg, cfg.MaxUploadSize, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting API server",
			"port", cfg.HTTPPort,
			"constraint_mode", defaults.Mode,
			"min_res", defaults.MinRes,
			"max_res", defaults.MaxRes,
			"multiple_of", defaults.MultipleOf,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
