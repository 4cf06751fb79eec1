package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/constrain-resolution/internal/cleanup"
	"github.com/timkrebs/constrain-resolution/internal/config"
	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/database"
	"github.com/timkrebs/constrain-resolution/internal/logging"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/processor"
	"github.com/timkrebs/constrain-resolution/internal/queue"
	"github.com/timkrebs/constrain-resolution/internal/storage"
)

const metricsNamespace = "constrain_worker"

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

	workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	logger = logger.With("worker_id", workerID)
	slog.SetDefault(logger)

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	jobRepo := database.NewJobRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to redis")

	// Each goroutine reads as its own consumer so a message left pending for
	// retry is only ever redelivered to the goroutine that holds it.
	consumers := make([]*queue.Consumer, cfg.WorkerConcurrency)
	for i := range consumers {
		consumers[i] = queue.NewConsumer(redisClient, queue.ConsumerConfig{
			StreamName:    cfg.QueueStreamName,
			ConsumerGroup: cfg.QueueConsumerGroup,
			ConsumerName:  fmt.Sprintf("%s-%d", workerID, i),
			PollTimeout:   cfg.WorkerPollTimeout,
			ClaimIdle:     5 * time.Minute,
		}, logger)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := consumers[0].EnsureGroup(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}
	cancel()

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
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	jobMetrics := metrics.NewJobMetrics(reg, metricsNamespace)
	constrainMetrics := metrics.NewConstrainMetrics(reg, metricsNamespace)
	queueMetrics := metrics.NewQueueMetrics(reg, metricsNamespace)
	for _, c := range consumers {
		c.SetMetrics(queueMetrics)
	}
	storageClient.SetMetrics(metrics.NewStorageMetrics(reg, metricsNamespace))
	db.SetMetrics(metrics.NewDatabaseMetrics(reg, metricsNamespace))

	imageProcessor := processor.New(constrain.New(logger), cfg.MaxImagePixels)
	imageProcessor.SetMetrics(constrainMetrics)

	worker := Worker{
		id:          workerID,
		jobs:        jobRepo,
		objects:     storageClient,
		processor:   imageProcessor,
		metrics:     jobMetrics,
		logger:      logger,
		retention:   cfg.JobRetention,
		maxAttempts: cfg.WorkerMaxAttempts,
		retryDelay:  cfg.WorkerRetryDelay,
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	healthServer := startHealthServer(cfg.MetricsPort, reg, logger)

	sweeper := cleanup.NewWorker(jobRepo, storageClient, cleanup.Config{
		Interval:  cfg.CleanupInterval,
		BatchSize: cfg.CleanupBatchSize,
	}, logger.With("component", "cleanup"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		w := worker
		w.consumer = consumers[i]
		go func(workerNum int) {
			defer wg.Done()
			w.run(ctx, workerNum)
		}(i)
	}

	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker...")
	cancel()

	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop health server", "error", err)
	}
	logger.Info("worker stopped")
}

func startHealthServer(port int, gatherer prometheus.Gatherer, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting health server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()
	return server
}
