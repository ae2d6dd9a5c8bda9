package main

import (
	"context"
	"errors"
	"file-relay/domain"
	"file-relay/infrastructure/broker"
	grpcserver "file-relay/infrastructure/grpc/server"
	httpserver "file-relay/infrastructure/http/server"
	"file-relay/infrastructure/storage"
	"file-relay/internal"
	"file-relay/observability"
	"file-relay/runtime"
	"file-relay/runtime/workers"
	"file-relay/services"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and owns the shutdown order, so deferred cleanups
// (broker, Badger) always execute before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Catalog (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		url := fmt.Sprintf("http://localhost:%d%s?prefix=file:", config.DebugPort, endpoint)
		logger.Info("Debug Badger inspector available", "url", url)
		database.StartDebugServer(db, config.DebugPort, endpoint, storage.CatalogMapper)
	}

	metrics, err := observability.NewTransferMetrics("", prometheus.DefaultRegisterer)
	if err != nil {
		return exitRuntime, err
	}

	// 3. Broker
	rabbit := broker.NewRabbitMQ(logger, config.BrokerURL, config.Queues())
	defer func() {
		logger.Info("Closing broker connection...")
		if err := rabbit.Close(); err != nil {
			logger.Warn("Broker close failed", "error", err)
		}
	}()
	if config.BrokerEagerConnect {
		// Not fatal: the first dispatch attempt reconnects through the retrier.
		if err := rabbit.Connect(ctx); err != nil {
			logger.Warn("Broker not reachable at startup", "error", err)
		}
	}

	// 4. Pipeline
	store := storage.NewOSDiskStore(config.StorageRoot, config.StorageDir, logger)
	catalog := storage.NewFileRepository(db, logger)
	retrier := runtime.NewRetrier(logger, config.MaxAttempts, config.BackoffUnit, runtime.WithRetryMetrics(metrics))
	streamer := workers.NewBrokerStreamer(logger, rabbit, store, metrics,
		config.UploadQueue, config.DownloadQueue, config.ChunkSize)
	queue := runtime.NewDispatchQueue(logger, streamer, retrier, metrics, config.MaxConcurrentProcessing)
	transferService := services.NewTransferService(logger, store, catalog, queue, retrier, metrics,
		config.MaxUploadSize(), config.MaxParallelUploads)

	// 5. Supervised background workers
	healthServer := grpcserver.NewHealthServer(logger)
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewBrokerHealthWorker(logger, rabbit, healthServer.Health(), config.HealthInterval),
		workers.NewStatsReporterWorker(logger, queue, config.StatsInterval),
	)
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	errChan := make(chan error, 2)

	// 6. gRPC health
	healthAddress := fmt.Sprintf("%s:%d", config.Host, config.HealthPort)
	healthListener, err := net.Listen("tcp", healthAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", healthAddress, err)
	}
	go func() {
		if err := healthServer.Serve(healthListener); err != nil {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()

	// 7. HTTP
	if !logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	fileServer := httpserver.NewFileServer(logger, transferService, rabbit, promhttp.Handler(), config.MaxUploadSize())
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           fileServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC(),
			"upload_queue", config.UploadQueue, "download_queue", config.DownloadQueue,
			"max_concurrent_processing", config.MaxConcurrentProcessing,
			"chunk_size", config.ChunkSize, "max_upload", config.MaxUploadSize()/domain.MB)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 9. Graceful shutdown: stop accepting uploads, then drain the dispatch queue.
	logger.Info("Shutting down gracefully...", "timeout", config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("Dispatch queue did not drain", "error", err)
	}
	healthServer.Stop()
	sup.Stop()
	<-supDone

	logger.Info("Program stopped cleanly")
	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
