// Package main is the entry point for the proctoring engine service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"proctor-engine/internal/api"
	"proctor-engine/internal/api/auth"
	"proctor-engine/internal/config"
	"proctor-engine/internal/consumer"
	"proctor-engine/internal/event"
	"proctor-engine/internal/kafka"
	"proctor-engine/internal/logging"
	"proctor-engine/internal/middleware"
	"proctor-engine/internal/monitor"
	"proctor-engine/internal/queue"
	"proctor-engine/internal/session"
	"proctor-engine/internal/storage"
	s3store "proctor-engine/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"session_backend", cfg.Sessions.Backend,
		"auth_enabled", cfg.Auth.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
		"alerts_enabled", cfg.Kafka.AlertsEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session store
	var store session.Store
	switch cfg.Sessions.Backend {
	case "redis":
		redisStore, err := session.NewRedisStore(cfg.Sessions.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
	default:
		store = session.NewMemoryStore()
	}

	manager := monitor.NewManager(store, cfg.Policy, logger)

	// Archive pipeline
	var (
		archiveQueue  *queue.RingBuffer
		chClient      *storage.ClickHouseClient
		batchWriter   *storage.BatchWriter
		queueConsumer *consumer.Consumer
	)

	if cfg.Archive.Enabled {
		slog.Info("initializing archive",
			"hosts", cfg.Archive.ClickHouse.Hosts,
			"database", cfg.Archive.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(cfg.Archive.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		retention := storage.NewRetentionManager(chClient, cfg.Archive.Retention)
		if err := retention.ApplyTTLs(ctx); err != nil {
			slog.Error("failed to apply retention policies", "error", err)
		}

		archiveQueue = queue.NewRingBuffer(cfg.Queue.Size)
		batchWriter = storage.NewBatchWriter(chClient, cfg.Archive.BatchWriter)

		queueConsumer = consumer.New(archiveQueue, batchWriter, cfg.Consumer)
		queueConsumer.Start(ctx)

		manager.WithArchiver(archiveQueue)
		manager.WithSessionArchiver(storage.NewSessionArchiver(chClient))
	}

	// Escalation alerts
	var alertProducer *kafka.AlertProducer
	if cfg.Kafka.AlertsEnabled {
		alertProducer, err = kafka.NewAlertProducer(&cfg.Kafka.Client, logger)
		if err != nil {
			slog.Error("failed to create alert producer", "error", err)
			os.Exit(1)
		}
		manager.WithAlertPublisher(alertProducer)
	}

	// Detector ingestion from the event bus
	var detectorConsumer *kafka.DetectorConsumer
	if cfg.Kafka.DetectorsEnabled {
		detectorConsumer, err = kafka.NewDetectorConsumer(&cfg.Kafka.Client, manager, logger)
		if err != nil {
			slog.Error("failed to create detector consumer", "error", err)
			os.Exit(1)
		}
		if err := detectorConsumer.StartAsync(); err != nil {
			slog.Error("failed to start detector consumer", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	validator := event.NewValidatorWithConfig(cfg.ValidatorConfig())
	handler := api.NewHandler(manager, validator)

	if archiveQueue != nil {
		handler.WithQueue(archiveQueue)
	}

	if cfg.Evidence.Enabled {
		evidenceStore, err := s3store.NewEvidenceStore(ctx, &cfg.Evidence.S3, logger)
		if err != nil {
			slog.Error("failed to initialize evidence store", "error", err)
			os.Exit(1)
		}
		handler.WithEvidenceStore(evidenceStore)
	}

	var root http.Handler = handler.Routes()
	if cfg.Auth.Enabled {
		verifier := auth.NewKeyVerifier(cfg.Auth.APIKeyHeader, cfg.Auth.APIKeyHashes, logger)
		root = verifier.Middleware(root)
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, logger)
	root = rateLimiter.Middleware(root)
	root = middleware.CORS(cfg.CORS)(root)
	root = middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig())(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting proctoring engine", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	rateLimiter.Stop()

	// Let in-flight session mutations finish before tearing down sinks.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("manager shutdown error", "error", err)
	}

	if detectorConsumer != nil {
		if err := detectorConsumer.Stop(); err != nil {
			slog.Error("detector consumer stop error", "error", err)
		}
	}

	cancel()

	if queueConsumer != nil {
		queueConsumer.Stop()
	}

	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}

	if alertProducer != nil {
		if err := alertProducer.Close(); err != nil {
			slog.Error("alert producer close error", "error", err)
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	if archiveQueue != nil {
		archiveQueue.Close()

		queueMetrics := archiveQueue.Metrics()
		slog.Info("archive queue drained",
			"pushed", queueMetrics.Pushed,
			"popped", queueMetrics.Popped,
			"dropped", queueMetrics.Dropped,
		)
	}

	if batchWriter != nil {
		written, failed, batches := batchWriter.Stats()
		slog.Info("archive writer totals",
			"violations_written", written,
			"violations_failed", failed,
			"batches", batches,
		)
	}

	if err := store.Close(); err != nil {
		slog.Error("session store close error", "error", err)
	}

	slog.Info("shutdown complete")
}

// setupLogging configures the process-wide logger.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logging.RedactAttr,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
