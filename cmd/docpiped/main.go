package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tenderflow/docpipe/internal/alerts"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/health"
	"github.com/tenderflow/docpipe/internal/ocr"
	"github.com/tenderflow/docpipe/internal/pipeline"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB pool + schema
	pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)
	store := repository.NewPGStore(pool, logger)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migrating database", "error", err)
		os.Exit(1)
	}

	// Object store
	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger)
	if err != nil {
		logger.Error("connecting to object store", "error", err)
		os.Exit(1)
	}

	// Queue backend
	backend, err := openBackend(cfg)
	if err != nil {
		logger.Error("opening queue backend", "error", err)
		os.Exit(1)
	}

	// OCR engine
	recognizer := ocr.NewTesseractRecognizer(ocr.Config{
		Tesseract:        cfg.OCR.Tesseract,
		Pdftoppm:         cfg.OCR.Pdftoppm,
		ImageConverter:   cfg.OCR.ImageConverter,
		DefaultLanguages: strings.Split(cfg.OCR.Languages, ","),
		DPI:              cfg.OCR.DPI,
		ArtifactCacheDir: cfg.OCR.ArtifactCacheDir,
	}, logger)
	if err := recognizer.Available(ctx); err != nil {
		logger.Warn("ocr engine not available at startup", "error", err)
	}

	// Metrics + extractor registry
	registry := health.NewRegistry()
	extractors := extractor.NewRegistry(logger,
		extractor.WithInvocationObserver(health.ExtractorObserver(registry)))
	extractors.Register(extractor.NewInvoiceExtractor())
	extractors.Register(extractor.NewEmailExtractor())
	extractors.Register(extractor.NewZakupExtractor())
	extractors.Register(extractor.NewGoszakupExtractor())

	// Alert transports
	dispatcher := alerts.NewDispatcher(logger,
		alerts.NewWebhookNotifier(cfg.Alerts.WebhookTimeout),
		alerts.NewSMTPNotifier(cfg.Alerts),
	)

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Backend:    backend,
		Store:      objects,
		Recognizer: recognizer,
		Registry:   extractors,
		Repo:       store,
		Dispatcher: dispatcher,
		Logger:     logger,
		Observer:   health.WorkerObserver(registry),
	})
	if err != nil {
		logger.Error("building pipeline", "error", err)
		os.Exit(1)
	}

	monitor := health.NewMonitor(backend, pipe.Queues(), map[string]health.Pinger{
		"objectStore": objects.Ping,
		"ocr":         recognizer.Available,
		"datastore":   store.Ping,
	}, registry, cfg.Server.FailedThreshold, logger)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           health.NewRouter(monitor, registry, pipe.Producer(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	pipe.Start()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	pipe.Stop(shutdownCtx)
	logger.Info("stopped")
}

func openBackend(cfg *common.Config) (queue.Backend, error) {
	switch cfg.Queue.Backend {
	case "redis":
		return queue.NewRedisBackend(queue.RedisConfig{
			Addr:   cfg.Queue.RedisAddr,
			DB:     cfg.Queue.RedisDB,
			Prefix: cfg.Queue.RedisPrefix,
		}), nil
	case "memory":
		return queue.NewMemoryBackend(), nil
	default:
		return queue.NewSQLiteBackend(cfg.Queue.SQLitePath)
	}
}
