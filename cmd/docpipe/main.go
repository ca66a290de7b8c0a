// Package main wires together the document pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/api"
	"github.com/docpipe/docpipe/internal/archive"
	"github.com/docpipe/docpipe/internal/clock/system"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/convert"
	"github.com/docpipe/docpipe/internal/download"
	"github.com/docpipe/docpipe/internal/extract"
	collyfetcher "github.com/docpipe/docpipe/internal/fetch/colly"
	"github.com/docpipe/docpipe/internal/hash/sha256"
	"github.com/docpipe/docpipe/internal/id/uuid"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/progress"
	"github.com/docpipe/docpipe/internal/progress/sinks"
	pubsubpublisher "github.com/docpipe/docpipe/internal/publisher/pubsub"
	"github.com/docpipe/docpipe/internal/recovery"
	"github.com/docpipe/docpipe/internal/store/memory"
	"github.com/docpipe/docpipe/internal/store/postgres"
	"github.com/docpipe/docpipe/internal/tasks"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	layout, err := pipeline.NewLayout(cfg.Pipeline.BaseDir)
	if err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	var store pipeline.RecordStore
	switch cfg.Store.Backend {
	case "postgres":
		pgStore, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MaxIdleConns),
		})
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		store = pgStore
	default:
		logger.Warn("using in-memory record store, state will not survive restarts")
		store = memory.NewRecordStore(clock)
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{},
		sinks.NewLogSink(logger.Named("progress")), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	scheduler := tasks.NewScheduler(cfg.Pipeline.QueueDepth, idGen, logger.Named("tasks"))
	go scheduler.Run(ctx)

	var archiveStore pipeline.ArchiveStore
	if cfg.Archive.Enabled {
		gcs, err := archive.NewGCSStore(ctx, cfg.Archive.GCSBucket, cfg.Archive.Prefix, logger.Named("archive"))
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		defer func() {
			if err := gcs.Close(); err != nil {
				logger.Warn("archive close", zap.Error(err))
			}
		}()
		archiveStore = gcs
	}

	var publisher pipeline.Publisher
	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close", zap.Error(err))
			}
		}()
		publisher = pub
	}

	chat, err := extract.NewOllamaClient(extract.OllamaConfig{
		Endpoint: cfg.Extraction.Endpoint,
		Timeout:  time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init chat client: %w", err)
	}

	extractions := extract.NewRunner(extract.RunnerConfig{
		Store: store,
		Engine: extract.NewEngine(extract.EngineConfig{
			Chat:     chat,
			Clock:    clock,
			Logger:   logger.Named("extract"),
			Model:    cfg.Extraction.Model,
			Size:     extract.Size(cfg.Extraction.Size),
			Strategy: extract.Strategy(cfg.Extraction.Strategy),
		}),
		Layout:     layout,
		Clock:      clock,
		Emitter:    hub,
		Logger:     logger.Named("extract"),
		DrainDelay: cfg.DrainDelay(),
		Publisher:  publisher,
		Topic:      cfg.PubSub.TopicName,
	})

	conversions := convert.NewRunner(convert.RunnerConfig{
		Store:      store,
		Converter:  convert.NewFitzConverter(cfg.Pipeline.ImageDPI),
		Layout:     layout,
		Clock:      clock,
		Emitter:    hub,
		Logger:     logger.Named("convert"),
		DrainDelay: cfg.DrainDelay(),
		OnConverted: func(locator string) {
			if _, err := scheduler.Submit("extract "+locator, func(ctx context.Context) error {
				return runnerErr(extractions.Run(ctx, locator))
			}); err != nil {
				logger.Warn("schedule extraction", zap.String("locator", locator), zap.Error(err))
			}
		},
	})

	downloader := download.New(download.Config{
		Store: store,
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Pipeline.UserAgent,
			Timeout:      cfg.FetchBudget(),
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		}),
		Hasher:  hasher,
		Clock:   clock,
		Layout:  layout,
		Emitter: hub,
		Archive: archiveStore,
		Logger:  logger.Named("download"),
		OnDownloaded: func(locator string) {
			if _, err := scheduler.Submit("convert "+locator, func(ctx context.Context) error {
				return runnerErr(conversions.Run(ctx, locator))
			}); err != nil {
				logger.Warn("schedule conversion", zap.String("locator", locator), zap.Error(err))
			}
		},
	})

	// Interrupted work from a previous run is reset and requeued before the
	// listener accepts new submissions.
	swept, err := recovery.Sweep(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	if swept.Conversions > 0 {
		if _, err := scheduler.Submit("drain conversions after restart", func(ctx context.Context) error {
			_, err := conversions.DrainPending(ctx)
			return err
		}); err != nil {
			logger.Warn("schedule conversion drain", zap.Error(err))
		}
	}
	if swept.Extractions > 0 {
		if _, err := scheduler.Submit("drain extractions after restart", func(ctx context.Context) error {
			_, err := extractions.DrainPending(ctx)
			return err
		}); err != nil {
			logger.Warn("schedule extraction drain", zap.Error(err))
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Store:       store,
		Layout:      layout,
		Downloader:  downloader,
		Conversions: conversions,
		Extractions: extractions,
		Scheduler:   scheduler,
		Hasher:      hasher,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logger.Named("api"),
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	scheduler.Wait()
	logger.Info("shutdown complete")
	return nil
}

func runnerErr(result pipeline.StageResult) error {
	if result.Success {
		return nil
	}
	return errors.New(result.Error)
}
