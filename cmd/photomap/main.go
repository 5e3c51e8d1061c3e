package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	exporthandler "photomap/internal/api/handlers/export"
	photohandler "photomap/internal/api/handlers/photo"
	"photomap/internal/api/router"
	"photomap/internal/api/server"
	"photomap/internal/config"
	"photomap/internal/convert"
	"photomap/internal/exif"
	"photomap/internal/export"
	"photomap/internal/kml"
	"photomap/internal/model"
	photorepo "photomap/internal/repository/photo"
	photosvc "photomap/internal/service/photo"
	filestorage "photomap/internal/storage/file"
	miniostorage "photomap/internal/storage/minio"
	"photomap/internal/upload"
	"photomap/internal/worker"
)

// blobStorage is the backend surface shared by the MinIO and local modes.
type blobStorage interface {
	UploadWithThumbnails(ctx context.Context, filename, mimeType string, takenAt time.Time, content []byte) (model.UploadResult, error)
	DeletePhotoAndThumbnails(ctx context.Context, blobPath string) error
	GenerateDownloadURL(ctx context.Context, blobPath string, expiry time.Duration) (string, error)
	GetStorageUsage(ctx context.Context) (model.StorageUsage, error)
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Connect to MongoDB.
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Database.URI))
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to ping mongodb")
	}

	repo := photorepo.NewRepository(client.Database(cfg.Database.Name))
	if err := repo.EnsureIndexes(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create indexes")
	}

	// Retry strategy for blob storage calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Blob storage: MinIO by default, local filesystem for development.
	var storage blobStorage
	switch cfg.Storage.Mode {
	case "local":
		storage = filestorage.NewStorage(cfg.Storage.LocalDir, cfg.Storage.PublicURL)
	default:
		storage, err = miniostorage.NewStorage(ctx,
			cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
			cfg.Storage.Bucket, cfg.Storage.UseSSL, strategy)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
	}

	// Ingestion pipeline: upload preparation plus the background worker.
	preparer := upload.NewService(exif.NewExtractor())
	pipeline := worker.New(worker.Config{
		QueueSize:     cfg.Pipeline.QueueSize,
		MaxRetries:    cfg.Pipeline.MaxRetries,
		RetryDelay:    cfg.Pipeline.RetryDelay,
		UploadTimeout: cfg.Pipeline.UploadTimeout,
	}, storage, repo, convert.NewNormalizer())
	pipeline.Start(ctx)

	// Export subsystem: worker pool plus expiry sweep.
	exports := export.NewManager(export.Config{
		Workers:         cfg.Export.Workers,
		QueueSize:       cfg.Export.QueueSize,
		Dir:             cfg.Export.Dir,
		CleanupInterval: cfg.Export.CleanupInterval,
	}, repo, kml.NewArchiver())
	exports.Start(ctx)

	service := photosvc.NewService(preparer, pipeline, repo, storage)

	// HTTP handlers and server.
	photoHandler := photohandler.NewHandler(service)
	exportHandler := exporthandler.NewHandler(exports)

	r := router.Setup(photoHandler, exportHandler, repo.HealthCheck)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("server started")

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	// Drain in-flight ingestion and export work.
	pipeline.Stop()
	exports.Stop()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if err := client.Disconnect(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to disconnect mongodb")
	}
}
