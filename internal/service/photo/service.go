// Package photo provides the business logic tying uploads, the ingestion
// pipeline, blob storage and the photo repository together.
package photo

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"

	"photomap/internal/geo"
	"photomap/internal/model"
	"photomap/internal/upload"
	"photomap/internal/worker"
)

type uploadPreparer interface {
	Prepare(req upload.Request) (model.IngestPayload, error)
}

type ingestQueue interface {
	Enqueue(payload model.IngestPayload) (string, error)
	Stats() worker.Stats
}

type photoRepo interface {
	GetPhoto(ctx context.Context, id string) (*model.Photo, error)
	GetPhotos(ctx context.Context, filters model.PhotoFilters) ([]model.Photo, error)
	UpdatePhoto(ctx context.Context, photo *model.Photo) error
	DeletePhoto(ctx context.Context, id string) error
	GetPhotosByHash(ctx context.Context, hash string) ([]model.Photo, error)
	CountPhotos(ctx context.Context, filters model.PhotoFilters) (int64, error)
}

type blobStorage interface {
	DeletePhotoAndThumbnails(ctx context.Context, blobPath string) error
	GenerateDownloadURL(ctx context.Context, blobPath string, expiry time.Duration) (string, error)
	GetStorageUsage(ctx context.Context) (model.StorageUsage, error)
}

// downloadLinkTTL is how long a generated photo download link stays valid.
const downloadLinkTTL = time.Hour

// Service exposes the photo operations consumed by the HTTP handlers.
type Service struct {
	preparer uploadPreparer
	queue    ingestQueue
	repo     photoRepo
	storage  blobStorage
}

func NewService(preparer uploadPreparer, queue ingestQueue, repo photoRepo, storage blobStorage) *Service {
	return &Service{preparer: preparer, queue: queue, repo: repo, storage: storage}
}

// UploadResponse reports what happened to a submission: either a queued
// ingestion job or the already stored duplicate.
type UploadResponse struct {
	JobID     string       `json:"job_id,omitempty"`
	Status    string       `json:"status"`
	Duplicate bool         `json:"duplicate"`
	Photo     *model.Photo `json:"photo,omitempty"`
}

// ProcessingStats aggregates pipeline and storage numbers.
type ProcessingStats struct {
	Pipeline    worker.Stats       `json:"pipeline"`
	Storage     model.StorageUsage `json:"storage"`
	TotalPhotos int64              `json:"total_photos"`
}

// Upload validates and queues a submission. A file whose content hash is
// already stored short-circuits to the existing record without queueing.
func (s *Service) Upload(ctx context.Context, req upload.Request) (UploadResponse, error) {
	payload, err := s.preparer.Prepare(req)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("prepare upload: %w", err)
	}

	existing, err := s.repo.GetPhotosByHash(ctx, payload.HashMD5)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("duplicate check: %w", err)
	}
	if len(existing) > 0 {
		photo := existing[0]
		if merged := mergeSubmission(&photo, payload); merged {
			if err := s.repo.UpdatePhoto(ctx, &photo); err != nil {
				return UploadResponse{}, fmt.Errorf("refresh duplicate: %w", err)
			}
		}
		zlog.Logger.Info().
			Str("hash", payload.HashMD5).
			Str("photo_id", photo.ID).
			Msg("duplicate upload, returning existing photo")
		return UploadResponse{Status: "duplicate", Duplicate: true, Photo: &photo}, nil
	}

	jobID, err := s.queue.Enqueue(payload)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("enqueue upload: %w", err)
	}
	return UploadResponse{JobID: jobID, Status: "queued"}, nil
}

// mergeSubmission folds the metadata of a duplicate submission into the
// stored record. New tags are appended, a description only fills an empty
// one. Reports whether the record changed.
func mergeSubmission(photo *model.Photo, payload model.IngestPayload) bool {
	changed := false
	for _, tag := range payload.Tags {
		if !containsTag(photo.Tags, tag) {
			photo.Tags = append(photo.Tags, tag)
			changed = true
		}
	}
	if photo.Description == "" && payload.Description != "" {
		photo.Description = payload.Description
		changed = true
	}
	if changed {
		photo.UpdatedAt = time.Now().UTC()
	}
	return changed
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *Service) GetPhoto(ctx context.Context, id string) (*model.Photo, error) {
	return s.repo.GetPhoto(ctx, id)
}

// ListPhotos returns the filtered page plus the total match count.
func (s *Service) ListPhotos(ctx context.Context, filters model.PhotoFilters) ([]model.Photo, int64, error) {
	photos, err := s.repo.GetPhotos(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("list photos: %w", err)
	}
	total, err := s.repo.CountPhotos(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("count photos: %w", err)
	}
	return photos, total, nil
}

// DeletePhoto removes the record and its blobs. A blob that is already gone
// does not block record removal.
func (s *Service) DeletePhoto(ctx context.Context, id string) error {
	photo, err := s.repo.GetPhoto(ctx, id)
	if err != nil {
		return err
	}

	if photo.BlobPath != "" {
		if err := s.storage.DeletePhotoAndThumbnails(ctx, photo.BlobPath); err != nil {
			zlog.Logger.Warn().Err(err).Str("photo_id", id).Msg("blob removal failed, removing record anyway")
		}
	}
	return s.repo.DeletePhoto(ctx, id)
}

// DownloadURL returns a time-limited link to the original photo blob.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	photo, err := s.repo.GetPhoto(ctx, id)
	if err != nil {
		return "", err
	}
	if photo.BlobPath == "" {
		return photo.BlobURL, nil
	}
	url, err := s.storage.GenerateDownloadURL(ctx, photo.BlobPath, downloadLinkTTL)
	if err != nil {
		return "", fmt.Errorf("generate download url: %w", err)
	}
	return url, nil
}

// UpdateCoordinates reassigns a photo's location by hand. The coordinate
// source flips to manual so later exports can tell.
func (s *Service) UpdateCoordinates(ctx context.Context, id string, lat, lng float64, altitude *float64) (*model.Photo, error) {
	if err := geo.ValidateCoordinates(lat, lng, altitude); err != nil {
		return nil, err
	}

	photo, err := s.repo.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}

	photo.Latitude = lat
	photo.Longitude = lng
	photo.Altitude = altitude
	photo.CoordinateSource = model.CoordinateSourceManual

	if err := s.repo.UpdatePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("update coordinates: %w", err)
	}
	return photo, nil
}

// Stats reports pipeline counters, storage usage and the photo total.
func (s *Service) Stats(ctx context.Context) (ProcessingStats, error) {
	usage, err := s.storage.GetStorageUsage(ctx)
	if err != nil {
		return ProcessingStats{}, fmt.Errorf("storage usage: %w", err)
	}
	total, err := s.repo.CountPhotos(ctx, model.PhotoFilters{})
	if err != nil {
		return ProcessingStats{}, fmt.Errorf("count photos: %w", err)
	}
	return ProcessingStats{
		Pipeline:    s.queue.Stats(),
		Storage:     usage,
		TotalPhotos: total,
	}, nil
}
