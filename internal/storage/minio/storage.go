// Package minio implements blob storage for photos and their thumbnails on
// a MinIO (or any S3 compatible) backend.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/model"
	"photomap/internal/storage"
	"photomap/internal/thumbnail"
)

// Storage uploads photos and derived thumbnails to one bucket. Blob
// operations are retried with the shared backoff strategy.
type Storage struct {
	client   *minio.Client
	bucket   string
	thumbs   *thumbnail.Generator
	strategy retry.Strategy
}

func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, strategy retry.Strategy) (*Storage, error) {
	if strategy.Attempts <= 0 {
		strategy = retry.Strategy{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: 2}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	s := &Storage{
		client:   client,
		bucket:   bucket,
		thumbs:   thumbnail.NewGenerator(),
		strategy: strategy,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	zlog.Logger.Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

// UploadWithThumbnails stores the photo under the monthly layout keyed by
// takenAt and renders its thumbnail set next to it. Thumbnail failures are
// logged and skipped; the photo upload itself must succeed.
func (s *Storage) UploadWithThumbnails(ctx context.Context, filename, mimeType string, takenAt time.Time, content []byte) (model.UploadResult, error) {
	blobPath := storage.BlobPath(takenAt.UTC(), filename)

	if err := s.put(ctx, blobPath, content, mimeType); err != nil {
		return model.UploadResult{}, fmt.Errorf("upload photo %s: %w", blobPath, err)
	}

	thumbURLs := make(map[string]string)
	for size, tb := range s.thumbs.Generate(content) {
		thumbPath := storage.ThumbnailPath(blobPath, size)
		if err := s.put(ctx, thumbPath, tb, "image/jpeg"); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", thumbPath).Msg("thumbnail upload failed")
			continue
		}
		thumbURLs[size] = s.objectURL(thumbPath)
	}

	return model.UploadResult{
		URL:           s.objectURL(blobPath),
		BlobPath:      blobPath,
		ThumbnailURLs: thumbURLs,
	}, nil
}

// DeletePhotoAndThumbnails removes the photo blob and every thumbnail size.
// Missing thumbnails are not an error.
func (s *Storage) DeletePhotoAndThumbnails(ctx context.Context, blobPath string) error {
	err := retry.Do(func() error {
		return s.client.RemoveObject(ctx, s.bucket, blobPath, minio.RemoveObjectOptions{})
	}, s.strategy)
	if err != nil {
		return fmt.Errorf("remove photo %s: %w", blobPath, err)
	}

	for _, size := range []string{model.ThumbSizeSmall, model.ThumbSizeMedium, model.ThumbSizeLarge} {
		thumbPath := storage.ThumbnailPath(blobPath, size)
		if err := s.client.RemoveObject(ctx, s.bucket, thumbPath, minio.RemoveObjectOptions{}); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", thumbPath).Msg("thumbnail removal failed")
		}
	}
	return nil
}

// GenerateDownloadURL returns a presigned GET link for the blob.
func (s *Storage) GenerateDownloadURL(ctx context.Context, blobPath string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, blobPath, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", blobPath, err)
	}
	return u.String(), nil
}

// ListPhotosInFolder lists photo object paths under the prefix, excluding
// thumbnails.
func (s *Storage) ListPhotosInFolder(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if storage.IsThumbnail(obj.Key) {
			continue
		}
		paths = append(paths, obj.Key)
	}
	return paths, nil
}

// GetStorageUsage walks the uploads tree and totals object counts and
// sizes.
func (s *Storage) GetStorageUsage(ctx context.Context) (model.StorageUsage, error) {
	var usage model.StorageUsage
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: "uploads/", Recursive: true}) {
		if obj.Err != nil {
			return model.StorageUsage{}, fmt.Errorf("list uploads: %w", obj.Err)
		}
		usage.TotalBytes += obj.Size
		if storage.IsThumbnail(obj.Key) {
			usage.ThumbnailCount++
		} else {
			usage.PhotoCount++
		}
	}
	return usage, nil
}

func (s *Storage) put(ctx context.Context, objectPath string, content []byte, contentType string) error {
	return retry.Do(func() error {
		_, err := s.client.PutObject(ctx, s.bucket, objectPath,
			bytes.NewReader(content), int64(len(content)),
			minio.PutObjectOptions{ContentType: contentType})
		return err
	}, s.strategy)
}

func (s *Storage) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, objectPath)
}
