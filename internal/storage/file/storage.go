// Package file implements blob storage on the local filesystem with the
// same layout and behavior as the MinIO backend. It backs local development
// and tests that should not need an object store.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/wb-go/wbf/zlog"

	"photomap/internal/model"
	"photomap/internal/storage"
	"photomap/internal/thumbnail"
)

// Storage keeps photo blobs under baseDir and serves them via baseURL.
type Storage struct {
	baseDir string
	baseURL string
	thumbs  *thumbnail.Generator
}

func NewStorage(baseDir, baseURL string) *Storage {
	return &Storage{
		baseDir: baseDir,
		baseURL: baseURL,
		thumbs:  thumbnail.NewGenerator(),
	}
}

// UploadWithThumbnails writes the photo and its thumbnail set under the
// monthly layout keyed by takenAt. Thumbnail failures are logged and
// skipped.
func (s *Storage) UploadWithThumbnails(_ context.Context, filename, _ string, takenAt time.Time, content []byte) (model.UploadResult, error) {
	blobPath := storage.BlobPath(takenAt.UTC(), filename)

	if err := s.write(blobPath, content); err != nil {
		return model.UploadResult{}, fmt.Errorf("store photo %s: %w", blobPath, err)
	}

	thumbURLs := make(map[string]string)
	for size, tb := range s.thumbs.Generate(content) {
		thumbPath := storage.ThumbnailPath(blobPath, size)
		if err := s.write(thumbPath, tb); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", thumbPath).Msg("thumbnail write failed")
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

// DeletePhotoAndThumbnails removes the photo file and every thumbnail size.
// A photo that is already gone counts as removed, matching the object
// store's idempotent delete; missing thumbnails are not an error either.
func (s *Storage) DeletePhotoAndThumbnails(_ context.Context, blobPath string) error {
	if err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(blobPath))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove photo %s: %w", blobPath, err)
	}
	for _, size := range []string{model.ThumbSizeSmall, model.ThumbSizeMedium, model.ThumbSizeLarge} {
		thumbPath := filepath.Join(s.baseDir, filepath.FromSlash(storage.ThumbnailPath(blobPath, size)))
		if err := os.Remove(thumbPath); err != nil && !os.IsNotExist(err) {
			zlog.Logger.Warn().Err(err).Str("path", thumbPath).Msg("thumbnail removal failed")
		}
	}
	return nil
}

// GenerateDownloadURL returns the public link for a blob. Local files are
// served statically, so there is nothing to presign.
func (s *Storage) GenerateDownloadURL(_ context.Context, blobPath string, _ time.Duration) (string, error) {
	return s.objectURL(blobPath), nil
}

// ListPhotosInFolder lists photo paths under the prefix, excluding
// thumbnails.
func (s *Storage) ListPhotosInFolder(_ context.Context, prefix string) ([]string, error) {
	var paths []string
	root := filepath.Join(s.baseDir, filepath.FromSlash(prefix))
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); !storage.IsThumbnail(key) {
			paths = append(paths, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return paths, nil
}

// GetStorageUsage walks the uploads tree and totals counts and sizes.
func (s *Storage) GetStorageUsage(_ context.Context) (model.StorageUsage, error) {
	var usage model.StorageUsage
	root := filepath.Join(s.baseDir, "uploads")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		usage.TotalBytes += info.Size()
		if storage.IsThumbnail(filepath.ToSlash(path)) {
			usage.ThumbnailCount++
		} else {
			usage.PhotoCount++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return model.StorageUsage{}, fmt.Errorf("walk uploads: %w", err)
	}
	return usage, nil
}

func (s *Storage) write(blobPath string, content []byte) error {
	path := filepath.Join(s.baseDir, filepath.FromSlash(blobPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func (s *Storage) objectURL(blobPath string) string {
	return s.baseURL + "/" + blobPath
}
