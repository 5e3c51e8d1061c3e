package photo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photomap/internal/apperr"
	"photomap/internal/model"
	photorepo "photomap/internal/repository/photo"
	"photomap/internal/upload"
	"photomap/internal/worker"
)

type fakePreparer struct {
	payload model.IngestPayload
	err     error
}

func (f fakePreparer) Prepare(upload.Request) (model.IngestPayload, error) {
	return f.payload, f.err
}

type fakeQueue struct {
	enqueued []model.IngestPayload
}

func (f *fakeQueue) Enqueue(p model.IngestPayload) (string, error) {
	f.enqueued = append(f.enqueued, p)
	return "job-1", nil
}

func (f *fakeQueue) Stats() worker.Stats {
	return worker.Stats{Completed: len(f.enqueued)}
}

type fakeBlobs struct {
	deleted []string
	usage   model.StorageUsage
}

func (f *fakeBlobs) DeletePhotoAndThumbnails(_ context.Context, blobPath string) error {
	f.deleted = append(f.deleted, blobPath)
	return nil
}

func (f *fakeBlobs) GenerateDownloadURL(_ context.Context, blobPath string, _ time.Duration) (string, error) {
	return "https://signed/" + blobPath, nil
}

func (f *fakeBlobs) GetStorageUsage(context.Context) (model.StorageUsage, error) {
	return f.usage, nil
}

func ptr(v float64) *float64 { return &v }

func seedPhoto(t *testing.T, repo *photorepo.MemoryRepository, id, hash string) *model.Photo {
	t.Helper()
	p := &model.Photo{
		ID:               id,
		HashMD5:          hash,
		BlobPath:         "uploads/2024/06/" + id + ".jpg",
		Latitude:         10,
		Longitude:        20,
		CoordinateSource: model.CoordinateSourceEXIF,
		Timestamp:        time.Now().UTC(),
	}
	require.NoError(t, repo.CreatePhoto(context.Background(), p))
	return p
}

func TestUploadQueuesNewPhoto(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	queue := &fakeQueue{}
	svc := NewService(fakePreparer{payload: model.IngestPayload{HashMD5: "h1"}}, queue, repo, &fakeBlobs{})

	resp, err := svc.Upload(context.Background(), upload.Request{})
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "job-1", resp.JobID)
	assert.False(t, resp.Duplicate)
	assert.Len(t, queue.enqueued, 1)
}

func TestUploadDuplicateShortCircuits(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	existing := seedPhoto(t, repo, "p1", "h1")
	queue := &fakeQueue{}
	svc := NewService(fakePreparer{payload: model.IngestPayload{HashMD5: "h1"}}, queue, repo, &fakeBlobs{})

	resp, err := svc.Upload(context.Background(), upload.Request{})
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, "duplicate", resp.Status)
	require.NotNil(t, resp.Photo)
	assert.Equal(t, existing.ID, resp.Photo.ID)
	assert.Empty(t, queue.enqueued, "duplicates are never re-queued")
}

func TestUploadDuplicateMergesMetadata(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	existing := seedPhoto(t, repo, "p1", "h1")
	existing.Tags = []string{"vacation"}
	require.NoError(t, repo.UpdatePhoto(context.Background(), existing))

	payload := model.IngestPayload{
		HashMD5:     "h1",
		Tags:        []string{"vacation", "beach"},
		Description: "sunset at the pier",
	}
	svc := NewService(fakePreparer{payload: payload}, &fakeQueue{}, repo, &fakeBlobs{})

	resp, err := svc.Upload(context.Background(), upload.Request{})
	require.NoError(t, err)
	require.NotNil(t, resp.Photo)
	assert.ElementsMatch(t, []string{"vacation", "beach"}, resp.Photo.Tags)
	assert.Equal(t, "sunset at the pier", resp.Photo.Description)

	stored, err := repo.GetPhoto(context.Background(), "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vacation", "beach"}, stored.Tags)
	assert.Equal(t, "sunset at the pier", stored.Description)
}

func TestUploadRejectedByPreparer(t *testing.T) {
	svc := NewService(fakePreparer{err: apperr.Invalid("empty file")}, &fakeQueue{}, photorepo.NewMemoryRepository(), &fakeBlobs{})

	_, err := svc.Upload(context.Background(), upload.Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestDeletePhotoRemovesBlobs(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	p := seedPhoto(t, repo, "p1", "h1")
	blobs := &fakeBlobs{}
	svc := NewService(fakePreparer{}, &fakeQueue{}, repo, blobs)

	require.NoError(t, svc.DeletePhoto(context.Background(), p.ID))
	assert.Equal(t, []string{p.BlobPath}, blobs.deleted)

	_, err := svc.GetPhoto(context.Background(), p.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateCoordinates(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	p := seedPhoto(t, repo, "p1", "h1")
	svc := NewService(fakePreparer{}, &fakeQueue{}, repo, &fakeBlobs{})

	updated, err := svc.UpdateCoordinates(context.Background(), p.ID, 48.85, 2.29, ptr(35.0))
	require.NoError(t, err)
	assert.Equal(t, 48.85, updated.Latitude)
	assert.Equal(t, model.CoordinateSourceManual, updated.CoordinateSource)

	stored, err := repo.GetPhoto(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CoordinateSourceManual, stored.CoordinateSource)

	_, err = svc.UpdateCoordinates(context.Background(), p.ID, 95, 0, nil)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = svc.UpdateCoordinates(context.Background(), "nope", 1, 2, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDownloadURL(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	p := seedPhoto(t, repo, "p1", "h1")
	svc := NewService(fakePreparer{}, &fakeQueue{}, repo, &fakeBlobs{})

	url, err := svc.DownloadURL(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://signed/"+p.BlobPath, url)

	_, err = svc.DownloadURL(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListPhotosWithTotal(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	seedPhoto(t, repo, "p1", "h1")
	seedPhoto(t, repo, "p2", "h2")
	svc := NewService(fakePreparer{}, &fakeQueue{}, repo, &fakeBlobs{})

	photos, total, err := svc.ListPhotos(context.Background(), model.PhotoFilters{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, photos, 1)
	assert.Equal(t, int64(2), total)
}

func TestStats(t *testing.T) {
	repo := photorepo.NewMemoryRepository()
	seedPhoto(t, repo, "p1", "h1")
	blobs := &fakeBlobs{usage: model.StorageUsage{TotalBytes: 1024, PhotoCount: 1, ThumbnailCount: 3}}
	svc := NewService(fakePreparer{}, &fakeQueue{}, repo, blobs)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPhotos)
	assert.Equal(t, int64(1024), stats.Storage.TotalBytes)
}
