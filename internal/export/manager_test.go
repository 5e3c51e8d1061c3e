package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photomap/internal/apperr"
	"photomap/internal/model"
)

type fakePhotos struct {
	byID map[string]model.Photo
}

func (f *fakePhotos) GetPhoto(_ context.Context, id string) (*model.Photo, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("photo %s not found", id)
	}
	return &p, nil
}

type fakeArchiver struct{}

func (fakeArchiver) WriteKMZ(_ context.Context, w io.Writer, photos []model.Photo, _ model.ExportOptions, _ string, progress func(int)) error {
	for i := range photos {
		if progress != nil {
			progress(i + 1)
		}
	}
	_, err := w.Write([]byte("kmz-artifact"))
	return err
}

func (fakeArchiver) WriteZIP(_ context.Context, w io.Writer, _ []model.Photo, _ model.ExportOptions, _ string, _ func(int)) error {
	_, err := w.Write([]byte("zip-artifact"))
	return err
}

func (fakeArchiver) WritePhotosOnly(_ context.Context, w io.Writer, _ []model.Photo, _ func(int)) error {
	_, err := w.Write([]byte("photos-artifact"))
	return err
}

func testPhotos(ids ...string) *fakePhotos {
	f := &fakePhotos{byID: map[string]model.Photo{}}
	for i, id := range ids {
		f.byID[id] = model.Photo{
			ID:        id,
			Filename:  "photo_" + id + ".jpg",
			BlobURL:   "http://blob/" + id,
			Latitude:  float64(i),
			Longitude: float64(i),
			Timestamp: time.Date(2024, 7, 1+i, 0, 0, 0, 0, time.UTC),
		}
	}
	return f
}

func newTestManager(t *testing.T, photos *fakePhotos) *Manager {
	t.Helper()
	return NewManager(Config{Dir: t.TempDir()}, photos, fakeArchiver{})
}

func waitForStatus(t *testing.T, m *Manager, id string, want model.JobStatus) model.ExportJob {
	t.Helper()
	var job model.ExportJob
	require.Eventually(t, func() bool {
		var err error
		job, err = m.GetJob(id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestCreateExportDropsUnknownPhotos(t *testing.T) {
	m := newTestManager(t, testPhotos("a", "b"))

	job, err := m.CreateExport(context.Background(), []string{"a", "missing", "b"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, job.PhotoIDs)
	assert.Equal(t, 2, job.TotalPhotos)
	assert.Equal(t, model.JobStatusQueued, job.Status)
}

func TestCreateExportNoValidPhotos(t *testing.T) {
	m := newTestManager(t, testPhotos())

	_, err := m.CreateExport(context.Background(), []string{"x"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestCreateExportUnknownFormat(t *testing.T) {
	m := newTestManager(t, testPhotos("a"))

	_, err := m.CreateExport(context.Background(), []string{"a"}, "pdf", model.DefaultExportOptions(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestExportLifecycleKML(t *testing.T) {
	m := newTestManager(t, testPhotos("a", "b", "c"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	job, err := m.CreateExport(ctx, []string{"a", "b", "c"}, model.ExportFormatKML, model.DefaultExportOptions(), "tester")
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, model.JobStatusCompleted)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, 3, done.ProcessedPhotos)
	assert.NotNil(t, done.CompletedAt)
	assert.Positive(t, done.FileSize)

	path, _, err := m.ExportFile(job.ID)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "<kml")

	stats := m.Statistics()
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.Completed)
}

func TestExportLifecycleKMZ(t *testing.T) {
	m := newTestManager(t, testPhotos("a", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	job, err := m.CreateExport(ctx, []string{"a", "b"}, model.ExportFormatKMZ, model.DefaultExportOptions(), "")
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, model.JobStatusCompleted)
	assert.Equal(t, int64(len("kmz-artifact")), done.FileSize)
	assert.Equal(t, "export_"+done.CreatedAt.Format("20060102_150405")+".kmz", done.OutputFilename)
}

func TestCancelQueuedJobSkippedByWorker(t *testing.T) {
	m := newTestManager(t, testPhotos("a"))

	job, err := m.CreateExport(context.Background(), []string{"a"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(job.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Stop()

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	_, _, err = m.ExportFile(job.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCancelTerminalJob(t *testing.T) {
	m := newTestManager(t, testPhotos("a"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	job, err := m.CreateExport(ctx, []string{"a"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	require.NoError(t, err)
	waitForStatus(t, m, job.ID, model.JobStatusCompleted)

	err = m.Cancel(job.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(m.Cancel("nope")))
}

func TestCleanupExpiredJobs(t *testing.T) {
	m := newTestManager(t, testPhotos("a"))

	artifact := filepath.Join(m.cfg.Dir, "old.kml")
	require.NoError(t, os.WriteFile(artifact, []byte("<kml/>"), 0o644))

	expired := model.NewExportJob([]string{"a"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	expired.MarkCompleted(artifact, 6)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	fresh := model.NewExportJob([]string{"a"}, model.ExportFormatKML, model.DefaultExportOptions(), "")

	m.mu.Lock()
	m.jobs[expired.ID] = expired
	m.jobs[fresh.ID] = fresh
	m.mu.Unlock()

	assert.Equal(t, 1, m.CleanupExpiredJobs())

	_, err := m.GetJob(expired.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = m.GetJob(fresh.ID)
	assert.NoError(t, err)
	_, err = os.Stat(artifact)
	assert.True(t, os.IsNotExist(err), "expired artifact must be removed")
}

func TestDeleteJobRemovesArtifact(t *testing.T) {
	m := newTestManager(t, testPhotos("a"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	job, err := m.CreateExport(ctx, []string{"a"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	require.NoError(t, err)
	done := waitForStatus(t, m, job.ID, model.JobStatusCompleted)

	require.NoError(t, m.Delete(job.ID))
	_, err = m.GetJob(job.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = os.Stat(done.FilePath)
	assert.True(t, os.IsNotExist(err))
}
