package export

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"

	"photomap/internal/apperr"
	"photomap/internal/model"
)

type fakeManager struct {
	jobs      map[string]model.ExportJob
	cancelled []string
	deleted   []string
	filePath  string
}

func (f *fakeManager) CreateExport(_ context.Context, photoIDs []string, format model.ExportFormat, opts model.ExportOptions, requesterID string) (model.ExportJob, error) {
	if !format.Valid() {
		return model.ExportJob{}, apperr.Invalid("unknown export format %q", format)
	}
	if len(photoIDs) == 0 {
		return model.ExportJob{}, apperr.Invalid("no valid photos found for export")
	}
	job := *model.NewExportJob(photoIDs, format, opts, requesterID)
	job.Status = model.JobStatusQueued
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeManager) GetJob(id string) (model.ExportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return model.ExportJob{}, apperr.NotFound("export job %s not found", id)
	}
	return job, nil
}

func (f *fakeManager) Cancel(id string) error {
	job, ok := f.jobs[id]
	if !ok {
		return apperr.NotFound("export job %s not found", id)
	}
	if job.Status.Terminal() {
		return apperr.Conflict("export job %s already %s", id, job.Status)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeManager) Delete(id string) error {
	if _, ok := f.jobs[id]; !ok {
		return apperr.NotFound("export job %s not found", id)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeManager) ExportFile(id string) (string, model.ExportJob, error) {
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusCompleted {
		return "", model.ExportJob{}, apperr.NotFound("export job %s not ready", id)
	}
	return f.filePath, job, nil
}

func (f *fakeManager) Statistics() model.ExportStats {
	return model.ExportStats{TotalJobs: len(f.jobs)}
}

func setupRouter(m *fakeManager) *ginext.Engine {
	h := NewHandler(m)
	r := ginext.New()
	r.POST("/api/exports", h.Create)
	r.GET("/api/exports/stats", h.Stats)
	r.GET("/api/exports/:id", h.Get)
	r.GET("/api/exports/:id/download", h.Download)
	r.DELETE("/api/exports/:id", h.Cancel)
	return r
}

func postJSON(t *testing.T, r *ginext.Engine, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateExport(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	r := setupRouter(m)

	w := postJSON(t, r, "/api/exports", map[string]any{
		"photo_ids": []string{"p1", "p2"},
		"format":    "kmz",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"total_photos":2`)
	assert.Len(t, m.jobs, 1)
}

func TestCreateExportBadFormat(t *testing.T) {
	r := setupRouter(&fakeManager{jobs: map[string]model.ExportJob{}})

	w := postJSON(t, r, "/api/exports", map[string]any{
		"photo_ids": []string{"p1"},
		"format":    "pdf",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateExportMissingFields(t *testing.T) {
	r := setupRouter(&fakeManager{jobs: map[string]model.ExportJob{}})

	w := postJSON(t, r, "/api/exports", map[string]any{"format": "kml"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	r := setupRouter(m)

	job := *model.NewExportJob([]string{"p1"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	m.jobs[job.ID] = job

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/"+job.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), job.ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadCompletedJob(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}

	path := filepath.Join(t.TempDir(), "export.kml")
	require.NoError(t, os.WriteFile(path, []byte("<kml/>"), 0o644))
	m.filePath = path

	job := *model.NewExportJob([]string{"p1"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	job.MarkCompleted(path, 6)
	m.jobs[job.ID] = job

	r := setupRouter(m)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/"+job.ID+"/download", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), job.OutputFilename)
	assert.Equal(t, "<kml/>", w.Body.String())
}

func TestDownloadPendingJob(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	job := *model.NewExportJob([]string{"p1"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	m.jobs[job.ID] = job

	r := setupRouter(m)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/"+job.ID+"/download", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelQueuedJob(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	job := *model.NewExportJob([]string{"p1"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	job.Status = model.JobStatusQueued
	m.jobs[job.ID] = job

	r := setupRouter(m)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/exports/"+job.ID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{job.ID}, m.cancelled)
	assert.Empty(t, m.deleted)
}

func TestDeleteTerminalJob(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	job := *model.NewExportJob([]string{"p1"}, model.ExportFormatKML, model.DefaultExportOptions(), "")
	job.MarkCompleted("/tmp/x.kml", 1)
	m.jobs[job.ID] = job

	r := setupRouter(m)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/exports/"+job.ID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{job.ID}, m.deleted)
}

func TestStats(t *testing.T) {
	m := &fakeManager{jobs: map[string]model.ExportJob{}}
	r := setupRouter(m)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/exports/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_jobs")
}
