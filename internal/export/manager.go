// Package export runs the export job subsystem: a bounded worker pool that
// turns photo selections into KML, KMZ and ZIP artifacts with a 24 hour
// download window. Job state lives in memory and is lost on restart.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"photomap/internal/apperr"
	"photomap/internal/kml"
	"photomap/internal/model"
)

type photoSource interface {
	GetPhoto(ctx context.Context, id string) (*model.Photo, error)
}

type archiveWriter interface {
	WriteKMZ(ctx context.Context, w io.Writer, photos []model.Photo, opts model.ExportOptions, title string, progress func(done int)) error
	WriteZIP(ctx context.Context, w io.Writer, photos []model.Photo, opts model.ExportOptions, title string, progress func(done int)) error
	WritePhotosOnly(ctx context.Context, w io.Writer, photos []model.Photo, progress func(done int)) error
}

const exportTitle = "Photo Map Export"

// Config tunes the export subsystem. Zero values fall back to defaults.
type Config struct {
	Workers         int
	QueueSize       int
	Dir             string
	CleanupInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
}

// Manager owns the export job table and the worker pool draining it.
type Manager struct {
	cfg      Config
	photos   photoSource
	archiver archiveWriter

	mu    sync.RWMutex
	jobs  map[string]*model.ExportJob
	queue chan string

	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewManager(cfg Config, photos photoSource, archiver archiveWriter) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		photos:   photos,
		archiver: archiver,
		jobs:     make(map[string]*model.ExportJob),
		queue:    make(chan string, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker pool and the periodic expiry sweep.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-m.queue:
					if !ok {
						return
					}
					m.run(ctx, id)
				}
			}
		}()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				if n := m.CleanupExpiredJobs(); n > 0 {
					zlog.Logger.Info().Int("removed", n).Msg("expired exports cleaned up")
				}
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	close(m.queue)
	m.wg.Wait()
}

// CreateExport validates the request and queues a new job. Unknown photo
// ids are dropped with a warning; a request where none survive is rejected.
func (m *Manager) CreateExport(ctx context.Context, photoIDs []string, format model.ExportFormat, opts model.ExportOptions, requesterID string) (model.ExportJob, error) {
	if !format.Valid() {
		return model.ExportJob{}, apperr.Invalid("unknown export format %q", format)
	}
	if opts.CoordinateSystem == "" {
		opts.CoordinateSystem = model.CoordinateSystemWGS84
	}

	valid := make([]string, 0, len(photoIDs))
	for _, id := range photoIDs {
		_, err := m.photos.GetPhoto(ctx, id)
		switch {
		case err == nil:
			valid = append(valid, id)
		case apperr.KindOf(err) == apperr.KindNotFound:
			zlog.Logger.Warn().Str("photo_id", id).Msg("export references unknown photo, dropping")
		default:
			return model.ExportJob{}, fmt.Errorf("validate photo %s: %w", id, err)
		}
	}
	if len(valid) == 0 {
		return model.ExportJob{}, apperr.Invalid("no valid photos found for export")
	}

	job := model.NewExportJob(valid, format, opts, requesterID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.ExportJob{}, apperr.Transient("export manager stopped", nil)
	}
	select {
	case m.queue <- job.ID:
		job.Status = model.JobStatusQueued
		m.jobs[job.ID] = job
	default:
		return model.ExportJob{}, apperr.Transient("export queue full", nil)
	}

	zlog.Logger.Info().
		Str("job_id", job.ID).
		Str("format", string(format)).
		Int("photos", len(valid)).
		Msg("export queued")

	return *job, nil
}

// GetJob returns a snapshot of the job.
func (m *Manager) GetJob(id string) (model.ExportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return model.ExportJob{}, apperr.NotFound("export job %s not found", id)
	}
	return *job, nil
}

// Cancel marks a non-terminal job cancelled. Workers drop cancelled jobs at
// dequeue; a job already processing finishes its current run.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperr.NotFound("export job %s not found", id)
	}
	if job.Status.Terminal() {
		return apperr.Conflict("export job %s already %s", id, job.Status)
	}
	job.Status = model.JobStatusCancelled
	job.UpdatedAt = time.Now().UTC()
	zlog.Logger.Info().Str("job_id", id).Msg("export cancelled")
	return nil
}

// ExportFile returns the artifact path for a completed, unexpired job.
func (m *Manager) ExportFile(id string) (string, model.ExportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return "", model.ExportJob{}, apperr.NotFound("export job %s not found", id)
	}
	if job.Status != model.JobStatusCompleted {
		return "", model.ExportJob{}, apperr.Conflict("export job %s is %s, not completed", id, job.Status)
	}
	if job.IsExpired() {
		return "", model.ExportJob{}, apperr.NotFound("export job %s expired", id)
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		return "", model.ExportJob{}, apperr.NotFound("export artifact for job %s is gone", id)
	}
	return job.FilePath, *job, nil
}

// Delete removes a job and its artifact regardless of status.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperr.NotFound("export job %s not found", id)
	}
	m.removeLocked(job)
	return nil
}

// CleanupExpiredJobs removes every job past its expiry deadline together
// with its artifact and returns how many were removed.
func (m *Manager) CleanupExpiredJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.IsExpired() {
			m.removeLocked(job)
			n++
		}
	}
	return n
}

func (m *Manager) removeLocked(job *model.ExportJob) {
	if job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			zlog.Logger.Warn().Err(err).Str("path", job.FilePath).Msg("export artifact removal failed")
		}
	}
	delete(m.jobs, job.ID)
}

// Statistics counts jobs by status.
func (m *Manager) Statistics() model.ExportStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := model.ExportStats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

func (m *Manager) run(ctx context.Context, id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status == model.JobStatusCancelled {
		m.mu.Unlock()
		return
	}
	job.MarkStarted()
	snapshot := *job
	m.mu.Unlock()

	path, size, err := m.generate(ctx, &snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok = m.jobs[id]
	if !ok {
		if err == nil {
			_ = os.Remove(path)
		}
		return
	}
	if err != nil {
		job.MarkFailed(err.Error())
		zlog.Logger.Error().Err(err).Str("job_id", id).Msg("export failed")
		return
	}
	job.ProcessedPhotos = snapshot.ProcessedPhotos
	job.MarkCompleted(path, size)
	zlog.Logger.Info().
		Str("job_id", id).
		Str("path", path).
		Int64("size", size).
		Msg("export completed")
}

// generate produces the artifact file for the job and returns its path
// and size.
func (m *Manager) generate(ctx context.Context, job *model.ExportJob) (string, int64, error) {
	photos := make([]model.Photo, 0, len(job.PhotoIDs))
	for _, id := range job.PhotoIDs {
		p, err := m.photos.GetPhoto(ctx, id)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("photo_id", id).Msg("photo vanished before export, skipping")
			continue
		}
		photos = append(photos, *p)
	}
	if len(photos) == 0 {
		return "", 0, fmt.Errorf("no photos left to export")
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(m.cfg.Dir, job.ID+"_"+job.OutputFilename)

	progress := func(done int) { m.recordProgress(job, done) }

	var err error
	switch job.Format {
	case model.ExportFormatKML:
		var doc []byte
		doc, err = kml.BuildKML(photos, job.Options, exportTitle)
		if err == nil {
			err = os.WriteFile(path, doc, 0o644)
		}
		m.recordProgress(job, len(photos))
	case model.ExportFormatKMZ:
		err = m.writeFile(ctx, path, func(f *os.File) error {
			return m.archiver.WriteKMZ(ctx, f, photos, job.Options, exportTitle, progress)
		})
	case model.ExportFormatZIP:
		err = m.writeFile(ctx, path, func(f *os.File) error {
			return m.archiver.WriteZIP(ctx, f, photos, job.Options, exportTitle, progress)
		})
	case model.ExportFormatPhotosOnly:
		err = m.writeFile(ctx, path, func(f *os.File) error {
			return m.archiver.WritePhotosOnly(ctx, f, photos, progress)
		})
	default:
		err = fmt.Errorf("unknown format %q", job.Format)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat artifact: %w", err)
	}
	return path, info.Size(), nil
}

func (m *Manager) writeFile(_ context.Context, path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// recordProgress mirrors per-photo progress onto the live job entry.
func (m *Manager) recordProgress(snapshot *model.ExportJob, done int) {
	snapshot.ProcessedPhotos = done
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[snapshot.ID]; ok {
		job.UpdateProgress(done)
	}
}
