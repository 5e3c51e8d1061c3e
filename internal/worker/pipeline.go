// Package worker runs the asynchronous photo ingestion pipeline: normalize,
// upload to blob storage, persist the record. Jobs live only in memory and
// are lost on restart.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"photomap/internal/apperr"
	"photomap/internal/convert"
	"photomap/internal/model"
	"photomap/internal/storage"
)

type blobStorage interface {
	UploadWithThumbnails(ctx context.Context, filename, mimeType string, takenAt time.Time, content []byte) (model.UploadResult, error)
	DeletePhotoAndThumbnails(ctx context.Context, blobPath string) error
}

type photoRepo interface {
	CreatePhoto(ctx context.Context, photo *model.Photo) error
}

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	QueueSize     int
	MaxRetries    int
	RetryDelay    time.Duration
	UploadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 120 * time.Second
	}
}

// Stats is a point-in-time pipeline snapshot.
type Stats struct {
	QueueDepth int `json:"queue_depth"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
}

// Pipeline consumes ingest jobs from a bounded queue with a single worker.
// Failed jobs are retried with a linearly growing delay; after MaxRetries
// attempts the job fails for good and any partial blob state is removed.
type Pipeline struct {
	cfg        Config
	storage    blobStorage
	repo       photoRepo
	normalizer *convert.Normalizer

	queue chan *model.IngestJob
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending int
	stats   Stats

	sleep func(time.Duration)
}

func New(cfg Config, storage blobStorage, repo photoRepo, normalizer *convert.Normalizer) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:        cfg,
		storage:    storage,
		repo:       repo,
		normalizer: normalizer,
		queue:      make(chan *model.IngestJob, cfg.QueueSize),
		sleep:      time.Sleep,
	}
}

// Start launches the consumer. It returns immediately; the consumer exits
// when ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-p.queue:
				if !ok {
					return
				}
				p.handle(ctx, job)
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight work to finish. Enqueue
// fails after Stop.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

// Enqueue submits a prepared payload and returns the job id.
func (p *Pipeline) Enqueue(payload model.IngestPayload) (string, error) {
	job := &model.IngestJob{
		ID:        model.NewPhotoID(),
		Payload:   payload,
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", apperr.Transient("pipeline stopped", nil)
	}
	select {
	case p.queue <- job:
		p.pending++
		return job.ID, nil
	default:
		return "", apperr.Transient("pipeline queue full", nil)
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.QueueDepth = p.pending
	return s
}

func (p *Pipeline) handle(ctx context.Context, job *model.IngestJob) {
	p.mu.Lock()
	p.pending--
	p.stats.Processing++
	p.mu.Unlock()

	job.Status = model.JobStatusProcessing
	err := p.process(ctx, job)

	p.mu.Lock()
	p.stats.Processing--
	p.mu.Unlock()

	if err == nil {
		now := time.Now().UTC()
		job.Status = model.JobStatusCompleted
		job.CompletedAt = &now
		p.mu.Lock()
		p.stats.Completed++
		p.mu.Unlock()
		zlog.Logger.Info().
			Str("job_id", job.ID).
			Str("photo_id", job.PhotoID).
			Msg("photo ingested")
		return
	}

	job.ErrorMessage = err.Error()

	if apperr.IsTransient(err) && job.RetryCount < p.cfg.MaxRetries-1 {
		job.RetryCount++
		job.Status = model.JobStatusRetry
		delay := p.cfg.RetryDelay * time.Duration(job.RetryCount)
		zlog.Logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Int("retry", job.RetryCount).
			Dur("delay", delay).
			Msg("ingestion failed, retrying")

		p.mu.Lock()
		p.stats.Retried++
		p.mu.Unlock()

		p.sleep(delay)
		if !p.requeue(job) {
			p.cleanup(ctx, job)
		}
		return
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
	zlog.Logger.Error().
		Err(err).
		Str("job_id", job.ID).
		Int("retries", job.RetryCount).
		Msg("ingestion failed permanently")

	p.cleanup(ctx, job)
}

// cleanup removes whatever blob state an exhausted job may have left
// behind. A blob upload that timed out on our side can still have landed,
// so the deterministic path is deleted even when no attempt reported a
// successful upload.
func (p *Pipeline) cleanup(ctx context.Context, job *model.IngestJob) {
	if job.BlobPath == "" {
		return
	}
	if err := p.storage.DeletePhotoAndThumbnails(context.WithoutCancel(ctx), job.BlobPath); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("blob_path", job.BlobPath).
			Msg("partial blob cleanup failed")
	}
}

func (p *Pipeline) requeue(job *model.IngestJob) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		job.Status = model.JobStatusFailed
		job.ErrorMessage = "pipeline stopped during retry"
		p.stats.Failed++
		return false
	}
	select {
	case p.queue <- job:
		p.pending++
		return true
	default:
		job.Status = model.JobStatusFailed
		job.ErrorMessage = "pipeline queue full during retry"
		p.stats.Failed++
		return false
	}
}

// process runs one ingestion attempt end to end.
func (p *Pipeline) process(ctx context.Context, job *model.IngestJob) error {
	payload := job.Payload

	res := p.normalizer.Normalize(payload.Content, payload.MimeType, payload.Filename)
	if res.Warning != "" {
		zlog.Logger.Warn().
			Str("job_id", job.ID).
			Str("warning", res.Warning).
			Msg("normalization fell back to original bytes")
	}

	// The blob path is a pure function of the capture timestamp and the
	// normalized filename, so the terminal cleanup can find the blob even
	// when every upload attempt reported a failure.
	job.BlobPath = storage.BlobPath(payload.Timestamp.UTC(), res.Filename)

	uploadCtx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()

	uploaded, err := p.storage.UploadWithThumbnails(uploadCtx, res.Filename, res.MimeType, payload.Timestamp, res.Content)
	if err != nil {
		if uploadCtx.Err() != nil {
			return apperr.Transient("blob upload timed out", err)
		}
		return apperr.Transient("blob upload failed", err)
	}

	now := time.Now().UTC()
	photo := &model.Photo{
		ID:               model.NewPhotoID(),
		Filename:         res.Filename,
		OriginalFilename: payload.OriginalFilename,
		BlobURL:          uploaded.URL,
		BlobPath:         uploaded.BlobPath,
		ThumbnailURLs:    uploaded.ThumbnailURLs,
		Latitude:         payload.Latitude,
		Longitude:        payload.Longitude,
		Altitude:         payload.Altitude,
		Timestamp:        payload.Timestamp,
		UploadTimestamp:  job.CreatedAt,
		FileSize:         int64(len(res.Content)),
		MimeType:         res.MimeType,
		CameraMake:       payload.CameraMake,
		CameraModel:      payload.CameraModel,
		CameraSettings:   payload.CameraSettings,
		Tags:             payload.Tags,
		Description:      payload.Description,
		UploaderID:       payload.UploaderID,
		HashMD5:          payload.HashMD5,
		CoordinateSource: payload.CoordinateSource,
		ProcessingStatus: model.JobStatusCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := p.repo.CreatePhoto(ctx, photo); err != nil {
		// The blob stays up for the retry; the terminal branch removes it
		// if every attempt fails.
		return apperr.Transient("persist photo record", err)
	}

	job.PhotoID = photo.ID
	return nil
}
