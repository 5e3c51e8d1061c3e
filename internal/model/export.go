package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExportFormat selects the artifact produced by an export job.
type ExportFormat string

const (
	ExportFormatKML        ExportFormat = "kml"
	ExportFormatKMZ        ExportFormat = "kmz"
	ExportFormatZIP        ExportFormat = "zip"
	ExportFormatPhotosOnly ExportFormat = "photos"
)

// Valid reports whether f is a known export format.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatKML, ExportFormatKMZ, ExportFormatZIP, ExportFormatPhotosOnly:
		return true
	}
	return false
}

// ContentType returns the MIME type for the produced artifact.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatKML:
		return "application/vnd.google-earth.kml+xml"
	case ExportFormatKMZ:
		return "application/vnd.google-earth.kmz"
	case ExportFormatZIP, ExportFormatPhotosOnly:
		return "application/zip"
	}
	return "application/octet-stream"
}

// Extension returns the artifact file extension without the dot.
func (f ExportFormat) Extension() string {
	if f == ExportFormatPhotosOnly {
		return "zip"
	}
	return string(f)
}

// CoordinateSystem names the coordinate reference system of an export.
// Only WGS84 coordinates are produced; other requested systems are recorded
// as metadata and the coordinates stay WGS84.
type CoordinateSystem string

const CoordinateSystemWGS84 CoordinateSystem = "WGS84"

// ExportOptions are the inclusion flags of an export request.
type ExportOptions struct {
	CoordinateSystem  CoordinateSystem `json:"coordinate_system"`
	IncludeAltitude   bool             `json:"include_altitude"`
	IncludePhotos     bool             `json:"include_photos"`
	IncludeThumbnails bool             `json:"include_thumbnails"`
}

// DefaultExportOptions mirror the most common Google Earth friendly request.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		CoordinateSystem:  CoordinateSystemWGS84,
		IncludeAltitude:   true,
		IncludePhotos:     true,
		IncludeThumbnails: true,
	}
}

// ExportTTL is how long a finished export stays downloadable.
const ExportTTL = 24 * time.Hour

// ExportJob tracks one export request through its lifecycle. All mutation
// goes through the methods below; the export manager serializes access.
type ExportJob struct {
	ID          string        `json:"id"`
	Format      ExportFormat  `json:"format"`
	PhotoIDs    []string      `json:"photo_ids"`
	Status      JobStatus     `json:"status"`
	Options     ExportOptions `json:"options"`
	RequesterID string        `json:"requester_id,omitempty"`

	OutputFilename string `json:"output_filename"`
	FilePath       string `json:"file_path,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	Progress        float64 `json:"progress"`
	TotalPhotos     int     `json:"total_photos"`
	ProcessedPhotos int     `json:"processed_photos"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// NewExportJob builds a pending job for the given (already validated) photo
// ids with a 24h expiry and a timestamped output filename.
func NewExportJob(photoIDs []string, format ExportFormat, opts ExportOptions, requesterID string) *ExportJob {
	now := time.Now().UTC()
	return &ExportJob{
		ID:             uuid.New().String(),
		Format:         format,
		PhotoIDs:       photoIDs,
		Status:         JobStatusPending,
		Options:        opts,
		RequesterID:    requesterID,
		OutputFilename: fmt.Sprintf("export_%s.%s", now.Format("20060102_150405"), format.Extension()),
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ExportTTL),
		TotalPhotos:    len(photoIDs),
	}
}

// UpdateProgress records the processed photo count. Progress never moves
// backwards and equals 100 exactly when every photo has been processed.
func (j *ExportJob) UpdateProgress(processed int) {
	if processed < j.ProcessedPhotos {
		return
	}
	j.ProcessedPhotos = processed
	if j.TotalPhotos > 0 {
		j.Progress = float64(processed) / float64(j.TotalPhotos) * 100
	}
	j.UpdatedAt = time.Now().UTC()
}

// MarkStarted transitions the job to processing.
func (j *ExportJob) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted records the finished artifact and pins progress at 100.
func (j *ExportJob) MarkCompleted(filePath string, fileSize int64) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.FilePath = filePath
	j.FileSize = fileSize
	j.Progress = 100.0
	j.ProcessedPhotos = j.TotalPhotos
}

// MarkFailed records a terminal failure. Export failures are not retried.
func (j *ExportJob) MarkFailed(msg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = msg
	j.UpdatedAt = time.Now().UTC()
}

// IsExpired reports whether the job has passed its expiry deadline.
func (j *ExportJob) IsExpired() bool {
	return time.Now().UTC().After(j.ExpiresAt)
}

// ExportStats is a point-in-time count of jobs by status.
type ExportStats struct {
	TotalJobs  int `json:"total_jobs"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}
