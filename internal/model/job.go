package model

import "time"

// IngestPayload is the prepared submission that travels through the
// ingestion pipeline: the raw bytes plus everything the upload service
// resolved about them.
type IngestPayload struct {
	Content          []byte
	Filename         string
	OriginalFilename string
	MimeType         string
	FileSize         int64

	Latitude         float64
	Longitude        float64
	Altitude         *float64
	CoordinateSource CoordinateSource

	Timestamp      time.Time
	CameraMake     string
	CameraModel    string
	CameraSettings map[string]string

	Tags        []string
	Description string
	UploaderID  string
	HashMD5     string
}

// IngestJob is the ephemeral in-memory processing job for one submission.
// It is never persisted; terminal jobs survive only in logs.
type IngestJob struct {
	ID           string
	Payload      IngestPayload
	Status       JobStatus
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	PhotoID      string
	BlobPath     string
}
