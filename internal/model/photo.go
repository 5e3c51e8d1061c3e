package model

import (
	"time"

	"github.com/google/uuid"
)

// CoordinateSource records how a photo's location was determined.
type CoordinateSource string

const (
	CoordinateSourceManual CoordinateSource = "manual"
	CoordinateSourceEXIF   CoordinateSource = "exif"
	CoordinateSourceNone   CoordinateSource = "none"
)

// JobStatus is the status vocabulary shared by ingestion and export jobs.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRetry      JobStatus = "retry"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Photo is a stored photo record with geographic and camera metadata.
// HashMD5 is the content digest; duplicate detection is authoritative on it,
// never on filenames.
type Photo struct {
	ID               string            `json:"id" bson:"id"`
	Filename         string            `json:"filename" bson:"filename"`
	OriginalFilename string            `json:"original_filename" bson:"original_filename"`
	BlobURL          string            `json:"blob_url" bson:"blob_url"`
	BlobPath         string            `json:"-" bson:"blob_path"`
	ThumbnailURLs    map[string]string `json:"thumbnail_urls,omitempty" bson:"thumbnail_urls,omitempty"`

	Latitude  float64  `json:"latitude" bson:"latitude"`
	Longitude float64  `json:"longitude" bson:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty" bson:"altitude,omitempty"`

	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	UploadTimestamp time.Time `json:"upload_timestamp" bson:"upload_timestamp"`
	FileSize        int64     `json:"file_size" bson:"file_size"`
	MimeType        string    `json:"mime_type" bson:"mime_type"`

	CameraMake     string            `json:"camera_make,omitempty" bson:"camera_make,omitempty"`
	CameraModel    string            `json:"camera_model,omitempty" bson:"camera_model,omitempty"`
	CameraSettings map[string]string `json:"camera_settings,omitempty" bson:"camera_settings,omitempty"`

	Tags        []string `json:"tags" bson:"tags"`
	Description string   `json:"description,omitempty" bson:"description,omitempty"`
	UploaderID  string   `json:"uploader_id,omitempty" bson:"uploader_id,omitempty"`

	HashMD5          string           `json:"hash_md5" bson:"hash_md5"`
	CoordinateSource CoordinateSource `json:"coordinate_source" bson:"coordinate_source"`
	ProcessingStatus JobStatus        `json:"processing_status" bson:"processing_status"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// NewPhotoID returns a fresh photo record id.
func NewPhotoID() string {
	return uuid.New().String()
}

// PhotoFilters narrows photo queries.
type PhotoFilters struct {
	StartDate  *time.Time
	EndDate    *time.Time
	Tags       []string
	MinLat     *float64
	MaxLat     *float64
	MinLng     *float64
	MaxLng     *float64
	UploaderID string
	Limit      int
	Offset     int
}

// Thumbnail size names shared by the generator and the blob layout.
const (
	ThumbSizeSmall  = "small"
	ThumbSizeMedium = "medium"
	ThumbSizeLarge  = "large"
)

// UploadResult describes where a photo and its thumbnails landed in blob
// storage.
type UploadResult struct {
	URL           string
	BlobPath      string
	ThumbnailURLs map[string]string
}

// StorageUsage summarizes blob storage consumption.
type StorageUsage struct {
	TotalBytes     int64 `json:"total_bytes"`
	PhotoCount     int   `json:"photo_count"`
	ThumbnailCount int   `json:"thumbnail_count"`
}
