package config

import (
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Storage  Storage  `mapstructure:"storage"`
	Database Database `mapstructure:"database"`
	Retry    Retry    `mapstructure:"retry"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Export   Export   `mapstructure:"export"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Storage holds configuration for the blob storage backend.
type Storage struct {
	Mode      string `mapstructure:"mode"`       // "minio" or "local"
	Endpoint  string `mapstructure:"endpoint"`   // MinIO endpoint
	AccessKey string `mapstructure:"access_key"` // MinIO access key
	SecretKey string `mapstructure:"secret_key"` // MinIO secret key
	Bucket    string `mapstructure:"bucket"`     // Bucket for photos and thumbnails
	UseSSL    bool   `mapstructure:"use_ssl"`    // TLS to the object store
	LocalDir  string `mapstructure:"local_dir"`  // Base directory in local mode
	PublicURL string `mapstructure:"public_url"` // Public base URL in local mode
}

// Database holds configuration for MongoDB.
type Database struct {
	URI  string `mapstructure:"uri"`  // MongoDB connection URI
	Name string `mapstructure:"name"` // Database name
}

// Retry defines the retry policy for blob storage calls.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Pipeline tunes the photo ingestion worker.
type Pipeline struct {
	QueueSize     int           `mapstructure:"queue_size"`     // Pending job buffer
	MaxRetries    int           `mapstructure:"max_retries"`    // Attempts before a job fails
	RetryDelay    time.Duration `mapstructure:"retry_delay"`    // Base delay, grows linearly per retry
	UploadTimeout time.Duration `mapstructure:"upload_timeout"` // Per-attempt blob upload deadline
}

// Export tunes the export job subsystem.
type Export struct {
	Workers         int           `mapstructure:"workers"`          // Concurrent export jobs
	QueueSize       int           `mapstructure:"queue_size"`       // Queued job buffer
	Dir             string        `mapstructure:"dir"`              // Artifact directory
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // Expiry sweep period
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	c := config.New()

	if err := c.Load(path); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	var cfg Config
	if err := c.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to unmarshal config")
	}

	return &cfg
}
