package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	extractOnce   sync.Once
	extractConfig *ExtractConfig
)

// ExtractConfig holds the tuning knobs of the image extraction service.
type ExtractConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Upload     UploadConfig     `yaml:"upload"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	// Development switches zap to development mode.
	Development bool   `yaml:"development"`
}

type ExtractionConfig struct {
	// SizeThreshold in bytes; documents larger than this run page-parallel.
	SizeThreshold int64 `yaml:"sizeThreshold"`
	// PageThreshold; documents with more pages than this run page-parallel.
	PageThreshold          int    `yaml:"pageThreshold"`
	Workers                int    `yaml:"workers"` // 0 means runtime.NumCPU()
	MaxConsecutiveFailures int    `yaml:"maxConsecutiveFailures"`
	DefaultFormat          string `yaml:"defaultFormat"`
	JPEGQuality            int    `yaml:"jpegQuality"`
	PNGCompression         string `yaml:"pngCompression"`
}

type UploadConfig struct {
	MaxFileSize int64 `yaml:"maxFileSize"`
}

type StorageConfig struct {
	Type            string        `yaml:"type"`
	RetentionPeriod time.Duration `yaml:"retentionPeriod"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
	Priority    int `yaml:"priority"`
}

// DefaultExtractConfig returns the built-in defaults.
func DefaultExtractConfig() *ExtractConfig {
	return &ExtractConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Extraction: ExtractionConfig{
			SizeThreshold:          10 * 1024 * 1024,
			PageThreshold:          20,
			Workers:                0,
			MaxConsecutiveFailures: 3,
			DefaultFormat:          "png",
			JPEGQuality:            95,
			PNGCompression:         "default",
		},
		Upload: UploadConfig{
			MaxFileSize: 100 * 1024 * 1024,
		},
		Storage: StorageConfig{
			Type:            "s3",
			RetentionPeriod: 24 * time.Hour,
		},
		Queue: QueueConfig{
			Concurrency: 5,
			Priority:    2,
		},
	}
}

// LoadExtractConfig reads path (if non-empty) over the defaults and then applies
// environment overrides.
func LoadExtractConfig(path string) (*ExtractConfig, error) {
	loadEnv()
	cfg := DefaultExtractConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *ExtractConfig) {
	cfg.Server.Addr = getString("SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.ShutdownTimeout = getDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Log.Level = getString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Encoding = getString("LOG_ENCODING", cfg.Log.Encoding)
	cfg.Log.Development = getBool("LOG_DEVELOPMENT", cfg.Log.Development)
	cfg.Extraction.SizeThreshold = getInt64("EXTRACT_SIZE_THRESHOLD", cfg.Extraction.SizeThreshold)
	cfg.Extraction.PageThreshold = getInt("EXTRACT_PAGE_THRESHOLD", cfg.Extraction.PageThreshold)
	cfg.Extraction.Workers = getInt("EXTRACT_WORKERS", cfg.Extraction.Workers)
	cfg.Extraction.MaxConsecutiveFailures = getInt("EXTRACT_MAX_CONSECUTIVE_FAILURES", cfg.Extraction.MaxConsecutiveFailures)
	cfg.Extraction.DefaultFormat = getString("EXTRACT_DEFAULT_FORMAT", cfg.Extraction.DefaultFormat)
	cfg.Extraction.JPEGQuality = getInt("EXTRACT_JPEG_QUALITY", cfg.Extraction.JPEGQuality)
	cfg.Extraction.PNGCompression = getString("EXTRACT_PNG_COMPRESSION", cfg.Extraction.PNGCompression)
	cfg.Upload.MaxFileSize = getInt64("UPLOAD_MAX_FILE_SIZE", cfg.Upload.MaxFileSize)
	cfg.Storage.Type = getString("STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.RetentionPeriod = getDuration("STORAGE_RETENTION", cfg.Storage.RetentionPeriod)
	cfg.Queue.Concurrency = getInt("QUEUE_CONCURRENCY", cfg.Queue.Concurrency)
	cfg.Queue.Priority = getInt("QUEUE_PRIORITY", cfg.Queue.Priority)
}

// Validate rejects values the extractor cannot work with.
func (c *ExtractConfig) Validate() error {
	if c.Extraction.SizeThreshold < 0 {
		return fmt.Errorf("extraction.sizeThreshold must not be negative")
	}
	if c.Extraction.PageThreshold < 0 {
		return fmt.Errorf("extraction.pageThreshold must not be negative")
	}
	if c.Extraction.Workers < 0 {
		return fmt.Errorf("extraction.workers must not be negative")
	}
	if c.Extraction.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("extraction.maxConsecutiveFailures must be at least 1")
	}
	if c.Extraction.JPEGQuality < 1 || c.Extraction.JPEGQuality > 100 {
		return fmt.Errorf("extraction.jpegQuality must be within 1..100")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.maxFileSize must be positive")
	}
	switch c.Storage.Type {
	case "s3", "minio", "local":
	default:
		return fmt.Errorf("storage.type %q is not one of s3, minio, local", c.Storage.Type)
	}
	return nil
}

// GetExtractConfig loads the configuration once, from EXTRACT_CONFIG_FILE when set.
func GetExtractConfig() *ExtractConfig {
	extractOnce.Do(func() {
		loadEnv()

		cfg, err := LoadExtractConfig(os.Getenv("EXTRACT_CONFIG_FILE"))
		if err != nil {
			log.Printf("Warning: %v, using defaults", err)
			cfg = DefaultExtractConfig()
		}
		extractConfig = cfg
	})
	return extractConfig
}
