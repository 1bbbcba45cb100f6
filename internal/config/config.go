// Package config provides configuration management for the VideoChat backend.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort      = 8002
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".videochat"

	// Environment variable names
	EnvPort      = "VIDEOCHAT_PORT"
	EnvLogLevel  = "VIDEOCHAT_LOG_LEVEL"
	EnvLogFormat = "VIDEOCHAT_LOG_FORMAT"
	EnvDataDir   = "VIDEOCHAT_DATA_DIR"

	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvGeminiModel  = "VIDEOCHAT_GEMINI_MODEL"

	// Sampling policy environment variable names
	EnvFrameInterval   = "VIDEOCHAT_FRAME_INTERVAL_SECONDS"
	EnvMaxFrames       = "VIDEOCHAT_MAX_FRAMES"
	EnvFrameFormat     = "VIDEOCHAT_FRAME_FORMAT"
	EnvThumbnailOffset = "VIDEOCHAT_THUMBNAIL_OFFSET_SECONDS"
	EnvMaxConcurrent   = "VIDEOCHAT_MAX_CONCURRENT"

	// Database filename
	DBFilename = "videochat.db"

	// Sampling policy defaults
	DefaultFrameInterval   = 2.0
	DefaultMaxFrames       = 300
	DefaultFrameFormat     = "jpeg"
	DefaultThumbnailOffset = 1.0
	DefaultThumbnailWidth  = 320
	DefaultThumbnailHeight = 180

	// Pipeline defaults
	DefaultMaxConcurrent    = 2
	DefaultFrameBatchSize   = 8
	DefaultStorageAttempts  = 3
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultExtractTimeout   = 10 * time.Minute
	DefaultIndexTimeout     = 5 * time.Minute
	DefaultGeminiModel      = "gemini-1.5-flash"
	DefaultMaxUploadBytes   = 2 * 1024 * 1024 * 1024 // 2GB
	DefaultMaxFramesPerCall = 20
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	FramesDir() string
	ThumbnailsDir() string

	GeminiAPIKey() string
	GeminiModel() string

	FrameInterval() float64
	MaxFrames() int
	FrameFormat() string
	ThumbnailOffset() float64
	ThumbnailWidth() int
	ThumbnailHeight() int

	MaxConcurrent() int
	FrameBatchSize() int
	StorageAttempts() int
	BackoffBase() time.Duration
	ExtractTimeout() time.Duration
	IndexTimeout() time.Duration
	MaxUploadBytes() int64
	MaxFramesPerCall() int
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	logFormat string
	dataDir   string

	geminiAPIKey string
	geminiModel  string

	frameInterval   float64
	maxFrames       int
	frameFormat     string
	thumbnailOffset float64

	maxConcurrent int
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		logFormat:       DefaultLogFormat,
		dataDir:         defaultDataDir(),
		geminiModel:     DefaultGeminiModel,
		frameInterval:   DefaultFrameInterval,
		maxFrames:       DefaultMaxFrames,
		frameFormat:     DefaultFrameFormat,
		thumbnailOffset: DefaultThumbnailOffset,
		maxConcurrent:   DefaultMaxConcurrent,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if lf := os.Getenv(EnvLogFormat); lf != "" {
		cfg.logFormat = lf
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.geminiAPIKey = os.Getenv(EnvGeminiAPIKey)
	if gm := os.Getenv(EnvGeminiModel); gm != "" {
		cfg.geminiModel = gm
	}

	if fi := os.Getenv(EnvFrameInterval); fi != "" {
		interval, err := strconv.ParseFloat(fi, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvFrameInterval, err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("invalid %s: interval must be positive", EnvFrameInterval)
		}
		cfg.frameInterval = interval
	}

	if mf := os.Getenv(EnvMaxFrames); mf != "" {
		maxFrames, err := strconv.Atoi(mf)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxFrames, err)
		}
		if maxFrames < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxFrames)
		}
		cfg.maxFrames = maxFrames
	}

	if ff := os.Getenv(EnvFrameFormat); ff != "" {
		if ff != "jpeg" && ff != "png" {
			return nil, fmt.Errorf("invalid %s: must be jpeg or png", EnvFrameFormat)
		}
		cfg.frameFormat = ff
	}

	if to := os.Getenv(EnvThumbnailOffset); to != "" {
		offset, err := strconv.ParseFloat(to, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvThumbnailOffset, err)
		}
		if offset < 0 {
			return nil, fmt.Errorf("invalid %s: offset must not be negative", EnvThumbnailOffset)
		}
		cfg.thumbnailOffset = offset
	}

	if mc := os.Getenv(EnvMaxConcurrent); mc != "" {
		n, err := strconv.Atoi(mc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxConcurrent, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxConcurrent)
		}
		cfg.maxConcurrent = n
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns the log output format (json or pretty)
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir returns the directory where uploaded video files are stored
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// FramesDir returns the root directory for extracted frame artifacts
func (c *EnvConfig) FramesDir() string {
	return filepath.Join(c.dataDir, "frames")
}

// ThumbnailsDir returns the root directory for thumbnail artifacts
func (c *EnvConfig) ThumbnailsDir() string {
	return filepath.Join(c.dataDir, "thumbnails")
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiModel() string {
	return c.geminiModel
}

// FrameInterval returns the sampling interval between frames in seconds
func (c *EnvConfig) FrameInterval() float64 {
	return c.frameInterval
}

// MaxFrames returns the maximum number of frames sampled per video
func (c *EnvConfig) MaxFrames() int {
	return c.maxFrames
}

// FrameFormat returns the encoded frame image format (jpeg or png)
func (c *EnvConfig) FrameFormat() string {
	return c.frameFormat
}

// ThumbnailOffset returns the preferred thumbnail offset in seconds
func (c *EnvConfig) ThumbnailOffset() float64 {
	return c.thumbnailOffset
}

func (c *EnvConfig) ThumbnailWidth() int {
	return DefaultThumbnailWidth
}

func (c *EnvConfig) ThumbnailHeight() int {
	return DefaultThumbnailHeight
}

// MaxConcurrent returns the maximum number of videos processed at once
func (c *EnvConfig) MaxConcurrent() int {
	return c.maxConcurrent
}

func (c *EnvConfig) FrameBatchSize() int {
	return DefaultFrameBatchSize
}

func (c *EnvConfig) StorageAttempts() int {
	return DefaultStorageAttempts
}

func (c *EnvConfig) BackoffBase() time.Duration {
	return DefaultBackoffBase
}

func (c *EnvConfig) ExtractTimeout() time.Duration {
	return DefaultExtractTimeout
}

func (c *EnvConfig) IndexTimeout() time.Duration {
	return DefaultIndexTimeout
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return DefaultMaxUploadBytes
}

func (c *EnvConfig) MaxFramesPerCall() int {
	return DefaultMaxFramesPerCall
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
