package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Chunked streaming behavior
	Stream StreamConfig `mapstructure:"stream"`

	// Repair engine behavior
	Repair RepairConfig `mapstructure:"repair"`

	// Resilience controller behavior
	Resilience ResilienceConfig `mapstructure:"resilience"`

	// Pipeline orchestration
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Extraction sink
	Extract ExtractConfig `mapstructure:"extract"`

	// Monitor feed
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Logging
	Log LogConfig `mapstructure:"log"`
}

// StreamConfig for chunked reading and memory estimation.
type StreamConfig struct {
	ChunkSize    int   `mapstructure:"chunk_size" validate:"gt=0"`
	MemoryBudget int64 `mapstructure:"memory_budget" validate:"gt=0"`

	// Estimation heuristics. Defaults model one chunk in flight, one
	// buffered, one being consumed.
	PeakMultiplier    int     `mapstructure:"peak_multiplier" validate:"gte=1"`
	SafetyFraction    float64 `mapstructure:"safety_fraction" validate:"gt=0,lte=1"`
	RecommendFraction float64 `mapstructure:"recommend_fraction" validate:"gt=0,lte=1"`
}

// RepairConfig for the repair strategies.
type RepairConfig struct {
	// Tokens scanned past an open tag before giving up on its closer.
	TagLookahead int `mapstructure:"tag_lookahead" validate:"gt=0"`

	// Results below this confidence mark nodes as partially recovered.
	MinConfidence float64 `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
}

// ResilienceConfig for queueing, breakers, retries, and pools.
type ResilienceConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" validate:"gt=0"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	MaxTimeout       time.Duration `mapstructure:"max_timeout" validate:"gt=0"`

	RetryAttempts int           `mapstructure:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" validate:"gt=0"`

	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gt=0"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period" validate:"gt=0"`

	PoolSize int `mapstructure:"pool_size" validate:"gt=0"`

	// Dispatch throttle in operations per second. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`

	Adaptive         bool          `mapstructure:"adaptive"`
	AdaptiveInterval time.Duration `mapstructure:"adaptive_interval" validate:"gt=0"`
	ConcurrencyCap   int           `mapstructure:"concurrency_cap" validate:"gt=0"`
	BatchSize        int           `mapstructure:"batch_size" validate:"gt=0"`
}

// PipelineConfig for archive orchestration.
type PipelineConfig struct {
	HistoryLimit int `mapstructure:"history_limit" validate:"gt=0"`
	EventBuffer  int `mapstructure:"event_buffer" validate:"gt=0"`

	// Max file size accepted for in-memory parsing.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"gt=0"`
}

// ExtractConfig for writing parsed trees to disk.
type ExtractConfig struct {
	// overwrite, rename, skip, or error
	Conflict      string `mapstructure:"conflict" validate:"oneof=overwrite rename skip error"`
	PreserveTimes bool   `mapstructure:"preserve_times"`
}

// MonitorConfig for the transition feed endpoint.
type MonitorConfig struct {
	Listen       string        `mapstructure:"listen" validate:"required"`
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gt=0"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`    // Max log file size in MB
	MaxBackups int    `mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `mapstructure:"max_age"`     // Max age in days
	Color      bool   `mapstructure:"color"`       // Enable colored output
	Timestamp  bool   `mapstructure:"timestamp"`   // Include timestamps
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			ChunkSize:         1024 * 1024, // 1MB chunks
			MemoryBudget:      512 * 1024 * 1024,
			PeakMultiplier:    3,
			SafetyFraction:    0.10,
			RecommendFraction: 0.03,
		},
		Repair: RepairConfig{
			TagLookahead:  512,
			MinConfidence: 0.5,
		},
		Resilience: ResilienceConfig{
			MaxConcurrent:    5,
			OperationTimeout: 30 * time.Second,
			MaxTimeout:       2 * time.Minute,
			RetryAttempts:    3,
			RetryDelay:       time.Second,
			MaxRetryDelay:    30 * time.Second,
			FailureThreshold: 5,
			CooldownPeriod:   30 * time.Second,
			PoolSize:         4,
			RateLimit:        0,
			RateBurst:        1,
			Adaptive:         false,
			AdaptiveInterval: 10 * time.Second,
			ConcurrencyCap:   32,
			BatchSize:        10,
		},
		Pipeline: PipelineConfig{
			HistoryLimit: 50,
			EventBuffer:  100,
			MaxFileSize:  100 * 1024 * 1024, // 100MB
		},
		Extract: ExtractConfig{
			Conflict:      "error",
			PreserveTimes: true,
		},
		Monitor: MonitorConfig{
			Listen:       "127.0.0.1:8787",
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   16,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
			Timestamp:  true,
		},
	}
}

// Validate checks configuration validity beyond struct tags.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}

	if c.Resilience.MaxRetryDelay < c.Resilience.RetryDelay {
		return errors.New("resilience.max_retry_delay must not be below resilience.retry_delay")
	}

	if c.Resilience.MaxTimeout < c.Resilience.OperationTimeout {
		return errors.New("resilience.max_timeout must not be below resilience.operation_timeout")
	}

	if c.Resilience.ConcurrencyCap < c.Resilience.MaxConcurrent {
		return fmt.Errorf("resilience.concurrency_cap %d below max_concurrent %d",
			c.Resilience.ConcurrencyCap, c.Resilience.MaxConcurrent)
	}

	if int64(c.Stream.ChunkSize) > c.Pipeline.MaxFileSize {
		return errors.New("stream.chunk_size exceeds pipeline.max_file_size")
	}

	return nil
}
