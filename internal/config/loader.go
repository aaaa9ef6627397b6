package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from file, environment, and defaults.
//
// Precedence (highest to lowest): environment variables (ARCMILL_*), the
// configuration file, built-in defaults.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "ARCMILL",
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	l.setupViper(v)
	l.bindDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setupViper configures environment variables and config file search.
func (l *Loader) setupViper(v *viper.Viper) {
	// Environment variables use the ARCMILL_ prefix with underscores.
	// Example: ARCMILL_LOG_LEVEL=debug
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		return
	}

	for _, dir := range defaultConfigDirs() {
		v.AddConfigPath(dir)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindDefaults registers every key so AutomaticEnv can see it even when
// the config file omits the section.
func (l *Loader) bindDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("stream.chunk_size", defaults.Stream.ChunkSize)
	v.SetDefault("stream.memory_budget", defaults.Stream.MemoryBudget)
	v.SetDefault("stream.peak_multiplier", defaults.Stream.PeakMultiplier)
	v.SetDefault("stream.safety_fraction", defaults.Stream.SafetyFraction)
	v.SetDefault("stream.recommend_fraction", defaults.Stream.RecommendFraction)

	v.SetDefault("repair.tag_lookahead", defaults.Repair.TagLookahead)
	v.SetDefault("repair.min_confidence", defaults.Repair.MinConfidence)

	v.SetDefault("resilience.max_concurrent", defaults.Resilience.MaxConcurrent)
	v.SetDefault("resilience.operation_timeout", defaults.Resilience.OperationTimeout)
	v.SetDefault("resilience.max_timeout", defaults.Resilience.MaxTimeout)
	v.SetDefault("resilience.retry_attempts", defaults.Resilience.RetryAttempts)
	v.SetDefault("resilience.retry_delay", defaults.Resilience.RetryDelay)
	v.SetDefault("resilience.max_retry_delay", defaults.Resilience.MaxRetryDelay)
	v.SetDefault("resilience.failure_threshold", defaults.Resilience.FailureThreshold)
	v.SetDefault("resilience.cooldown_period", defaults.Resilience.CooldownPeriod)
	v.SetDefault("resilience.pool_size", defaults.Resilience.PoolSize)
	v.SetDefault("resilience.rate_limit", defaults.Resilience.RateLimit)
	v.SetDefault("resilience.rate_burst", defaults.Resilience.RateBurst)
	v.SetDefault("resilience.adaptive", defaults.Resilience.Adaptive)
	v.SetDefault("resilience.adaptive_interval", defaults.Resilience.AdaptiveInterval)
	v.SetDefault("resilience.concurrency_cap", defaults.Resilience.ConcurrencyCap)
	v.SetDefault("resilience.batch_size", defaults.Resilience.BatchSize)

	v.SetDefault("pipeline.history_limit", defaults.Pipeline.HistoryLimit)
	v.SetDefault("pipeline.event_buffer", defaults.Pipeline.EventBuffer)
	v.SetDefault("pipeline.max_file_size", defaults.Pipeline.MaxFileSize)

	v.SetDefault("extract.conflict", defaults.Extract.Conflict)
	v.SetDefault("extract.preserve_times", defaults.Extract.PreserveTimes)

	v.SetDefault("monitor.listen", defaults.Monitor.Listen)
	v.SetDefault("monitor.ping_interval", defaults.Monitor.PingInterval)
	v.SetDefault("monitor.write_timeout", defaults.Monitor.WriteTimeout)
	v.SetDefault("monitor.send_buffer", defaults.Monitor.SendBuffer)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.max_size", defaults.Log.MaxSize)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age", defaults.Log.MaxAge)
	v.SetDefault("log.color", defaults.Log.Color)
	v.SetDefault("log.timestamp", defaults.Log.Timestamp)
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config file is fine, defaults apply.
			return nil
		}
		// A config path that points at nothing is also fine.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// defaultConfigDirs returns config file search locations.
func defaultConfigDirs() []string {
	dirs := []string{"."}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "arcmill"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "arcmill"))
	}

	return dirs
}

// DefaultConfigPath returns the preferred config file location.
func DefaultConfigPath() string {
	dirs := defaultConfigDirs()
	return filepath.Join(dirs[len(dirs)-1], "config.yaml")
}
