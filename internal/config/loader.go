package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SKETCHD_CACHE_DIR.
const EnvPrefix = "sketchd"

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr" envconfig:"addr"`
	SketchesDir string `json:"sketches_dir" yaml:"sketches_dir" toml:"sketches_dir" envconfig:"sketches_dir"`
	ExamplesDir string `json:"examples_dir" yaml:"examples_dir" toml:"examples_dir" envconfig:"examples_dir"`
	// Script file extension, including the dot.
	ScriptExt string `json:"script_ext" yaml:"script_ext" toml:"script_ext" envconfig:"script_ext"`

	Log        LogConfig       `json:"log" yaml:"log" toml:"log" envconfig:"log"`
	Cache      CacheConfig     `json:"cache" yaml:"cache" toml:"cache" envconfig:"cache"`
	Executor   ExecutorConfig  `json:"executor" yaml:"executor" toml:"executor" envconfig:"executor"`
	Watcher    WatcherConfig   `json:"watcher" yaml:"watcher" toml:"watcher" envconfig:"watcher"`
	Thumbnails ThumbnailConfig `json:"thumbnails" yaml:"thumbnails" toml:"thumbnails" envconfig:"thumbnails"`
	HTTP       HTTPConfig      `json:"http" yaml:"http" toml:"http" envconfig:"http"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `json:"level" yaml:"level" toml:"level" envconfig:"level"`
	// console or json
	Format string `json:"format" yaml:"format" toml:"format" envconfig:"format"`
}

type CacheConfig struct {
	Dir                  string `json:"dir" yaml:"dir" toml:"dir" envconfig:"dir"`
	MaxVersionsPerSketch int    `json:"max_versions_per_sketch" yaml:"max_versions_per_sketch" toml:"max_versions_per_sketch" envconfig:"max_versions_per_sketch"`
	MaxTotalSizeMB       int    `json:"max_total_size_mb" yaml:"max_total_size_mb" toml:"max_total_size_mb" envconfig:"max_total_size_mb"`
	// Negative disables age-based cleanup.
	MaxAgeHours     int `json:"max_age_hours" yaml:"max_age_hours" toml:"max_age_hours" envconfig:"max_age_hours"`
	ThumbnailWidth  int `json:"thumbnail_width" yaml:"thumbnail_width" toml:"thumbnail_width" envconfig:"thumbnail_width"`
	ThumbnailHeight int `json:"thumbnail_height" yaml:"thumbnail_height" toml:"thumbnail_height" envconfig:"thumbnail_height"`
}

type ExecutorConfig struct {
	// subprocess or placeholder
	Mode         string   `json:"mode" yaml:"mode" toml:"mode" envconfig:"mode"`
	Command      string   `json:"command" yaml:"command" toml:"command" envconfig:"command"`
	Args         []string `json:"args" yaml:"args" toml:"args" envconfig:"args"`
	ValidateArgs []string `json:"validate_args" yaml:"validate_args" toml:"validate_args" envconfig:"validate_args"`
	// Run pre-flight validation before every execution.
	Preflight              bool     `json:"preflight" yaml:"preflight" toml:"preflight" envconfig:"preflight"`
	TimeoutSeconds         int      `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds" envconfig:"timeout_seconds"`
	ValidateTimeoutSeconds int      `json:"validate_timeout_seconds" yaml:"validate_timeout_seconds" toml:"validate_timeout_seconds" envconfig:"validate_timeout_seconds"`
	OutputDirs             []string `json:"output_dirs" yaml:"output_dirs" toml:"output_dirs" envconfig:"output_dirs"`
	ArtifactExtensions     []string `json:"artifact_extensions" yaml:"artifact_extensions" toml:"artifact_extensions" envconfig:"artifact_extensions"`
	SyntaxErrorPattern     string   `json:"syntax_error_pattern" yaml:"syntax_error_pattern" toml:"syntax_error_pattern" envconfig:"syntax_error_pattern"`
}

type WatcherConfig struct {
	DebounceMS     int  `json:"debounce_ms" yaml:"debounce_ms" toml:"debounce_ms" envconfig:"debounce_ms"`
	PollIntervalMS int  `json:"poll_interval_ms" yaml:"poll_interval_ms" toml:"poll_interval_ms" envconfig:"poll_interval_ms"`
	ForcePolling   bool `json:"force_polling" yaml:"force_polling" toml:"force_polling" envconfig:"force_polling"`
}

type ThumbnailConfig struct {
	Workers         int     `json:"workers" yaml:"workers" toml:"workers" envconfig:"workers"`
	MaxAttempts     int     `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts" envconfig:"max_attempts"`
	RetryDelayMS    int     `json:"retry_delay_ms" yaml:"retry_delay_ms" toml:"retry_delay_ms" envconfig:"retry_delay_ms"`
	RetryMultiplier float64 `json:"retry_multiplier" yaml:"retry_multiplier" toml:"retry_multiplier" envconfig:"retry_multiplier"`
	// Zero disables the periodic backfill scan.
	BackfillIntervalSeconds int  `json:"backfill_interval_seconds" yaml:"backfill_interval_seconds" toml:"backfill_interval_seconds" envconfig:"backfill_interval_seconds"`
	SkipStartupQueue        bool `json:"skip_startup_queue" yaml:"skip_startup_queue" toml:"skip_startup_queue" envconfig:"skip_startup_queue"`
}

type HTTPConfig struct {
	CORSEnabled            bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" envconfig:"cors_enabled"`
	CORSOrigins            []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" envconfig:"cors_origins"`
	CORSMethods            []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods" envconfig:"cors_methods"`
	CORSHeaders            []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers" envconfig:"cors_headers"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" envconfig:"shutdown_timeout_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overlays SKETCHD_* environment variables onto cfg. Unset
// variables leave the existing value untouched.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	return nil
}

// Resolve loads path (optional), applies environment overrides, fills defaults
// and validates the result.
func Resolve(path string) (Config, error) {
	var cfg Config
	if path != "" {
		c, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values that ApplyDefaults cannot repair.
func (c Config) Validate() error {
	switch c.Executor.Mode {
	case ExecutorSubprocess, ExecutorPlaceholder:
	default:
		return fmt.Errorf("executor.mode must be %q or %q, got %q", ExecutorSubprocess, ExecutorPlaceholder, c.Executor.Mode)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if _, err := regexp.Compile(c.Executor.SyntaxErrorPattern); err != nil {
		return fmt.Errorf("executor.syntax_error_pattern: %w", err)
	}
	if c.Thumbnails.RetryMultiplier < 1 {
		return fmt.Errorf("thumbnails.retry_multiplier must be >= 1, got %v", c.Thumbnails.RetryMultiplier)
	}
	return nil
}
