package config

import "strings"

// Executor modes.
const (
	ExecutorSubprocess  = "subprocess"
	ExecutorPlaceholder = "placeholder"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultAddr                 = ":8083"
	DefaultSketchesDir          = "./sketches"
	DefaultScriptExt            = ".py"
	DefaultCacheDir             = "./.sketchd/cache"
	DefaultMaxVersionsPerSketch = 5
	DefaultMaxTotalSizeMB       = 100
	DefaultMaxAgeHours          = 24
	DefaultThumbnailWidth       = 300
	DefaultThumbnailHeight      = 200
	DefaultCommand              = "python3"
	DefaultTimeoutSeconds       = 30
	DefaultValidateTimeout      = 10
	DefaultSyntaxErrorPattern   = `(?i)(syntax|indentation|tab) ?error`
	DefaultDebounceMS           = 300
	DefaultPollIntervalMS       = 100
	DefaultWorkers              = 2
	DefaultMaxAttempts          = 3
	DefaultRetryDelayMS         = 5000
	DefaultRetryMultiplier      = 2.0
	DefaultShutdownTimeout      = 5
)

var (
	defaultValidateArgs       = []string{"-m", "py_compile"}
	defaultOutputDirs         = []string{".", "output"}
	defaultArtifactExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".pdf", ".svg"}
)

// Default returns a Config with every field set to its default.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified (zero) fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.SketchesDir == "" {
		c.SketchesDir = DefaultSketchesDir
	}
	if c.ScriptExt == "" {
		c.ScriptExt = DefaultScriptExt
	}
	if !strings.HasPrefix(c.ScriptExt, ".") {
		c.ScriptExt = "." + c.ScriptExt
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.Cache.MaxVersionsPerSketch <= 0 {
		c.Cache.MaxVersionsPerSketch = DefaultMaxVersionsPerSketch
	}
	if c.Cache.MaxTotalSizeMB <= 0 {
		c.Cache.MaxTotalSizeMB = DefaultMaxTotalSizeMB
	}
	if c.Cache.MaxAgeHours == 0 {
		c.Cache.MaxAgeHours = DefaultMaxAgeHours
	}
	if c.Cache.ThumbnailWidth <= 0 {
		c.Cache.ThumbnailWidth = DefaultThumbnailWidth
	}
	if c.Cache.ThumbnailHeight <= 0 {
		c.Cache.ThumbnailHeight = DefaultThumbnailHeight
	}

	if c.Executor.Mode == "" {
		c.Executor.Mode = ExecutorSubprocess
	}
	if c.Executor.Command == "" {
		c.Executor.Command = DefaultCommand
		if c.Executor.ValidateArgs == nil {
			c.Executor.ValidateArgs = append([]string(nil), defaultValidateArgs...)
		}
	}
	if c.Executor.TimeoutSeconds <= 0 {
		c.Executor.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Executor.ValidateTimeoutSeconds <= 0 {
		c.Executor.ValidateTimeoutSeconds = DefaultValidateTimeout
	}
	if len(c.Executor.OutputDirs) == 0 {
		c.Executor.OutputDirs = append([]string(nil), defaultOutputDirs...)
	}
	if len(c.Executor.ArtifactExtensions) == 0 {
		c.Executor.ArtifactExtensions = append([]string(nil), defaultArtifactExtensions...)
	}
	if c.Executor.SyntaxErrorPattern == "" {
		c.Executor.SyntaxErrorPattern = DefaultSyntaxErrorPattern
	}

	if c.Watcher.DebounceMS <= 0 {
		c.Watcher.DebounceMS = DefaultDebounceMS
	}
	if c.Watcher.PollIntervalMS <= 0 {
		c.Watcher.PollIntervalMS = DefaultPollIntervalMS
	}

	if c.Thumbnails.Workers <= 0 {
		c.Thumbnails.Workers = DefaultWorkers
	}
	if c.Thumbnails.MaxAttempts <= 0 {
		c.Thumbnails.MaxAttempts = DefaultMaxAttempts
	}
	if c.Thumbnails.RetryDelayMS <= 0 {
		c.Thumbnails.RetryDelayMS = DefaultRetryDelayMS
	}
	if c.Thumbnails.RetryMultiplier == 0 {
		c.Thumbnails.RetryMultiplier = DefaultRetryMultiplier
	}

	if c.HTTP.ShutdownTimeoutSeconds <= 0 {
		c.HTTP.ShutdownTimeoutSeconds = DefaultShutdownTimeout
	}
}
