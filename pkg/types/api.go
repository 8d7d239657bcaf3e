package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: sketch not found: spiral
	Error string `json:"error" example:"sketch not found: spiral"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// PreviewInfo describes one stored artifact version.
type PreviewInfo struct {
	// Version identifier (epoch milliseconds).
	// example: 1700000000123
	Version int64 `json:"version" example:"1700000000123"`
	// URL of the artifact, cache-busted with the version.
	// example: /preview/spiral_v1700000000123.png?v=1700000000123
	ImageURL string `json:"image_url" example:"/preview/spiral_v1700000000123.png?v=1700000000123"`
	// URL of the thumbnail, when one exists.
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	// Artifact size in bytes.
	// example: 20480
	SizeBytes int64 `json:"size_bytes" example:"20480"`
	// Creation time (unix seconds).
	// example: 1700000000
	CreatedAt int64 `json:"created_at_unix" example:"1700000000"`
}

// SketchInfo is one element of GET /sketches.
type SketchInfo struct {
	Name    string       `json:"name" example:"spiral"`
	Source  string       `json:"source" example:"sketch"`
	Current *PreviewInfo `json:"current,omitempty"`
}

// SketchesResponse wraps the list returned by GET /sketches.
type SketchesResponse struct {
	Sketches []SketchInfo `json:"sketches"`
}

// SketchStatus is returned by GET /status/{sketch}.
type SketchStatus struct {
	Name        string       `json:"name" example:"spiral"`
	Watching    bool         `json:"watching"`
	Subscribers int          `json:"subscribers"`
	Current     *PreviewInfo `json:"current,omitempty"`
	// Stored versions, newest first.
	Versions []int64 `json:"versions"`
}

// ExecuteResponse is returned by POST /execute/{sketch}.
type ExecuteResponse struct {
	Sketch       string `json:"sketch" example:"spiral"`
	Success      bool   `json:"success" example:"true"`
	Version      int64  `json:"version,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	// Failure class: not_found, syntax_error, runtime_error, timeout, no_artifact.
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
	// Wall-clock execution time in seconds.
	// example: 0.42
	ExecutionTime float64 `json:"execution_time" example:"0.42"`
}

// CacheStats summarizes the artifact cache.
type CacheStats struct {
	TotalSketches        int     `json:"total_sketches" example:"3"`
	TotalVersions        int     `json:"total_versions" example:"9"`
	TotalSizeMB          float64 `json:"total_size_mb" example:"1.25"`
	MaxSizeMB            int     `json:"max_size_mb" example:"100"`
	MaxVersionsPerSketch int     `json:"max_versions_per_sketch" example:"5"`
	MaxAgeHours          int     `json:"max_age_hours" example:"24"`
	CacheDir             string  `json:"cache_dir"`
}

// QueueStats are cumulative thumbnail worker counters.
type QueueStats struct {
	TotalTasks     int64 `json:"total_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	SkippedTasks   int64 `json:"skipped_tasks"`
	// Seconds spent generating thumbnails.
	TotalExecutionTime float64 `json:"total_execution_time"`
	// Pool start time (unix seconds), zero when never started.
	StartedAt int64 `json:"started_at_unix"`
}

// QueueStatus is returned by GET /thumbnail-status.
type QueueStatus struct {
	TotalQueued int `json:"total_queued"`
	ActiveTasks int `json:"active_tasks"`
	// Queued task counts keyed by high, medium, low.
	ByPriority map[string]int `json:"by_priority"`
	Stats      QueueStats     `json:"stats"`
	IsRunning  bool           `json:"is_running"`
}

// QueueThumbnailsResponse is returned by POST /queue-thumbnails.
type QueueThumbnailsResponse struct {
	Queued int `json:"queued"`
	Total  int `json:"total"`
}

// ThumbnailResponse is returned by POST /generate-thumbnail/{sketch}.
type ThumbnailResponse struct {
	Sketch       string `json:"sketch"`
	Success      bool   `json:"success"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ConnectionStats summarizes live subscribers.
type ConnectionStats struct {
	TotalConnections  int64          `json:"total_connections"`
	ActiveConnections int            `json:"active_connections"`
	ActiveSketches    int            `json:"active_sketches"`
	UptimeSeconds     int64          `json:"uptime_seconds"`
	Sketches          map[string]int `json:"sketches"`
}

// ExecutionStats are cumulative orchestrator counters.
type ExecutionStats struct {
	TotalExecutions      int64   `json:"total_executions"`
	SuccessfulExecutions int64   `json:"successful_executions"`
	FailedExecutions     int64   `json:"failed_executions"`
	TotalExecutionTime   float64 `json:"total_execution_time"`
}

// LiveStats is returned by GET /live-stats.
type LiveStats struct {
	Connections ConnectionStats `json:"connections"`
	Watching    []string        `json:"watching"`
	WatcherMode string          `json:"watcher_mode" example:"native"`
	Execution   ExecutionStats  `json:"execution"`
}
