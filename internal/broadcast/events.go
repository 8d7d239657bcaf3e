package broadcast

import (
	"encoding/json"
	"time"

	"sketchd/internal/cache"
)

// Event types sent to subscribers.
const (
	TypeConnectionConfirmed = "connection_confirmed"
	TypeExecutionStarted    = "execution_started"
	TypePreviewUpdated      = "preview_updated"
	TypeExecutionError      = "execution_error"
	TypeThumbnailUpdated    = "thumbnail_updated"
	TypeNoPreview           = "no_preview"
	TypePong                = "pong"
	TypeError               = "error"
	TypeServerShutdown      = "server_shutdown"
)

// Event is one JSON message. Fields are flattened next to type, sketch and
// timestamp on the wire.
type Event struct {
	Type      string
	Sketch    string
	Fields    map[string]any
	Timestamp time.Time
}

// MarshalJSON flattens Fields; the reserved keys always win.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["type"] = e.Type
	if e.Sketch != "" {
		m["sketch"] = e.Sketch
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m["timestamp"] = float64(ts.Unix()) + float64(ts.Nanosecond())/1e9
	return json.Marshal(m)
}

// PreviewUpdated builds the preview_updated event for a cache entry. extra
// fields (execution_time, pages) are merged in.
func PreviewUpdated(e cache.Entry, extra map[string]any) Event {
	f := map[string]any{
		"status":    "success",
		"version":   e.Version,
		"image_url": e.ImageURL(),
	}
	if u := e.ThumbnailURL(); u != "" {
		f["thumbnail_url"] = u
	}
	for k, v := range extra {
		f[k] = v
	}
	return Event{Type: TypePreviewUpdated, Sketch: e.Sketch, Fields: f}
}

// Publisher is the narrow interface the orchestrator publishes through.
type Publisher interface {
	Publish(sketch string, ev Event) int
}
