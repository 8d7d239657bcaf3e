package httpapi

import "time"

// maxMessageBytes caps a single inbound WebSocket message.
var maxMessageBytes int64 = 64 << 10

// SetMaxMessageBytes configures the inbound WebSocket message limit.
func SetMaxMessageBytes(n int64) {
	if n <= 0 {
		maxMessageBytes = 64 << 10
		return
	}
	maxMessageBytes = n
}

// writeTimeout bounds each WebSocket send so a stalled client cannot hold a
// broadcast.
var writeTimeout = 10 * time.Second

// SetWriteTimeout sets the per-send WebSocket deadline (non-positive restores
// the default).
func SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = 10 * time.Second
	}
	writeTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
