// Package httpapi exposes the live-preview service over HTTP and WebSocket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sketchd/internal/broadcast"
	"sketchd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	ListSketches() (types.SketchesResponse, error)
	SketchStatus(name string) (types.SketchStatus, error)
	Execute(ctx context.Context, name string) (types.ExecuteResponse, error)
	GenerateThumbnail(ctx context.Context, name string) (types.ThumbnailResponse, error)
	QueueStatus() types.QueueStatus
	QueueThumbnails() (types.QueueThumbnailsResponse, error)
	CacheStats() types.CacheStats
	LiveStats() types.LiveStats
	Lookup(file string) (string, error)

	Subscribe(name string, t broadcast.Transport) (*broadcast.Subscriber, error)
	Unsubscribe(sub *broadcast.Subscriber)
	HandleMessage(sub *broadcast.Subscriber, raw []byte) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	// JSON endpoints are compressed; images and the WebSocket are not.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/sketches", func(w http.ResponseWriter, r *http.Request) {
			resp, err := svc.ListSketches()
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, resp)
		})

		r.Get("/status/{sketch}", func(w http.ResponseWriter, r *http.Request) {
			st, err := svc.SketchStatus(chi.URLParam(r, "sketch"))
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, st)
		})

		r.Post("/execute/{sketch}", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "sketch")
			lvl := requestLogLevel(r)
			start := time.Now()
			logStart(r, lvl, "execute start", name)
			// Join server base context with request context so shutdown cancels waiting too.
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			resp, err := svc.Execute(ctx, name)
			if err != nil {
				// If context was canceled (client disconnect), just return.
				if r.Context().Err() != nil {
					return
				}
				status := statusFor(err)
				writeJSONError(w, status, err.Error())
				logEnd(r, lvl, "execute end", status, start, err)
				return
			}
			writeJSON(w, resp)
			logEnd(r, lvl, "execute end", http.StatusOK, start, nil)
		})

		r.Post("/generate-thumbnail/{sketch}", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "sketch")
			lvl := requestLogLevel(r)
			start := time.Now()
			logStart(r, lvl, "thumbnail start", name)
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			resp, err := svc.GenerateThumbnail(ctx, name)
			if err != nil {
				if r.Context().Err() != nil {
					return
				}
				status := statusFor(err)
				writeJSONError(w, status, err.Error())
				logEnd(r, lvl, "thumbnail end", status, start, err)
				return
			}
			writeJSON(w, resp)
			logEnd(r, lvl, "thumbnail end", http.StatusOK, start, nil)
		})

		r.Get("/thumbnail-status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.QueueStatus())
		})

		r.Post("/queue-thumbnails", func(w http.ResponseWriter, r *http.Request) {
			resp, err := svc.QueueThumbnails()
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, resp)
		})

		r.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.CacheStats())
		})

		r.Get("/live-stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.LiveStats())
		})
	})

	r.Get("/preview/{file}", fileHandler(svc, previewCacheControl))
	r.Get("/thumbnail/{file}", fileHandler(svc, thumbnailCacheControl))
	r.Get("/live/{sketch}", liveHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}
