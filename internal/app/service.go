package app

import (
	"context"
	"errors"

	"sketchd/internal/broadcast"
	"sketchd/internal/cache"
	"sketchd/internal/thumbnail"
	"sketchd/pkg/types"
)

func previewInfo(e cache.Entry) *types.PreviewInfo {
	return &types.PreviewInfo{
		Version:      e.Version,
		ImageURL:     e.ImageURL(),
		ThumbnailURL: e.ThumbnailURL(),
		SizeBytes:    e.Size,
		CreatedAt:    e.CreatedAt.Unix(),
	}
}

// ListSketches returns every known sketch with its current preview.
func (a *App) ListSketches() (types.SketchesResponse, error) {
	sketches, err := a.registry.Scan()
	if err != nil {
		return types.SketchesResponse{}, err
	}
	out := types.SketchesResponse{Sketches: make([]types.SketchInfo, 0, len(sketches))}
	for _, s := range sketches {
		info := types.SketchInfo{Name: s.Name, Source: s.Source}
		if e, ok := a.cache.Current(s.Name); ok {
			info.Current = previewInfo(e)
		}
		out.Sketches = append(out.Sketches, info)
	}
	return out, nil
}

// SketchStatus describes one sketch.
func (a *App) SketchStatus(name string) (types.SketchStatus, error) {
	if _, err := a.registry.Resolve(name); err != nil {
		return types.SketchStatus{}, classify(name, err)
	}
	st := types.SketchStatus{
		Name:        name,
		Watching:    a.orchestrator.IsWatching(name),
		Subscribers: a.broadcaster.Count(name),
		Versions:    []int64{},
	}
	for _, e := range a.cache.Versions(name) {
		st.Versions = append(st.Versions, e.Version)
	}
	if e, ok := a.cache.Current(name); ok {
		st.Current = previewInfo(e)
	}
	return st, nil
}

// Execute forces a run of name and reports its outcome. Execution failures
// are part of the response; only lookup and admission failures are errors.
func (a *App) Execute(ctx context.Context, name string) (types.ExecuteResponse, error) {
	s, err := a.registry.Resolve(name)
	if err != nil {
		return types.ExecuteResponse{}, classify(name, err)
	}
	out, err := a.orchestrator.ForceExecute(ctx, name, s.Path)
	if err != nil {
		return types.ExecuteResponse{}, classify(name, err)
	}
	resp := types.ExecuteResponse{
		Sketch:        name,
		Success:       out.Success,
		Kind:          out.Kind,
		Error:         out.Error,
		ExecutionTime: float64(out.Elapsed.Milliseconds()) / 1000,
	}
	if out.Success {
		resp.Version = out.Entry.Version
		resp.ImageURL = out.Entry.ImageURL()
		resp.ThumbnailURL = out.Entry.ThumbnailURL()
	}
	return resp, nil
}

func (a *App) CacheStats() types.CacheStats { return a.cache.Stats() }

func (a *App) QueueStatus() types.QueueStatus { return a.thumbnails.Status() }

// QueueThumbnails enqueues every known sketch lacking a thumbnail.
func (a *App) QueueThumbnails() (types.QueueThumbnailsResponse, error) {
	sketches, err := a.registry.Scan()
	if err != nil {
		return types.QueueThumbnailsResponse{}, err
	}
	n := a.thumbnails.EnqueueMany(sketches, thumbnail.High, thumbnail.Medium)
	return types.QueueThumbnailsResponse{Queued: n, Total: len(sketches)}, nil
}

// GenerateThumbnail produces the thumbnail for name synchronously,
// executing the sketch first when nothing is cached.
func (a *App) GenerateThumbnail(ctx context.Context, name string) (types.ThumbnailResponse, error) {
	s, err := a.registry.Resolve(name)
	if err != nil {
		return types.ThumbnailResponse{}, classify(name, err)
	}
	e, err := a.orchestrator.GenerateThumbnail(ctx, name, s.Path)
	if err != nil {
		err = classify(name, err)
		if IsSketchNotFound(err) || IsUnavailable(err) || ctx.Err() != nil {
			return types.ThumbnailResponse{}, err
		}
		// execution failures are reported in the body
		return types.ThumbnailResponse{Sketch: name, Error: err.Error()}, nil
	}
	a.broadcaster.Publish(name, broadcast.Event{Type: broadcast.TypeThumbnailUpdated, Fields: map[string]any{
		"sketch_name":   name,
		"success":       true,
		"thumbnail_url": e.ThumbnailURL(),
	}})
	return types.ThumbnailResponse{Sketch: name, Success: true, ThumbnailURL: e.ThumbnailURL()}, nil
}

// LiveStats summarizes connections, watches and executions.
func (a *App) LiveStats() types.LiveStats {
	return types.LiveStats{
		Connections: a.broadcaster.Stats(),
		Watching:    a.orchestrator.Watching(),
		WatcherMode: a.watcher.Mode(),
		Execution:   a.orchestrator.Stats(),
	}
}

// Subscribe attaches t to name, starts watching its script and, when no
// preview is cached yet, triggers an initial execution.
func (a *App) Subscribe(name string, t broadcast.Transport) (*broadcast.Subscriber, error) {
	s, err := a.registry.Resolve(name)
	if err != nil {
		return nil, classify(name, err)
	}
	sub, err := a.broadcaster.Subscribe(name, t)
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			return nil, unavailableError{msg: "server is shutting down"}
		}
		return nil, err
	}
	if err := a.orchestrator.StartWatching(name, s.Path); err != nil {
		a.log.Warn().Err(err).Str("sketch", name).Msg("start watching failed")
	} else if a.broadcaster.Count(name) == 0 {
		// everyone left while the watch was being set up
		a.orchestrator.StopWatching(name)
	}
	if _, ok := a.cache.Current(name); !ok {
		go func() {
			if _, err := a.orchestrator.ForceExecute(context.Background(), name, s.Path); err != nil {
				a.log.Debug().Err(err).Str("sketch", name).Msg("initial execution skipped")
			}
		}()
	}
	return sub, nil
}

func (a *App) Unsubscribe(sub *broadcast.Subscriber) { a.broadcaster.Unsubscribe(sub) }

func (a *App) HandleMessage(sub *broadcast.Subscriber, raw []byte) error {
	return a.broadcaster.HandleMessage(sub, raw)
}

// Lookup resolves a served artifact or thumbnail file name.
func (a *App) Lookup(file string) (string, error) { return a.cache.Lookup(file) }
