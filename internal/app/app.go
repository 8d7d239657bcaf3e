// Package app owns every live-preview component, wires their callbacks and
// serves the HTTP layer.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/broadcast"
	"sketchd/internal/cache"
	"sketchd/internal/config"
	"sketchd/internal/executor"
	"sketchd/internal/orchestrator"
	"sketchd/internal/registry"
	"sketchd/internal/thumbnail"
	"sketchd/internal/watcher"
)

// App is the composition root.
type App struct {
	cfg config.Config
	log zerolog.Logger

	registry     *registry.Registry
	cache        *cache.Cache
	runner       executor.Runner
	watcher      *watcher.Watcher
	broadcaster  *broadcast.Broadcaster
	orchestrator *orchestrator.Orchestrator
	thumbnails   *thumbnail.Pool

	ready        atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every component from cfg. cfg must already carry defaults.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	reg, err := registry.New(cfg.SketchesDir, cfg.ExamplesDir, cfg.ScriptExt)
	if err != nil {
		return nil, err
	}
	c, err := NewCache(cfg, component(log, "cache"))
	if err != nil {
		return nil, err
	}
	runner, err := NewRunner(cfg, component(log, "executor"))
	if err != nil {
		return nil, err
	}
	return assemble(cfg, log, reg, c, runner)
}

// NewCache opens the artifact cache described by cfg.
func NewCache(cfg config.Config, log zerolog.Logger) (*cache.Cache, error) {
	return cache.New(cache.Config{
		Dir:                  cfg.Cache.Dir,
		MaxVersionsPerSketch: cfg.Cache.MaxVersionsPerSketch,
		MaxTotalSizeMB:       cfg.Cache.MaxTotalSizeMB,
		MaxAgeHours:          cfg.Cache.MaxAgeHours,
		ThumbnailWidth:       cfg.Cache.ThumbnailWidth,
		ThumbnailHeight:      cfg.Cache.ThumbnailHeight,
		Logger:               log,
	})
}

// assemble wires the long-lived components around prebuilt leaves.
func assemble(cfg config.Config, log zerolog.Logger, reg *registry.Registry, c *cache.Cache, runner executor.Runner) (*App, error) {
	w := watcher.New(watcher.Config{
		Debounce:     time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond,
		PollInterval: time.Duration(cfg.Watcher.PollIntervalMS) * time.Millisecond,
		ForcePolling: cfg.Watcher.ForcePolling,
		Logger:       component(log, "watcher"),
	})
	b := broadcast.New(broadcast.Config{Source: c, Logger: component(log, "broadcast")})
	o, err := orchestrator.New(orchestrator.Config{
		Runner:    runner,
		Cache:     c,
		Watcher:   w,
		Publisher: b,
		Timeout:   time.Duration(cfg.Executor.TimeoutSeconds) * time.Second,
		Preflight: cfg.Executor.Preflight,
		Logger:    component(log, "orchestrator"),
	})
	if err != nil {
		w.Stop()
		return nil, err
	}
	b.SetOnEmpty(o.StopWatching)

	pool, err := thumbnail.New(thumbnail.Config{
		Workers:          cfg.Thumbnails.Workers,
		MaxAttempts:      cfg.Thumbnails.MaxAttempts,
		RetryDelay:       time.Duration(cfg.Thumbnails.RetryDelayMS) * time.Millisecond,
		RetryMultiplier:  cfg.Thumbnails.RetryMultiplier,
		BackfillInterval: time.Duration(cfg.Thumbnails.BackfillIntervalSeconds) * time.Second,
		Generate:         o.GenerateThumbnail,
		Index:            c,
		Resolve:          reg.Path,
		Logger:           component(log, "thumbnails"),
	})
	if err != nil {
		w.Stop()
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		cache:        c,
		runner:       runner,
		watcher:      w,
		broadcaster:  b,
		orchestrator: o,
		thumbnails:   pool,
	}
	pool.OnComplete(a.onThumbnail)
	return a, nil
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// onThumbnail announces a finished thumbnail task to the sketch's viewers.
func (a *App) onThumbnail(r thumbnail.TaskResult) {
	fields := map[string]any{
		"sketch_name": r.Sketch,
		"success":     r.Success,
	}
	if r.ThumbnailURL != "" {
		fields["thumbnail_url"] = r.ThumbnailURL
	}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	a.broadcaster.Publish(r.Sketch, broadcast.Event{Type: broadcast.TypeThumbnailUpdated, Fields: fields})
}

// Start launches background work and queues startup thumbnails: user
// sketches first, then examples.
func (a *App) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.thumbnails.Start()
	if !a.cfg.Thumbnails.SkipStartupQueue {
		sketches, err := a.registry.Scan()
		if err != nil {
			a.log.Warn().Err(err).Msg("startup scan failed; no thumbnails queued")
		} else {
			n := a.thumbnails.EnqueueMany(sketches, thumbnail.High, thumbnail.Medium)
			a.log.Info().Int("queued", n).Int("sketches", len(sketches)).Msg("startup thumbnails queued")
		}
	}
	a.ready.Store(true)
	return nil
}

// Ready reports whether Start completed and Shutdown has not begun.
func (a *App) Ready() bool { return a.ready.Load() }

// Shutdown stops accepting work, cancels pending debounces and queued
// thumbnails, lets in-flight executions finish, then releases handles.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.ready.Store(false)
		var errs []error
		if err := a.orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.thumbnails.Stop()
		a.broadcaster.Shutdown()
		a.watcher.Stop()
		a.shutdownErr = errors.Join(errs...)
		a.log.Info().Msg("shutdown complete")
	})
	return a.shutdownErr
}

// Cache exposes the artifact cache to CLI maintenance commands.
func (a *App) Cache() *cache.Cache { return a.cache }
