// Package orchestrator binds file changes to executions of a named sketch,
// stores the artifacts and announces outcomes to subscribers.
//
// Executions of one sketch never overlap: each sketch owns a single-slot
// channel acting as its lock. Different sketches run concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/broadcast"
	"sketchd/internal/cache"
	"sketchd/internal/executor"
	"sketchd/internal/watcher"
	"sketchd/pkg/types"
)

// ErrClosed is returned once Shutdown has started.
var ErrClosed = errors.New("orchestrator shut down")

// Failure kinds reported in addition to executor kinds.
const (
	KindCache    = "cache_error"
	KindCanceled = "canceled"
)

// Trigger labels.
const (
	TriggerChange = "change"
	TriggerForce  = "force"
)

// Store is the part of the cache the orchestrator writes to.
type Store interface {
	Store(sketch string, data []byte) (cache.StoreResult, error)
	Current(sketch string) (cache.Entry, bool)
	GenerateThumbnail(sketch string, version int64) (cache.Entry, error)
}

// Watcher is the part of the file watcher the orchestrator drives.
type Watcher interface {
	Watch(path string, cb watcher.Callback) error
	Unwatch(path string)
}

// Config encapsulates all tunables for Orchestrator construction.
type Config struct {
	Runner    executor.Runner
	Cache     Store
	Watcher   Watcher
	Publisher broadcast.Publisher
	// Zero leaves the choice to the runner.
	Timeout time.Duration
	// Validate before every run.
	Preflight bool
	Logger    zerolog.Logger
}

// Outcome describes one finished execution.
type Outcome struct {
	Success bool
	Kind    string
	Error   string
	Entry   cache.Entry
	// Page-numbered artifacts produced; the first is stored.
	Pages   int
	Elapsed time.Duration
}

// Orchestrator coordinates runner, cache, watcher and publisher.
type Orchestrator struct {
	runner    executor.Runner
	cache     Store
	watcher   Watcher
	pub       broadcast.Publisher
	timeout   time.Duration
	preflight bool
	log       zerolog.Logger

	mu       sync.Mutex
	locks    map[string]chan struct{}
	watching map[string]string
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	statsMu sync.Mutex
	stats   types.ExecutionStats
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil || cfg.Cache == nil {
		return nil, errors.New("orchestrator: runner and cache are required")
	}
	o := &Orchestrator{
		runner:    cfg.Runner,
		cache:     cfg.Cache,
		watcher:   cfg.Watcher,
		pub:       cfg.Publisher,
		timeout:   cfg.Timeout,
		preflight: cfg.Preflight,
		log:       cfg.Logger,
		locks:     make(map[string]chan struct{}),
		watching:  make(map[string]string),
		stopCh:    make(chan struct{}),
	}
	if o.pub == nil {
		o.pub = noopPublisher{}
	}
	return o, nil
}

// StartWatching executes sketch whenever path changes. Calling it again for
// a watched sketch is a no-op.
func (o *Orchestrator) StartWatching(sketch, path string) error {
	if o.watcher == nil {
		return errors.New("orchestrator: no watcher configured")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.watching[sketch]; ok {
		return nil
	}
	if err := o.watcher.Watch(path, func(string) error {
		o.onChange(sketch, path)
		return nil
	}); err != nil {
		return fmt.Errorf("watch %s: %w", sketch, err)
	}
	o.watching[sketch] = path
	watchingGauge.Set(float64(len(o.watching)))
	o.log.Info().Str("sketch", sketch).Str("path", path).Msg("watching")
	return nil
}

// StopWatching removes the watch for sketch, if any.
func (o *Orchestrator) StopWatching(sketch string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	path, ok := o.watching[sketch]
	if !ok {
		return
	}
	delete(o.watching, sketch)
	watchingGauge.Set(float64(len(o.watching)))
	o.watcher.Unwatch(path)
	o.log.Info().Str("sketch", sketch).Msg("stopped watching")
}

// IsWatching reports whether sketch has an active watch.
func (o *Orchestrator) IsWatching(sketch string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.watching[sketch]
	return ok
}

// Watching lists watched sketches.
func (o *Orchestrator) Watching() []string {
	o.mu.Lock()
	out := make([]string, 0, len(o.watching))
	for s := range o.watching {
		out = append(out, s)
	}
	o.mu.Unlock()
	sort.Strings(out)
	return out
}

// onChange runs on the watcher's dispatcher and must return quickly.
func (o *Orchestrator) onChange(sketch, path string) {
	o.mu.Lock()
	if o.closed || o.watching[sketch] != path {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		o.execute(context.Background(), sketch, path, TriggerChange)
	}()
}

// ForceExecute runs sketch now, regardless of file changes, and waits for
// the outcome. The returned error is non-nil only when the run could not be
// admitted; execution failures are reported in the Outcome.
func (o *Orchestrator) ForceExecute(ctx context.Context, sketch, path string) (Outcome, error) {
	if err := o.enter(); err != nil {
		return Outcome{}, err
	}
	defer o.wg.Done()
	return o.execute(ctx, sketch, path, TriggerForce), nil
}

func (o *Orchestrator) enter() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.wg.Add(1)
	return nil
}

// acquire takes the single slot of sketch. Returns a release func.
func (o *Orchestrator) acquire(ctx context.Context, sketch string) (func(), error) {
	o.mu.Lock()
	ch := o.locks[sketch]
	if ch == nil {
		ch = make(chan struct{}, 1)
		o.locks[sketch] = ch
	}
	o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	select {
	case ch <- struct{}{}:
		inFlight.Inc()
		return func() { inFlight.Dec(); <-ch }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-o.stopCh:
		return func() {}, ErrClosed
	}
}

// execute announces the start, serializes on the sketch lock and publishes
// exactly one terminal event.
func (o *Orchestrator) execute(ctx context.Context, sketch, path, trigger string) Outcome {
	o.pub.Publish(sketch, broadcast.Event{Type: broadcast.TypeExecutionStarted})

	release, err := o.acquire(ctx, sketch)
	if err != nil {
		out := Outcome{Kind: KindCanceled, Error: err.Error()}
		o.finish(sketch, trigger, out)
		return out
	}
	defer release()

	start := time.Now()
	out := o.runLocked(ctx, sketch, path)
	out.Elapsed = time.Since(start)
	executionDuration.WithLabelValues(trigger).Observe(out.Elapsed.Seconds())

	if out.Success {
		if e, err := o.cache.GenerateThumbnail(sketch, out.Entry.Version); err == nil {
			out.Entry = e
		} else {
			o.log.Debug().Err(err).Str("sketch", sketch).Msg("thumbnail skipped")
		}
	}
	o.finish(sketch, trigger, out)
	return out
}

// runLocked validates, runs and stores. The sketch lock must be held.
func (o *Orchestrator) runLocked(ctx context.Context, sketch, path string) Outcome {
	if o.preflight {
		if res := o.runner.Validate(ctx, path); !res.Success {
			return Outcome{Kind: string(res.Kind), Error: res.Error}
		}
	}
	res := o.runner.Run(ctx, path, o.timeout)
	if !res.Success {
		return Outcome{Kind: string(res.Kind), Error: res.Error}
	}
	data, err := os.ReadFile(res.Artifacts[0])
	if err != nil {
		return Outcome{Kind: KindCache, Error: fmt.Sprintf("read artifact: %v", err)}
	}
	stored, err := o.cache.Store(sketch, data)
	if errors.Is(err, cache.ErrEmptyArtifact) {
		return Outcome{Kind: string(executor.KindNoArtifact), Error: "script produced an empty artifact"}
	}
	if err != nil {
		return Outcome{Kind: KindCache, Error: err.Error()}
	}
	return Outcome{Success: true, Entry: stored.Entry, Pages: pageCount(res.Artifacts)}
}

func pageCount(artifacts []string) int {
	if len(artifacts) > 1 {
		return len(artifacts)
	}
	return 0
}

func (o *Orchestrator) finish(sketch, trigger string, out Outcome) {
	o.statsMu.Lock()
	o.stats.TotalExecutions++
	if out.Success {
		o.stats.SuccessfulExecutions++
	} else {
		o.stats.FailedExecutions++
	}
	o.stats.TotalExecutionTime += out.Elapsed.Seconds()
	o.statsMu.Unlock()

	secs := round3(out.Elapsed.Seconds())
	if out.Success {
		executionsTotal.WithLabelValues(trigger, "success").Inc()
		extra := map[string]any{"execution_time": secs}
		if out.Pages > 0 {
			extra["pages"] = out.Pages
		}
		o.pub.Publish(sketch, broadcast.PreviewUpdated(out.Entry, extra))
		o.log.Info().Str("sketch", sketch).Int64("version", out.Entry.Version).Dur("elapsed", out.Elapsed).Msg("preview updated")
		return
	}
	executionsTotal.WithLabelValues(trigger, out.Kind).Inc()
	o.pub.Publish(sketch, broadcast.Event{Type: broadcast.TypeExecutionError, Fields: map[string]any{
		"error":          out.Error,
		"kind":           out.Kind,
		"execution_time": secs,
	}})
	o.log.Warn().Str("sketch", sketch).Str("kind", out.Kind).Str("error", out.Error).Msg("execution failed")
}

// GenerateThumbnail makes sure sketch has a thumbnailed current entry. It
// reuses the current artifact when there is one, otherwise executes and
// stores first. Nothing is published.
func (o *Orchestrator) GenerateThumbnail(ctx context.Context, sketch, path string) (cache.Entry, error) {
	if err := o.enter(); err != nil {
		return cache.Entry{}, err
	}
	defer o.wg.Done()
	release, err := o.acquire(ctx, sketch)
	if err != nil {
		return cache.Entry{}, err
	}
	defer release()

	e, ok := o.cache.Current(sketch)
	if ok && e.Thumbnail != "" {
		return e, nil
	}
	if !ok {
		out := o.runLocked(ctx, sketch, path)
		if !out.Success {
			return cache.Entry{}, &executor.Error{Kind: executor.Kind(out.Kind), Msg: out.Error}
		}
		e = out.Entry
	}
	return o.cache.GenerateThumbnail(sketch, e.Version)
}

// Stats returns cumulative execution counters.
func (o *Orchestrator) Stats() types.ExecutionStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	st := o.stats
	st.TotalExecutionTime = round3(st.TotalExecutionTime)
	return st
}

// Shutdown stops accepting work, drops every watch and waits for admitted
// executions. Runs waiting on a sketch lock give up; running ones finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for sketch, path := range o.watching {
		o.watcher.Unwatch(path)
		delete(o.watching, sketch)
	}
	watchingGauge.Set(0)
	close(o.stopCh)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}
