// Package watcher reports debounced file changes. It prefers native
// filesystem notifications and falls back to mtime polling when they are
// unavailable, either globally or for a single directory.
//
// Native events and debounce expiries never call user code directly: they
// are handed through a channel to one dispatcher goroutine, which invokes the
// callbacks of a path in registration order. Callbacks must not block for
// long; start a goroutine for slow work.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Callback is invoked with the absolute path after a quiet period.
type Callback func(path string) error

// Modes reported by Mode.
const (
	ModeNative  = "native"
	ModePolling = "polling"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultDebounce     = 300 * time.Millisecond
	defaultPollInterval = 100 * time.Millisecond
)

// ErrStopped is returned by Watch after Stop.
var ErrStopped = errors.New("watcher stopped")

// Config encapsulates all tunables for Watcher construction.
type Config struct {
	Debounce     time.Duration
	PollInterval time.Duration
	// Skip native notifications entirely.
	ForcePolling bool
	Logger       zerolog.Logger
}

type registration struct {
	callbacks []Callback
	timer     *time.Timer
	// bumped on every event and on unwatch; a firing timer whose generation
	// no longer matches is stale
	gen    uint64
	native bool

	// polling state
	poll    bool
	seen    bool
	modTime time.Time
	size    int64
}

type fire struct {
	path string
	gen  uint64
}

// Watcher monitors registered files.
type Watcher struct {
	debounce     time.Duration
	pollInterval time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	regs    map[string]*registration
	dirs    map[string]int
	fsw     *fsnotify.Watcher
	stopped bool

	fires  chan fire
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts a watcher. Failure to initialize native notifications is not
// an error; the watcher polls instead.
func New(cfg Config) *Watcher {
	w := &Watcher{
		debounce:     cfg.Debounce,
		pollInterval: cfg.PollInterval,
		log:          cfg.Logger,
		regs:         make(map[string]*registration),
		dirs:         make(map[string]int),
		fires:        make(chan fire, 64),
		stopCh:       make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if !cfg.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			backendUnavailableTotal.Inc()
			w.log.Warn().Err(err).Msg("native file notifications unavailable; polling")
		} else {
			w.fsw = fsw
		}
	}

	w.wg.Add(2)
	go w.dispatchLoop()
	go w.pollLoop()
	if w.fsw != nil {
		w.wg.Add(1)
		go w.eventLoop()
	}
	return w
}

// Mode reports whether native notifications are in use.
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return ModeNative
	}
	return ModePolling
}

// Watch registers cb for path. Several callbacks may share a path.
func (w *Watcher) Watch(path string, cb Callback) error {
	if cb == nil {
		return errors.New("nil callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	reg := w.regs[abs]
	if reg == nil {
		reg = &registration{}
		w.regs[abs] = reg
		w.attachLocked(abs, reg)
		watchedPaths.Set(float64(len(w.regs)))
	}
	reg.callbacks = append(reg.callbacks, cb)
	return nil
}

// attachLocked subscribes the parent directory natively, or marks the
// registration for polling and records its baseline.
func (w *Watcher) attachLocked(abs string, reg *registration) {
	if w.fsw != nil {
		dir := filepath.Dir(abs)
		if w.dirs[dir] > 0 {
			w.dirs[dir]++
			reg.native = true
			return
		}
		err := w.fsw.Add(dir)
		if err == nil {
			w.dirs[dir] = 1
			reg.native = true
			return
		}
		backendUnavailableTotal.Inc()
		w.log.Warn().Err(err).Str("dir", dir).Msg("native watch failed; polling this path")
	}
	reg.poll = true
	if fi, err := os.Stat(abs); err == nil {
		reg.seen, reg.modTime, reg.size = true, fi.ModTime(), fi.Size()
	}
}

// Unwatch removes every callback for path and cancels its pending timer.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	reg := w.regs[abs]
	if reg == nil {
		return
	}
	if reg.timer != nil {
		reg.timer.Stop()
	}
	reg.gen++
	delete(w.regs, abs)
	watchedPaths.Set(float64(len(w.regs)))
	if reg.native {
		dir := filepath.Dir(abs)
		w.dirs[dir]--
		if w.dirs[dir] <= 0 {
			delete(w.dirs, dir)
			_ = w.fsw.Remove(dir)
		}
	}
}

// Watched lists registered paths.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.regs))
	for p := range w.regs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stop cancels pending timers, releases native handles and waits for the
// internal goroutines. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, reg := range w.regs {
		if reg.timer != nil {
			reg.timer.Stop()
		}
		reg.gen++
	}
	w.regs = make(map[string]*registration)
	watchedPaths.Set(0)
	w.mu.Unlock()

	close(w.stopCh)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()
}

// trigger (re)starts the debounce timer for abs.
func (w *Watcher) trigger(abs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	reg := w.regs[abs]
	if reg == nil || w.stopped {
		return
	}
	reg.gen++
	gen := reg.gen
	if reg.timer != nil {
		reg.timer.Stop()
	}
	reg.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.fires <- fire{path: abs, gen: gen}:
		case <-w.stopCh:
		}
	})
}

func (w *Watcher) dispatchLoop() {
	defer w.wg.Done()
	for {
		select {
		case f := <-w.fires:
			w.dispatch(f)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) dispatch(f fire) {
	w.mu.Lock()
	reg := w.regs[f.path]
	if reg == nil || reg.gen != f.gen {
		w.mu.Unlock()
		return
	}
	reg.timer = nil
	cbs := append([]Callback(nil), reg.callbacks...)
	w.mu.Unlock()

	w.log.Debug().Str("path", f.path).Int("callbacks", len(cbs)).Msg("file changed")
	for _, cb := range cbs {
		w.invoke(cb, f.path)
	}
}

// invoke runs one callback, containing its error or panic.
func (w *Watcher) invoke(cb Callback, path string) {
	defer func() {
		if r := recover(); r != nil {
			callbacksTotal.WithLabelValues("panic").Inc()
			w.log.Error().Str("path", path).Interface("panic", r).Msg("watch callback panicked")
		}
	}()
	if err := cb(path); err != nil {
		callbacksTotal.WithLabelValues("error").Inc()
		w.log.Warn().Err(err).Str("path", path).Msg("watch callback failed")
		return
	}
	callbacksTotal.WithLabelValues("ok").Inc()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs := filepath.Clean(ev.Name)
			w.mu.Lock()
			_, watched := w.regs[abs]
			w.mu.Unlock()
			if watched {
				eventsTotal.WithLabelValues(ModeNative).Inc()
				w.trigger(abs)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("native watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for _, p := range w.pollOnce() {
				eventsTotal.WithLabelValues(ModePolling).Inc()
				w.trigger(p)
			}
		case <-w.stopCh:
			return
		}
	}
}

// pollOnce compares mtimes and sizes of polled paths against their last
// observation. The first observation of a file only sets the baseline.
func (w *Watcher) pollOnce() []string {
	w.mu.Lock()
	var paths []string
	for p, reg := range w.regs {
		if reg.poll {
			paths = append(paths, p)
		}
	}
	w.mu.Unlock()
	if len(paths) == 0 {
		return nil
	}

	type obs struct {
		exists  bool
		modTime time.Time
		size    int64
	}
	seen := make(map[string]obs, len(paths))
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			seen[p] = obs{exists: true, modTime: fi.ModTime(), size: fi.Size()}
		} else {
			seen[p] = obs{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var changed []string
	for p, o := range seen {
		reg := w.regs[p]
		if reg == nil {
			continue
		}
		if !o.exists {
			// keep the baseline flag so a re-created file counts as a change
			reg.modTime, reg.size = time.Time{}, -1
			continue
		}
		if !reg.seen {
			reg.seen, reg.modTime, reg.size = true, o.modTime, o.size
			continue
		}
		if !o.modTime.Equal(reg.modTime) || o.size != reg.size {
			reg.modTime, reg.size = o.modTime, o.size
			changed = append(changed, p)
		}
	}
	return changed
}
