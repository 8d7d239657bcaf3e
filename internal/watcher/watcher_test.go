package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recorder struct {
	mu    sync.Mutex
	calls []time.Time
	paths []string
}

func (r *recorder) cb(path string) error {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) first() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[0]
}

type mode struct {
	name    string
	polling bool
}

var modes = []mode{{"native", false}, {"polling", true}}

func newTestWatcher(t *testing.T, polling bool, debounce time.Duration) *Watcher {
	t.Helper()
	w := New(Config{Debounce: debounce, PollInterval: 10 * time.Millisecond, ForcePolling: polling, Logger: zerolog.Nop()})
	t.Cleanup(w.Stop)
	if polling && w.Mode() != ModePolling {
		t.Fatalf("expected polling mode, got %s", w.Mode())
	}
	return w
}

func touch(t *testing.T, p, content string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func appendTo(t *testing.T, p, content string) {
	t.Helper()
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()
}

func TestBurstCollapsesToOneCallback(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			d := t.TempDir()
			p := filepath.Join(d, "f.py")
			touch(t, p, "x")
			w := newTestWatcher(t, m.polling, 100*time.Millisecond)
			rec := &recorder{}
			if err := w.Watch(p, rec.cb); err != nil {
				t.Fatalf("watch: %v", err)
			}
			time.Sleep(30 * time.Millisecond)

			var last time.Time
			for i := 0; i < 5; i++ {
				appendTo(t, p, "y")
				last = time.Now()
				time.Sleep(10 * time.Millisecond)
			}
			time.Sleep(400 * time.Millisecond)

			if n := rec.count(); n != 1 {
				t.Fatalf("expected 1 callback, got %d", n)
			}
			delay := rec.first().Sub(last)
			if delay < 90*time.Millisecond || delay > 300*time.Millisecond {
				t.Fatalf("callback fired %s after last write", delay)
			}
			if rec.paths[0] != p {
				t.Fatalf("callback path %q want %q", rec.paths[0], p)
			}
		})
	}
}

func TestSpacedWritesFireEach(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			d := t.TempDir()
			p := filepath.Join(d, "f.py")
			touch(t, p, "x")
			w := newTestWatcher(t, m.polling, 50*time.Millisecond)
			rec := &recorder{}
			if err := w.Watch(p, rec.cb); err != nil {
				t.Fatalf("watch: %v", err)
			}
			time.Sleep(30 * time.Millisecond)
			for i := 0; i < 3; i++ {
				appendTo(t, p, "y")
				time.Sleep(250 * time.Millisecond)
			}
			if n := rec.count(); n != 3 {
				t.Fatalf("expected 3 callbacks, got %d", n)
			}
		})
	}
}

func TestFailingCallbackDoesNotBlockSiblings(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			d := t.TempDir()
			p := filepath.Join(d, "f.py")
			touch(t, p, "x")
			w := newTestWatcher(t, m.polling, 30*time.Millisecond)
			rec := &recorder{}
			_ = w.Watch(p, func(string) error { return errors.New("boom") })
			_ = w.Watch(p, func(string) error { panic("kaboom") })
			_ = w.Watch(p, rec.cb)
			time.Sleep(30 * time.Millisecond)
			appendTo(t, p, "y")
			time.Sleep(250 * time.Millisecond)
			if n := rec.count(); n != 1 {
				t.Fatalf("sibling callback ran %d times", n)
			}
			// the dispatcher survives the panic
			appendTo(t, p, "z")
			time.Sleep(250 * time.Millisecond)
			if n := rec.count(); n != 2 {
				t.Fatalf("expected 2 callbacks after second write, got %d", n)
			}
		})
	}
}

func TestPollingBaselineDoesNotFire(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "f.py")
	touch(t, p, "x")
	w := newTestWatcher(t, true, 20*time.Millisecond)
	rec := &recorder{}
	_ = w.Watch(p, rec.cb)
	time.Sleep(200 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("baseline observation fired %d callbacks", n)
	}
}

func TestPollingRecreatedFileFires(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "f.py")
	touch(t, p, "x")
	w := newTestWatcher(t, true, 20*time.Millisecond)
	rec := &recorder{}
	_ = w.Watch(p, rec.cb)
	time.Sleep(30 * time.Millisecond)
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	touch(t, p, "again")
	time.Sleep(200 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("expected 1 callback for re-created file, got %d", n)
	}
}

func TestUnwatchStopsCallbacks(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			d := t.TempDir()
			a := filepath.Join(d, "a.py")
			b := filepath.Join(d, "b.py")
			touch(t, a, "a")
			touch(t, b, "b")
			w := newTestWatcher(t, m.polling, 30*time.Millisecond)
			ra, rb := &recorder{}, &recorder{}
			_ = w.Watch(a, ra.cb)
			_ = w.Watch(b, rb.cb)
			w.Unwatch(a)
			w.Unwatch(a)
			if got := w.Watched(); len(got) != 1 || got[0] != b {
				t.Fatalf("watched=%v", got)
			}
			time.Sleep(30 * time.Millisecond)
			appendTo(t, a, "x")
			appendTo(t, b, "x")
			time.Sleep(250 * time.Millisecond)
			if ra.count() != 0 {
				t.Fatalf("unwatched path fired")
			}
			if rb.count() != 1 {
				t.Fatalf("sibling path in same dir fired %d times", rb.count())
			}
		})
	}
}

func TestStopCancelsPendingTimers(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			d := t.TempDir()
			p := filepath.Join(d, "f.py")
			touch(t, p, "x")
			w := New(Config{Debounce: 200 * time.Millisecond, PollInterval: 10 * time.Millisecond, ForcePolling: m.polling, Logger: zerolog.Nop()})
			rec := &recorder{}
			_ = w.Watch(p, rec.cb)
			time.Sleep(30 * time.Millisecond)
			appendTo(t, p, "y")
			time.Sleep(60 * time.Millisecond)
			w.Stop()
			w.Stop()
			time.Sleep(300 * time.Millisecond)
			if n := rec.count(); n != 0 {
				t.Fatalf("callback fired after Stop: %d", n)
			}
			if err := w.Watch(p, rec.cb); !errors.Is(err, ErrStopped) {
				t.Fatalf("expected ErrStopped, got %v", err)
			}
		})
	}
}

func TestWatchNilCallback(t *testing.T) {
	w := newTestWatcher(t, true, 10*time.Millisecond)
	if err := w.Watch(filepath.Join(t.TempDir(), "x"), nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}
