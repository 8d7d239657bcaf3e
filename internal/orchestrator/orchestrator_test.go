package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/broadcast"
	"sketchd/internal/cache"
	"sketchd/internal/executor"
	"sketchd/internal/watcher"
)

// fakeRunner writes a small PNG per run and records per-script concurrency.
type fakeRunner struct {
	out   string
	delay time.Duration

	mu          sync.Mutex
	kind        executor.Kind
	invalid     bool
	empty       bool
	pages       int
	runs        int
	validations int
	active      map[string]int
	maxActive   map[string]int
	maxTotal    int
	total       int
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{out: t.TempDir(), active: map[string]int{}, maxActive: map[string]int{}}
}

func (f *fakeRunner) Run(ctx context.Context, path string, _ time.Duration) executor.Result {
	f.mu.Lock()
	f.runs++
	n := f.runs
	f.active[path]++
	f.total++
	if f.active[path] > f.maxActive[path] {
		f.maxActive[path] = f.active[path]
	}
	if f.total > f.maxTotal {
		f.maxTotal = f.total
	}
	kind, pages, empty := f.kind, f.pages, f.empty
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active[path]--
		f.total--
		f.mu.Unlock()
	}()

	time.Sleep(f.delay)
	if kind != executor.KindNone {
		return executor.Result{Kind: kind, Error: "script failed"}
	}
	if pages == 0 {
		pages = 1
	}
	var arts []string
	for i := 1; i <= pages; i++ {
		p := filepath.Join(f.out, fmt.Sprintf("run%d_page_%d.png", n, i))
		data := pngBytes(uint8(n))
		if empty {
			data = nil
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return executor.Result{Kind: executor.KindRuntime, Error: err.Error()}
		}
		arts = append(arts, p)
	}
	return executor.Result{Success: true, Artifacts: arts}
}

func (f *fakeRunner) Validate(context.Context, string) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	if f.invalid {
		return executor.Result{Kind: executor.KindSyntax, Error: "SyntaxError: bad"}
	}
	return executor.Result{Success: true}
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func pngBytes(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 80, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type harness struct {
	o      *Orchestrator
	runner *fakeRunner
	cache  *cache.Cache
	pub    *MemoryPublisher
	w      *watcher.Watcher
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	c, err := cache.New(cache.Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	w := watcher.New(watcher.Config{Debounce: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond, ForcePolling: true, Logger: zerolog.Nop()})
	t.Cleanup(w.Stop)
	h := &harness{runner: newFakeRunner(t), cache: c, pub: NewMemoryPublisher(), w: w}
	cfg := Config{Runner: h.runner, Cache: c, Watcher: w, Publisher: h.pub, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.o = o
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return h
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestNew_RequiresRunnerAndCache(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestForceExecute_StartedThenPreview(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.o.ForceExecute(context.Background(), "spiral", "/sketches/spiral.py")
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if !out.Success || out.Entry.Version == 0 {
		t.Fatalf("outcome=%+v", out)
	}
	cur, ok := h.cache.Current("spiral")
	if !ok || cur.Version != out.Entry.Version {
		t.Fatalf("cache current=%+v ok=%v", cur, ok)
	}
	if cur.Thumbnail == "" || out.Entry.Thumbnail == "" {
		t.Fatalf("expected thumbnail after successful run")
	}
	if got := strings.Join(h.pub.Types("spiral"), ","); got != "execution_started,preview_updated" {
		t.Fatalf("events=%s", got)
	}
	ev := h.pub.Events()[1].Event
	if ev.Fields["version"] != cur.Version || ev.Fields["image_url"] != cur.ImageURL() || ev.Fields["thumbnail_url"] != cur.ThumbnailURL() {
		t.Fatalf("preview fields=%v", ev.Fields)
	}
	if _, ok := ev.Fields["pages"]; ok {
		t.Fatalf("single artifact should not report pages")
	}
	if st := h.o.Stats(); st.TotalExecutions != 1 || st.SuccessfulExecutions != 1 || st.FailedExecutions != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestForceExecute_PagesReported(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.pages = 3
	out, _ := h.o.ForceExecute(context.Background(), "book", "/sketches/book.py")
	if out.Pages != 3 {
		t.Fatalf("pages=%d", out.Pages)
	}
	if got := h.pub.Events()[1].Event.Fields["pages"]; got != 3 {
		t.Fatalf("pages field=%v", got)
	}
}

func TestForceExecute_FailurePublishesError(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.kind = executor.KindTimeout
	out, err := h.o.ForceExecute(context.Background(), "slow", "/sketches/slow.py")
	if err != nil {
		t.Fatalf("admission error: %v", err)
	}
	if out.Success || out.Kind != string(executor.KindTimeout) {
		t.Fatalf("outcome=%+v", out)
	}
	if got := strings.Join(h.pub.Types("slow"), ","); got != "execution_started,execution_error" {
		t.Fatalf("events=%s", got)
	}
	ev := h.pub.Events()[1].Event
	if ev.Fields["kind"] != "timeout" || ev.Fields["error"] != "script failed" {
		t.Fatalf("error fields=%v", ev.Fields)
	}
	if _, ok := h.cache.Current("slow"); ok {
		t.Fatalf("failed run must not store")
	}
	if st := h.o.Stats(); st.FailedExecutions != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestForceExecute_EmptyArtifactIsNoArtifact(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.empty = true
	out, err := h.o.ForceExecute(context.Background(), "blank", "/sketches/blank.py")
	if err != nil {
		t.Fatalf("admission error: %v", err)
	}
	if out.Success || out.Kind != string(executor.KindNoArtifact) {
		t.Fatalf("outcome=%+v", out)
	}
	if got := strings.Join(h.pub.Types("blank"), ","); got != "execution_started,execution_error" {
		t.Fatalf("events=%s", got)
	}
	if _, ok := h.cache.Current("blank"); ok {
		t.Fatalf("empty artifact must not be stored")
	}
}

func TestPreflightRejectsWithoutRunning(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Preflight = true })
	h.runner.invalid = true
	out, _ := h.o.ForceExecute(context.Background(), "bad", "/sketches/bad.py")
	if out.Kind != string(executor.KindSyntax) {
		t.Fatalf("outcome=%+v", out)
	}
	if h.runner.runCount() != 0 {
		t.Fatalf("runtime spawned despite failed validation")
	}
	h.runner.invalid = false
	out, _ = h.o.ForceExecute(context.Background(), "bad", "/sketches/bad.py")
	if !out.Success || h.runner.validations != 2 {
		t.Fatalf("outcome=%+v validations=%d", out, h.runner.validations)
	}
}

func TestExecutionsNeverOverlapPerSketch(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.delay = 30 * time.Millisecond
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, s := range []string{"a", "b"} {
			wg.Add(1)
			go func(s string) {
				defer wg.Done()
				_, _ = h.o.ForceExecute(context.Background(), s, "/sketches/"+s+".py")
			}(s)
		}
	}
	wg.Wait()
	for _, s := range []string{"a", "b"} {
		if m := h.runner.maxActive["/sketches/"+s+".py"]; m != 1 {
			t.Fatalf("sketch %s overlapped: %d concurrent runs", s, m)
		}
		if n := len(h.cache.Versions(s)); n != 4 {
			t.Fatalf("sketch %s has %d versions", s, n)
		}
	}
	if st := h.o.Stats(); st.SuccessfulExecutions != 8 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestForceExecute_CanceledWhileWaiting(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.delay = 200 * time.Millisecond
	go func() { _, _ = h.o.ForceExecute(context.Background(), "s", "/s.py") }()
	waitFor(t, time.Second, func() bool { return h.runner.runCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out, err := h.o.ForceExecute(ctx, "s", "/s.py")
	if err != nil {
		t.Fatalf("admission: %v", err)
	}
	if out.Kind != KindCanceled {
		t.Fatalf("expected canceled, got %+v", out)
	}
	if h.runner.runCount() != 1 {
		t.Fatalf("canceled waiter ran")
	}
}

func TestWatchTriggersExecution(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	script := filepath.Join(dir, "live.py")
	if err := os.WriteFile(script, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.o.StartWatching("live", script); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := h.o.StartWatching("live", script); err != nil {
		t.Fatalf("second watch: %v", err)
	}
	if !h.o.IsWatching("live") || len(h.o.Watching()) != 1 || len(h.w.Watched()) != 1 {
		t.Fatalf("watching=%v watched=%v", h.o.Watching(), h.w.Watched())
	}
	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(script, []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		types := h.pub.Types("live")
		return len(types) == 2 && types[1] == broadcast.TypePreviewUpdated
	})

	h.o.StopWatching("live")
	h.o.StopWatching("live")
	if h.o.IsWatching("live") || len(h.w.Watched()) != 0 {
		t.Fatalf("watch not removed")
	}
	_ = os.WriteFile(script, []byte("ccc"), 0o644)
	time.Sleep(150 * time.Millisecond)
	if n := h.runner.runCount(); n != 1 {
		t.Fatalf("runs after StopWatching=%d", n)
	}
}

func TestGenerateThumbnail(t *testing.T) {
	h := newHarness(t, nil)
	e, err := h.o.GenerateThumbnail(context.Background(), "fresh", "/fresh.py")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if e.Thumbnail == "" || h.runner.runCount() != 1 {
		t.Fatalf("entry=%+v runs=%d", e, h.runner.runCount())
	}
	if len(h.pub.Events()) != 0 {
		t.Fatalf("thumbnail generation must not publish: %v", h.pub.Events())
	}

	// existing entry without thumbnail: no execution
	if _, err := h.cache.Store("cached", pngBytes(9)); err != nil {
		t.Fatal(err)
	}
	e, err = h.o.GenerateThumbnail(context.Background(), "cached", "/cached.py")
	if err != nil || e.Thumbnail == "" {
		t.Fatalf("entry=%+v err=%v", e, err)
	}
	if h.runner.runCount() != 1 {
		t.Fatalf("cached sketch was executed")
	}

	h.runner.kind = executor.KindRuntime
	_, err = h.o.GenerateThumbnail(context.Background(), "broken", "/broken.py")
	if executor.KindOf(err) != executor.KindRuntime {
		t.Fatalf("expected runtime error, got %v", err)
	}
}

func TestShutdownWaitsAndRejects(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.delay = 100 * time.Millisecond
	done := make(chan Outcome, 1)
	go func() {
		out, _ := h.o.ForceExecute(context.Background(), "s", "/s.py")
		done <- out
	}()
	waitFor(t, time.Second, func() bool { return h.runner.runCount() == 1 })
	script := filepath.Join(t.TempDir(), "w.py")
	_ = os.WriteFile(script, []byte("x"), 0o644)
	_ = h.o.StartWatching("w", script)

	if err := h.o.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, ok := h.cache.Current("s"); !ok {
		t.Fatalf("shutdown returned before in-flight run finished")
	}
	if out := <-done; !out.Success {
		t.Fatalf("in-flight run should finish: %+v", out)
	}
	if len(h.w.Watched()) != 0 {
		t.Fatalf("watches survived shutdown")
	}
	if _, err := h.o.ForceExecute(context.Background(), "s", "/s.py"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.o.StartWatching("w", script); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
