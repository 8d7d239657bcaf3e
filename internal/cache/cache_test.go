package cache

import (
	"bytes"
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

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	cfg.Logger = zerolog.Nop()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func mustStore(t *testing.T, c *Cache, sketch string, data []byte) StoreResult {
	t.Helper()
	res, err := c.Store(sketch, data)
	if err != nil {
		t.Fatalf("store %s: %v", sketch, err)
	}
	return res
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestStore_MaxVersionsOneKeepsNewest(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxVersionsPerSketch: 1, Now: clk.Now})

	mustStore(t, c, "a", []byte(strings.Repeat("x", 10)))
	clk.Advance(time.Millisecond)
	res := mustStore(t, c, "a", []byte(strings.Repeat("y", 10)))

	if len(res.Evicted) != 1 {
		t.Fatalf("expected 1 evicted, got %d", len(res.Evicted))
	}
	vs := c.Versions("a")
	if len(vs) != 1 {
		t.Fatalf("expected 1 version, got %d", len(vs))
	}
	cur, ok := c.Current("a")
	if !ok {
		t.Fatalf("no current entry")
	}
	b, err := os.ReadFile(c.Path(cur.File))
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(b) != strings.Repeat("y", 10) {
		t.Fatalf("current holds %q", b)
	}
	if _, err := os.Stat(c.Path(res.Evicted[0].File)); !os.IsNotExist(err) {
		t.Fatalf("evicted file still on disk: %v", err)
	}
}

func TestStore_CurrentIsMaxAndKeptAreLargest(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxVersionsPerSketch: 3, Now: clk.Now})
	before := testutil.ToFloat64(evictionsTotal.WithLabelValues(reasonVersions))

	var all []int64
	for i := 0; i < 7; i++ {
		res := mustStore(t, c, "s", []byte(fmt.Sprintf("data-%d", i)))
		all = append(all, res.Entry.Version)
		cur, _ := c.Current("s")
		if cur.Version != res.Entry.Version {
			t.Fatalf("store %d: current=%d want %d", i, cur.Version, res.Entry.Version)
		}
		clk.Advance(5 * time.Millisecond)
	}
	vs := c.Versions("s")
	if len(vs) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(vs))
	}
	for i, e := range vs {
		want := all[len(all)-1-i]
		if e.Version != want {
			t.Fatalf("versions[%d]=%d want %d", i, e.Version, want)
		}
	}
	if got := testutil.ToFloat64(evictionsTotal.WithLabelValues(reasonVersions)) - before; got != 4 {
		t.Fatalf("expected 4 version evictions, got %v", got)
	}
}

func TestStore_SameMillisecondGetsDistinctVersions(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxVersionsPerSketch: 10, Now: clk.Now})
	a := mustStore(t, c, "s", []byte("1"))
	b := mustStore(t, c, "s", []byte("2"))
	if b.Entry.Version <= a.Entry.Version {
		t.Fatalf("versions not increasing: %d then %d", a.Entry.Version, b.Entry.Version)
	}
	if a.Entry.File == b.Entry.File {
		t.Fatalf("file names collide: %s", a.Entry.File)
	}
	if a.Entry.Version != clk.Now().UnixMilli() {
		t.Fatalf("version should be epoch ms, got %d", a.Entry.Version)
	}
}

func TestStore_ConcurrentDistinctVersionsAndReload(t *testing.T) {
	dir := t.TempDir()
	const n = 20
	c := newTestCache(t, Config{Dir: dir, MaxVersionsPerSketch: n})

	var wg sync.WaitGroup
	versions := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Store("con", []byte(fmt.Sprintf("payload-%d", i)))
			if err != nil {
				t.Errorf("store: %v", err)
				return
			}
			versions <- res.Entry.Version
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		if seen[v] {
			t.Fatalf("duplicate version %d", v)
		}
		seen[v] = true
	}
	vs := c.Versions("con")
	if len(vs) != n {
		t.Fatalf("expected %d entries, got %d", n, len(vs))
	}
	for i := 1; i < len(vs); i++ {
		if vs[i-1].Version <= vs[i].Version {
			t.Fatalf("versions not strictly descending at %d", i)
		}
	}

	cur, _ := c.Current("con")
	reloaded := newTestCache(t, Config{Dir: dir, MaxVersionsPerSketch: n})
	rcur, ok := reloaded.Current("con")
	if !ok || rcur.Version != cur.Version || rcur.File != cur.File {
		t.Fatalf("reload current=%+v want %+v", rcur, cur)
	}
	if len(reloaded.Versions("con")) != n {
		t.Fatalf("reload lost entries")
	}
}

func TestStore_RejectsUnsafeNames(t *testing.T) {
	c := newTestCache(t, Config{})
	for _, name := range []string{"", "../x", "a/b", `a\b`} {
		if _, err := c.Store(name, []byte("x")); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestStore_SizeCleanupBoundedOvershoot(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxTotalSizeMB: 1, MaxVersionsPerSketch: 10, Now: clk.Now})
	chunk := 300 * 1024
	limit := int64(1024 * 1024)
	for i := 0; i < 12; i++ {
		mustStore(t, c, fmt.Sprintf("s%d", i%4), bytes.Repeat([]byte{byte(i)}, chunk))
		clk.Advance(time.Second)
		if total := c.TotalBytes(); total > limit+int64(chunk) {
			t.Fatalf("store %d: total %d exceeds cap plus one artifact", i, total)
		}
	}
	if total := c.TotalBytes(); total > limit {
		t.Fatalf("expected cleanup under cap, total=%d", total)
	}
}

func TestStore_SizeCleanupEvictsOldestFirst(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxTotalSizeMB: 1, Now: clk.Now})
	chunk := 400 * 1024
	mustStore(t, c, "old", bytes.Repeat([]byte("o"), chunk))
	clk.Advance(time.Second)
	mustStore(t, c, "mid", bytes.Repeat([]byte("m"), chunk))
	clk.Advance(time.Second)
	res := mustStore(t, c, "new", bytes.Repeat([]byte("n"), chunk))

	// 1.2MB > 1MB; dropping the oldest reaches the 0.8MB target.
	if len(res.Evicted) != 1 || res.Evicted[0].Sketch != "old" {
		t.Fatalf("expected only old evicted, got %+v", res.Evicted)
	}
	if _, ok := c.Current("mid"); !ok {
		t.Fatalf("mid evicted past the target")
	}
	if _, ok := c.Current("new"); !ok {
		t.Fatalf("just-stored entry evicted")
	}
}

func TestStore_OversizedArtifactIsKept(t *testing.T) {
	c := newTestCache(t, Config{MaxTotalSizeMB: 1})
	mustStore(t, c, "small", []byte("s"))
	res := mustStore(t, c, "huge", bytes.Repeat([]byte("h"), 2*1024*1024))
	if _, ok := c.Current("huge"); !ok {
		t.Fatalf("stored entry must survive its own cleanup")
	}
	if len(res.Evicted) != 1 || res.Evicted[0].Sketch != "small" {
		t.Fatalf("expected small evicted, got %+v", res.Evicted)
	}
}

func TestStore_RejectsEmptyData(t *testing.T) {
	c := newTestCache(t, Config{})
	for _, data := range [][]byte{nil, {}} {
		if _, err := c.Store("blank", data); !errors.Is(err, ErrEmptyArtifact) {
			t.Fatalf("expected ErrEmptyArtifact, got %v", err)
		}
	}
	if _, ok := c.Current("blank"); ok {
		t.Fatalf("empty data must not become current")
	}
	if n := c.Stats().TotalVersions; n != 0 {
		t.Fatalf("versions=%d", n)
	}
}

func TestGenerateThumbnail_OverBudgetTriggersCleanup(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxTotalSizeMB: 1, Now: clk.Now})
	limit := 1024 * 1024
	pic := pngBytes(t, 200, 100)
	mustStore(t, c, "old", bytes.Repeat([]byte("o"), limit-len(pic)-10))
	clk.Advance(time.Second)
	res := mustStore(t, c, "pic", pic)
	if len(res.Evicted) != 0 || c.TotalBytes() > int64(limit) {
		t.Fatalf("store should fit: evicted=%v total=%d", res.Evicted, c.TotalBytes())
	}

	e, err := c.GenerateThumbnail("pic", res.Entry.Version)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if e.Thumbnail == "" {
		t.Fatalf("thumbnail not recorded")
	}
	if _, ok := c.Current("old"); ok {
		t.Fatalf("old should be evicted once the thumbnail pushed the cache over budget")
	}
	if cur, ok := c.Current("pic"); !ok || cur.Thumbnail != e.Thumbnail {
		t.Fatalf("pic must survive its own cleanup: %+v ok=%v", cur, ok)
	}
	if total := c.TotalBytes(); total > int64(limit) {
		t.Fatalf("total %d still over budget", total)
	}
}

func TestCleanup_AgeExpiry(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxAgeHours: 1, Now: clk.Now})
	mustStore(t, c, "stale", []byte("a"))
	clk.Advance(30 * time.Minute)
	mustStore(t, c, "fresh", []byte("b"))
	clk.Advance(45 * time.Minute)

	evicted, err := c.Cleanup()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(evicted) != 1 || evicted[0].Sketch != "stale" {
		t.Fatalf("unexpected evictions: %+v", evicted)
	}
	if _, ok := c.Current("stale"); ok {
		t.Fatalf("stale entry survived")
	}
	if _, ok := c.Current("fresh"); !ok {
		t.Fatalf("fresh entry evicted")
	}
	if got := c.Sketches(); len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("sketches=%v", got)
	}
}

func TestCleanup_NegativeAgeDisables(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxAgeHours: -1, Now: clk.Now})
	mustStore(t, c, "a", []byte("a"))
	clk.Advance(1000 * time.Hour)
	if ev, _ := c.Cleanup(); len(ev) != 0 {
		t.Fatalf("age cleanup should be disabled, evicted %d", len(ev))
	}
}

func TestNew_ReconcilesMissingAndOrphanFiles(t *testing.T) {
	dir := t.TempDir()
	clk := newFakeClock()
	c := newTestCache(t, Config{Dir: dir, Now: clk.Now})
	a := mustStore(t, c, "a", []byte("a1"))
	clk.Advance(time.Millisecond)
	b := mustStore(t, c, "b", []byte("b1"))

	if err := os.Remove(c.Path(a.Entry.File)); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(dir, "ghost_v1.png")
	if err := os.WriteFile(orphan, []byte("g"), 0o644); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(keep, []byte("k"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestCache(t, Config{Dir: dir})
	if _, ok := r.Current("a"); ok {
		t.Fatalf("entry with missing file should be dropped")
	}
	if cur, ok := r.Current("b"); !ok || cur.Version != b.Entry.Version {
		t.Fatalf("entry b lost: %+v", cur)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan not swept")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("non-artifact file removed: %v", err)
	}
}

func TestNew_CorruptIndexRebuilds(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(dir, "x_v1.png")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(corruptIndexTotal)
	c := newTestCache(t, Config{Dir: dir})
	if got := testutil.ToFloat64(corruptIndexTotal) - before; got != 1 {
		t.Fatalf("corrupt counter delta=%v", got)
	}
	if len(c.Sketches()) != 0 {
		t.Fatalf("expected empty cache")
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatalf("stray artifact not swept")
	}
	if _, err := c.Store("x", []byte("ok")); err != nil {
		t.Fatalf("store after rebuild: %v", err)
	}
}

func TestGenerateThumbnail(t *testing.T) {
	c := newTestCache(t, Config{ThumbnailWidth: 30, ThumbnailHeight: 20})
	res := mustStore(t, c, "pic", pngBytes(t, 120, 40))

	e, err := c.GenerateThumbnail("pic", res.Entry.Version)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if e.Thumbnail == "" || !strings.HasSuffix(e.Thumbnail, "_thumb.png") {
		t.Fatalf("unexpected thumbnail name %q", e.Thumbnail)
	}
	if e.ThumbnailURL() != "/thumbnail/"+e.Thumbnail {
		t.Fatalf("url=%q", e.ThumbnailURL())
	}
	f, err := os.Open(c.Path(e.Thumbnail))
	if err != nil {
		t.Fatalf("open thumb: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Fatalf("thumb size %v", img.Bounds())
	}
	// 120x40 scaled to 30x10 leaves background rows at the top.
	r, g, b, _ := img.At(15, 0).RGBA()
	if r>>8 != 240 || g>>8 != 240 || b>>8 != 240 {
		t.Fatalf("expected background at top edge, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
	if !c.HasThumbnail("pic") {
		t.Fatalf("HasThumbnail false after generation")
	}
	if len(c.MissingThumbnails()) != 0 {
		t.Fatalf("missing thumbnails should be empty")
	}
	if p, err := c.Lookup(e.Thumbnail); err != nil || p != c.Path(e.Thumbnail) {
		t.Fatalf("lookup thumb: %q %v", p, err)
	}
	// idempotent
	again, err := c.GenerateThumbnail("pic", res.Entry.Version)
	if err != nil || again.Thumbnail != e.Thumbnail {
		t.Fatalf("second call: %+v %v", again, err)
	}
}

func TestGenerateThumbnail_UndecodableIsUnavailable(t *testing.T) {
	c := newTestCache(t, Config{})
	res := mustStore(t, c, "doc", []byte("%PDF-1.4 not an image"))
	_, err := c.GenerateThumbnail("doc", res.Entry.Version)
	if !IsThumbnailUnavailable(err) {
		t.Fatalf("expected thumbnail unavailable, got %v", err)
	}
	if got := c.MissingThumbnails(); len(got) != 1 || got[0] != "doc" {
		t.Fatalf("missing=%v", got)
	}
	if _, err := c.GenerateThumbnail("nope", 1); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestThumbnailDeletedWithEntry(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, Config{MaxVersionsPerSketch: 1, Now: clk.Now})
	first := mustStore(t, c, "p", pngBytes(t, 10, 10))
	e, err := c.GenerateThumbnail("p", first.Entry.Version)
	if err != nil {
		t.Fatalf("thumb: %v", err)
	}
	clk.Advance(time.Millisecond)
	mustStore(t, c, "p", pngBytes(t, 10, 10))
	if _, err := os.Stat(c.Path(e.Thumbnail)); !os.IsNotExist(err) {
		t.Fatalf("thumbnail should be removed with its entry")
	}
}

func TestLookupAndURLs(t *testing.T) {
	c := newTestCache(t, Config{})
	res := mustStore(t, c, "u", []byte("u"))
	want := fmt.Sprintf("/preview/u_v%d.png?v=%d", res.Entry.Version, res.Entry.Version)
	if res.Entry.ImageURL() != want {
		t.Fatalf("image url %q want %q", res.Entry.ImageURL(), want)
	}
	if _, err := c.Lookup("../etc/passwd"); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if _, err := c.Lookup("unknown.png"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if p, err := c.Lookup(res.Entry.File); err != nil || p != c.Path(res.Entry.File) {
		t.Fatalf("lookup: %q %v", p, err)
	}
}

func TestStatsAndClear(t *testing.T) {
	c := newTestCache(t, Config{MaxVersionsPerSketch: 4, MaxTotalSizeMB: 50, MaxAgeHours: 6})
	mustStore(t, c, "a", bytes.Repeat([]byte("a"), 1024*1024))
	mustStore(t, c, "a", []byte("a2"))
	mustStore(t, c, "b", []byte("b"))

	st := c.Stats()
	if st.TotalSketches != 2 || st.TotalVersions != 3 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.TotalSizeMB != 1 {
		t.Fatalf("size rounded to 2 decimals should be 1, got %v", st.TotalSizeMB)
	}
	if st.MaxSizeMB != 50 || st.MaxVersionsPerSketch != 4 || st.MaxAgeHours != 6 || st.CacheDir != c.Dir() {
		t.Fatalf("unexpected limits: %+v", st)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st := c.Stats(); st.TotalVersions != 0 || st.TotalSizeMB != 0 {
		t.Fatalf("not cleared: %+v", st)
	}
	des, _ := os.ReadDir(c.Dir())
	if len(des) != 0 {
		t.Fatalf("files remain after clear: %d", len(des))
	}
}
