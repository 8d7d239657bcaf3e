package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache is a timestamp-versioned, per-sketch artifact store backed by one
// directory and a JSON index. All index mutations happen under mu; helpers
// suffixed Locked assume it is held.
type Cache struct {
	mu sync.Mutex

	dir         string
	maxVersions int
	maxBytes    int64
	maxAge      time.Duration
	thumbW      int
	thumbH      int
	log         zerolog.Logger
	now         func() time.Time

	// entries per sketch, newest version first
	entries map[string][]Entry
	// last version handed out per sketch, survives eviction
	last map[string]int64
}

// New opens (or creates) the cache directory and reconciles the persisted
// index against the files on disk.
func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache dir is empty")
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: abs, Err: err}
	}
	c := &Cache{
		dir:     abs,
		log:     cfg.Logger,
		now:     cfg.Now,
		entries: make(map[string][]Entry),
		last:    make(map[string]int64),
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.maxVersions = cfg.MaxVersionsPerSketch
	if c.maxVersions <= 0 {
		c.maxVersions = defaultMaxVersions
	}
	mb := cfg.MaxTotalSizeMB
	if mb <= 0 {
		mb = defaultMaxTotalSizeMB
	}
	c.maxBytes = int64(mb) * 1024 * 1024
	switch {
	case cfg.MaxAgeHours == 0:
		c.maxAge = defaultMaxAgeHours * time.Hour
	case cfg.MaxAgeHours > 0:
		c.maxAge = time.Duration(cfg.MaxAgeHours) * time.Hour
	}
	c.thumbW, c.thumbH = cfg.ThumbnailWidth, cfg.ThumbnailHeight
	if c.thumbW <= 0 {
		c.thumbW = defaultThumbnailWidth
	}
	if c.thumbH <= 0 {
		c.thumbH = defaultThumbnailHeight
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	c.reconcileLocked()
	if err := c.saveLocked(); err != nil {
		return nil, err
	}
	c.updateGaugesLocked()
	return c, nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the absolute path of a cache file name.
func (c *Cache) Path(file string) string { return filepath.Join(c.dir, file) }

// Store writes data as a new version of sketch. Older versions beyond the
// per-sketch limit are deleted, and a global cleanup runs when the cache is
// over its size budget. The new entry itself is never evicted by this call.
func (c *Cache) Store(sketch string, data []byte) (StoreResult, error) {
	if err := validName(sketch); err != nil {
		return StoreResult{}, err
	}
	if len(data) == 0 {
		return StoreResult{}, ErrEmptyArtifact
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	version := now.UnixMilli()
	if last := c.last[sketch]; version <= last {
		version = last + 1
	}
	file := fmt.Sprintf("%s_v%d.png", sketch, version)
	for n := 1; fileExists(c.Path(file)); n++ {
		file = fmt.Sprintf("%s_v%d_%d.png", sketch, version, n)
	}
	if err := os.WriteFile(c.Path(file), data, 0o644); err != nil {
		return StoreResult{}, &IOError{Op: "write", Path: c.Path(file), Err: err}
	}
	c.last[sketch] = version

	entry := Entry{Sketch: sketch, Version: version, File: file, Size: int64(len(data)), CreatedAt: now}
	c.entries[sketch] = append([]Entry{entry}, c.entries[sketch]...)
	sortDesc(c.entries[sketch])

	res := StoreResult{Entry: entry}
	res.Evicted = c.trimVersionsLocked(sketch)
	if c.totalBytesLocked() > c.maxBytes {
		res.Evicted = append(res.Evicted, c.cleanupLocked(now, &entry)...)
	}
	storesTotal.Inc()
	c.updateGaugesLocked()
	c.log.Debug().Str("sketch", sketch).Int64("version", version).Int("bytes", len(data)).Int("evicted", len(res.Evicted)).Msg("cache store")
	if err := c.saveLocked(); err != nil {
		return res, err
	}
	return res, nil
}

// Current returns the newest live entry for sketch.
func (c *Cache) Current(sketch string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.entries[sketch]
	if len(list) == 0 {
		return Entry{}, false
	}
	return list[0], true
}

// Version returns a specific live version of sketch.
func (c *Cache) Version(sketch string, version int64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(sketch, version)
}

// Versions lists live entries for sketch, newest first.
func (c *Cache) Versions(sketch string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries[sketch]...)
}

// Sketches lists sketch names with at least one live entry.
func (c *Cache) Sketches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a served file name (artifact or thumbnail) to its absolute
// path. Only files referenced by live entries resolve.
func (c *Cache) Lookup(file string) (string, error) {
	if err := validName(file); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.entries {
		for _, e := range list {
			if e.File == file || (e.Thumbnail != "" && e.Thumbnail == file) {
				return c.Path(file), nil
			}
		}
	}
	return "", entryNotFoundError{sketch: file}
}

func (c *Cache) findLocked(sketch string, version int64) (Entry, bool) {
	for _, e := range c.entries[sketch] {
		if e.Version == version {
			return e, true
		}
	}
	return Entry{}, false
}

func (c *Cache) totalBytesLocked() int64 {
	var total int64
	for _, list := range c.entries {
		for _, e := range list {
			total += e.totalSize()
		}
	}
	return total
}

// removeFilesLocked deletes an entry's artifact and thumbnail. Failures are
// logged and otherwise ignored; the entry is dropped from the index anyway.
func (c *Cache) removeFilesLocked(e Entry, reason string) {
	for _, name := range []string{e.File, e.Thumbnail} {
		if name == "" {
			continue
		}
		if err := os.Remove(c.Path(name)); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("file", name).Str("reason", reason).Msg("cache remove failed")
		}
	}
	evictionsTotal.WithLabelValues(reason).Inc()
}

func sortDesc(list []Entry) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Version > list[j].Version })
}

func validName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
