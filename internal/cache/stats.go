package cache

import (
	"math"
	"os"

	"sketchd/pkg/types"
)

// Stats summarizes the cache contents and limits.
func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	versions := 0
	for _, list := range c.entries {
		versions += len(list)
	}
	mb := float64(c.totalBytesLocked()) / (1024 * 1024)
	return types.CacheStats{
		TotalSketches:        len(c.entries),
		TotalVersions:        versions,
		TotalSizeMB:          math.Round(mb*100) / 100,
		MaxSizeMB:            int(c.maxBytes / (1024 * 1024)),
		MaxVersionsPerSketch: c.maxVersions,
		MaxAgeHours:          int(c.maxAge.Hours()),
		CacheDir:             c.dir,
	}
}

// TotalBytes is the aggregate size of live artifacts and thumbnails.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytesLocked()
}

// Clear deletes every artifact, thumbnail and the index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, list := range c.entries {
		for _, e := range list {
			for _, name := range []string{e.File, e.Thumbnail} {
				if name == "" {
					continue
				}
				if err := os.Remove(c.Path(name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
					firstErr = &IOError{Op: "remove", Path: c.Path(name), Err: err}
				}
			}
		}
	}
	c.entries = make(map[string][]Entry)
	if err := os.Remove(c.Path(indexFile)); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = &IOError{Op: "remove", Path: c.Path(indexFile), Err: err}
	}
	c.updateGaugesLocked()
	c.log.Info().Msg("cache cleared")
	return firstErr
}
