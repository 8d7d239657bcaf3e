package cache

import (
	"sort"
	"time"
)

// Cleanup drops age-expired entries, then, if the cache is still over its
// size budget, evicts globally oldest-first until it is at 80% of the cap.
func (c *Cache) Cleanup() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.cleanupLocked(c.now(), nil)
	c.updateGaugesLocked()
	if len(evicted) == 0 {
		return nil, nil
	}
	c.log.Info().Int("evicted", len(evicted)).Msg("cache cleanup")
	return evicted, c.saveLocked()
}

// trimVersionsLocked deletes entries of sketch beyond the per-sketch limit.
// The list is already sorted newest first, so the kept ones are the largest
// versions.
func (c *Cache) trimVersionsLocked(sketch string) []Entry {
	list := c.entries[sketch]
	if len(list) <= c.maxVersions {
		return nil
	}
	drop := append([]Entry(nil), list[c.maxVersions:]...)
	c.entries[sketch] = list[:c.maxVersions:c.maxVersions]
	for _, e := range drop {
		c.removeFilesLocked(e, reasonVersions)
	}
	return drop
}

// cleanupLocked runs age expiry then size eviction. keep, when non-nil, is
// protected from eviction.
func (c *Cache) cleanupLocked(now time.Time, keep *Entry) []Entry {
	var evicted []Entry
	isKept := func(e Entry) bool {
		return keep != nil && e.Sketch == keep.Sketch && e.Version == keep.Version
	}

	if c.maxAge > 0 {
		for sketch, list := range c.entries {
			live := list[:0]
			for _, e := range list {
				if !isKept(e) && now.Sub(e.CreatedAt) > c.maxAge {
					c.removeFilesLocked(e, reasonAge)
					evicted = append(evicted, e)
					continue
				}
				live = append(live, e)
			}
			c.setLocked(sketch, live)
		}
	}

	total := c.totalBytesLocked()
	if total <= c.maxBytes {
		return evicted
	}
	target := c.maxBytes * 8 / 10
	var all []Entry
	for _, list := range c.entries {
		all = append(all, list...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Version < all[j].Version
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	for _, e := range all {
		if total <= target {
			break
		}
		if isKept(e) {
			continue
		}
		c.dropLocked(e)
		c.removeFilesLocked(e, reasonSize)
		evicted = append(evicted, e)
		total -= e.totalSize()
	}
	return evicted
}

func (c *Cache) dropLocked(e Entry) {
	list := c.entries[e.Sketch]
	for i := range list {
		if list[i].Version == e.Version {
			c.setLocked(e.Sketch, append(list[:i:i], list[i+1:]...))
			return
		}
	}
}

func (c *Cache) setLocked(sketch string, list []Entry) {
	if len(list) == 0 {
		delete(c.entries, sketch)
		return
	}
	c.entries[sketch] = list
}
