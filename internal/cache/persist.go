package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"sketchd/internal/common/fsutil"
)

const (
	indexFile    = ".cache_metadata.json"
	indexTmpFile = ".cache_metadata.tmp"
)

// loadLocked reads the persisted index. A missing index is an empty cache; a
// corrupt one is logged and rebuilt from scratch (the orphan sweep in
// reconcileLocked then clears its files).
func (c *Cache) loadLocked() {
	b, err := os.ReadFile(c.Path(indexFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Msg("cache index unreadable; starting empty")
		}
		return
	}
	var data map[string][]Entry
	if err := json.Unmarshal(b, &data); err != nil {
		corruptIndexTotal.Inc()
		c.log.Warn().Err(err).Msg("cache index corrupt; rebuilding")
		return
	}
	for sketch, list := range data {
		if validName(sketch) != nil {
			continue
		}
		c.entries[sketch] = list
	}
}

// reconcileLocked drops entries whose files are gone, trims per-sketch
// version counts, and deletes files no entry references.
func (c *Cache) reconcileLocked() {
	for sketch, list := range c.entries {
		live := list[:0]
		for _, e := range list {
			if e.Sketch != sketch || validName(e.File) != nil || !fileExists(c.Path(e.File)) {
				c.log.Debug().Str("sketch", sketch).Int64("version", e.Version).Msg("cache entry missing on disk; dropped")
				continue
			}
			if e.Thumbnail != "" && (validName(e.Thumbnail) != nil || !fileExists(c.Path(e.Thumbnail))) {
				e.Thumbnail, e.ThumbnailSize = "", 0
			}
			live = append(live, e)
		}
		sortDesc(live)
		c.setLocked(sketch, live)
		if len(live) > 0 {
			c.last[sketch] = live[0].Version
		}
		c.trimVersionsLocked(sketch)
	}

	referenced := make(map[string]bool)
	for _, list := range c.entries {
		for _, e := range list {
			referenced[e.File] = true
			if e.Thumbnail != "" {
				referenced[e.Thumbnail] = true
			}
		}
	}
	des, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache sweep: read dir failed")
		return
	}
	swept := 0
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || name == indexFile {
			continue
		}
		orphan := name == indexTmpFile || (strings.EqualFold(filepath.Ext(name), ".png") && !referenced[name])
		if !orphan {
			continue
		}
		if err := fsutil.RemoveIfExists(c.Path(name)); err != nil {
			c.log.Warn().Err(err).Str("file", name).Msg("cache sweep: remove failed")
			continue
		}
		swept++
	}
	if swept > 0 {
		c.log.Info().Int("files", swept).Msg("cache sweep removed unreferenced files")
	}
}

// saveLocked rewrites the index atomically.
func (c *Cache) saveLocked() error {
	b, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: c.Path(indexFile), Err: err}
	}
	if err := fsutil.WriteFileAtomic(c.Path(indexFile), c.Path(indexTmpFile), b, 0o644); err != nil {
		return &IOError{Op: "write", Path: c.Path(indexFile), Err: err}
	}
	return nil
}
