package cache

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

var thumbnailBackground = color.RGBA{R: 240, G: 240, B: 240, A: 255}

// GenerateThumbnail renders a thumbnail for a stored version and records it
// on the entry. An existing thumbnail is returned as-is. The image work runs
// outside the cache lock.
func (c *Cache) GenerateThumbnail(sketch string, version int64) (Entry, error) {
	c.mu.Lock()
	e, ok := c.findLocked(sketch, version)
	c.mu.Unlock()
	if !ok {
		return Entry{}, entryNotFoundError{sketch: sketch, version: version}
	}
	if e.Thumbnail != "" {
		return e, nil
	}

	src, err := os.ReadFile(c.Path(e.File))
	if err != nil {
		return Entry{}, &IOError{Op: "read", Path: c.Path(e.File), Err: err}
	}
	data, err := renderThumbnail(src, c.thumbW, c.thumbH)
	if err != nil {
		thumbnailsTotal.WithLabelValues("unavailable").Inc()
		return Entry{}, err
	}
	name := strings.TrimSuffix(e.File, ".png") + "_thumb.png"
	if err := os.WriteFile(c.Path(name), data, 0o644); err != nil {
		thumbnailsTotal.WithLabelValues("error").Inc()
		return Entry{}, &IOError{Op: "write", Path: c.Path(name), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.entries[sketch]
	for i := range list {
		if list[i].Version != version {
			continue
		}
		list[i].Thumbnail = name
		list[i].ThumbnailSize = int64(len(data))
		entry := list[i]
		thumbnailsTotal.WithLabelValues("ok").Inc()
		if c.totalBytesLocked() > c.maxBytes {
			c.cleanupLocked(c.now(), &entry)
		}
		c.updateGaugesLocked()
		if err := c.saveLocked(); err != nil {
			return entry, err
		}
		return entry, nil
	}
	// evicted while rendering
	_ = os.Remove(c.Path(name))
	return Entry{}, entryNotFoundError{sketch: sketch, version: version}
}

// HasThumbnail reports whether the current entry of sketch has a thumbnail.
func (c *Cache) HasThumbnail(sketch string) bool {
	e, ok := c.Current(sketch)
	return ok && e.Thumbnail != ""
}

// MissingThumbnails lists sketches whose current entry has no thumbnail yet.
func (c *Cache) MissingThumbnails() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for sketch, list := range c.entries {
		if len(list) > 0 && list[0].Thumbnail == "" {
			out = append(out, sketch)
		}
	}
	sort.Strings(out)
	return out
}

// renderThumbnail scales src to fit w×h (never upscaling), centered on a
// light-gray canvas, and encodes it as PNG.
func renderThumbnail(src []byte, w, h int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, thumbnailUnavailableError{reason: err.Error()}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, thumbnailUnavailableError{reason: "empty image"}
	}
	scale := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()), 1)
	tw := max(1, int(float64(b.Dx())*scale))
	th := max(1, int(float64(b.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(thumbnailBackground), image.Point{}, draw.Src)
	x0, y0 := (w-tw)/2, (h-th)/2
	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
