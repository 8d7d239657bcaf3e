package cache

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one stored artifact version of a sketch.
type Entry struct {
	Sketch    string    `json:"sketch_name"`
	Version   int64     `json:"version"`
	File      string    `json:"file"`
	Size      int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
	// Thumbnail file name, empty until generated.
	Thumbnail     string `json:"thumbnail,omitempty"`
	ThumbnailSize int64  `json:"thumbnail_size,omitempty"`
}

// ImageURL is the cache-busted URL the HTTP layer serves this artifact at.
func (e Entry) ImageURL() string {
	return "/preview/" + e.File + "?v=" + strconv.FormatInt(e.Version, 10)
}

// ThumbnailURL returns the thumbnail URL, or "" when none exists.
func (e Entry) ThumbnailURL() string {
	if e.Thumbnail == "" {
		return ""
	}
	return "/thumbnail/" + e.Thumbnail
}

func (e Entry) totalSize() int64 { return e.Size + e.ThumbnailSize }

// StoreResult reports the stored entry and anything evicted to make room.
type StoreResult struct {
	Entry   Entry
	Evicted []Entry
}

// Eviction reasons, used as metric labels.
const (
	reasonVersions = "versions"
	reasonAge      = "age"
	reasonSize     = "size"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxVersions     = 5
	defaultMaxTotalSizeMB  = 100
	defaultMaxAgeHours     = 24
	defaultThumbnailWidth  = 300
	defaultThumbnailHeight = 200
)

// Config encapsulates all tunables for Cache construction.
type Config struct {
	Dir                  string
	MaxVersionsPerSketch int
	MaxTotalSizeMB       int
	// Zero selects the default; negative disables age-based cleanup.
	MaxAgeHours     int
	ThumbnailWidth  int
	ThumbnailHeight int
	Logger          zerolog.Logger
	// Clock override for tests.
	Now func() time.Time
}
