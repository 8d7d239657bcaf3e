package cache

import (
	"errors"
	"fmt"
	"strconv"
)

// IOError wraps a filesystem failure while mutating the cache.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is a cache filesystem failure.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

// thumbnailUnavailableError means a thumbnail cannot be produced for an
// artifact (undecodable format); callers degrade gracefully.
type thumbnailUnavailableError struct{ reason string }

func (e thumbnailUnavailableError) Error() string { return "thumbnail unavailable: " + e.reason }

// IsThumbnailUnavailable reports whether err indicates the thumbnail backend
// cannot handle the artifact.
func IsThumbnailUnavailable(err error) bool {
	var te thumbnailUnavailableError
	return errors.As(err, &te)
}

type entryNotFoundError struct {
	sketch  string
	version int64
}

func (e entryNotFoundError) Error() string {
	if e.version == 0 {
		return "no cached preview for sketch: " + e.sketch
	}
	return "no cached version " + strconv.FormatInt(e.version, 10) + " for sketch: " + e.sketch
}

// IsNotFound reports whether err indicates a missing cache entry or file.
func IsNotFound(err error) bool {
	var ne entryNotFoundError
	return errors.As(err, &ne)
}

// ErrEmptyArtifact is returned by Store for zero-length data.
var ErrEmptyArtifact = errors.New("empty artifact")

// ErrInvalidName is returned for sketch or file names that could escape the
// cache directory.
var ErrInvalidName = errors.New("invalid name")
