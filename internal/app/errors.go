package app

import (
	"errors"
	"net/http"

	"sketchd/internal/cache"
	"sketchd/internal/executor"
	"sketchd/internal/orchestrator"
	"sketchd/internal/registry"
)

// sketchNotFoundError maps to 404.
type sketchNotFoundError struct{ name string }

func (e sketchNotFoundError) Error() string { return "sketch not found: " + e.name }

func (e sketchNotFoundError) StatusCode() int { return http.StatusNotFound }

func (e sketchNotFoundError) Is(target error) bool { return target == registry.ErrSketchNotFound }

// IsSketchNotFound reports whether err indicates an unknown sketch name.
func IsSketchNotFound(err error) bool {
	return errors.Is(err, registry.ErrSketchNotFound)
}

// unavailableError signals a feature or component that cannot serve right
// now (shutting down, thumbnail backend missing) so the HTTP layer returns 503.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

func (e unavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// IsUnavailable reports whether err maps to 503.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}

// classify converts component errors into app errors carrying a status code.
func classify(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case registry.IsNotFound(err), executor.IsNotFound(err):
		return sketchNotFoundError{name: name}
	case errors.Is(err, orchestrator.ErrClosed):
		return unavailableError{msg: "server is shutting down"}
	case cache.IsThumbnailUnavailable(err):
		return unavailableError{msg: err.Error()}
	}
	return err
}
