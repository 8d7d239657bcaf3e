package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sketchd/internal/common/fsutil"
	"sketchd/pkg/types"
)

// ErrSketchNotFound is matched by every lookup miss.
var ErrSketchNotFound = errors.New("sketch not found")

type notFoundError struct{ name string }

func (e notFoundError) Error() string { return fmt.Sprintf("sketch not found: %s", e.name) }

func (e notFoundError) Is(target error) bool { return target == ErrSketchNotFound }

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrSketchNotFound) }

// Registry maps sketch names to scripts under the sketches directory and an
// optional examples directory. A sketch is either a flat file (name.py) or a
// folder holding name/name.py or name/sketch.py.
type Registry struct {
	sketchesDir string
	examplesDir string
	ext         string
}

// New resolves both directories to absolute paths. examplesDir may be empty.
func New(sketchesDir, examplesDir, ext string) (*Registry, error) {
	if ext == "" {
		ext = ".py"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	sd, err := fsutil.AbsDir(sketchesDir)
	if err != nil {
		return nil, err
	}
	r := &Registry{sketchesDir: sd, ext: ext}
	if examplesDir != "" {
		if r.examplesDir, err = fsutil.AbsDir(examplesDir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) SketchesDir() string { return r.sketchesDir }
func (r *Registry) ExamplesDir() string { return r.examplesDir }

// Scan lists every sketch, user sketches before examples, each group sorted
// by name. A user sketch shadows an example of the same name. A missing
// examples directory is not an error.
func (r *Registry) Scan() ([]types.Sketch, error) {
	out, err := r.scanDir(r.sketchesDir, types.SourceSketch)
	if err != nil {
		return nil, err
	}
	if r.examplesDir == "" {
		return out, nil
	}
	examples, err := r.scanDir(r.examplesDir, types.SourceExample)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s.Name] = true
	}
	for _, s := range examples {
		if !seen[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Registry) scanDir(dir, source string) ([]types.Sketch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.Sketch
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if e.IsDir() {
			if p, ok := r.folderScript(dir, name); ok {
				out = append(out, types.Sketch{Name: name, Path: p, Source: source})
			}
			continue
		}
		if filepath.Ext(name) != r.ext {
			continue
		}
		out = append(out, types.Sketch{
			Name:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path:   filepath.Join(dir, name),
			Source: source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) folderScript(dir, name string) (string, bool) {
	for _, f := range []string{name + r.ext, "sketch" + r.ext} {
		p := filepath.Join(dir, name, f)
		if isFile(p) {
			return p, true
		}
	}
	return "", false
}

// Resolve finds name in the sketches directory, then the examples directory.
func (r *Registry) Resolve(name string) (types.Sketch, error) {
	if !validName(name) {
		return types.Sketch{}, notFoundError{name: name}
	}
	dirs := []struct{ dir, source string }{{r.sketchesDir, types.SourceSketch}}
	if r.examplesDir != "" {
		dirs = append(dirs, struct{ dir, source string }{r.examplesDir, types.SourceExample})
	}
	for _, d := range dirs {
		if p := filepath.Join(d.dir, name+r.ext); isFile(p) {
			return types.Sketch{Name: name, Path: p, Source: d.source}, nil
		}
		if p, ok := r.folderScript(d.dir, name); ok {
			return types.Sketch{Name: name, Path: p, Source: d.source}, nil
		}
	}
	return types.Sketch{}, notFoundError{name: name}
}

// Path is Resolve reduced to the script path, for callers that only need it.
func (r *Registry) Path(name string) (string, bool) {
	s, err := r.Resolve(name)
	return s.Path, err == nil
}

// validName rejects names that could escape the configured directories.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
