package types

// Source types for sketches discovered on disk.
const (
	SourceSketch  = "sketch"
	SourceExample = "example"
)

// Sketch is a named, user-authored script that produces a visual artifact.
type Sketch struct {
	// Logical sketch name.
	// example: spiral
	Name string `json:"name" example:"spiral"`
	// Absolute path to the script on disk.
	// example: /home/user/sketches/spiral.py
	Path string `json:"path" example:"/home/user/sketches/spiral.py"`
	// Where the sketch was found: sketch or example.
	// example: sketch
	Source string `json:"source" example:"sketch"`
}
