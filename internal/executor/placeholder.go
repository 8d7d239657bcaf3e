package executor

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	placeholderWidth  = 400
	placeholderHeight = 300
)

// Placeholder renders a flat image derived from the script contents instead
// of running the drawing runtime. Editing the script changes the color.
type Placeholder struct {
	dir string
	log zerolog.Logger
}

// NewPlaceholder writes artifacts under dir (a temp directory when empty).
func NewPlaceholder(dir string, log zerolog.Logger) (*Placeholder, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "sketchd-placeholder")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("placeholder dir: %w", err)
	}
	return &Placeholder{dir: dir, log: log}, nil
}

func (p *Placeholder) Run(ctx context.Context, scriptPath string, timeout time.Duration) Result {
	start := time.Now()
	abs, res, ok := resolveScript(scriptPath)
	if !ok {
		observe("placeholder", res)
		return res
	}
	if err := ctx.Err(); err != nil {
		return Result{Kind: KindRuntime, Error: "execution canceled: " + err.Error()}
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return Result{Kind: KindRuntime, Error: err.Error()}
	}
	h := fnv.New32a()
	_, _ = h.Write(src)
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		for x := 0; x < placeholderWidth; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{Kind: KindRuntime, Error: err.Error()}
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	out := filepath.Join(p.dir, stem+".png")
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return Result{Kind: KindRuntime, Error: err.Error()}
	}
	res = Result{Success: true, Artifacts: []string{out}, Elapsed: time.Since(start)}
	p.log.Debug().Str("script", abs).Str("artifact", out).Msg("placeholder run")
	observe("placeholder", res)
	return res
}

func (p *Placeholder) Validate(ctx context.Context, scriptPath string) Result {
	if _, res, ok := resolveScript(scriptPath); !ok {
		return res
	}
	return Result{Success: true}
}
