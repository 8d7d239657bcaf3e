package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"sketchd/pkg/types"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("warn", "json", &buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("unexpected output: %q", out)
	}
	if got := newLogger("bogus", "json", &buf).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("fallback level = %v", got)
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"run"}, {"validate"}, {"cache", "stats"}, {"cache", "cleanup"}, {"cache", "clear"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not found: %v", path, err)
		}
	}
}

// execute runs the CLI in-process and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SKETCHD_CONFIG", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunPlaceholder(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "circles.py")
	if err := os.WriteFile(script, []byte("draw()\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SKETCHD_EXECUTOR_MODE", "placeholder")
	t.Setenv("SKETCHD_CACHE_DIR", filepath.Join(dir, "cache"))
	out, err := execute(t, "run", script)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var rep runReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("json: %v (%s)", err, out)
	}
	if !rep.Success || len(rep.Artifacts) != 1 {
		t.Fatalf("report = %+v", rep)
	}

	_, err = execute(t, "run", filepath.Join(dir, "missing.py"))
	if err == nil {
		t.Fatalf("missing script should fail")
	}
}

func TestCacheStatsCommand(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")
	out, err := execute(t, "cache", "stats", "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("cache stats: %v\n%s", err, out)
	}
	var st types.CacheStats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("json: %v (%s)", err, out)
	}
	if st.TotalVersions != 0 || st.MaxVersionsPerSketch != 5 {
		t.Fatalf("stats = %+v", st)
	}
	if _, err := execute(t, "cache", "clear", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
}
