package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultTimeout         = 30 * time.Second
	defaultValidateTimeout = 10 * time.Second
	defaultSyntaxPattern   = `(?i)(syntax|indentation|tab) ?error`
	// grace period for pipes held open by orphaned grandchildren
	waitDelay = 2 * time.Second
)

var (
	defaultOutputDirs = []string{".", "output"}
	defaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".pdf", ".svg"}
)

// Config encapsulates all tunables for the subprocess runner.
type Config struct {
	// Runtime binary, e.g. python3. The script path is appended to Args.
	Command string
	Args    []string
	// Arguments for the compile-only check; empty disables validation.
	ValidateArgs    []string
	Env             []string
	Timeout         time.Duration
	ValidateTimeout time.Duration
	// Directories searched for artifacts, relative to the script directory.
	OutputDirs         []string
	ArtifactExtensions []string
	// Matched against stderr to tell syntax errors from runtime errors.
	SyntaxErrorPattern string
	Logger             zerolog.Logger
}

// Subprocess runs each sketch in a fresh child process rooted at the
// script's directory.
type Subprocess struct {
	cfg    Config
	syntax *regexp.Regexp
	exts   map[string]bool
	log    zerolog.Logger
}

// NewSubprocess constructs a subprocess runner, applying defaults.
func NewSubprocess(cfg Config) (*Subprocess, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("executor command is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = defaultValidateTimeout
	}
	if len(cfg.OutputDirs) == 0 {
		cfg.OutputDirs = defaultOutputDirs
	}
	if len(cfg.ArtifactExtensions) == 0 {
		cfg.ArtifactExtensions = defaultExtensions
	}
	if cfg.SyntaxErrorPattern == "" {
		cfg.SyntaxErrorPattern = defaultSyntaxPattern
	}
	re, err := regexp.Compile(cfg.SyntaxErrorPattern)
	if err != nil {
		return nil, fmt.Errorf("syntax error pattern: %w", err)
	}
	exts := make(map[string]bool, len(cfg.ArtifactExtensions))
	for _, e := range cfg.ArtifactExtensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Subprocess{cfg: cfg, syntax: re, exts: exts, log: cfg.Logger}, nil
}

// Run executes scriptPath and collects the artifacts it produced.
func (s *Subprocess) Run(ctx context.Context, scriptPath string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	abs, res, ok := resolveScript(scriptPath)
	if !ok {
		observe("subprocess", res)
		return res
	}
	outputs := newOutputScan(abs, s.cfg.OutputDirs, s.exts)
	args := append(append([]string(nil), s.cfg.Args...), abs)
	res = s.exec(ctx, filepath.Dir(abs), timeout, args)
	if res.Success {
		res.Artifacts = outputs.collect()
		if len(res.Artifacts) == 0 {
			res.Success = false
			res.Kind = KindNoArtifact
			res.Error = "script finished without producing an artifact"
		}
	}
	ev := s.log.Debug()
	if !res.Success {
		ev = s.log.Info()
	}
	ev.Str("script", abs).Bool("success", res.Success).Str("kind", string(res.Kind)).Dur("elapsed", res.Elapsed).Int("artifacts", len(res.Artifacts)).Msg("executor run")
	observe("subprocess", res)
	return res
}

// Validate runs the configured compile-only check. Without ValidateArgs it
// only checks that the script exists.
func (s *Subprocess) Validate(ctx context.Context, scriptPath string) Result {
	abs, res, ok := resolveScript(scriptPath)
	if !ok {
		return res
	}
	if len(s.cfg.ValidateArgs) == 0 {
		return Result{Success: true}
	}
	args := append(append([]string(nil), s.cfg.ValidateArgs...), abs)
	res = s.exec(ctx, filepath.Dir(abs), s.cfg.ValidateTimeout, args)
	if !res.Success && res.Kind == KindRuntime {
		// any failure of a compile-only check is a syntax problem
		res.Kind = KindSyntax
	}
	return res
}

func (s *Subprocess) exec(ctx context.Context, dir string, timeout time.Duration, args []string) Result {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.cfg.Command, args...)
	cmd.Dir = dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	stdout := newLimitedBuffer(maxCapture)
	stderr := newLimitedBuffer(maxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Elapsed:  time.Since(start),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Kind = KindTimeout
		res.Error = fmt.Sprintf("sketch execution timed out after %s", timeout)
	case ctx.Err() != nil:
		res.Kind = KindRuntime
		res.Error = "execution canceled: " + ctx.Err().Error()
	case err != nil:
		msg := strings.TrimSpace(tail(res.Stderr, errTail))
		if msg == "" {
			msg = err.Error()
		}
		res.Kind = KindRuntime
		if s.syntax.MatchString(res.Stderr) {
			res.Kind = KindSyntax
		}
		res.Error = msg
	default:
		res.Success = true
	}
	return res
}

func resolveScript(scriptPath string) (string, Result, bool) {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", Result{Kind: KindNotFound, Error: err.Error()}, false
	}
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return "", Result{Kind: KindNotFound, Error: "script not found: " + abs}, false
	}
	return abs, Result{}, true
}
