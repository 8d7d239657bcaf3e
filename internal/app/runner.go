package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/config"
	"sketchd/internal/executor"
)

// NewRunner picks the execution strategy once, from configuration.
func NewRunner(cfg config.Config, log zerolog.Logger) (executor.Runner, error) {
	ec := cfg.Executor
	switch ec.Mode {
	case config.ExecutorPlaceholder:
		return executor.NewPlaceholder(filepath.Join(cfg.Cache.Dir, ".placeholder"), log)
	case config.ExecutorSubprocess, "":
		return executor.NewSubprocess(executor.Config{
			Command:            ec.Command,
			Args:               ec.Args,
			ValidateArgs:       ec.ValidateArgs,
			Timeout:            time.Duration(ec.TimeoutSeconds) * time.Second,
			ValidateTimeout:    time.Duration(ec.ValidateTimeoutSeconds) * time.Second,
			OutputDirs:         ec.OutputDirs,
			ArtifactExtensions: ec.ArtifactExtensions,
			SyntaxErrorPattern: ec.SyntaxErrorPattern,
			Logger:             log,
		})
	}
	return nil, fmt.Errorf("unknown executor mode %q", ec.Mode)
}
