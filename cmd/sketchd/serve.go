package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sketchd/internal/app"
	"sketchd/internal/httpapi"
)

type serveFlags struct {
	addr        string
	sketchesDir string
	examplesDir string
	cacheDir    string
	executor    string
	corsEnabled bool
	corsOrigins string
}

func newServeCmd(c *cli) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live preview HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, c)
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			return c.serve(cmd.Context())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8083")
	fl.StringVar(&f.sketchesDir, "sketches-dir", "", "Directory holding user sketches")
	fl.StringVar(&f.examplesDir, "examples-dir", "", "Directory holding example sketches")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "Artifact cache directory")
	fl.StringVar(&f.executor, "executor", "", "Execution strategy: subprocess|placeholder")
	fl.BoolVar(&f.corsEnabled, "cors-enabled", false, "Enable CORS")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	return cmd
}

// apply lets explicitly set flags win over file and environment values.
func (f serveFlags) apply(cmd *cobra.Command, c *cli) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		c.cfg.Addr = f.addr
	}
	if fl.Changed("sketches-dir") {
		c.cfg.SketchesDir = f.sketchesDir
	}
	if fl.Changed("examples-dir") {
		c.cfg.ExamplesDir = f.examplesDir
	}
	if fl.Changed("cache-dir") {
		c.cfg.Cache.Dir = f.cacheDir
	}
	if fl.Changed("executor") {
		c.cfg.Executor.Mode = f.executor
	}
	if fl.Changed("cors-enabled") {
		c.cfg.HTTP.CORSEnabled = f.corsEnabled
	}
	if fl.Changed("cors-origins") {
		c.cfg.HTTP.CORSOrigins = splitCSV(f.corsOrigins)
	}
}

func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := c.cfg
	a, err := app.New(cfg, c.log)
	if err != nil {
		return err
	}

	httpapi.SetLogger(c.log.With().Str("component", "http").Logger())
	httpapi.SetRequestLogLevel(cfg.Log.Level)
	httpapi.SetCORSOptions(cfg.HTTP.CORSEnabled, cfg.HTTP.CORSOrigins, cfg.HTTP.CORSMethods, cfg.HTTP.CORSHeaders)
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		c.log.Info().Str("addr", cfg.Addr).Str("sketches_dir", cfg.SketchesDir).Str("cache_dir", cfg.Cache.Dir).Msg("sketchd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if err := a.Start(ctx); err != nil {
		_ = srv.Close()
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		c.log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		c.log.Error().Err(serveErr).Msg("server error")
	}

	// Graceful shutdown: drain executions and notify live clients before
	// closing the listener.
	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		c.log.Warn().Err(err).Msg("app shutdown incomplete")
	}
	cancelBase()
	if err := srv.Shutdown(sctx); err != nil {
		c.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return serveErr
}
