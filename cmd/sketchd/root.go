package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sketchd/internal/common/fsutil"
	"sketchd/internal/config"
)

// cli carries state shared by every subcommand once the root has resolved it.
type cli struct {
	configPath string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
	out io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}
	root := &cobra.Command{
		Use:           "sketchd",
		Short:         "Live preview server for sketch scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (.yaml, .json or .toml); SKETCHD_CONFIG when unset")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		c.out = cmd.OutOrStdout()
		return c.load()
	}

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newValidateCmd(c),
		newCacheCmd(c),
	)
	return root
}

// load reads .env, the config file and SKETCHD_* overrides, then builds the
// logger.
func (c *cli) load() error {
	if fsutil.PathExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	path := c.configPath
	if path == "" {
		path = os.Getenv("SKETCHD_CONFIG")
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	c.log = newLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return nil
}

// newLogger builds the root logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
