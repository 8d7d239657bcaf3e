package main

import (
	"github.com/spf13/cobra"

	"sketchd/internal/app"
	"sketchd/internal/cache"
)

func newCacheCmd(c *cli) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the artifact cache",
	}
	cmd.PersistentFlags().StringVar(&dir, "cache-dir", "", "Artifact cache directory (overrides config)")
	open := func(cmd *cobra.Command) (*cache.Cache, error) {
		if cmd.Flags().Changed("cache-dir") {
			c.cfg.Cache.Dir = dir
		}
		return app.NewCache(c.cfg, c.log.With().Str("component", "cache").Logger())
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := open(cmd)
			if err != nil {
				return err
			}
			return c.print(ch.Stats())
		},
	}
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict expired and over-budget versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := open(cmd)
			if err != nil {
				return err
			}
			evicted, err := ch.Cleanup()
			if err != nil {
				return err
			}
			files := make([]string, 0, len(evicted))
			for _, e := range evicted {
				files = append(files, e.File)
			}
			return c.print(map[string]any{"evicted": len(evicted), "files": files, "stats": ch.Stats()})
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached artifact and thumbnail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := open(cmd)
			if err != nil {
				return err
			}
			if err := ch.Clear(); err != nil {
				return err
			}
			return c.print(ch.Stats())
		},
	}
	cmd.AddCommand(stats, cleanup, clearCmd)
	return cmd
}
