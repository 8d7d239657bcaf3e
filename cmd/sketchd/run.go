package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sketchd/internal/app"
	"sketchd/internal/executor"
)

// runReport is what `run` and `validate` print.
type runReport struct {
	Script    string   `json:"script"`
	Success   bool     `json:"success"`
	Kind      string   `json:"kind,omitempty"`
	Error     string   `json:"error,omitempty"`
	ExitCode  int      `json:"exit_code"`
	Artifacts []string `json:"artifacts,omitempty"`
	Elapsed   float64  `json:"elapsed_seconds"`
	Stdout    string   `json:"stdout,omitempty"`
	Stderr    string   `json:"stderr,omitempty"`
}

func report(script string, r executor.Result) runReport {
	return runReport{
		Script:    script,
		Success:   r.Success,
		Kind:      string(r.Kind),
		Error:     r.Error,
		ExitCode:  r.ExitCode,
		Artifacts: r.Artifacts,
		Elapsed:   r.Elapsed.Seconds(),
		Stdout:    r.Stdout,
		Stderr:    r.Stderr,
	}
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Execute one script once and report its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := app.NewRunner(c.cfg, c.log)
			if err != nil {
				return err
			}
			res := runner.Run(cmd.Context(), args[0], timeout)
			if err := c.print(report(args[0], res)); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s: %w", args[0], res.Err())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout (config default when zero)")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script>",
		Short: "Check a script for syntax errors without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := app.NewRunner(c.cfg, c.log)
			if err != nil {
				return err
			}
			res := runner.Validate(cmd.Context(), args[0])
			if err := c.print(report(args[0], res)); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s: %w", args[0], res.Err())
			}
			return nil
		},
	}
}
