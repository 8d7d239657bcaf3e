package executor

import (
	"context"
	"errors"
	"time"
)

// Kind classifies an execution outcome.
type Kind string

const (
	KindNone       Kind = ""
	KindNotFound   Kind = "not_found"
	KindSyntax     Kind = "syntax_error"
	KindRuntime    Kind = "runtime_error"
	KindTimeout    Kind = "timeout"
	KindNoArtifact Kind = "no_artifact"
)

// Result is the structured outcome of one run or validation. Failures are
// reported here, never as panics.
type Result struct {
	Success  bool
	Kind     Kind
	Error    string
	Stdout   string
	Stderr   string
	ExitCode int
	// Absolute artifact paths: one file, or page-numbered files in page order.
	Artifacts []string
	Elapsed   time.Duration
}

// Err returns nil on success, otherwise an *Error carrying the kind.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Msg: r.Error}
}

// Error is the error form of a failed Result.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

// KindOf returns the failure kind of err, or KindNone.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindNone
}

// IsTimeout reports whether err is an execution timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsNotFound reports whether err is a missing script.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// Runner executes sketches. The implementation is picked once at startup.
type Runner interface {
	// Run executes scriptPath under timeout (zero uses the runner default).
	Run(ctx context.Context, scriptPath string, timeout time.Duration) Result
	// Validate parses scriptPath without executing it.
	Validate(ctx context.Context, scriptPath string) Result
}
