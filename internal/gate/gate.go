// Package gate runs the project's test suite before a mutating tool
// action and turns the result into an allow/deny decision.
//
// Gating applies only to an allow-list of mutating tools. The test
// runner is an opaque executable at a fixed path under the event's
// working directory; its exit code, stdout, and stderr are the entire
// contract. Inability to run tests (missing script, spawn failure,
// timeout) is not the same as tests failing — those outcomes allow the
// action, because a broken harness must not block all work.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
)

// DefaultScript is the test runner path, relative to the event cwd.
const DefaultScript = "scripts/run_make_test.sh"

// DefaultTools is the allow-list of mutating tools that trigger gating.
var DefaultTools = []string{"Edit", "MultiEdit", "Write", "FilePatch"}

// DefaultTailChars bounds the captured stdout/stderr tails.
const DefaultTailChars = 500

// Outcome statuses.
const (
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Outcome is the result of one test-runner attempt. Exactly one shape
// per status:
//
//	skipped    {status, reason}     script not present, or path excluded
//	completed  {status, exit_code, stdout, stderr}
//	error      {status, reason}     subprocess could not run
//
// Stdout and Stderr hold only the last tail_chars characters of each
// stream, keeping audit records bounded on noisy test output.
type Outcome struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// MarshalJSON writes the per-status key shape. Only completed outcomes
// carry exit_code/stdout/stderr; skipped and error outcomes carry a
// reason instead.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Status == StatusCompleted {
		return marshalCompleted(o)
	}
	return marshalReason(o)
}

// Runner executes the gate for tool actions.
type Runner struct {
	script    string
	tools     map[string]bool
	timeout   time.Duration
	tailChars int
	skipGlobs []glob.Glob
}

// Options configures a Runner. Zero values mean the defaults above;
// Timeout zero means no timeout at all (the subprocess runs to
// completion). Tools nil means the default allow-list; an explicit
// empty slice gates nothing.
type Options struct {
	Script    string
	Tools     []string
	Timeout   time.Duration
	TailChars int
	SkipPaths []string
}

// NewRunner builds a Runner, compiling any skip-path globs.
// Returns an error only for an invalid glob pattern.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Script == "" {
		opts.Script = DefaultScript
	}
	if opts.Tools == nil {
		opts.Tools = DefaultTools
	}
	if opts.TailChars <= 0 {
		opts.TailChars = DefaultTailChars
	}

	r := &Runner{
		script:    opts.Script,
		tools:     make(map[string]bool, len(opts.Tools)),
		timeout:   opts.Timeout,
		tailChars: opts.TailChars,
	}
	for _, t := range opts.Tools {
		r.tools[t] = true
	}

	for _, p := range opts.SkipPaths {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid skip_paths pattern %q: %w", p, err)
		}
		r.skipGlobs = append(r.skipGlobs, g)
	}

	return r, nil
}

// Gated reports whether the tool is on the gating allow-list.
func (r *Runner) Gated(tool string) bool {
	return r.tools[tool]
}

// Check runs the gate for one tool action. Returns nil when gating does
// not apply to the tool — no subprocess is started in that case.
// filePath is the action's target file, used only for skip-path
// matching ("" matches nothing).
func (r *Runner) Check(ctx context.Context, tool, dir, filePath string) *Outcome {
	if !r.Gated(tool) {
		return nil
	}

	if filePath != "" {
		for _, g := range r.skipGlobs {
			if g.Match(filePath) {
				return &Outcome{
					Status: StatusSkipped,
					Reason: fmt.Sprintf("%s matches a skip_paths pattern", filePath),
				}
			}
		}
	}

	return r.Run(ctx, dir)
}

// Run executes the test script in dir and captures the result.
// Never returns nil; every failure mode maps to an Outcome.
func (r *Runner) Run(ctx context.Context, dir string) *Outcome {
	scriptPath := filepath.Join(dir, r.script)

	info, err := os.Stat(scriptPath)
	if err != nil || info.IsDir() {
		return &Outcome{
			Status: StatusSkipped,
			Reason: fmt.Sprintf("%s not found", filepath.Base(r.script)),
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, scriptPath)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	// A context deadline kills the subprocess; surface that as an
	// execution error, not a test failure.
	if ctx.Err() == context.DeadlineExceeded {
		return &Outcome{
			Status: StatusError,
			Reason: fmt.Sprintf("test run exceeded timeout of %s", r.timeout),
		}
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return &Outcome{
			Status:   StatusCompleted,
			ExitCode: 0,
			Stdout:   tail(stdout.String(), r.tailChars),
			Stderr:   tail(stderr.String(), r.tailChars),
		}
	case errors.As(err, &exitErr):
		// Non-zero exit is a normal, expected outcome to interpret.
		return &Outcome{
			Status:   StatusCompleted,
			ExitCode: exitErr.ExitCode(),
			Stdout:   tail(stdout.String(), r.tailChars),
			Stderr:   tail(stderr.String(), r.tailChars),
		}
	default:
		return &Outcome{
			Status: StatusError,
			Reason: err.Error(),
		}
	}
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// marshalCompleted and marshalReason are the two JSON shapes for Outcome.

func marshalCompleted(o Outcome) ([]byte, error) {
	return json.Marshal(struct {
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
	}{o.Status, o.ExitCode, o.Stdout, o.Stderr})
}

func marshalReason(o Outcome) ([]byte, error) {
	return json.Marshal(struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}{o.Status, o.Reason})
}
