// Package hook implements the two lifecycle hook pipelines the agent
// runtime invokes around tool calls.
//
// Preflight runs before a tool call: it evaluates guidelines, runs the
// test gate for mutating tools, and either denies the action on stdout
// or appends a preflight audit record. Cycle runs after a tool call and
// appends a summary record. Both pipelines are fail-open — the only
// path that blocks the agent is a test run that completed with a
// non-zero exit. Everything else (missing script, broken config,
// unwritable logs) degrades to allowing the action.
package hook

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/revgate/revgate/internal/audit"
	"github.com/revgate/revgate/internal/config"
	"github.com/revgate/revgate/internal/event"
	"github.com/revgate/revgate/internal/gate"
	"github.com/revgate/revgate/internal/guideline"
)

// Pipeline wires the guideline engine, test gate, audit writer, and
// decision ledger for one hook invocation. Hook processes are
// short-lived: build a Pipeline, run one event through it, Close.
type Pipeline struct {
	engine *guideline.Engine
	runner *gate.Runner
	writer *audit.Writer
	ledger *audit.Ledger // nil when disabled or unavailable
	stdout io.Writer
}

// NewPipeline builds a pipeline for the given project directory, which
// is the event's working directory: the test script, audit logs, and
// ledger all resolve against it.
func NewPipeline(cfg *config.Config, cwd string, stdout io.Writer) *Pipeline {
	p := &Pipeline{
		engine: guideline.NewEngine(guideline.Options{
			MinDescription:   cfg.Guidelines.MinDescription,
			LargeChangeChars: cfg.Guidelines.LargeChangeChars,
			Disabled:         cfg.Guidelines.Disabled,
		}),
		writer: audit.NewWriter(cwd),
		stdout: stdout,
	}

	opts := gate.Options{
		Script:    cfg.Gate.Script,
		Tools:     cfg.Gate.Tools,
		Timeout:   time.Duration(cfg.Gate.TimeoutSeconds) * time.Second,
		TailChars: cfg.Gate.TailChars,
		SkipPaths: cfg.Gate.SkipPaths,
	}
	runner, err := gate.NewRunner(opts)
	if err != nil {
		// A bad skip_paths pattern degrades to gating without skip
		// patterns rather than failing the hook.
		slog.Debug("skip_paths ignored", "error", err)
		opts.SkipPaths = nil
		runner, _ = gate.NewRunner(opts)
	}
	p.runner = runner

	if cfg.Ledger.Enabled {
		ledger, err := audit.Open(cfg.LedgerDir(cwd))
		if err != nil {
			slog.Debug("decision ledger unavailable", "error", err)
		} else {
			p.ledger = ledger
		}
	}

	return p
}

// Close releases the pipeline's ledger, if open.
func (p *Pipeline) Close() error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.Close()
}

// Preflight handles one PreToolUse event.
//
// For gated tools the test suite runs first; a completed run with a
// non-zero exit denies the action on stdout and nothing is appended to
// preflight.jsonl — the tool call never happens, so there is no action
// to audit. Every other outcome allows the action and appends a record.
func (p *Pipeline) Preflight(ctx context.Context, ev *event.Event) error {
	findings := p.engine.Evaluate(ev.ToolName, ev.ToolInput)
	filePath := event.OptString(ev.ToolInput, "file_path")

	results := p.runner.Check(ctx, ev.ToolName, ev.Cwd, deref(filePath))

	if d := gate.Decide(results); d.Action == gate.ActionDeny {
		err := gate.WriteDeny(p.stdout, d.Reason)
		p.logDecision(ev, deref(filePath), "deny", d.Reason)
		return err
	}

	rec := audit.PreflightRecord{
		Timestamp: audit.Timestamp(),
		SessionID: ev.SessionID,
		HookEvent: ev.HookEvent,
		ToolName:  ev.ToolName,
		Cwd:       ev.Cwd,
		FilePath:  filePath,
		Extra: audit.ExtraInfo{
			ToolInputKeys: event.Keys(ev.ToolInput),
			Description:   event.GetString(ev.ToolInput, "description"),
		},
		Findings:    findings,
		TestResults: results,
	}
	err := p.writer.Append(audit.PreflightFile, rec)

	// Skipped and error outcomes carry their reason into the ledger so
	// `revgate audit` shows why the gate did not run.
	reason := ""
	if results != nil && results.Status != gate.StatusCompleted {
		reason = results.Reason
	}
	p.logDecision(ev, deref(filePath), "allow", reason)

	return err
}

// Cycle handles one PostToolUse event: evaluate guidelines and append a
// summary record. Cycle never denies — the tool call already happened.
func (p *Pipeline) Cycle(ev *event.Event) error {
	findings := p.engine.Evaluate(ev.ToolName, ev.ToolInput)

	// Mutating tools put the path in tool_input; some report it only in
	// their response, under the camel-cased key.
	filePath := event.OptString(ev.ToolInput, "file_path")
	if filePath == nil || *filePath == "" {
		filePath = event.OptString(ev.ToolResponse, "filePath")
	}

	rec := audit.CycleRecord{
		Timestamp: audit.Timestamp(),
		SessionID: ev.SessionID,
		HookEvent: ev.HookEvent,
		ToolName:  ev.ToolName,
		Cwd:       ev.Cwd,
		Summary: audit.CycleSummary{
			ToolInputKeys:    event.Keys(ev.ToolInput),
			ToolResponseKeys: event.Keys(ev.ToolResponse),
			FilePath:         filePath,
			Success:          event.GetBool(ev.ToolResponse, "success"),
		},
		Findings: findings,
	}
	err := p.writer.Append(audit.CycleFile, rec)

	p.logDecision(ev, deref(filePath), "info", "")

	return err
}

// logDecision records the decision in the ledger when one is open.
func (p *Pipeline) logDecision(ev *event.Event, path, decision, reason string) {
	if p.ledger == nil {
		return
	}
	p.ledger.LogDecision(ev.SessionID, ev.HookEvent, ev.ToolName, path, decision, reason)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Capture runs one hook invocation, swallowing errors and panics. Hook
// processes must always exit 0 with nothing unexpected on stdout; any
// internal failure degrades to "do nothing" rather than blocking the
// agent session.
func Capture(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("hook recovered", "panic", r)
		}
	}()
	if err := fn(); err != nil {
		slog.Debug("hook error suppressed", "error", err)
	}
}
