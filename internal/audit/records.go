package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/revgate/revgate/internal/gate"
	"github.com/revgate/revgate/internal/guideline"
)

// Hook log layout under the event's working directory. The file shapes
// below are a contract other tooling reads; field order and names must
// stay stable.
const (
	LogDirName    = ".claude/context/review-audit"
	PreflightFile = "preflight.jsonl"
	CycleFile     = "cycle.jsonl"
)

// ExtraInfo is the preflight record's extracted-input summary.
type ExtraInfo struct {
	ToolInputKeys []string `json:"tool_input_keys"`
	Description   string   `json:"description"`
}

// PreflightRecord is one line of preflight.jsonl. FilePath is null when
// the tool input names no file; TestResults is null when gating did not
// apply to the tool.
type PreflightRecord struct {
	Timestamp   string              `json:"timestamp"`
	SessionID   string              `json:"session_id"`
	HookEvent   string              `json:"hook_event"`
	ToolName    string              `json:"tool_name"`
	Cwd         string              `json:"cwd"`
	FilePath    *string             `json:"file_path"`
	Extra       ExtraInfo           `json:"extra"`
	Findings    []guideline.Finding `json:"findings"`
	TestResults *gate.Outcome       `json:"test_results"`
}

// CycleSummary condenses a completed action for the postflight record.
// FilePath falls back to the tool response's filePath when the input
// carries none; Success defaults to false when the response omits it.
type CycleSummary struct {
	ToolInputKeys    []string `json:"tool_input_keys"`
	ToolResponseKeys []string `json:"tool_response_keys"`
	FilePath         *string  `json:"file_path"`
	Success          bool     `json:"success"`
}

// CycleRecord is one line of cycle.jsonl.
type CycleRecord struct {
	Timestamp string              `json:"timestamp"`
	SessionID string              `json:"session_id"`
	HookEvent string              `json:"hook_event"`
	ToolName  string              `json:"tool_name"`
	Cwd       string              `json:"cwd"`
	Summary   CycleSummary        `json:"summary"`
	Findings  []guideline.Finding `json:"findings"`
}

// Timestamp returns the current UTC instant in the record format.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Writer appends hook records to the per-project log directory.
//
// Writes are strictly best-effort: callers log and discard the returned
// error, because audit logging must never make a hook invocation fail.
// Concurrent invocations interleave safely at line granularity — each
// append is one open-append-close of a single line, with no locking.
type Writer struct {
	dir string
}

// NewWriter returns a Writer for the working directory's log location.
func NewWriter(cwd string) *Writer {
	return &Writer{dir: filepath.Join(cwd, LogDirName)}
}

// Dir returns the resolved log directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Append serializes the record as one JSON line at the end of the named
// log file, creating the directory if needed.
func (w *Writer) Append(file string, record any) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", w.dir, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	path := filepath.Join(w.dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}
