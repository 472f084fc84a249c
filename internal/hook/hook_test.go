package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/revgate/revgate/internal/audit"
	"github.com/revgate/revgate/internal/config"
	"github.com/revgate/revgate/internal/event"
)

// writeScript drops a test runner at scripts/run_make_test.sh under dir.
func writeScript(t *testing.T, dir, body string) {
	t.Helper()
	scriptsDir := filepath.Join(dir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(scriptsDir, "run_make_test.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func parseRecord(t *testing.T, line string) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("record should be valid JSON: %v", err)
	}
	return rec
}

// === Preflight Tests ===

func TestPreflight_NotGatedTool(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 1") // would deny if it ran

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID:    "sess1",
		HookEvent:    "PreToolUse",
		ToolName:     "Bash",
		Cwd:          dir,
		ToolInput:    map[string]any{"command": "ls"},
		ToolResponse: map[string]any{},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if stdout.Len() != 0 {
		t.Errorf("allow should write nothing to stdout, got %q", stdout.String())
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	if len(lines) != 1 {
		t.Fatalf("expected 1 preflight record, got %d", len(lines))
	}

	rec := parseRecord(t, lines[0])
	if rec["tool_name"] != "Bash" {
		t.Errorf("tool_name: expected Bash, got %v", rec["tool_name"])
	}
	if rec["test_results"] != nil {
		t.Errorf("non-gated tool should have null test_results, got %v", rec["test_results"])
	}
	if rec["file_path"] != nil {
		t.Errorf("file_path should be null without one in the input, got %v", rec["file_path"])
	}
}

func TestPreflight_GatedNoScript(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "main.go", "description": "refactor the parser"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if stdout.Len() != 0 {
		t.Errorf("missing script should allow, got stdout %q", stdout.String())
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	rec := parseRecord(t, lines[0])

	tr, ok := rec["test_results"].(map[string]any)
	if !ok {
		t.Fatalf("test_results should be an object, got %v", rec["test_results"])
	}
	if tr["status"] != "skipped" {
		t.Errorf("status: expected skipped, got %v", tr["status"])
	}
	if tr["reason"] != "run_make_test.sh not found" {
		t.Errorf("reason: expected 'run_make_test.sh not found', got %v", tr["reason"])
	}
	if rec["file_path"] != "main.go" {
		t.Errorf("file_path: expected main.go, got %v", rec["file_path"])
	}
}

func TestPreflight_GatedTestsPass(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "echo ok\nexit 0")

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Write",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "new.go", "content": "package main"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if stdout.Len() != 0 {
		t.Errorf("passing tests should allow, got stdout %q", stdout.String())
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	rec := parseRecord(t, lines[0])

	tr, ok := rec["test_results"].(map[string]any)
	if !ok {
		t.Fatalf("test_results should be an object, got %v", rec["test_results"])
	}
	if tr["status"] != "completed" {
		t.Errorf("status: expected completed, got %v", tr["status"])
	}
	if tr["exit_code"] != float64(0) {
		t.Errorf("exit_code: expected 0, got %v", tr["exit_code"])
	}
	if !strings.Contains(tr["stdout"].(string), "ok") {
		t.Errorf("stdout tail should carry script output, got %v", tr["stdout"])
	}
}

func TestPreflight_DenyOnTestFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "echo boom >&2\nexit 3")

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "main.go"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if strings.Count(stdout.String(), "\n") != 1 {
		t.Fatalf("deny should write exactly one line, got %q", stdout.String())
	}

	var resp struct {
		Decision string `json:"permissionDecision"`
		Reason   string `json:"permissionDecisionReason"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		t.Fatalf("deny output should be valid JSON: %v", err)
	}
	if resp.Decision != "denied" {
		t.Errorf("permissionDecision: expected denied, got %q", resp.Decision)
	}
	wantPrefix := "Action blocked: `make test` failed. Please fix tests before proceeding.\n\nStderr:\n"
	if !strings.HasPrefix(resp.Reason, wantPrefix) {
		t.Errorf("reason prefix unexpected: %q", resp.Reason)
	}
	if !strings.Contains(resp.Reason, "boom") {
		t.Errorf("reason should carry the stderr tail, got %q", resp.Reason)
	}

	// A denied action is never recorded in preflight.jsonl.
	if _, err := os.Stat(filepath.Join(dir, audit.LogDirName, audit.PreflightFile)); !os.IsNotExist(err) {
		t.Error("denied action should not be recorded in preflight.jsonl")
	}
}

func TestPreflight_ShortDescriptionFinding(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "main.go", "description": "fix"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	rec := parseRecord(t, lines[0])

	findings, ok := rec["findings"].([]any)
	if !ok || len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", rec["findings"])
	}
	f := findings[0].(map[string]any)
	if f["guideline"] != "CLDescription" {
		t.Errorf("guideline: expected CLDescription, got %v", f["guideline"])
	}
	if f["finding"] != "Edit description is very short. Consider providing more detail." {
		t.Errorf("finding message unexpected: %v", f["finding"])
	}

	extra := rec["extra"].(map[string]any)
	if extra["description"] != "fix" {
		t.Errorf("extra.description: expected fix, got %v", extra["description"])
	}
}

func TestPreflight_SkipPath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 1") // must not run

	cfg := &config.Config{
		Gate: config.GateConfig{SkipPaths: []string{"docs/*"}},
	}
	var stdout bytes.Buffer
	p := NewPipeline(cfg, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "docs/readme.md"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if stdout.Len() != 0 {
		t.Errorf("skip-path action should allow, got stdout %q", stdout.String())
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	rec := parseRecord(t, lines[0])
	tr := rec["test_results"].(map[string]any)
	if tr["status"] != "skipped" {
		t.Errorf("status: expected skipped, got %v", tr["status"])
	}
	if !strings.Contains(tr["reason"].(string), "matches a skip_paths pattern") {
		t.Errorf("reason unexpected: %v", tr["reason"])
	}
}

func TestPreflight_BadSkipGlobDegrades(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 0")

	cfg := &config.Config{
		Gate: config.GateConfig{SkipPaths: []string{"["}},
	}
	var stdout bytes.Buffer
	p := NewPipeline(cfg, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "main.go"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	// The gate still runs; only the unparseable skip patterns are dropped.
	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.PreflightFile))
	rec := parseRecord(t, lines[0])
	tr := rec["test_results"].(map[string]any)
	if tr["status"] != "completed" {
		t.Errorf("status: expected completed, got %v", tr["status"])
	}
}

// === Cycle Tests ===

func TestCycle_Record(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID:    "sess1",
		HookEvent:    "PostToolUse",
		ToolName:     "Write",
		Cwd:          dir,
		ToolInput:    map[string]any{"file_path": "new.go", "content": "package main"},
		ToolResponse: map[string]any{"success": true, "bytes_written": 12},
	}
	if err := p.Cycle(ev); err != nil {
		t.Fatal(err)
	}

	if stdout.Len() != 0 {
		t.Errorf("cycle should write nothing to stdout, got %q", stdout.String())
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.CycleFile))
	if len(lines) != 1 {
		t.Fatalf("expected 1 cycle record, got %d", len(lines))
	}

	rec := parseRecord(t, lines[0])
	if rec["hook_event"] != "PostToolUse" {
		t.Errorf("hook_event: expected PostToolUse, got %v", rec["hook_event"])
	}

	summary := rec["summary"].(map[string]any)
	if summary["success"] != true {
		t.Errorf("success: expected true, got %v", summary["success"])
	}
	if summary["file_path"] != "new.go" {
		t.Errorf("file_path: expected new.go, got %v", summary["file_path"])
	}

	inputKeys := summary["tool_input_keys"].([]any)
	if len(inputKeys) != 2 || inputKeys[0] != "content" || inputKeys[1] != "file_path" {
		t.Errorf("tool_input_keys should be sorted, got %v", inputKeys)
	}
	respKeys := summary["tool_response_keys"].([]any)
	if len(respKeys) != 2 || respKeys[0] != "bytes_written" || respKeys[1] != "success" {
		t.Errorf("tool_response_keys should be sorted, got %v", respKeys)
	}
}

func TestCycle_FilePathFallsBackToResponse(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID:    "sess1",
		HookEvent:    "PostToolUse",
		ToolName:     "Write",
		Cwd:          dir,
		ToolInput:    map[string]any{"content": "package main"},
		ToolResponse: map[string]any{"filePath": "resp.go", "success": true},
	}
	if err := p.Cycle(ev); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.CycleFile))
	rec := parseRecord(t, lines[0])
	summary := rec["summary"].(map[string]any)
	if summary["file_path"] != "resp.go" {
		t.Errorf("file_path should come from the response, got %v", summary["file_path"])
	}

	// An empty input path falls back the same way as a missing one.
	ev.ToolInput = map[string]any{"file_path": "", "content": "x"}
	if err := p.Cycle(ev); err != nil {
		t.Fatal(err)
	}
	lines = readLines(t, filepath.Join(dir, audit.LogDirName, audit.CycleFile))
	rec = parseRecord(t, lines[1])
	summary = rec["summary"].(map[string]any)
	if summary["file_path"] != "resp.go" {
		t.Errorf("empty file_path should fall back to the response, got %v", summary["file_path"])
	}
}

func TestCycle_EmptyEvent(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	p := NewPipeline(&config.Config{}, dir, &stdout)
	defer p.Close()

	ev := &event.Event{
		SessionID:    "unknown-session",
		HookEvent:    "PostToolUse",
		ToolName:     "UnknownTool",
		Cwd:          dir,
		ToolInput:    map[string]any{},
		ToolResponse: map[string]any{},
	}
	if err := p.Cycle(ev); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, filepath.Join(dir, audit.LogDirName, audit.CycleFile))
	raw := lines[0]

	if !strings.Contains(raw, `"tool_input_keys":[]`) {
		t.Errorf("empty input should give [], got %s", raw)
	}
	if !strings.Contains(raw, `"success":false`) {
		t.Errorf("missing success should default to false, got %s", raw)
	}
	if !strings.Contains(raw, `"file_path":null`) {
		t.Errorf("missing file_path should be null, got %s", raw)
	}
}

// === Ledger Integration ===

func TestPipeline_LedgerRecordsDecisions(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Ledger: config.LedgerConfig{Enabled: true, Dir: ".claude/revgate/ledger"},
	}

	// Deny first.
	writeScript(t, dir, "echo broken >&2\nexit 1")
	var stdout bytes.Buffer
	p := NewPipeline(cfg, dir, &stdout)
	ev := &event.Event{
		SessionID: "sess1",
		HookEvent: "PreToolUse",
		ToolName:  "Edit",
		Cwd:       dir,
		ToolInput: map[string]any{"file_path": "main.go"},
	}
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	p.Close()

	// Then an allow and a cycle.
	writeScript(t, dir, "exit 0")
	stdout.Reset()
	p = NewPipeline(cfg, dir, &stdout)
	if err := p.Preflight(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	ev.HookEvent = "PostToolUse"
	ev.ToolResponse = map[string]any{"success": true}
	if err := p.Cycle(ev); err != nil {
		t.Fatal(err)
	}
	p.Close()

	ledger, err := audit.Open(cfg.LedgerDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	entries, err := ledger.Tail(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}

	// Most recent first: cycle info, preflight allow, preflight deny.
	if entries[0].Decision != "info" || entries[0].Hook != "PostToolUse" {
		t.Errorf("entry 0: expected info/PostToolUse, got %s/%s", entries[0].Decision, entries[0].Hook)
	}
	if entries[1].Decision != "allow" {
		t.Errorf("entry 1: expected allow, got %s", entries[1].Decision)
	}
	if entries[2].Decision != "deny" {
		t.Errorf("entry 2: expected deny, got %s", entries[2].Decision)
	}
	if !strings.Contains(entries[2].Reason, "Action blocked") {
		t.Errorf("deny reason should carry the block message, got %q", entries[2].Reason)
	}
	if entries[2].Path != "main.go" {
		t.Errorf("deny path: expected main.go, got %q", entries[2].Path)
	}

	result, err := ledger.VerifyChain()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Error("ledger chain should verify after hook writes")
	}
}

// === Capture ===

func TestCapture_SwallowsFailures(t *testing.T) {
	Capture(func() error { panic("boom") })
	Capture(func() error { return errors.New("some error") })
	Capture(func() error { return nil })
}
