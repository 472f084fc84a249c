// Package event decodes the hook payload the agent runtime pipes to stdin.
//
// Each hook invocation receives exactly one JSON document:
//
//	{session_id, event, tool_name, cwd, tool_input, tool_response}
//
// Every field is optional. Missing string fields get sentinel defaults,
// missing mapping fields get empty maps, so downstream code never has to
// branch on absent identity fields. Input that is not valid JSON is not
// an error condition — the hook simply has no event to handle.
package event

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Sentinel defaults for absent payload fields.
const (
	DefaultSession = "unknown-session"
	DefaultTool    = "UnknownTool"
	DefaultCwd     = "."

	// Event kinds, matching the hook names the agent runtime uses.
	PreToolUse  = "PreToolUse"
	PostToolUse = "PostToolUse"
)

// Event is one decoded hook payload. ToolInput and ToolResponse are
// arbitrary key-value data owned by the caller; revgate reads named
// fields out of them but never mutates them.
type Event struct {
	SessionID    string         `json:"session_id"`
	HookEvent    string         `json:"event"`
	ToolName     string         `json:"tool_name"`
	Cwd          string         `json:"cwd"`
	ToolInput    map[string]any `json:"tool_input"`
	ToolResponse map[string]any `json:"tool_response"`
}

// Decode reads one JSON payload from r and applies the default-on-absence
// rules. defaultEvent names the hook variant ("PreToolUse"/"PostToolUse")
// used when the payload carries no event field.
//
// Returns an error only when the payload is not a JSON object; the caller
// treats that as "no event", never as a failure.
func Decode(r io.Reader, defaultEvent string) (*Event, error) {
	ev := &Event{}
	if err := json.NewDecoder(r).Decode(ev); err != nil {
		return nil, err
	}

	if ev.SessionID == "" {
		ev.SessionID = DefaultSession
	}
	if ev.HookEvent == "" {
		ev.HookEvent = defaultEvent
	}
	if ev.ToolName == "" {
		ev.ToolName = DefaultTool
	}
	if ev.Cwd == "" {
		ev.Cwd = DefaultCwd
	}
	// JSON null for a mapping field decodes to a nil map — treat it the
	// same as absent.
	if ev.ToolInput == nil {
		ev.ToolInput = map[string]any{}
	}
	if ev.ToolResponse == nil {
		ev.ToolResponse = map[string]any{}
	}

	return ev, nil
}

// FromStdin decodes the hook payload from standard input.
//
// Returns (nil, false) when there is nothing to handle: stdin is an
// interactive terminal (the hook was run manually, not by the agent
// runtime) or the piped data is not valid JSON. The invocation must then
// do no further work and exit successfully.
func FromStdin(defaultEvent string) (*Event, bool) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, false
	}

	ev, err := Decode(os.Stdin, defaultEvent)
	if err != nil {
		return nil, false
	}
	return ev, true
}
