// Package settings manages the revgate hook entries in a project's
// .claude/settings.json.
//
// The settings file belongs to the agent runtime and may carry
// configuration revgate knows nothing about, so it is handled as a raw
// JSON object: revgate only touches its own hook groups inside the
// "hooks" section and preserves everything else byte-for-byte in
// structure. Install is idempotent — existing revgate groups are
// replaced, never duplicated — and every write backs up the previous
// file to settings.json.bak first.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the settings file location relative to the project root.
const FileName = ".claude/settings.json"

// hookEvents maps the hook event to the revgate subcommand registered
// for it.
var hookEvents = []struct {
	Event      string
	Subcommand string
}{
	{"PreToolUse", "preflight"},
	{"PostToolUse", "cycle"},
}

// Path returns the settings file path for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, FileName)
}

// Load reads settings.json as a raw JSON object. A missing file is not
// an error — it loads as an empty object.
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return raw, nil
}

// Install registers the revgate hooks in the project's settings.json,
// invoking the given binary for each hook event. Existing revgate
// groups are replaced; hook groups belonging to other tools are kept.
// Returns the backup path when a previous settings file was backed up.
func Install(projectDir, binPath string) (string, error) {
	path := Path(projectDir)
	raw, err := Load(path)
	if err != nil {
		return "", err
	}

	hooksMap := hooksSection(raw)
	for _, he := range hookEvents {
		groups := foreignGroups(hooksMap, he.Event)
		groups = append(groups, map[string]any{
			"hooks": []any{
				map[string]any{
					"type":    "command",
					"command": binPath + " " + he.Subcommand,
				},
			},
		})
		hooksMap[he.Event] = groups
	}
	raw["hooks"] = hooksMap

	backup, err := backupFile(path)
	if err != nil {
		return "", err
	}
	return backup, write(path, raw)
}

// Uninstall removes the revgate hook groups from settings.json, leaving
// everything else in place. A missing settings file is a no-op.
// Returns the backup path when the file was rewritten.
func Uninstall(projectDir string) (string, error) {
	path := Path(projectDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	raw, err := Load(path)
	if err != nil {
		return "", err
	}

	hooksMap := hooksSection(raw)
	for _, he := range hookEvents {
		groups := foreignGroups(hooksMap, he.Event)
		if len(groups) == 0 {
			delete(hooksMap, he.Event)
		} else {
			hooksMap[he.Event] = groups
		}
	}
	if len(hooksMap) == 0 {
		delete(raw, "hooks")
	} else {
		raw["hooks"] = hooksMap
	}

	backup, err := backupFile(path)
	if err != nil {
		return "", err
	}
	return backup, write(path, raw)
}

// Managed returns the hook events that currently carry a revgate group,
// in registration order.
func Managed(raw map[string]any) []string {
	hooksMap, ok := raw["hooks"].(map[string]any)
	if !ok {
		return nil
	}

	var events []string
	for _, he := range hookEvents {
		groups, ok := hooksMap[he.Event].([]any)
		if !ok {
			continue
		}
		for _, g := range groups {
			group, ok := g.(map[string]any)
			if ok && managedGroup(group) {
				events = append(events, he.Event)
				break
			}
		}
	}
	return events
}

// hooksSection returns a copy of the settings' hooks object, or an
// empty one.
func hooksSection(raw map[string]any) map[string]any {
	hooksMap := map[string]any{}
	if existing, ok := raw["hooks"].(map[string]any); ok {
		for k, v := range existing {
			hooksMap[k] = v
		}
	}
	return hooksMap
}

// foreignGroups returns the event's hook groups that do not belong to
// revgate. Shapes that aren't recognizable hook groups are kept — they
// belong to someone else.
func foreignGroups(hooksMap map[string]any, event string) []any {
	groups, ok := hooksMap[event].([]any)
	if !ok {
		return []any{}
	}

	kept := []any{}
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if ok && managedGroup(group) {
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

// managedGroup reports whether a raw hook group contains a revgate
// command.
func managedGroup(group map[string]any) bool {
	hooks, ok := group["hooks"].([]any)
	if !ok {
		return false
	}
	for _, h := range hooks {
		hook, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if cmd, ok := hook["command"].(string); ok && managedCommand(cmd) {
			return true
		}
	}
	return false
}

func managedCommand(cmd string) bool {
	for _, he := range hookEvents {
		if strings.Contains(cmd, "revgate "+he.Subcommand) {
			return true
		}
	}
	return false
}

// backupFile copies the settings file to <path>.bak before a rewrite.
// Returns "" when there is nothing to back up.
func backupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading settings for backup: %w", err)
	}

	backup := path + ".bak"
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("writing settings backup: %w", err)
	}
	return backup, nil
}

func write(path string, raw map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
