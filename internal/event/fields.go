package event

import "sort"

// GetString safely extracts a string value from a payload map.
// Returns "" if the key doesn't exist or the value isn't a string.
func GetString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	val, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}

// GetBool safely extracts a boolean value from a payload map.
// Returns false if the key doesn't exist or the value isn't a bool.
func GetBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	val, ok := m[key]
	if !ok {
		return false
	}
	b, ok := val.(bool)
	if !ok {
		return false
	}
	return b
}

// OptString extracts a string value as a pointer, nil when the key is
// absent or the value isn't a string. Audit records use this to keep
// "field absent" distinguishable from "empty string" in the JSON output.
func OptString(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	val, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		return nil
	}
	return &s
}

// Keys returns the map's keys in sorted order. Audit records include key
// lists, and sorting keeps them deterministic across invocations.
func Keys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
