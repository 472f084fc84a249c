package guideline

import "unicode/utf8"

// Builtin rule names, usable in the guidelines.disabled config list.
const (
	RuleShortDescription = "short_description"
	RuleLargeChange      = "large_change"
)

// builtinRules returns the built-in finding rules. Each rule is an
// independent predicate; adding a rule here is the extension point for
// new guideline checks.
func builtinRules(opts Options) []Rule {
	return []Rule{
		{
			Name:  RuleShortDescription,
			Check: shortDescriptionCheck(opts.MinDescription),
		},
		{
			Name:  RuleLargeChange,
			Check: largeChangeCheck(opts.LargeChangeChars),
		},
	}
}

// shortDescriptionCheck flags Edit actions whose free-text description
// is shorter than minLen characters. The boundary is strict: a
// description of exactly minLen characters passes.
func shortDescriptionCheck(minLen int) func(string, map[string]any) []Finding {
	return func(toolName string, toolInput map[string]any) []Finding {
		if toolName != "Edit" {
			return nil
		}
		if utf8.RuneCountInString(stringField(toolInput, "description")) >= minLen {
			return nil
		}
		return []Finding{{
			Category: "CLDescription",
			Message:  "Edit description is very short. Consider providing more detail.",
		}}
	}
}

// largeChangeCheck flags mutating actions that carry an unusually large
// body of new content, nudging toward smaller self-contained changes.
func largeChangeCheck(maxChars int) func(string, map[string]any) []Finding {
	mutating := map[string]bool{"Edit": true, "MultiEdit": true, "Write": true}

	return func(toolName string, toolInput map[string]any) []Finding {
		if !mutating[toolName] {
			return nil
		}
		size := len(stringField(toolInput, "content")) + len(stringField(toolInput, "new_string"))
		if size <= maxChars {
			return nil
		}
		return []Finding{{
			Category: "SmallCLs",
			Message:  "Change body is very large. Consider splitting it into smaller, self-contained changes.",
		}}
	}
}

// stringField extracts a string value from the tool input, "" when the
// key is absent or not a string.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
