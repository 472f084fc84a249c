package guideline

// Finding is a single guideline-derived observation about a tool action.
// Findings travel inside audit records; the JSON keys are part of the
// log file contract.
type Finding struct {
	Category string `json:"guideline"`
	Message  string `json:"finding"`
}

// Rule is one independent check over a tool action. Rules must not
// depend on each other or on evaluation order; each produces zero or
// more findings on its own.
type Rule struct {
	Name  string
	Check func(toolName string, toolInput map[string]any) []Finding
}

// Engine holds the active rule set. Construct once per invocation;
// the engine is immutable afterward, so Evaluate is safe to call from
// anywhere without locking.
type Engine struct {
	rules []Rule
}

// Options configures which rules are active and their thresholds.
type Options struct {
	// MinDescription is the shortest acceptable description length for
	// the short-description rule.
	MinDescription int

	// LargeChangeChars is the content size above which the large-change
	// rule fires.
	LargeChangeChars int

	// Disabled lists builtin rule names to leave out.
	Disabled []string
}

// NewEngine builds an engine with the builtin rules, minus any disabled
// ones.
func NewEngine(opts Options) *Engine {
	if opts.MinDescription <= 0 {
		opts.MinDescription = 10
	}
	if opts.LargeChangeChars <= 0 {
		opts.LargeChangeChars = 8000
	}

	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}

	e := &Engine{}
	for _, r := range builtinRules(opts) {
		if disabled[r.Name] {
			continue
		}
		e.rules = append(e.rules, r)
	}
	return e
}

// Evaluate runs every rule against the tool action and returns the
// combined findings in rule order. Pure: identical inputs yield
// identical output, and the action is never mutated.
//
// The returned slice is never nil — audit records serialize it as a
// JSON array even when empty.
func (e *Engine) Evaluate(toolName string, toolInput map[string]any) []Finding {
	findings := []Finding{}
	for _, r := range e.rules {
		findings = append(findings, r.Check(toolName, toolInput)...)
	}
	return findings
}

// RuleNames returns the names of the active rules, in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return names
}
