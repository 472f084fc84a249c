// Package guideline evaluates tool actions against a catalog of
// engineering-practice guidelines.
//
// The catalog is a fixed, read-only table of named guidelines, each
// pointing at its reference document. Evaluation is a pure function from
// (tool name, tool input) to a list of findings; findings annotate the
// action but never block it — gating is the gate package's job.
package guideline

// Guideline is one catalog entry: a category tag plus the document that
// explains the practice.
type Guideline struct {
	Category  string `json:"category"`
	Title     string `json:"title"`
	Reference string `json:"reference"`
	Path      string `json:"path"`
}

// catalog is the built-in guideline set, in presentation order.
// Never mutated after init.
var catalog = []Guideline{
	{
		Category:  "CLDescription",
		Title:     "CL descriptions capture what and why",
		Reference: "docs/eng-practices/review/developer/cl-descriptions.md",
		Path:      "docs/eng-practices/review/developer/cl-descriptions.md",
	},
	{
		Category:  "SmallCLs",
		Title:     "Prefer small, self-contained changes",
		Reference: "docs/eng-practices/review/developer/small-cls.md",
		Path:      "docs/eng-practices/review/developer/small-cls.md",
	},
	{
		Category:  "ReviewStandard",
		Title:     "Approve when code health improves",
		Reference: "docs/eng-practices/review/reviewer/standard.md",
		Path:      "docs/eng-practices/review/reviewer/standard.md",
	},
}

// Catalog returns a copy of the full guideline catalog.
func Catalog() []Guideline {
	out := make([]Guideline, len(catalog))
	copy(out, catalog)
	return out
}

// Links returns the catalog entries whose category is in the requested
// set, preserving catalog order (not request order).
func Links(categories []string) []Guideline {
	requested := make(map[string]bool, len(categories))
	for _, c := range categories {
		requested[c] = true
	}

	var out []Guideline
	for _, g := range catalog {
		if requested[g.Category] {
			out = append(out, g)
		}
	}
	return out
}
