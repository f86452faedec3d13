// Package issues holds the normalized issue model shared by every issue
// producer and the per-tag aggregation of those issues.
package issues

// Location is the source span an issue points at. Lines are inclusive.
type Location struct {
	Path      string `json:"path"       yaml:"path"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line"   yaml:"end_line"`
}

// Issue is one quality finding.
type Issue struct {
	// Check is the fine-grained rule name, e.g. "similar-code".
	Check string `json:"check" yaml:"check"`

	// Category is the coarse classification. Producers keep the first
	// category when the source reports several.
	Category string `json:"category" yaml:"category"`

	Location Location `json:"location" yaml:"location"`
}

// Producer yields the flat issue list for a single tag.
type Producer interface {
	Issues(tag string) ([]Issue, error)
}
