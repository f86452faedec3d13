package pipeline

import (
	"errors"
	"fmt"
	"path"

	"github.com/parameterIT/experiment-toolkit/pkg/gitlib"
	"github.com/parameterIT/experiment-toolkit/pkg/reconcile"
)

// ErrInvalidFilter is returned for a malformed tag pattern or a negative skip.
var ErrInvalidFilter = errors.New("invalid tag filter")

// GitTags resolves the tags of a local clone.
type GitTags struct {
	Repo *gitlib.Repository
}

// TagCommits implements reconcile.TagSource.
func (g GitTags) TagCommits() ([]reconcile.Tag, error) {
	resolved, err := g.Repo.TagCommits()
	if err != nil {
		return nil, err
	}

	out := make([]reconcile.Tag, len(resolved))
	for i, tc := range resolved {
		out[i] = reconcile.Tag{Name: tc.Tag, Commit: tc.Commit.String()}
	}

	return out, nil
}

// Filter narrows the tag set of a run.
type Filter struct {
	// Pattern is a path.Match glob on the tag name. Empty keeps every tag.
	Pattern string
	// Skip drops the first Skip tags left after Pattern.
	Skip int
}

// Validate checks the pattern syntax and the skip count.
func (f Filter) Validate() error {
	if f.Skip < 0 {
		return fmt.Errorf("%w: skip %d", ErrInvalidFilter, f.Skip)
	}

	if f.Pattern != "" {
		_, err := path.Match(f.Pattern, "")
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %w", ErrInvalidFilter, f.Pattern, err)
		}
	}

	return nil
}

// Apply returns the names kept by f, in order.
func (f Filter) Apply(names []string) []string {
	var kept []string

	for _, name := range names {
		if f.Pattern != "" {
			if ok, _ := path.Match(f.Pattern, name); !ok {
				continue
			}
		}

		kept = append(kept, name)
	}

	if f.Skip >= len(kept) {
		return nil
	}

	return kept[f.Skip:]
}

// filteredTags applies a Filter on top of another tag source.
type filteredTags struct {
	src    reconcile.TagSource
	filter Filter
}

func (ft filteredTags) TagCommits() ([]reconcile.Tag, error) {
	all, err := ft.src.TagCommits()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(all))
	byName := make(map[string]reconcile.Tag, len(all))

	for i, tag := range all {
		names[i] = tag.Name
		byName[tag.Name] = tag
	}

	kept := ft.filter.Apply(names)
	out := make([]reconcile.Tag, len(kept))

	for i, name := range kept {
		out[i] = byName[name]
	}

	return out, nil
}
