package gitlib

import (
	"errors"
	"fmt"
	"slices"

	git2go "github.com/libgit2/git2go/v34"
)

const tagRefPrefix = "refs/tags/"

// ErrTagNotFound is returned when a tag does not exist.
var ErrTagNotFound = errors.New("tag not found")

// TagCommit binds a tag name to the commit it points at.
type TagCommit struct {
	Tag    string
	Commit Hash
}

// Tags lists tag names in lexicographic order, matching `git tag -l`.
func (r *Repository) Tags() ([]string, error) {
	names, err := r.repo.Tags.List()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	slices.Sort(names)

	return names, nil
}

// ResolveTag returns the commit a tag points at. Annotated tags are peeled.
func (r *Repository) ResolveTag(name string) (Hash, error) {
	ref, err := r.repo.References.Lookup(tagRefPrefix + name)
	if err != nil {
		if git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
			return Hash{}, fmt.Errorf("%w: %s", ErrTagNotFound, name)
		}

		return Hash{}, fmt.Errorf("lookup tag %s: %w", name, err)
	}
	defer ref.Free()

	obj, err := ref.Peel(git2go.ObjectCommit)
	if err != nil {
		return Hash{}, fmt.Errorf("peel tag %s to commit: %w", name, err)
	}
	defer obj.Free()

	return HashFromOid(obj.Id()), nil
}

// TagCommits resolves every tag in Tags order. The mapping is all or
// nothing: a single failed resolution fails the call.
func (r *Repository) TagCommits() ([]TagCommit, error) {
	names, err := r.Tags()
	if err != nil {
		return nil, err
	}

	out := make([]TagCommit, 0, len(names))

	for _, name := range names {
		hash, resolveErr := r.ResolveTag(name)
		if resolveErr != nil {
			return nil, resolveErr
		}

		out = append(out, TagCommit{Tag: name, Commit: hash})
	}

	return out, nil
}
