package reconcile

import (
	"errors"
	"fmt"
)

// ErrReconciliation is matched by every *Error.
var ErrReconciliation = errors.New("reconciliation failed")

// ErrPollTimeout is the cause recorded when a commit does not reach a
// complete build within the configured max wait.
var ErrPollTimeout = errors.New("no complete build within max wait")

// ErrNoCompleteBuild is the cause recorded when, after polling, the final
// build list still has no complete build for a tag's commit.
var ErrNoCompleteBuild = errors.New("no complete build for commit")

// Error names the tag and commit that could not be reconciled.
type Error struct {
	Tag    string
	Commit string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("reconcile tag %s (commit %s)", e.Tag, e.Commit)
	}

	return fmt.Sprintf("reconcile tag %s (commit %s): %v", e.Tag, e.Commit, e.Cause)
}

// Unwrap exposes both ErrReconciliation and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrReconciliation}
	}

	return []error{ErrReconciliation, e.Cause}
}
