package gitlib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	git2go "github.com/libgit2/git2go/v34"
)

// Mirror defaults.
const (
	DefaultMirrorRemote = "origin"
	DefaultMirrorBranch = "main"
	DefaultSourceRemote = "target"
	defaultSSHUser      = "git"
)

// ErrCommitMissing is returned when the mirror does not contain the commit
// it is asked to point at. Fetching the source repository first fixes it.
var ErrCommitMissing = errors.New("commit not present in mirror")

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// Remote is the remote the analysis service watches.
	Remote string
	// Branch is the primary branch that gets force-pushed.
	Branch string
	// SourceRemote is the remote name used to fetch the analyzed repository.
	SourceRemote string
	// SSHUser is used for ssh-agent credentials when the remote asks for them.
	SSHUser string
	Logger  *slog.Logger
}

// Mirror drives the repository that the remote analysis service watches.
// It is the only writer of the mirror's primary branch.
type Mirror struct {
	repo   *Repository
	opts   MirrorOptions
	logger *slog.Logger
}

// NewMirror wraps repo. Empty options receive defaults.
func NewMirror(repo *Repository, opts MirrorOptions) *Mirror {
	if opts.Remote == "" {
		opts.Remote = DefaultMirrorRemote
	}

	if opts.Branch == "" {
		opts.Branch = DefaultMirrorBranch
	}

	if opts.SourceRemote == "" {
		opts.SourceRemote = DefaultSourceRemote
	}

	if opts.SSHUser == "" {
		opts.SSHUser = defaultSSHUser
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Mirror{repo: repo, opts: opts, logger: logger}
}

// Branch returns the branch the mirror publishes.
func (m *Mirror) Branch() string {
	return m.opts.Branch
}

// FetchSource makes sure the mirror has a remote pointing at sourceURL and
// fetches all of its branches and tags, so any commit of the analyzed
// repository can be checked out in the mirror.
func (m *Mirror) FetchSource(ctx context.Context, sourceURL string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	native := m.repo.Native()

	remote, err := native.Remotes.Lookup(m.opts.SourceRemote)
	if err != nil {
		if !git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
			return fmt.Errorf("lookup remote %s: %w", m.opts.SourceRemote, err)
		}

		remote, err = native.Remotes.Create(m.opts.SourceRemote, sourceURL)
		if err != nil {
			return fmt.Errorf("create remote %s: %w", m.opts.SourceRemote, err)
		}
	} else if remote.Url() != sourceURL {
		remote.Free()

		err = native.Remotes.SetUrl(m.opts.SourceRemote, sourceURL)
		if err != nil {
			return fmt.Errorf("set url of remote %s: %w", m.opts.SourceRemote, err)
		}

		remote, err = native.Remotes.Lookup(m.opts.SourceRemote)
		if err != nil {
			return fmt.Errorf("lookup remote %s: %w", m.opts.SourceRemote, err)
		}
	}
	defer remote.Free()

	refspec := fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", m.opts.SourceRemote)

	err = remote.Fetch([]string{refspec}, &git2go.FetchOptions{
		RemoteCallbacks: m.callbacks(),
		DownloadTags:    git2go.DownloadTagsAll,
	}, "")
	if err != nil {
		return fmt.Errorf("fetch %s: %w", sourceURL, err)
	}

	m.logger.InfoContext(ctx, "fetched source into mirror", "remote", m.opts.SourceRemote, "url", sourceURL)

	return nil
}

// PointAt forces the primary branch to exactly commit, checks it out and
// force-pushes it to the watched remote. Calling it twice for the same
// commit is safe.
func (m *Mirror) PointAt(ctx context.Context, commit Hash) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	if !m.repo.HasCommit(ctx, commit) {
		return fmt.Errorf("%w: %s", ErrCommitMissing, commit)
	}

	native := m.repo.Native()
	branchRef := "refs/heads/" + m.opts.Branch

	ref, err := native.References.Create(branchRef, commit.ToOid(), true, "reset mirror to "+commit.String())
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", branchRef, commit.Short(), err)
	}

	ref.Free()

	err = native.SetHead(branchRef)
	if err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branchRef, err)
	}

	err = native.CheckoutHead(&git2go.CheckoutOptions{Strategy: git2go.CheckoutForce})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", commit.Short(), err)
	}

	err = m.push(branchRef)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "mirror pointed at commit",
		"commit", commit.String(), "branch", m.opts.Branch, "remote", m.opts.Remote)

	return nil
}

// PointMirrorAt is PointAt for a hex commit id.
func (m *Mirror) PointMirrorAt(ctx context.Context, commit string) error {
	hash, err := ParseHash(commit)
	if err != nil {
		return err
	}

	return m.PointAt(ctx, hash)
}

func (m *Mirror) push(branchRef string) error {
	remote, err := m.repo.Native().Remotes.Lookup(m.opts.Remote)
	if err != nil {
		return fmt.Errorf("lookup remote %s: %w", m.opts.Remote, err)
	}
	defer remote.Free()

	refspec := "+" + branchRef + ":" + branchRef

	err = remote.Push([]string{refspec}, &git2go.PushOptions{RemoteCallbacks: m.callbacks()})
	if err != nil {
		return fmt.Errorf("push %s to %s: %w", branchRef, m.opts.Remote, err)
	}

	return nil
}

func (m *Mirror) callbacks() git2go.RemoteCallbacks {
	user := m.opts.SSHUser

	return git2go.RemoteCallbacks{
		CredentialsCallback: func(_, usernameFromURL string, allowed git2go.CredentialType) (*git2go.Credential, error) {
			if allowed&git2go.CredentialTypeSSHKey != 0 {
				name := usernameFromURL
				if name == "" {
					name = user
				}

				return git2go.NewCredentialSSHKeyFromAgent(name)
			}

			return git2go.NewCredentialDefault()
		},
	}
}
