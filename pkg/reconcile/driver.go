// Package reconcile makes sure every tag of a repository has a completed
// analysis build and maps each tag to the snapshot of that build.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/parameterIT/experiment-toolkit/pkg/codeclimate"
)

// Defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxWait      = 30 * time.Minute
	DefaultSyncAttempts = 3
	DefaultSyncBackoff  = time.Second
)

// Tag binds a tag name to its commit id.
type Tag struct {
	Name   string
	Commit string
}

// TagSource resolves tags to commits. The mapping is all or nothing.
type TagSource interface {
	TagCommits() ([]Tag, error)
}

// BuildSource lists builds of the watched repository.
type BuildSource interface {
	ListBuilds(ctx context.Context, repoID string) ([]codeclimate.Build, error)
	BuildPage(ctx context.Context, repoID string, page int) ([]codeclimate.Build, error)
}

// Synchronizer forces the watched mirror to a commit.
type Synchronizer interface {
	PointMirrorAt(ctx context.Context, commit string) error
}

// Recorder receives pipeline counters. May be nil.
type Recorder interface {
	RecordPush(ctx context.Context, ok bool)
	RecordPoll(ctx context.Context)
}

// Assignment is the outcome for one tag.
type Assignment struct {
	Tag         string
	Commit      string
	BuildNumber int
	SnapshotID  string
}

// Config holds the driver's knobs.
type Config struct {
	// PollInterval is the pause before each look at the first build page.
	PollInterval time.Duration
	// MaxWait bounds the polling of a single commit. Zero leaves only ctx.
	MaxWait time.Duration
	// SyncAttempts bounds PointMirrorAt calls per commit.
	SyncAttempts int
	// SyncBackoff is the first pause between failed mirror pushes; it doubles.
	SyncBackoff time.Duration
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		MaxWait:      DefaultMaxWait,
		SyncAttempts: DefaultSyncAttempts,
		SyncBackoff:  DefaultSyncBackoff,
	}
}

// Options carries the driver's collaborators.
type Options struct {
	Config   Config
	Tags     TagSource
	Builds   BuildSource
	Sync     Synchronizer
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Recorder Recorder

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Driver runs the reconciliation state machine.
type Driver struct {
	cfg      Config
	tags     TagSource
	builds   BuildSource
	sync     Synchronizer
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewDriver creates a driver. Tags, Builds and Sync are required.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Tags == nil || opts.Builds == nil || opts.Sync == nil {
		return nil, errors.New("reconcile: tags, builds and sync are required")
	}

	cfg := opts.Config

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}

	if cfg.SyncAttempts <= 0 {
		cfg.SyncAttempts = DefaultSyncAttempts
	}

	if cfg.SyncBackoff < 0 {
		cfg.SyncBackoff = 0
	}

	d := &Driver{
		cfg:      cfg,
		tags:     opts.Tags,
		builds:   opts.Builds,
		sync:     opts.Sync,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		recorder: opts.Recorder,
		sleep:    opts.Sleep,
		now:      opts.Now,
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	if d.tracer == nil {
		d.tracer = nooptrace.NewTracerProvider().Tracer("reconcile")
	}

	if d.sleep == nil {
		d.sleep = sleepCtx
	}

	if d.now == nil {
		d.now = time.Now
	}

	return d, nil
}

// Reconcile makes sure every tag's commit has a complete build on repoID and
// returns one assignment per tag, in tag order. Commits already covered are
// never pushed again, so repeated runs are cheap.
func (d *Driver) Reconcile(ctx context.Context, repoID string) (assignments []Assignment, err error) {
	ctx, span := d.tracer.Start(ctx, "reconcile.Reconcile",
		trace.WithAttributes(attribute.String("repository.id", repoID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	tags, err := d.tags.TagCommits()
	if err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}

	span.SetAttributes(attribute.Int("tags", len(tags)))

	builds, err := d.builds.ListBuilds(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	missing := Missing(tags, builds)

	d.logger.InfoContext(ctx, "reconciliation plan",
		"tags", len(tags), "builds", len(builds), "missing", len(missing))

	for _, tag := range missing {
		err = d.await(ctx, repoID, tag)
		if err != nil {
			return nil, err
		}
	}

	if len(missing) > 0 {
		builds, err = d.builds.ListBuilds(ctx, repoID)
		if err != nil {
			return nil, fmt.Errorf("list builds after sync: %w", err)
		}
	}

	return Assign(tags, builds)
}

// await drives one missing commit from push to a complete build.
func (d *Driver) await(ctx context.Context, repoID string, tag Tag) (err error) {
	ctx, span := d.tracer.Start(ctx, "reconcile.await",
		trace.WithAttributes(
			attribute.String("tag", tag.Name),
			attribute.String("commit", tag.Commit),
		))
	defer span.End()

	fail := func(cause error) error {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())

		return &Error{Tag: tag.Name, Commit: tag.Commit, Cause: cause}
	}

	err = d.push(ctx, tag)
	if err != nil {
		return fail(err)
	}

	start := d.now()

	for polls := 1; ; polls++ {
		err = d.sleep(ctx, d.cfg.PollInterval)
		if err != nil {
			return fail(err)
		}

		if d.recorder != nil {
			d.recorder.RecordPoll(ctx)
		}

		page, pageErr := d.builds.BuildPage(ctx, repoID, 1)
		if pageErr != nil {
			return fail(fmt.Errorf("poll builds: %w", pageErr))
		}

		if build, ok := Select(page, tag.Commit); ok {
			d.logger.InfoContext(ctx, "build complete",
				"tag", tag.Name, "commit", tag.Commit, "build", build.Number, "polls", polls)

			return nil
		}

		waited := d.now().Sub(start)
		if d.cfg.MaxWait > 0 && waited >= d.cfg.MaxWait {
			return fail(fmt.Errorf("%w: waited %s over %d polls", ErrPollTimeout, waited.Round(time.Second), polls))
		}

		d.logger.DebugContext(ctx, "build pending", "tag", tag.Name, "commit", tag.Commit, "waited", waited)
	}
}

func (d *Driver) push(ctx context.Context, tag Tag) error {
	backoff := d.cfg.SyncBackoff

	var lastErr error

	for attempt := 1; attempt <= d.cfg.SyncAttempts; attempt++ {
		lastErr = d.sync.PointMirrorAt(ctx, tag.Commit)

		if d.recorder != nil {
			d.recorder.RecordPush(ctx, lastErr == nil)
		}

		if lastErr == nil {
			d.logger.InfoContext(ctx, "mirror pushed", "tag", tag.Name, "commit", tag.Commit, "attempt", attempt)

			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt == d.cfg.SyncAttempts {
			break
		}

		d.logger.WarnContext(ctx, "mirror push failed, retrying",
			"tag", tag.Name, "commit", tag.Commit, "attempt", attempt, "error", lastErr)

		err := d.sleep(ctx, backoff)
		if err != nil {
			return err
		}

		backoff *= 2
	}

	return fmt.Errorf("point mirror after %d attempts: %w", d.cfg.SyncAttempts, lastErr)
}

// Missing returns the tags whose commit has no complete build, in tag order,
// keeping only the first tag of each commit.
func Missing(tags []Tag, builds []codeclimate.Build) []Tag {
	covered := make(map[string]struct{}, len(builds))

	for _, b := range builds {
		if b.Complete() && b.Commit != "" {
			covered[b.Commit] = struct{}{}
		}
	}

	var out []Tag

	for _, tag := range tags {
		if _, ok := covered[tag.Commit]; ok {
			continue
		}

		covered[tag.Commit] = struct{}{}

		out = append(out, tag)
	}

	return out
}

// Select picks the complete build for commit. The highest build number wins;
// ties keep the first one listed.
func Select(builds []codeclimate.Build, commit string) (codeclimate.Build, bool) {
	var (
		best  codeclimate.Build
		found bool
	)

	for _, b := range builds {
		if !b.Complete() || b.Commit != commit {
			continue
		}

		if !found || b.Number > best.Number {
			best = b
			found = true
		}
	}

	return best, found
}

// Assign maps each tag to its complete build. A tag without one fails the
// whole call.
func Assign(tags []Tag, builds []codeclimate.Build) ([]Assignment, error) {
	out := make([]Assignment, 0, len(tags))

	for _, tag := range tags {
		build, ok := Select(builds, tag.Commit)
		if !ok {
			return nil, &Error{Tag: tag.Name, Commit: tag.Commit, Cause: ErrNoCompleteBuild}
		}

		out = append(out, Assignment{
			Tag:         tag.Name,
			Commit:      tag.Commit,
			BuildNumber: build.Number,
			SnapshotID:  build.SnapshotID,
		})
	}

	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
