// Package pipeline runs the end-to-end flows of the tool: reconcile every
// tag against the remote analyzer and write the per-tag tables, or do the
// same from local analysis reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/parameterIT/experiment-toolkit/pkg/codeclimate"
	"github.com/parameterIT/experiment-toolkit/pkg/issues"
	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/reconcile"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

// Analyzer is the part of the remote service a run talks to.
// *codeclimate.Client satisfies it.
type Analyzer interface {
	reconcile.BuildSource
	RepositoryID(ctx context.Context, slug string) (string, error)
	Snapshot(ctx context.Context, snapshotID, repoID string) (codeclimate.Snapshot, error)
	ListIssues(ctx context.Context, snap codeclimate.Snapshot) ([]issues.Issue, error)
}

// ResultWriter persists one tag's tables. *results.Writer satisfies it.
type ResultWriter interface {
	Write(ctx context.Context, srcRoot string, res *issues.Result) (string, error)
	Dir() string
	QualityModel() string
}

// Options configures a Runner.
type Options struct {
	// Slug names the analyzed repository. It prefixes every src_root.
	Slug string
	// MirrorSlug is the repository registered with the analyzer.
	MirrorSlug string

	Tags     reconcile.TagSource
	Sync     reconcile.Synchronizer
	Analyzer Analyzer
	Writer   ResultWriter
	Filter   Filter

	Reconcile reconcile.Config
	Metrics   *observability.PipelineMetrics
	Logger    *slog.Logger
	Tracer    trace.Tracer

	// RunID defaults to a random UUID.
	RunID string

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner executes one reconciliation run.
type Runner struct {
	opts   Options
	driver *reconcile.Driver
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New validates opts and builds the reconciliation driver.
func New(opts Options) (*Runner, error) {
	if opts.Slug == "" || opts.MirrorSlug == "" {
		return nil, errors.New("pipeline: slug and mirror slug are required")
	}

	if opts.Analyzer == nil || opts.Writer == nil {
		return nil, errors.New("pipeline: analyzer and writer are required")
	}

	err := opts.Filter.Validate()
	if err != nil {
		return nil, err
	}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = observability.WithRun(logger, opts.RunID)

	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("pipeline")
	}

	var tags reconcile.TagSource = opts.Tags
	if opts.Tags != nil && (opts.Filter.Pattern != "" || opts.Filter.Skip > 0) {
		tags = filteredTags{src: opts.Tags, filter: opts.Filter}
	}

	var recorder reconcile.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}

	driver, err := reconcile.NewDriver(reconcile.Options{
		Config:   opts.Reconcile,
		Tags:     tags,
		Builds:   opts.Analyzer,
		Sync:     opts.Sync,
		Logger:   logger,
		Tracer:   tracer,
		Recorder: recorder,
		Sleep:    opts.Sleep,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{opts: opts, driver: driver, logger: logger, tracer: tracer, now: opts.Now}, nil
}

// RunID returns the id written into logs and the manifest.
func (r *Runner) RunID() string {
	return r.opts.RunID
}

// Run reconciles every tag, then aggregates and writes each tag's snapshot
// in tag order. Nothing is written unless every tag was reconciled. The
// manifest is written only when every tag succeeded.
func (r *Runner) Run(ctx context.Context) (manifest *results.Manifest, err error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("run.id", r.opts.RunID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	manifest = &results.Manifest{
		RunID:        r.opts.RunID,
		QualityModel: r.opts.Writer.QualityModel(),
		Slug:         r.opts.Slug,
		MirrorSlug:   r.opts.MirrorSlug,
		StartedAt:    r.now().UTC(),
	}

	repoID, err := r.opts.Analyzer.RepositoryID(ctx, r.opts.MirrorSlug)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "run started", "slug", r.opts.Slug, "mirror", r.opts.MirrorSlug, "repository", repoID)

	assignments, err := r.driver.Reconcile(ctx, repoID)
	if err != nil {
		return nil, err
	}

	for _, a := range assignments {
		entry, tagErr := r.writeTag(ctx, repoID, a)
		if tagErr != nil {
			return nil, tagErr
		}

		manifest.Tags = append(manifest.Tags, entry)
	}

	manifest.FinishedAt = r.now().UTC()

	err = results.WriteManifest(r.opts.Writer.Dir(), manifest)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "run finished", "tags", len(manifest.Tags),
		"duration", manifest.FinishedAt.Sub(manifest.StartedAt).Round(time.Second))

	return manifest, nil
}

// SrcRoot is the src_root recorded for a tag of slug. The tag is always the
// last path segment so readers can recover it.
func SrcRoot(slug, tag string) string {
	return slug + "/" + tag
}

func (r *Runner) writeTag(ctx context.Context, repoID string, a reconcile.Assignment) (entry results.TagEntry, err error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.tag",
		trace.WithAttributes(
			attribute.String("tag", a.Tag),
			attribute.String("commit", a.Commit),
			attribute.String("snapshot.id", a.SnapshotID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	snap, err := r.opts.Analyzer.Snapshot(ctx, a.SnapshotID, repoID)
	if err != nil {
		return entry, fmt.Errorf("tag %s (commit %s): %w", a.Tag, a.Commit, err)
	}

	list, err := r.opts.Analyzer.ListIssues(ctx, snap)
	if err != nil {
		return entry, fmt.Errorf("tag %s (commit %s): %w", a.Tag, a.Commit, err)
	}

	res := issues.Aggregate(list)
	span.SetAttributes(attribute.Int("issues", res.IssueCount))

	stamp, err := r.opts.Writer.Write(ctx, SrcRoot(r.opts.Slug, a.Tag), res)
	if err != nil {
		return entry, fmt.Errorf("tag %s: %w", a.Tag, err)
	}

	r.opts.Metrics.RecordTag(ctx, res.IssueCount)

	return results.TagEntry{
		Tag:         a.Tag,
		Commit:      a.Commit,
		BuildNumber: a.BuildNumber,
		SnapshotID:  a.SnapshotID,
		Issues:      res.IssueCount,
		Metrics:     res.Frequencies.Len(),
		Stamp:       stamp,
	}, nil
}
