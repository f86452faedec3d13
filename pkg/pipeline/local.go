package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

// TagProducer is an issues.Producer that can enumerate its tags.
// *localscan.Reports satisfies it.
type TagProducer interface {
	issues.Producer
	Tags() ([]string, error)
}

// LocalOptions configures RunLocal.
type LocalOptions struct {
	Producer TagProducer
	Writer   ResultWriter
	Filter   Filter
	Metrics  *observability.PipelineMetrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// RunLocal aggregates and writes every tag the producer knows about. The
// src_root of each table is the bare tag name.
func RunLocal(ctx context.Context, opts LocalOptions) (*results.Manifest, error) {
	if opts.Producer == nil || opts.Writer == nil {
		return nil, errors.New("pipeline: producer and writer are required")
	}

	err := opts.Filter.Validate()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := uuid.NewString()
	logger = observability.WithRun(logger, runID)

	all, err := opts.Producer.Tags()
	if err != nil {
		return nil, err
	}

	manifest := &results.Manifest{
		RunID:        runID,
		QualityModel: opts.Writer.QualityModel(),
		StartedAt:    now().UTC(),
	}

	for _, tag := range opts.Filter.Apply(all) {
		err = ctx.Err()
		if err != nil {
			return nil, err
		}

		list, tagErr := opts.Producer.Issues(tag)
		if tagErr != nil {
			return nil, fmt.Errorf("tag %s: %w", tag, tagErr)
		}

		res := issues.Aggregate(list)

		stamp, tagErr := opts.Writer.Write(ctx, tag, res)
		if tagErr != nil {
			return nil, fmt.Errorf("tag %s: %w", tag, tagErr)
		}

		opts.Metrics.RecordTag(ctx, res.IssueCount)

		manifest.Tags = append(manifest.Tags, results.TagEntry{
			Tag:     tag,
			Issues:  res.IssueCount,
			Metrics: res.Frequencies.Len(),
			Stamp:   stamp,
		})
	}

	manifest.FinishedAt = now().UTC()

	err = results.WriteManifest(opts.Writer.Dir(), manifest)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "local run finished", "tags", len(manifest.Tags))

	return manifest, nil
}
