package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricMirrorPushes = "cctags.mirror.pushes"
	metricBuildPolls   = "cctags.build.polls"
	metricTagsWritten  = "cctags.tags.written"
	metricIssuesTotal  = "cctags.issues.total"

	attrOutcome = "outcome"
)

// PipelineMetrics counts mirror pushes, build polls and written tags.
type PipelineMetrics struct {
	pushes metric.Int64Counter
	polls  metric.Int64Counter
	tags   metric.Int64Counter
	issues metric.Int64Counter
}

// NewPipelineMetrics creates pipeline metric instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	pushes, err := mt.Int64Counter(metricMirrorPushes,
		metric.WithDescription("Mirror push attempts by outcome"),
		metric.WithUnit("{push}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMirrorPushes, err)
	}

	polls, err := mt.Int64Counter(metricBuildPolls,
		metric.WithDescription("Build page polls while waiting for analysis"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBuildPolls, err)
	}

	tags, err := mt.Int64Counter(metricTagsWritten,
		metric.WithDescription("Tags aggregated and written"),
		metric.WithUnit("{tag}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTagsWritten, err)
	}

	issues, err := mt.Int64Counter(metricIssuesTotal,
		metric.WithDescription("Issues aggregated across tags"),
		metric.WithUnit("{issue}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricIssuesTotal, err)
	}

	return &PipelineMetrics{pushes: pushes, polls: polls, tags: tags, issues: issues}, nil
}

// RecordPush counts one mirror push attempt. Safe on a nil receiver.
func (pm *PipelineMetrics) RecordPush(ctx context.Context, ok bool) {
	if pm == nil {
		return
	}

	outcome := "ok"
	if !ok {
		outcome = statusError
	}

	pm.pushes.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordPoll counts one build poll. Safe on a nil receiver.
func (pm *PipelineMetrics) RecordPoll(ctx context.Context) {
	if pm == nil {
		return
	}

	pm.polls.Add(ctx, 1)
}

// RecordTag counts a written tag and its issues. Safe on a nil receiver.
func (pm *PipelineMetrics) RecordTag(ctx context.Context, issueCount int) {
	if pm == nil {
		return
	}

	pm.tags.Add(ctx, 1)
	pm.issues.Add(ctx, int64(issueCount))
}
