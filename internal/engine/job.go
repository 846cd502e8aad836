package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/pipeline"
)

// Checkpoints at which a running job observes cancellation.
const (
	CheckpointBeforeBuild  = "before build"
	CheckpointBeforeLayout = "before layout"
	CheckpointBeforeExport = "before export"
	CheckpointBeforeReturn = "before return"
)

// Job is one render request. It is immutable once created.
type Job struct {
	ID        string
	Pipeline  *pipeline.Pipeline
	GraphID   int64
	Params    model.Params
	CreatedAt time.Time
}

// NewJob creates a job with a fresh id. params is copied.
func NewJob(p *pipeline.Pipeline, graphID int64, params model.Params) *Job {
	return &Job{
		ID:        model.NewID(),
		Pipeline:  p,
		GraphID:   graphID,
		Params:    params.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

// Run executes the pipeline: build, layout, export. ctx is checked at each
// checkpoint; a done ctx yields ErrCancelled. Stage failures are returned as
// *PipelineError. The job's workspace is closed on every path and cleanup
// errors are logged, never returned.
func (j *Job) Run(ctx context.Context, logger *slog.Logger, tracer trace.Tracer) (art *model.Artifact, err error) {
	start := time.Now()
	logger = logger.With(
		"job_id", j.ID,
		"graph_id", j.GraphID,
		"pipeline", j.Pipeline.Name,
		"format", j.Pipeline.Format(),
	)

	ctx, span := tracer.Start(ctx, "gephiserver.render",
		trace.WithAttributes(
			attribute.String("gephiserver.job.id", j.ID),
			attribute.Int64("gephiserver.graph.id", j.GraphID),
			attribute.String("gephiserver.pipeline", j.Pipeline.Name),
			attribute.String("gephiserver.format", j.Pipeline.Format()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	ws := pipeline.NewWorkspace()
	stage := "build"
	defer func() {
		if r := recover(); r != nil {
			if ctx.Err() != nil {
				err = cancelled("during "+stage, context.Cause(ctx))
			} else {
				err = &PipelineError{Stage: stage, Err: errors.Newf("panic: %v", r)}
			}
			art = nil
		}
		if cerr := ws.Close(); cerr != nil {
			logger.Warn("render workspace cleanup failed", "error", cerr)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		logger.Info("render job finished",
			"outcome", outcome(err),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	checkpoint := func(name string) error {
		span.AddEvent(name)
		if ctx.Err() != nil {
			return cancelled(name, context.Cause(ctx))
		}
		return nil
	}
	failed := func(err error) error {
		if ctx.Err() != nil {
			return cancelled("during "+stage, context.Cause(ctx))
		}
		return &PipelineError{Stage: stage, Err: err}
	}

	if err := checkpoint(CheckpointBeforeBuild); err != nil {
		return nil, err
	}
	g, err := j.Pipeline.Builder.Build(ctx, ws, j.GraphID, j.Params)
	if err != nil {
		return nil, failed(err)
	}
	if err := ws.Defer(func() error {
		g.Reset()
		return nil
	}); err != nil {
		return nil, failed(err)
	}

	stage = "layout"
	if err := checkpoint(CheckpointBeforeLayout); err != nil {
		return nil, err
	}
	stats, err := j.Pipeline.Layout.Apply(ctx, g)
	if err != nil {
		return nil, failed(err)
	}
	span.SetAttributes(
		attribute.Int("gephiserver.graph.nodes", stats.Nodes),
		attribute.Int("gephiserver.graph.edges", stats.Edges),
	)

	stage = "export"
	if err := checkpoint(CheckpointBeforeExport); err != nil {
		return nil, err
	}
	data, err := j.Pipeline.Exporter.Export(ctx, g)
	if err != nil {
		return nil, failed(err)
	}

	if err := checkpoint(CheckpointBeforeReturn); err != nil {
		return nil, err
	}
	return &model.Artifact{
		JobID:       j.ID,
		Format:      j.Pipeline.Exporter.Format(),
		ContentType: j.Pipeline.Exporter.ContentType(),
		Data:        data,
		Layout:      stats,
	}, nil
}

func (j *Job) String() string {
	return fmt.Sprintf("render %s (graph %d, %s/%s)", j.ID, j.GraphID, j.Pipeline.Name, j.Pipeline.Format())
}

// outcome maps a job error to its terminal status.
func outcome(err error) string {
	switch {
	case err == nil:
		return model.StatusCompleted
	case errors.Is(err, ErrCancelled):
		return model.StatusCancelled
	default:
		return model.StatusFailed
	}
}
