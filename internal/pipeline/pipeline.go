package pipeline

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/nunnr/gephiserver/internal/graph"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/store"
)

var (
	// ErrGraphNotFound is returned when the requested graph id has no row.
	ErrGraphNotFound = errors.New("graph not found")
	// ErrMissingParam is returned when a builder needs a parameter the caller did not supply.
	ErrMissingParam = errors.New("missing parameter")
	// ErrInvalidParam is returned when a parameter has the wrong type or value.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrUnknownPipeline is returned when no builder is registered for a selector.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrUnknownFormat is returned when no exporter is registered for a format.
	ErrUnknownFormat = errors.New("unknown format")
)

// Source opens consistent read views of the graph tables.
type Source interface {
	Snapshot(ctx context.Context) (store.GraphSnapshot, error)
}

// Builder turns stored graph rows into an in-memory graph. Resources that
// must outlive Build but not the job are registered on ws.
type Builder interface {
	Build(ctx context.Context, ws *Workspace, graphID int64, params model.Params) (*graph.Graph, error)
}

// Validator is implemented by builders that can reject parameters before a
// job is queued.
type Validator interface {
	Validate(params model.Params) error
}

// Layout positions and styles a graph in place. Implementations check ctx
// between iterations and stop with ctx.Err() once it is done.
type Layout interface {
	Name() string
	Apply(ctx context.Context, g *graph.Graph) (model.LayoutStats, error)
}

// Exporter serialises a laid out graph.
type Exporter interface {
	Format() string
	ContentType() string
	Export(ctx context.Context, g *graph.Graph) ([]byte, error)
}

// Pipeline is one concrete build, layout and export combination.
type Pipeline struct {
	Name     string
	Builder  Builder
	Layout   Layout
	Exporter Exporter
}

// Format returns the output format of the pipeline's exporter.
func (p *Pipeline) Format() string {
	return p.Exporter.Format()
}

// Validate checks params against the builder when it supports validation.
func (p *Pipeline) Validate(params model.Params) error {
	if v, ok := p.Builder.(Validator); ok {
		return v.Validate(params)
	}
	return nil
}
