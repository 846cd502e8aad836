package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/nunnr/gephiserver/internal/graph"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/store"
)

// ctxCheckEvery is how many rows are read between context checks.
const ctxCheckEvery = 256

// GraphBuilder loads a graph from a Source. The std variant keeps stored edge
// weights; the rooted variant scales edges touching the root node by
// up_weight and all others by down_weight.
type GraphBuilder struct {
	src    Source
	rooted bool
}

// NewStdBuilder returns a builder that keeps stored edge weights.
func NewStdBuilder(src Source) *GraphBuilder {
	return &GraphBuilder{src: src}
}

// NewRootedBuilder returns a builder that weights edges relative to the
// root_node_id parameter.
func NewRootedBuilder(src Source) *GraphBuilder {
	return &GraphBuilder{src: src, rooted: true}
}

// Validate reports parameters the builder cannot work with.
func (b *GraphBuilder) Validate(params model.Params) error {
	if !b.rooted {
		return nil
	}
	if _, present := params[model.ParamRootNodeID]; !present {
		return errors.WithHint(
			errors.Wrap(ErrMissingParam, model.ParamRootNodeID),
			"the rooted pipeline needs root_node_id set to a node of the graph")
	}
	if _, ok := params.Int64(model.ParamRootNodeID); !ok {
		return errors.Wrapf(ErrInvalidParam, "%s must be an integer", model.ParamRootNodeID)
	}
	return nil
}

// Build reads graph graphID inside one snapshot. Caller params override the
// defaults stored on the graph row.
func (b *GraphBuilder) Build(ctx context.Context, ws *Workspace, graphID int64, params model.Params) (*graph.Graph, error) {
	if err := b.Validate(params); err != nil {
		return nil, err
	}

	snap, err := b.src.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open graph snapshot")
	}
	// Closed early on success; the workspace covers every other exit.
	if err := ws.Defer(snap.Close); err != nil {
		return nil, errors.Wrap(err, "register snapshot")
	}

	info, err := snap.Graph(ctx, graphID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrGraphNotFound, "graph %d", graphID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load graph %d", graphID)
	}

	merged := params.Merge(info.Defaults())
	title, _ := merged.String(model.ParamTitle)
	creator, _ := merged.String(model.ParamCreator)
	g := graph.New(title, creator)

	urlBase, _ := merged.String(model.ParamURLBase)
	if urlBase == "" {
		urlBase = "/"
	}
	if err := b.addNodes(ctx, snap, g, graphID, urlBase); err != nil {
		return nil, err
	}

	weigh, err := b.edgeWeigher(merged)
	if err != nil {
		return nil, err
	}
	directed, _ := merged.Int64(model.ParamDirected)
	if err := b.addEdges(ctx, snap, g, graphID, int(directed), weigh); err != nil {
		return nil, err
	}

	if err := snap.Close(); err != nil {
		return nil, errors.Wrap(err, "close graph snapshot")
	}
	return g, nil
}

func (b *GraphBuilder) addNodes(ctx context.Context, snap store.GraphSnapshot, g *graph.Graph, graphID int64, urlBase string) error {
	var (
		n      int
		addErr error
	)
	err := snap.EachNode(ctx, graphID, func(row model.NodeRow) bool {
		if n++; n%ctxCheckEvery == 0 && ctx.Err() != nil {
			addErr = ctx.Err()
			return false
		}
		var tags []string
		if row.Tag != "" {
			tags = strings.Split(row.Tag, ",")
		}
		addErr = g.AddNode(&graph.Node{
			ID:    row.Num,
			Label: row.Title,
			URL:   urlBase + strconv.FormatInt(row.Num, 10),
			Tags:  tags,
		})
		return addErr == nil
	})
	if err != nil {
		return errors.Wrap(err, "read nodes")
	}
	return errors.Wrap(addErr, "add node")
}

func (b *GraphBuilder) addEdges(ctx context.Context, snap store.GraphSnapshot, g *graph.Graph, graphID int64, directed int, weigh func(model.EdgeRow) float64) error {
	var (
		n      int
		addErr error
		edges  []*graph.Edge
	)
	err := snap.EachEdge(ctx, graphID, func(row model.EdgeRow) bool {
		if n++; n%ctxCheckEvery == 0 && ctx.Err() != nil {
			addErr = ctx.Err()
			return false
		}
		e := &graph.Edge{
			Source:   row.Source,
			Target:   row.Target,
			Weight:   weigh(row),
			Directed: directed != model.DirectedNone,
		}
		if addErr = g.AddEdge(e); addErr != nil {
			return false
		}
		edges = append(edges, e)
		return true
	})
	if err != nil {
		return errors.Wrap(err, "read edges")
	}
	if addErr != nil {
		return errors.Wrap(addErr, "add edge")
	}

	if directed == model.DirectedMixed {
		markReciprocalUndirected(edges)
	}
	return nil
}

// markReciprocalUndirected turns each pair of opposing edges into undirected
// edges. Edges without a partner stay directed.
func markReciprocalUndirected(edges []*graph.Edge) {
	type pair struct{ s, t int64 }
	seen := make(map[pair]bool, len(edges))
	for _, e := range edges {
		seen[pair{e.Source, e.Target}] = true
	}
	for _, e := range edges {
		if e.Source != e.Target && seen[pair{e.Target, e.Source}] {
			e.Directed = false
		}
	}
}

func (b *GraphBuilder) edgeWeigher(params model.Params) (func(model.EdgeRow) float64, error) {
	if !b.rooted {
		return func(row model.EdgeRow) float64 { return row.Value }, nil
	}

	root, ok := params.Int64(model.ParamRootNodeID)
	if !ok {
		return nil, errors.Wrap(ErrMissingParam, model.ParamRootNodeID)
	}
	up, ok := params.Float64(model.ParamUpWeight)
	if !ok {
		up = 1
	}
	down, ok := params.Float64(model.ParamDownWeight)
	if !ok {
		down = 1
	}
	return func(row model.EdgeRow) float64 {
		if row.Source == root || row.Target == root {
			return row.Value * up
		}
		return row.Value * down
	}, nil
}
