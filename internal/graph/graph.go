// Package graph holds the in-memory graph a render pipeline builds, lays out
// and exports.
package graph

import (
	"image/color"
	"math"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicateNode is returned when a node id is added twice.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownNode is returned when an edge references a node that was never added.
	ErrUnknownNode = errors.New("unknown node")
)

// Node is a vertex with its layout and appearance attributes.
type Node struct {
	ID    int64
	Label string
	URL   string
	Tags  []string

	X, Y float64
	Size float64

	Centrality float64
	Community  int
	Color      color.RGBA
}

// Edge connects two nodes. Weight scales the attraction between them during
// layout.
type Edge struct {
	Source   int64
	Target   int64
	Weight   float64
	Directed bool
}

// Graph is a node/edge container. Nodes keep their insertion order.
type Graph struct {
	Title   string
	Creator string

	nodes []*Node
	index map[int64]int
	edges []*Edge
}

// New returns an empty graph.
func New(title, creator string) *Graph {
	return &Graph{
		Title:   title,
		Creator: creator,
		index:   make(map[int64]int),
	}
}

// AddNode appends n to the graph.
func (g *Graph) AddNode(n *Node) error {
	if _, ok := g.index[n.ID]; ok {
		return errors.Wrapf(ErrDuplicateNode, "node %d", n.ID)
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

// AddEdge appends e. Both endpoints must already exist.
func (g *Graph) AddEdge(e *Edge) error {
	if _, ok := g.index[e.Source]; !ok {
		return errors.Wrapf(ErrUnknownNode, "edge source %d", e.Source)
	}
	if _, ok := g.index[e.Target]; !ok {
		return errors.Wrapf(ErrUnknownNode, "edge target %d", e.Target)
	}
	g.edges = append(g.edges, e)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id int64) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Index returns the position of node id in Nodes.
func (g *Graph) Index(id int64) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Nodes returns the nodes in insertion order. The slice is shared.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Edges returns the edges in insertion order. The slice is shared.
func (g *Graph) Edges() []*Edge { return g.edges }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Neighbor is one entry of an adjacency list.
type Neighbor struct {
	Index  int
	Weight float64
}

// Adjacency returns, for each node index, the nodes reachable over one edge.
// When directed is false every edge is traversable both ways; otherwise only
// directed edges are one-way.
func (g *Graph) Adjacency(directed bool) [][]Neighbor {
	adj := make([][]Neighbor, len(g.nodes))
	for _, e := range g.edges {
		s, t := g.index[e.Source], g.index[e.Target]
		adj[s] = append(adj[s], Neighbor{Index: t, Weight: e.Weight})
		if !directed || !e.Directed {
			adj[t] = append(adj[t], Neighbor{Index: s, Weight: e.Weight})
		}
	}
	return adj
}

// Bounds returns the smallest rectangle containing every node including its
// radius. An empty graph has zero bounds.
func (g *Graph) Bounds() (minX, minY, maxX, maxY float64) {
	if len(g.nodes) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, n := range g.nodes {
		minX = math.Min(minX, n.X-n.Size)
		minY = math.Min(minY, n.Y-n.Size)
		maxX = math.Max(maxX, n.X+n.Size)
		maxY = math.Max(maxY, n.Y+n.Size)
	}
	return minX, minY, maxX, maxY
}

// Reset drops every node and edge so the graph's memory can be reclaimed
// while the value itself is still referenced.
func (g *Graph) Reset() {
	g.nodes = nil
	g.edges = nil
	g.index = make(map[int64]int)
}
