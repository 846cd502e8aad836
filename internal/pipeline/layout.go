package pipeline

import (
	"context"
	"math"

	"github.com/nunnr/gephiserver/internal/graph"
	"github.com/nunnr/gephiserver/internal/model"
)

// LabelFontSize is the label size in user units shared by the layout's
// overlap estimate and the exporters.
const LabelFontSize = 12

// labelCharWidth approximates the advance of one label character.
const labelCharWidth = 0.6 * LabelFontSize

// StdLayout places nodes with a force-directed pass, sizes them by
// betweenness centrality, colours them by community and finally spreads
// nodes whose labels overlap.
type StdLayout struct {
	Iterations      int
	OptimalDistance float64
	MinSize         float64
	MaxSize         float64
	LabelIterations int
	LabelSpeed      float64
}

// NewStdLayout returns the standard layout with its default tuning.
func NewStdLayout() *StdLayout {
	return &StdLayout{
		Iterations:      100,
		OptimalDistance: 250,
		MinSize:         4,
		MaxSize:         20,
		LabelIterations: 40,
		LabelSpeed:      8,
	}
}

// Name implements Layout.
func (l *StdLayout) Name() string { return "std" }

// Apply implements Layout.
func (l *StdLayout) Apply(ctx context.Context, g *graph.Graph) (model.LayoutStats, error) {
	stats := model.LayoutStats{Nodes: g.NodeCount(), Edges: g.EdgeCount()}
	if g.NodeCount() == 0 {
		return stats, ctx.Err()
	}

	iterations, err := l.place(ctx, g)
	stats.Iterations = iterations
	if err != nil {
		return stats, err
	}

	centrality, err := Betweenness(ctx, g)
	if err != nil {
		return stats, err
	}
	l.sizeByRank(g, centrality)

	communities, err := Communities(ctx, g)
	if err != nil {
		return stats, err
	}
	palette := Palette(communities)
	for _, n := range g.Nodes() {
		n.Color = palette[n.Community]
	}
	stats.Communities = communities

	if err := l.adjustLabels(ctx, g); err != nil {
		return stats, err
	}
	return stats, nil
}

// place runs an adaptive-step spring-electrical layout and returns the
// number of iterations performed.
func (l *StdLayout) place(ctx context.Context, g *graph.Graph) (int, error) {
	nodes := g.Nodes()
	k := l.OptimalDistance
	const (
		relativeStrength = 0.2
		stepRatio        = 0.95
		minStepRatio     = 1e-4
	)

	// Golden-angle spiral seed keeps runs reproducible.
	golden := math.Pi * (3 - math.Sqrt(5))
	for i, n := range nodes {
		r := k * 0.5 * math.Sqrt(float64(i))
		n.X = r * math.Cos(float64(i)*golden)
		n.Y = r * math.Sin(float64(i)*golden)
	}

	type edgeRef struct {
		s, t int
		w    float64
	}
	edges := make([]edgeRef, 0, g.EdgeCount())
	for _, e := range g.Edges() {
		s, _ := g.Index(e.Source)
		t, _ := g.Index(e.Target)
		if s == t {
			continue
		}
		edges = append(edges, edgeRef{s: s, t: t, w: math.Max(e.Weight, 0)})
	}

	fx := make([]float64, len(nodes))
	fy := make([]float64, len(nodes))
	step := k / 10
	energy := math.Inf(1)
	progress := 0

	iter := 0
	for ; iter < l.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return iter, err
		}
		clear(fx)
		clear(fy)

		for i := range nodes {
			for j := i + 1; j < len(nodes); j++ {
				dx, dy := nodes[i].X-nodes[j].X, nodes[i].Y-nodes[j].Y
				d := math.Hypot(dx, dy)
				if d < 0.01 {
					dx, dy, d = 0.01, 0.01, math.Sqrt2*0.01
				}
				f := relativeStrength * k * k / (d * d)
				fx[i] += dx * f
				fy[i] += dy * f
				fx[j] -= dx * f
				fy[j] -= dy * f
			}
		}
		for _, e := range edges {
			a, b := nodes[e.s], nodes[e.t]
			dx, dy := b.X-a.X, b.Y-a.Y
			d := math.Hypot(dx, dy)
			f := d / k * e.w
			fx[e.s] += dx * f
			fy[e.s] += dy * f
			fx[e.t] -= dx * f
			fy[e.t] -= dy * f
		}

		prevEnergy := energy
		energy = 0
		for i, n := range nodes {
			mag := math.Hypot(fx[i], fy[i])
			energy += mag * mag
			if mag == 0 {
				continue
			}
			n.X += fx[i] / mag * step
			n.Y += fy[i] / mag * step
		}

		if energy < prevEnergy {
			if progress++; progress >= 5 {
				progress = 0
				step /= stepRatio
			}
		} else {
			progress = 0
			step *= stepRatio
		}
		if step < k*minStepRatio {
			iter++
			break
		}
	}
	return iter, nil
}

// sizeByRank maps centrality linearly onto [MinSize, MaxSize].
func (l *StdLayout) sizeByRank(g *graph.Graph, centrality []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range centrality {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	for i, n := range g.Nodes() {
		n.Centrality = centrality[i]
		if hi == lo {
			n.Size = l.MinSize
			continue
		}
		n.Size = l.MinSize + (centrality[i]-lo)/(hi-lo)*(l.MaxSize-l.MinSize)
	}
}

// adjustLabels pushes apart nodes whose label boxes overlap. It stops early
// once no boxes overlap.
func (l *StdLayout) adjustLabels(ctx context.Context, g *graph.Graph) error {
	nodes := g.Nodes()
	halfW := make([]float64, len(nodes))
	halfH := make([]float64, len(nodes))
	for i, n := range nodes {
		halfW[i] = math.Max(n.Size, float64(len([]rune(n.Label)))*labelCharWidth/2)
		halfH[i] = math.Max(n.Size, LabelFontSize/2)
	}

	dx := make([]float64, len(nodes))
	dy := make([]float64, len(nodes))
	for range l.LabelIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		clear(dx)
		clear(dy)
		overlaps := 0
		for i := range nodes {
			for j := i + 1; j < len(nodes); j++ {
				ox := halfW[i] + halfW[j] - math.Abs(nodes[i].X-nodes[j].X)
				oy := halfH[i] + halfH[j] - math.Abs(nodes[i].Y-nodes[j].Y)
				if ox <= 0 || oy <= 0 {
					continue
				}
				overlaps++
				vx, vy := nodes[i].X-nodes[j].X, nodes[i].Y-nodes[j].Y
				d := math.Hypot(vx, vy)
				if d == 0 {
					vx, vy, d = 1, 0, 1
				}
				push := math.Min(ox, oy) / 2
				dx[i] += vx / d * push
				dy[i] += vy / d * push
				dx[j] -= vx / d * push
				dy[j] -= vy / d * push
			}
		}
		if overlaps == 0 {
			return nil
		}
		for i, n := range nodes {
			mag := math.Hypot(dx[i], dy[i])
			if mag == 0 {
				continue
			}
			move := math.Min(mag, l.LabelSpeed)
			n.X += dx[i] / mag * move
			n.Y += dy[i] / mag * move
		}
	}
	return nil
}
