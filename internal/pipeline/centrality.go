package pipeline

import (
	"context"
	"image/color"
	"math"

	"github.com/nunnr/gephiserver/internal/graph"
)

// Betweenness returns the betweenness centrality of every node, indexed like
// g.Nodes(), using Brandes' algorithm over unweighted shortest paths.
// Directed edges are followed one way only.
func Betweenness(ctx context.Context, g *graph.Graph) ([]float64, error) {
	n := g.NodeCount()
	adj := g.Adjacency(true)
	cb := make([]float64, n)

	var (
		stack = make([]int, 0, n)
		queue = make([]int, 0, n)
		preds = make([][]int, n)
		sigma = make([]float64, n)
		dist  = make([]int, n)
		delta = make([]float64, n)
	)
	for s := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stack = stack[:0]
		queue = queue[:0]
		for i := range n {
			preds[i] = preds[i][:0]
			sigma[i] = 0
			dist[i] = -1
			delta[i] = 0
		}
		sigma[s] = 1
		dist[s] = 0
		queue = append(queue, s)

		for head := 0; head < len(queue); head++ {
			v := queue[head]
			stack = append(stack, v)
			for _, nb := range adj[v] {
				w := nb.Index
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}
	return cb, nil
}

// Communities assigns node.Community by weighted label propagation and
// returns the number of communities. Community ids are numbered from zero in
// order of first appearance.
func Communities(ctx context.Context, g *graph.Graph) (int, error) {
	nodes := g.Nodes()
	adj := g.Adjacency(false)
	labels := make([]int, len(nodes))
	for i := range labels {
		labels[i] = i
	}

	const maxRounds = 100
	scores := make(map[int]float64)
	for range maxRounds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		changed := false
		for i := range nodes {
			if len(adj[i]) == 0 {
				continue
			}
			clear(scores)
			for _, nb := range adj[i] {
				if nb.Index == i {
					continue
				}
				w := nb.Weight
				if w <= 0 {
					w = 1
				}
				scores[labels[nb.Index]] += w
			}
			var top float64
			for _, score := range scores {
				top = math.Max(top, score)
			}
			// Keep the current label on a tie, otherwise take the smallest.
			best := labels[i]
			if scores[best] < top {
				best = math.MaxInt
				for label, score := range scores {
					if score == top && label < best {
						best = label
					}
				}
			}
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	renumber := make(map[int]int)
	for i, n := range nodes {
		id, ok := renumber[labels[i]]
		if !ok {
			id = len(renumber)
			renumber[labels[i]] = id
		}
		n.Community = id
	}
	return len(renumber), nil
}

// Palette returns n evenly spaced hues at saturation and brightness 0.8.
func Palette(n int) []color.RGBA {
	colors := make([]color.RGBA, n)
	for i := range n {
		colors[i] = hsb(float64(i)/float64(n), 0.8, 0.8)
	}
	return colors
}

func hsb(h, s, v float64) color.RGBA {
	h = (h - math.Floor(h)) * 6
	f := h - math.Floor(h)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r*255 + 0.5), G: uint8(g*255 + 0.5), B: uint8(b*255 + 0.5), A: 255}
}
