package pipeline

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image/color"

	"github.com/nunnr/gephiserver/internal/graph"
)

// exportMargin is the padding around the graph bounds in user units.
const exportMargin = 40

// SVGExporter writes a laid out graph as an SVG document. Nodes link to
// their URL and carry their tags as a class list.
type SVGExporter struct {
	EdgeOpacity float64
}

// NewSVGExporter returns an exporter with half-transparent edges.
func NewSVGExporter() *SVGExporter {
	return &SVGExporter{EdgeOpacity: 0.5}
}

// Format implements Exporter.
func (e *SVGExporter) Format() string { return "svg" }

// ContentType implements Exporter.
func (e *SVGExporter) ContentType() string { return "image/svg+xml" }

// Export implements Exporter.
func (e *SVGExporter) Export(ctx context.Context, g *graph.Graph) ([]byte, error) {
	minX, minY, maxX, maxY := g.Bounds()
	minX, minY = minX-exportMargin, minY-exportMargin
	w, h := maxX-minX+exportMargin, maxY-minY+exportMargin

	var buf bytes.Buffer
	buf.Grow(8192)
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" version="1.1" width="%.0f" height="%.0f" viewBox="%.2f %.2f %.2f %.2f">`+"\n",
		w, h, minX, minY, w, h)
	if g.Title != "" {
		buf.WriteString("<title>")
		escape(&buf, g.Title)
		buf.WriteString("</title>\n")
	}
	if g.Creator != "" {
		buf.WriteString("<desc>")
		escape(&buf, g.Creator)
		buf.WriteString("</desc>\n")
	}

	buf.WriteString(`<defs><marker id="arrow" viewBox="0 0 10 10" refX="10" refY="5" markerWidth="6" markerHeight="6" orient="auto-start-reverse"><path d="M0,0 L10,5 L0,10 z"/></marker></defs>` + "\n")

	fmt.Fprintf(&buf, `<g id="edges" stroke-opacity="%.2f" fill="none">`+"\n", e.EdgeOpacity)
	for i, edge := range g.Edges() {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		src, _ := g.Node(edge.Source)
		dst, _ := g.Node(edge.Target)
		fmt.Fprintf(&buf, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="%.2f"`,
			src.X, src.Y, dst.X, dst.Y, hexColor(src.Color), edgeWidth(edge.Weight))
		if edge.Directed {
			buf.WriteString(` marker-end="url(#arrow)"`)
		}
		buf.WriteString("/>\n")
	}
	buf.WriteString("</g>\n")

	buf.WriteString(`<g id="nodes" stroke-width="0">` + "\n")
	for i, n := range g.Nodes() {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		buf.WriteString(`<a xlink:href="`)
		escape(&buf, n.URL)
		buf.WriteString(`"`)
		if len(n.Tags) > 0 {
			buf.WriteString(` class="`)
			for j, tag := range n.Tags {
				if j > 0 {
					buf.WriteByte(' ')
				}
				escape(&buf, tag)
			}
			buf.WriteString(`"`)
		}
		fmt.Fprintf(&buf, `><circle cx="%.2f" cy="%.2f" r="%.2f" fill="%s"/></a>`+"\n",
			n.X, n.Y, n.Size, hexColor(n.Color))
	}
	buf.WriteString("</g>\n")

	fmt.Fprintf(&buf, `<g id="labels" font-family="Arial, Helvetica, sans-serif" font-size="%d" text-anchor="middle" dominant-baseline="central" fill="#000" stroke="#fff" stroke-width="3" paint-order="stroke">`+"\n", LabelFontSize)
	for _, n := range g.Nodes() {
		if n.Label == "" {
			continue
		}
		fmt.Fprintf(&buf, `<text x="%.2f" y="%.2f">`, n.X, n.Y)
		escape(&buf, n.Label)
		buf.WriteString("</text>\n")
	}
	buf.WriteString("</g>\n</svg>\n")

	return buf.Bytes(), nil
}

func escape(buf *bytes.Buffer, s string) {
	// EscapeText only fails when the writer fails; bytes.Buffer never does.
	_ = xml.EscapeText(buf, []byte(s))
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// edgeWidth maps an edge weight onto a stroke width in [0.5, 4].
func edgeWidth(weight float64) float64 {
	switch {
	case weight <= 0.5:
		return 0.5
	case weight >= 4:
		return 4
	default:
		return weight
	}
}
