package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/nunnr/gephiserver/internal/graph"
)

// PNGExporter rasterises a laid out graph. The longest side of the image is
// at most MaxSide pixels; smaller graphs render at one pixel per unit.
type PNGExporter struct {
	MaxSide     int
	EdgeOpacity float64
	font        *opentype.Font
}

// NewPNGExporter parses the embedded label font.
func NewPNGExporter() (*PNGExporter, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "parse label font")
	}
	return &PNGExporter{MaxSide: 2048, EdgeOpacity: 0.5, font: f}, nil
}

// Format implements Exporter.
func (e *PNGExporter) Format() string { return "png" }

// ContentType implements Exporter.
func (e *PNGExporter) ContentType() string { return "image/png" }

// Export implements Exporter.
func (e *PNGExporter) Export(ctx context.Context, g *graph.Graph) ([]byte, error) {
	minX, minY, maxX, maxY := g.Bounds()
	minX, minY = minX-exportMargin, minY-exportMargin
	w, h := maxX-minX+exportMargin, maxY-minY+exportMargin

	scale := 1.0
	if longest := math.Max(w, h); longest > float64(e.MaxSide) {
		scale = float64(e.MaxSide) / longest
	}
	pw, ph := max(1, int(math.Ceil(w*scale))), max(1, int(math.Ceil(h*scale)))
	project := func(x, y float64) (float32, float32) {
		return float32((x - minX) * scale), float32((y - minY) * scale)
	}

	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	z := vector.NewRasterizer(pw, ph)
	z.DrawOp = draw.Over
	alpha := uint8(e.EdgeOpacity * 255)

	for i, edge := range g.Edges() {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		src, _ := g.Node(edge.Source)
		tgt, _ := g.Node(edge.Target)
		x0, y0 := project(src.X, src.Y)
		x1, y1 := project(tgt.X, tgt.Y)
		z.Reset(pw, ph)
		strokeLine(z, x0, y0, x1, y1, float32(math.Max(edgeWidth(edge.Weight)*scale, 0.5)))
		c := src.Color
		c.A = alpha
		z.Draw(dst, dst.Bounds(), image.NewUniform(premultiply(c)), image.Point{})
	}

	for i, n := range g.Nodes() {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cx, cy := project(n.X, n.Y)
		z.Reset(pw, ph)
		fillCircle(z, cx, cy, float32(math.Max(n.Size*scale, 1)))
		z.Draw(dst, dst.Bounds(), image.NewUniform(n.Color), image.Point{})
	}

	if size := LabelFontSize * scale; size >= 4 {
		if err := e.drawLabels(ctx, dst, g, size, project); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

func (e *PNGExporter) drawLabels(ctx context.Context, dst *image.RGBA, g *graph.Graph, size float64, project func(x, y float64) (float32, float32)) error {
	face, err := opentype.NewFace(e.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return errors.Wrap(err, "create label face")
	}
	defer face.Close()

	d := &font.Drawer{Dst: dst, Src: image.Black, Face: face}
	metrics := face.Metrics()
	half := (metrics.Ascent - metrics.Descent) / 2
	for i, n := range g.Nodes() {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if n.Label == "" {
			continue
		}
		cx, cy := project(n.X, n.Y)
		width := d.MeasureString(n.Label)
		d.Dot = fixed.Point26_6{
			X: fixed.Int26_6(cx*64) - width/2,
			Y: fixed.Int26_6(cy*64) + half,
		}
		d.DrawString(n.Label)
	}
	return nil
}

// strokeLine adds a rectangle of the given width centred on the segment.
func strokeLine(z *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*width/2, dx/l*width/2
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}

// fillCircle adds a circle built from four cubic Bézier arcs.
func fillCircle(z *vector.Rasterizer, cx, cy, r float32) {
	const kappa = 0.5522847498
	k := r * kappa
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
	z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
	z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
	z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	z.ClosePath()
}

func premultiply(c color.RGBA) color.RGBA {
	a := uint16(c.A)
	return color.RGBA{
		R: uint8(uint16(c.R) * a / 255),
		G: uint8(uint16(c.G) * a / 255),
		B: uint8(uint16(c.B) * a / 255),
		A: c.A,
	}
}
