package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/loqalabs/readaloud/internal/ocr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor    = color.RGBA{R: 255, A: 255}
	strokeWidth = 2
)

// Render draws the boxes of snap onto a transparent width x height layer,
// each labelled with its text, ready to be composited over the preview.
func Render(snap Snapshot, width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, max(width, 1), max(height, 1)))
	for _, tok := range snap.Tokens {
		drawBox(canvas, tok.Bounds)
		drawLabel(canvas, tok)
	}
	return canvas
}

func drawBox(dst *image.RGBA, b ocr.Box) {
	r := image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, min(r.Min.Y+strokeWidth, r.Max.Y)),
		image.Rect(r.Min.X, max(r.Max.Y-strokeWidth, r.Min.Y), r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, min(r.Min.X+strokeWidth, r.Max.X), r.Max.Y),
		image.Rect(max(r.Max.X-strokeWidth, r.Min.X), r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

func drawLabel(dst *image.RGBA, tok ocr.Token) {
	if tok.Text == "" {
		return
	}
	face := basicfont.Face7x13
	baseline := tok.Bounds.Y - 2
	if baseline < face.Ascent {
		baseline = tok.Bounds.Y + tok.Bounds.Height + face.Ascent
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(boxColor),
		Face: face,
		Dot:  fixed.P(tok.Bounds.X, baseline),
	}
	d.DrawString(tok.Text)
}
