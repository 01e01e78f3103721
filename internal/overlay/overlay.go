// Package overlay draws detection boxes and confidence labels onto images.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/railvision/wagon-capture/pkg/types"
)

var (
	BoxColor   = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	LabelColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Thickness of box outlines in pixels.
const Thickness = 2

// Draw returns a copy of img with every detection outlined and labelled with
// its confidence. img is not modified.
func Draw(img image.Image, dets []types.Detection) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, d := range dets {
		r := d.Box.Rect().Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		outline(dst, r, BoxColor)
		label(dst, r, fmt.Sprintf("%d %.2f", d.ClassID, d.Confidence))
	}
	return dst
}

func outline(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	t := Thickness
	if r.Dx() < 2*t || r.Dy() < 2*t {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
		return
	}
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}

// label writes text on a filled tag above the box, or inside it when the box
// touches the top edge.
func label(dst *image.RGBA, box image.Rectangle, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	tag := image.Rect(box.Min.X, top, box.Min.X+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, tag, image.NewUniform(BoxColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(LabelColor),
		Face: face,
		Dot:  fixed.P(tag.Min.X+2, tag.Min.Y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}
