// Package overlay owns the two drawing surfaces of the pipeline and renders
// the face box and emotion bars onto the display layer.
package overlay

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Canvas is a resizable RGBA surface. Its backing buffer is reallocated only
// when the requested size differs from the current one.
type Canvas struct {
	img    *image.RGBA
	allocs int
}

// NewCanvas creates an empty canvas; call Ensure before drawing.
func NewCanvas() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rectangle{})}
}

// Ensure resizes the canvas to w×h when it differs and reports whether a
// reallocation happened. Resizing discards the previous contents.
func (c *Canvas) Ensure(w, h int) bool {
	if c.img.Rect.Dx() == w && c.img.Rect.Dy() == h {
		return false
	}
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	c.allocs++
	return true
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (w, h int) {
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

// Image returns the backing image. It is only valid until the next Ensure.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Allocations returns how many times the buffer has been (re)allocated.
func (c *Canvas) Allocations() int {
	return c.allocs
}

// Clear makes every pixel fully transparent.
func (c *Canvas) Clear() {
	clear(c.img.Pix)
}

// DrawScaled scales src onto the whole canvas with bilinear filtering.
func (c *Canvas) DrawScaled(src image.Image) {
	xdraw.ApproxBiLinear.Scale(c.img, c.img.Rect, src, src.Bounds(), draw.Src, nil)
}

// Snapshot returns a copy of the canvas contents.
func (c *Canvas) Snapshot() *image.RGBA {
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}
