// Package geometry holds face boxes and the transform from detection space
// into the mirrored display space.
package geometry

import (
	"image"
	"math"
)

// Size is a width and height in pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// SizeOf returns the size of r.
func SizeOf(r image.Rectangle) Size {
	return Size{W: float64(r.Dx()), H: float64(r.Dy())}
}

// Empty reports whether s has no area.
func (s Size) Empty() bool {
	return s.W <= 0 || s.H <= 0
}

// Box is an axis-aligned face rectangle. X and Y are the top-left corner.
// A Box carries no record of which space it lives in; callers keep detection
// and display boxes apart and convert only through MapToDisplay.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Center returns the centre point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Scale multiplies the box per axis.
func (b Box) Scale(sx, sy float64) Box {
	return Box{X: b.X * sx, Y: b.Y * sy, W: b.W * sx, H: b.H * sy}
}

// MirrorX flips the box horizontally inside a frame of the given width.
func (b Box) MirrorX(frameW float64) Box {
	b.X = frameW - b.X - b.W
	return b
}

// Inflate grows the box by factor about its centre.
func (b Box) Inflate(factor float64) Box {
	cx, cy := b.Center()
	w, h := b.W*factor, b.H*factor
	return Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// ClampOrigin moves a negative top-left corner to zero and shrinks the box by
// the same amount so the far edges stay where they were.
func (b Box) ClampOrigin() Box {
	if b.X < 0 {
		b.W = math.Max(0, b.W+b.X)
		b.X = 0
	}
	if b.Y < 0 {
		b.H = math.Max(0, b.H+b.Y)
		b.Y = 0
	}
	return b
}

// Rect returns the integer pixel rectangle covering the box.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X)),
		int(math.Floor(b.Y)),
		int(math.Ceil(b.X+b.W)),
		int(math.Ceil(b.Y+b.H)),
	)
}

// MapToDisplay converts a detection-space box into display space: scale by
// the display/detection ratio per axis, mirror horizontally to match the
// flipped preview, inflate about the centre when inflate > 1, and clamp the
// origin to non-negative coordinates.
func MapToDisplay(b Box, det, disp Size, inflate float64) Box {
	if det.Empty() {
		return Box{}
	}
	out := b.Scale(disp.W/det.W, disp.H/det.H).MirrorX(disp.W)
	if inflate > 1 {
		out = out.Inflate(inflate)
	}
	return out.ClampOrigin()
}
