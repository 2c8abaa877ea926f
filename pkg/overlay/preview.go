package overlay

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// Compose builds one preview frame: the source frame flipped horizontally
// (the mirrored self-view), scaled to the overlay size, with the overlay
// layer blended on top.
func Compose(frame image.Image, layer *image.RGBA) *image.RGBA {
	w, h := layer.Rect.Dx(), layer.Rect.Dy()
	mirrored := imaging.FlipH(frame)
	if mirrored.Rect.Dx() != w || mirrored.Rect.Dy() != h {
		mirrored = imaging.Resize(mirrored, w, h, imaging.Linear)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Rect, mirrored, mirrored.Rect.Min, draw.Src)
	draw.Draw(out, out.Rect, layer, layer.Rect.Min, draw.Over)
	return out
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
