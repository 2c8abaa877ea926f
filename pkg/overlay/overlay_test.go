package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
)

func TestCanvas_EnsureOnlyReallocatesOnChange(t *testing.T) {
	c := NewCanvas()

	sizes := []struct {
		w, h        int
		wantResized bool
	}{
		{640, 480, true},
		{640, 480, false},
		{640, 480, false},
		{1280, 720, true},
		{1280, 720, false},
	}
	for i, s := range sizes {
		if got := c.Ensure(s.w, s.h); got != s.wantResized {
			t.Errorf("step %d: Ensure(%d,%d) = %v, want %v", i, s.w, s.h, got, s.wantResized)
		}
	}
	if c.Allocations() != 2 {
		t.Errorf("Allocations = %d, want 2", c.Allocations())
	}
	if w, h := c.Size(); w != 1280 || h != 720 {
		t.Errorf("Size = %dx%d, want 1280x720", w, h)
	}
}

func TestRenderer_DrawsBoxAndClears(t *testing.T) {
	c := NewCanvas()
	c.Ensure(200, 150)
	r := NewRenderer(DefaultStyle())

	box := geometry.Box{X: 20, Y: 20, W: 60, H: 60}
	r.Render(c, &box, nil)

	// A pixel on the top edge of the box stroke.
	if a := c.Image().RGBAAt(50, 20).A; a == 0 {
		t.Error("box edge not drawn")
	}
	// Inside the box stays transparent.
	if a := c.Image().RGBAAt(50, 50).A; a != 0 {
		t.Errorf("box interior alpha = %d, want 0", a)
	}

	r.Render(c, nil, nil)
	for i := 3; i < len(c.Image().Pix); i += 4 {
		if c.Image().Pix[i] != 0 {
			t.Fatal("canvas not cleared")
		}
	}
}

func TestRenderer_DrawsBarsBesideBox(t *testing.T) {
	c := NewCanvas()
	c.Ensure(640, 480)
	r := NewRenderer(DefaultStyle())

	var v emotion.Vector
	v[emotion.Happy] = 1
	bars := &Bars{Box: geometry.Box{X: 40, Y: 40, W: 100, H: 100}, Vector: v}
	r.Render(c, nil, bars)

	// The panel starts one margin right of the box.
	x := 40 + 100 + int(DefaultStyle().Margin) + 2
	if a := c.Image().RGBAAt(x, 45).A; a == 0 {
		t.Error("bar panel not drawn right of the box")
	}
}

func TestPanelOrigin_FlipsLeftAtEdge(t *testing.T) {
	r := NewRenderer(DefaultStyle())
	x, _ := r.panelOrigin(geometry.Box{X: 500, Y: 10, W: 100, H: 100}, 640, 200)
	if x >= 500 {
		t.Errorf("panel x = %v, want left of the box", x)
	}
}

func TestCompose_MirrorsFrame(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 4, 2))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < 2; y++ {
		frame.SetRGBA(0, y, red)
	}
	layer := image.NewRGBA(image.Rect(0, 0, 4, 2))

	out := Compose(frame, layer)
	if got := out.RGBAAt(3, 0); got != red {
		t.Errorf("mirrored pixel = %v, want red", got)
	}
	if got := out.RGBAAt(0, 0); got == red {
		t.Error("left column should no longer be red")
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	data, err := EncodeJPEG(img, 80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("decode: %v", err)
	}
}
