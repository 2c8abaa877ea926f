package overlay

import (
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
)

// Bars is the cached emotion readout: where to anchor it and what to show.
type Bars struct {
	Box    geometry.Box   `json:"box"`
	Vector emotion.Vector `json:"vector"`
}

// Style holds overlay drawing parameters.
type Style struct {
	BoxColor   color.NRGBA
	BoxWidth   float64
	BarColor   color.NRGBA
	PeakColor  color.NRGBA
	TextColor  color.NRGBA
	PanelColor color.NRGBA
	BarWidth   float64 // Full-scale bar length in pixels
	RowHeight  float64
	Margin     float64
}

// DefaultStyle returns the standard overlay look.
func DefaultStyle() Style {
	return Style{
		BoxColor:   color.NRGBA{R: 0, G: 220, B: 120, A: 255},
		BoxWidth:   3,
		BarColor:   color.NRGBA{R: 80, G: 160, B: 255, A: 230},
		PeakColor:  color.NRGBA{R: 255, G: 190, B: 40, A: 240},
		TextColor:  color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		PanelColor: color.NRGBA{R: 0, G: 0, B: 0, A: 140},
		BarWidth:   120,
		RowHeight:  18,
		Margin:     8,
	}
}

// Renderer draws face boxes and emotion bars in display coordinates.
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer with the given style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Render clears the canvas and draws face and bars; either may be nil.
func (r *Renderer) Render(c *Canvas, face *geometry.Box, bars *Bars) {
	c.Clear()
	if face == nil && bars == nil {
		return
	}
	dc := gg.NewContextForRGBA(c.Image())
	if face != nil {
		r.drawBox(dc, *face)
	}
	if bars != nil {
		r.drawBars(dc, *bars)
	}
}

func (r *Renderer) drawBox(dc *gg.Context, b geometry.Box) {
	dc.SetColor(r.style.BoxColor)
	dc.SetLineWidth(r.style.BoxWidth)
	dc.DrawRectangle(b.X, b.Y, b.W, b.H)
	dc.Stroke()
}

// panelOrigin places the readout right of the box, or left of it when it
// would run off the canvas.
func (r *Renderer) panelOrigin(b geometry.Box, canvasW, panelW float64) (x, y float64) {
	x = b.X + b.W + r.style.Margin
	if x+panelW > canvasW {
		x = math.Max(0, b.X-r.style.Margin-panelW)
	}
	return x, math.Max(0, b.Y)
}

func (r *Renderer) drawBars(dc *gg.Context, bars Bars) {
	s := r.style
	labelW, _ := dc.MeasureString("Surprise 100%")
	panelW := labelW + s.BarWidth + 3*s.Margin
	panelH := float64(emotion.NumLabels)*s.RowHeight + 2*s.Margin

	x, y := r.panelOrigin(bars.Box, float64(dc.Width()), panelW)
	dc.SetColor(s.PanelColor)
	dc.DrawRectangle(x, y, panelW, panelH)
	dc.Fill()

	peak, _ := bars.Vector.Dominant()
	for i, p := range bars.Vector {
		rowY := y + s.Margin + float64(i)*s.RowHeight
		p = math.Max(0, math.Min(1, p))

		dc.SetColor(s.TextColor)
		text := fmt.Sprintf("%s %d%%", emotion.Label(i), int(math.Round(p*100)))
		dc.DrawStringAnchored(text, x+s.Margin, rowY+s.RowHeight/2, 0, 0.5)

		barX := x + 2*s.Margin + labelW
		if emotion.Label(i) == peak {
			dc.SetColor(s.PeakColor)
		} else {
			dc.SetColor(s.BarColor)
		}
		dc.DrawRectangle(barX, rowY+3, s.BarWidth*p, s.RowHeight-6)
		dc.Fill()
	}
}
