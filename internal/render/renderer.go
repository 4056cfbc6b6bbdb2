// Package render draws detected pose landmarks onto a transparent overlay
// sized to the current video frame.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"posturewatch/internal/types"
)

// Connections are the skeletal segments drawn between landmark pairs:
// shoulder line, both arms, and each ear down to its shoulder.
var Connections = [][2]int{
	{types.LandmarkLeftShoulder, types.LandmarkRightShoulder},
	{types.LandmarkLeftShoulder, types.LandmarkLeftElbow},
	{types.LandmarkLeftElbow, types.LandmarkLeftWrist},
	{types.LandmarkRightShoulder, types.LandmarkRightElbow},
	{types.LandmarkRightElbow, types.LandmarkRightWrist},
	{types.LandmarkRightEar, types.LandmarkRightShoulder},
	{types.LandmarkLeftEar, types.LandmarkLeftShoulder},
}

// DefaultVisibilityThreshold is the exclusive lower bound for drawing.
const DefaultVisibilityThreshold = 0.5

// Style controls marker and segment appearance.
type Style struct {
	PointColor          color.RGBA
	LineColor           color.RGBA
	PointRadius         float32
	LineWidth           float32
	VisibilityThreshold float64
}

// DefaultStyle is a 3px green marker with 2px green segments.
func DefaultStyle() Style {
	green := color.RGBA{G: 0xFF, A: 0xFF}
	return Style{
		PointColor:          green,
		LineColor:           green,
		PointRadius:         3,
		LineWidth:           2,
		VisibilityThreshold: DefaultVisibilityThreshold,
	}
}

// Caption is the status text printed in the overlay's top-left corner.
type Caption struct {
	Status     string
	Good       bool
	Angle      float64
	HasAngle   bool
	InStreak   bool
	BadSeconds int64
}

// Lines returns the caption text, one entry per rendered line.
func (c Caption) Lines() []string {
	lines := []string{"Status: " + c.Status}
	if c.HasAngle {
		lines = append(lines, fmt.Sprintf("Neck Angle: %.2f", c.Angle))
	}
	if c.InStreak {
		lines = append(lines, fmt.Sprintf("Bad Posture Time: %ds", c.BadSeconds))
	}
	return lines
}

var (
	captionGood    = color.RGBA{G: 0xFF, A: 0xFF}
	captionBad     = color.RGBA{R: 0xFF, A: 0xFF}
	captionNeutral = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	captionBacking = color.RGBA{A: 0xA0}
)

// Renderer draws landmarks and captions. It holds no per-frame state.
type Renderer struct {
	style Style
}

// NewRenderer creates a Renderer with the given style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Render allocates a surface of the given pixel size and draws onto it.
func (r *Renderer) Render(width, height int, landmarks []types.Landmark, caption *Caption) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
	r.Draw(dst, landmarks, caption)
	return dst
}

// Draw clears dst and redraws it. Normalized coordinates are scaled by
// dst's current bounds. Missing landmarks or caption are allowed.
func (r *Renderer) Draw(dst *image.RGBA, landmarks []types.Landmark, caption *Caption) {
	b := dst.Bounds()
	draw.Draw(dst, b, image.Transparent, image.Point{}, draw.Src)
	if b.Empty() {
		return
	}

	w, h := float32(b.Dx()), float32(b.Dy())
	visible := func(i int) (x, y float32, ok bool) {
		if i < 0 || i >= len(landmarks) {
			return 0, 0, false
		}
		lm := landmarks[i]
		if lm.Visibility <= r.style.VisibilityThreshold {
			return 0, 0, false
		}
		return float32(lm.X) * w, float32(lm.Y) * h, true
	}

	if len(landmarks) > 0 {
		lines := vector.NewRasterizer(b.Dx(), b.Dy())
		lines.DrawOp = draw.Over
		var anyLine bool
		for _, c := range Connections {
			x1, y1, ok1 := visible(c[0])
			x2, y2, ok2 := visible(c[1])
			if !ok1 || !ok2 {
				continue
			}
			segment(lines, x1, y1, x2, y2, r.style.LineWidth)
			anyLine = true
		}
		if anyLine {
			lines.Draw(dst, b, image.NewUniform(r.style.LineColor), image.Point{})
		}

		points := vector.NewRasterizer(b.Dx(), b.Dy())
		points.DrawOp = draw.Over
		var anyPoint bool
		for i := range landmarks {
			x, y, ok := visible(i)
			if !ok {
				continue
			}
			circle(points, x, y, r.style.PointRadius)
			anyPoint = true
		}
		if anyPoint {
			points.Draw(dst, b, image.NewUniform(r.style.PointColor), image.Point{})
		}
	}

	if caption != nil {
		drawCaption(dst, *caption)
	}
}

// circleKappa places cubic control points so four arcs approximate a circle.
const circleKappa = 0.5522847498

func circle(z *vector.Rasterizer, cx, cy, radius float32) {
	k := radius * circleKappa
	z.MoveTo(cx+radius, cy)
	z.CubeTo(cx+radius, cy+k, cx+k, cy+radius, cx, cy+radius)
	z.CubeTo(cx-k, cy+radius, cx-radius, cy+k, cx-radius, cy)
	z.CubeTo(cx-radius, cy-k, cx-k, cy-radius, cx, cy-radius)
	z.CubeTo(cx+k, cy-radius, cx+radius, cy-k, cx+radius, cy)
	z.ClosePath()
}

// segment adds a thick line as a quad perpendicular-offset by width/2.
func segment(z *vector.Rasterizer, x1, y1, x2, y2, width float32) {
	dx, dy := x2-x1, y2-y1
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2

	z.MoveTo(x1+nx, y1+ny)
	z.LineTo(x2+nx, y2+ny)
	z.LineTo(x2-nx, y2-ny)
	z.LineTo(x1-nx, y1-ny)
	z.ClosePath()
}

func drawCaption(dst *image.RGBA, c Caption) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil() + 4

	textColor := captionNeutral
	switch {
	case c.InStreak || (!c.Good && c.HasAngle):
		textColor = captionBad
	case c.Good:
		textColor = captionGood
	}

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(textColor), Face: face}
	x, y := 10, 10+metrics.Ascent.Ceil()

	for _, line := range c.Lines() {
		width := d.MeasureString(line).Ceil()
		backing := image.Rect(x-4, y-metrics.Ascent.Ceil()-2, x+width+4, y+metrics.Descent.Ceil()+2)
		draw.Draw(dst, backing.Intersect(dst.Bounds()), image.NewUniform(captionBacking), image.Point{}, draw.Over)

		d.Dot = fixed.P(x, y)
		d.DrawString(line)
		y += lineHeight
	}
}

// EncodePNG serializes an overlay surface.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}
