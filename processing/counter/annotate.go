package counter

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"linecount/internal/models"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	lineColor  = color.RGBA{255, 0, 255, 255}
	trailColor = color.RGBA{0, 255, 255, 255}
	boxColor   = color.RGBA{0, 255, 0, 255}
	textColor  = color.RGBA{255, 255, 255, 255}
)

const lineThickness = 2

// annotate draws the line, tracks and counts on frame. *image.RGBA frames are
// drawn in place; capture hands every frame out exactly once.
func (c *Counter) annotate(frame image.Image, observations []models.Observation) *image.RGBA {
	img, ok := frame.(*image.RGBA)
	if !ok {
		b := frame.Bounds()
		img = image.NewRGBA(b)
		draw.Draw(img, b, frame, b.Min, draw.Src)
	}

	pts := c.line.Points()
	for i := 1; i < len(pts); i++ {
		drawLine(img, pts[i-1], pts[i], lineThickness, lineColor)
	}

	for _, obs := range observations {
		if !obs.Box.Empty() {
			drawRect(img, obs.Box.Y1, obs.Box.X1, obs.Box.Y2, obs.Box.X2, boxColor)
		}

		st, ok := c.tracks[obs.ID]
		if !ok {
			continue
		}
		for i := 1; i < len(st.trail); i++ {
			drawLine(img, st.trail[i-1], st.trail[i], 1, trailColor)
		}
	}

	drawText(img, 10, 20, fmt.Sprintf("IN: %d  OUT: %d", c.counts.In, c.counts.Out))

	return img
}

func drawText(img *image.RGBA, x, y int, s string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawLine(img *image.RGBA, from, to models.Point, thickness int, col color.Color) {
	if !from.Valid() || !to.Valid() {
		return
	}

	bounds := img.Bounds()
	half := thickness / 2

	from, to, ok := clipSegment(from, to, bounds.Inset(-half-1))
	if !ok {
		return
	}

	dx := to.X - from.X
	dy := to.Y - from.Y
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		steps = 1
	}

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(from.X + dx*t))
		y := int(math.Round(from.Y + dy*t))

		for ox := -half; ox <= half; ox++ {
			for oy := -half; oy <= half; oy++ {
				p := image.Pt(x+ox, y+oy)
				if p.In(bounds) {
					img.Set(p.X, p.Y, col)
				}
			}
		}
	}
}

// clipSegment cuts the segment down to the part inside r (Liang-Barsky), so
// drawing cost is bounded by the image size.
func clipSegment(from, to models.Point, r image.Rectangle) (models.Point, models.Point, bool) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	t0, t1 := 0.0, 1.0

	edges := [4][2]float64{
		{-dx, from.X - float64(r.Min.X)},
		{dx, float64(r.Max.X) - from.X},
		{-dy, from.Y - float64(r.Min.Y)},
		{dy, float64(r.Max.Y) - from.Y},
	}

	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return from, to, false
			}
			continue
		}

		t := q / p
		if p < 0 {
			if t > t1 {
				return from, to, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return from, to, false
			}
			t1 = math.Min(t1, t)
		}
	}

	return models.Point{X: from.X + t0*dx, Y: from.Y + t0*dy},
		models.Point{X: from.X + t1*dx, Y: from.Y + t1*dy}, true
}

func drawRect(img *image.RGBA, y1, x1, y2, x2 int, col color.Color) {
	thickness := 3
	bounds := img.Bounds()

	// Edges outside the image are not drawn; only the visible span is walked.
	cx1, cx2 := max(x1, bounds.Min.X), min(x2, bounds.Max.X-1)
	cy1, cy2 := max(y1, bounds.Min.Y), min(y2, bounds.Max.Y-1)
	if cx1 > cx2 || cy1 > cy2 {
		return
	}

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := cx1; x <= cx2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := cy1; y <= cy2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}
