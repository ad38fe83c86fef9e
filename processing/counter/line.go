package counter

import (
	"math"

	"linecount/internal/models"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r2"
)

// Side is the half-plane a point lies in relative to a Line.
type Side int8

const (
	SideNone Side = 0
	SideA    Side = 1
	SideB    Side = -1
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "none"
	}
}

type segment struct {
	a, b r2.Vec
}

// Line is an immutable crossing polyline.
type Line struct {
	points   []r2.Vec
	segments []segment
}

var ErrDegenerateLine = errors.New("crossing line needs at least 2 distinct points")

func NewLine(points []models.Point) (*Line, error) {
	l := &Line{}

	for _, p := range points {
		if !p.Valid() {
			return nil, errors.Wrapf(ErrDegenerateLine, "point %v is not finite", p)
		}
		l.points = append(l.points, r2.Vec{X: p.X, Y: p.Y})
	}

	for i := 1; i < len(l.points); i++ {
		a, b := l.points[i-1], l.points[i]
		if a == b {
			continue
		}
		l.segments = append(l.segments, segment{a: a, b: b})
	}

	if len(l.segments) == 0 {
		return nil, ErrDegenerateLine
	}

	return l, nil
}

// Points returns the polyline vertices.
func (l *Line) Points() []models.Point {
	out := make([]models.Point, len(l.points))
	for i, p := range l.points {
		out[i] = models.Point{X: p.X, Y: p.Y}
	}
	return out
}

// SideOf classifies p against the segment nearest to it. SideA is where the
// cross product of the segment direction and p is positive; with image
// coordinates (y down) and a line drawn left to right that is below the line.
// Points on the line or non-finite points get SideNone.
func (l *Line) SideOf(p models.Point) Side {
	if !p.Valid() {
		return SideNone
	}

	v := r2.Vec{X: p.X, Y: p.Y}
	seg := l.nearest(v)

	cross := r2.Cross(r2.Sub(seg.b, seg.a), r2.Sub(v, seg.a))

	switch {
	case math.IsNaN(cross) || cross == 0:
		return SideNone
	case cross > 0:
		return SideA
	default:
		return SideB
	}
}

// Intersects reports whether the movement from p to q touches the polyline.
func (l *Line) Intersects(p, q models.Point) bool {
	if !p.Valid() || !q.Valid() {
		return false
	}

	a := r2.Vec{X: p.X, Y: p.Y}
	b := r2.Vec{X: q.X, Y: q.Y}

	for _, seg := range l.segments {
		if segmentsIntersect(a, b, seg.a, seg.b) {
			return true
		}
	}

	return false
}

func (l *Line) nearest(v r2.Vec) segment {
	if len(l.segments) == 1 {
		return l.segments[0]
	}

	best := l.segments[0]
	bestDist := math.Inf(1)

	for _, seg := range l.segments {
		d := distToSegment(v, seg)
		if d < bestDist {
			bestDist = d
			best = seg
		}
	}

	return best
}

func distToSegment(v r2.Vec, seg segment) float64 {
	d := r2.Sub(seg.b, seg.a)
	t := r2.Dot(r2.Sub(v, seg.a), d) / r2.Dot(d, d)
	t = math.Max(0, math.Min(1, t))

	proj := r2.Add(seg.a, r2.Scale(t, d))
	return r2.Norm(r2.Sub(v, proj))
}

func orientation(a, b, c r2.Vec) float64 {
	return r2.Cross(r2.Sub(b, a), r2.Sub(c, a))
}

func onSegment(a, b, p r2.Vec) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 r2.Vec) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}

	return false
}
