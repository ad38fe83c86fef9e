package models

import "math"

// DetectionResult is one tracked object as reported by the detector service.
// Box is [y1, x1, y2, x2] normalised to the frame size.
type DetectionResult struct {
	ID         int64     `json:"id" msgpack:"id"`
	Label      string    `json:"label" msgpack:"label"`
	Confidence float32   `json:"confidence" msgpack:"confidence"`
	Box        []float32 `json:"box" msgpack:"box"`
}

// TrackReply is the detector's answer for a single frame.
type TrackReply struct {
	Frame  uint64            `json:"frame" msgpack:"frame"`
	Tracks []DetectionResult `json:"tracks" msgpack:"tracks"`
}

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Observation is one tracked object in one frame, in pixel coordinates.
type Observation struct {
	ID       int64
	Label    string
	Position Point
	Box      Box
	Frame    uint64
}

// ToObservations converts detector results to pixel-space observations for a
// frame of the given size. Boxes are clamped to the frame. Results with a short
// or non-finite box keep a NaN position and an empty box so the counter can
// skip them.
func ToObservations(frame uint64, width, height int, results []DetectionResult) []Observation {
	out := make([]Observation, 0, len(results))
	w := float64(width)
	h := float64(height)

	for _, res := range results {
		obs := Observation{ID: res.ID, Label: res.Label, Frame: frame, Position: InvalidPoint()}

		if len(res.Box) < 4 || !finite(res.Box[:4]) {
			out = append(out, obs)
			continue
		}

		y1 := clamp(float64(res.Box[0])*h, h)
		x1 := clamp(float64(res.Box[1])*w, w)
		y2 := clamp(float64(res.Box[2])*h, h)
		x2 := clamp(float64(res.Box[3])*w, w)

		obs.Box = Box{X1: int(x1), Y1: int(y1), X2: int(x2), Y2: int(y2)}
		obs.Position = Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}
		out = append(out, obs)
	}

	return out
}

func finite(vs []float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func clamp(v, limit float64) float64 {
	return math.Max(0, math.Min(v, limit))
}
