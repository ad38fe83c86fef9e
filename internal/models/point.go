package models

import "math"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func InvalidPoint() Point {
	return Point{X: math.NaN(), Y: math.NaN()}
}

// Valid reports whether both coordinates are finite.
func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
