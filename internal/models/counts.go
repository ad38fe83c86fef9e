package models

import (
	"image"
	"time"
)

// Counts is a value copy of the crossing counter's tallies.
type Counts struct {
	In      int `json:"in"`
	Out     int `json:"out"`
	ClassIn int `json:"class_in"`
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Crossing is a single line-crossing event.
type Crossing struct {
	TrackID   int64
	Label     string
	Direction Direction
	Frame     uint64
	At        time.Time
}

// Snapshot is what the producing stage hands to the consuming stage for one
// processed frame. It must not be modified after publishing.
type Snapshot struct {
	Seq        uint64
	Frame      image.Image
	Counts     Counts
	CapturedAt time.Time
}
