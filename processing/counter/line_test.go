package counter

import (
	"math"
	"testing"

	"linecount/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLineRejectsDegenerateInput(t *testing.T) {
	tests := []struct {
		name   string
		points []models.Point
	}{
		{"empty", nil},
		{"one point", []models.Point{{X: 1, Y: 1}}},
		{"repeated point", []models.Point{{X: 1, Y: 1}, {X: 1, Y: 1}}},
		{"nan", []models.Point{{X: 1, Y: 1}, {X: math.NaN(), Y: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLine(tt.points)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerateLine))
		})
	}
}

func TestSideOfTwoPointLine(t *testing.T) {
	line, err := NewLine([]models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}})
	require.NoError(t, err)

	assert.Equal(t, SideA, line.SideOf(models.Point{X: 5, Y: 5}))
	assert.Equal(t, SideB, line.SideOf(models.Point{X: 5, Y: -5}))
	assert.Equal(t, SideNone, line.SideOf(models.Point{X: 5, Y: 0}))
	assert.Equal(t, SideNone, line.SideOf(models.InvalidPoint()))
	// The half-plane extends past the segment ends.
	assert.Equal(t, SideA, line.SideOf(models.Point{X: 50, Y: 1}))
}

func TestSideOfPolylineUsesNearestSegment(t *testing.T) {
	// A step: flat at y=0 for x in [0,10], then down to y=10 at x=20.
	line, err := NewLine([]models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 10}})
	require.NoError(t, err)

	// Near the sloped segment, to its upper right.
	assert.Equal(t, SideB, line.SideOf(models.Point{X: 18, Y: 4}))
	// Near the flat segment, below it.
	assert.Equal(t, SideA, line.SideOf(models.Point{X: 3, Y: 2}))
}

func TestIntersects(t *testing.T) {
	line, err := NewLine([]models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}})
	require.NoError(t, err)

	assert.True(t, line.Intersects(models.Point{X: 5, Y: -5}, models.Point{X: 5, Y: 5}))
	assert.True(t, line.Intersects(models.Point{X: 10, Y: -5}, models.Point{X: 10, Y: 0}))
	assert.False(t, line.Intersects(models.Point{X: 15, Y: -5}, models.Point{X: 15, Y: 5}))
	assert.False(t, line.Intersects(models.InvalidPoint(), models.Point{X: 5, Y: 5}))
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "A", SideA.String())
	assert.Equal(t, "B", SideB.String())
	assert.Equal(t, "none", SideNone.String())
}
