package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertRect(t *testing.T, want, got Rect) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Width, got.Width, 1e-9)
	assert.InDelta(t, want.Height, got.Height, 1e-9)
}

func TestBoundingBox(t *testing.T) {
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 100, Height: 50}, BoundingBox(10, 20, 100, 50, 0))
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 100, Height: 50}, BoundingBox(10, 20, 100, 50, 360))

	// A quarter turn swaps the sides around the same center.
	assertRect(t, Rect{X: 25, Y: -25, Width: 50, Height: 100}, BoundingBox(0, 0, 100, 50, 90))

	side := 150 * math.Sqrt2 / 2
	assertRect(t, Rect{X: 50 - side/2, Y: 25 - side/2, Width: side, Height: side}, BoundingBox(0, 0, 100, 50, 45))
	assertRect(t, BoundingBox(0, 0, 100, 50, 45), BoundingBox(0, 0, 100, 50, -315))
}

func TestRectIntersectsAndContains(t *testing.T) {
	r := Rect{X: 0, Y: 0, Width: 10, Height: 10}

	assert.True(t, r.Intersects(Rect{X: 10, Y: 10, Width: 5, Height: 5}), "shared corner")
	assert.False(t, r.Intersects(Rect{X: 11, Y: 0, Width: 5, Height: 5}))
	assert.True(t, r.Contains(Point{X: 10, Y: 0}))
	assert.False(t, r.Contains(Point{X: -1, Y: 5}))
}

func TestRectFromPointsAndUnion(t *testing.T) {
	assert.Equal(t, Rect{X: 2, Y: 3, Width: 8, Height: 4}, RectFromPoints(Point{X: 10, Y: 3}, Point{X: 2, Y: 7}))

	u := Union(Rect{X: 0, Y: 0, Width: 10, Height: 10}, Rect{X: 20, Y: -5, Width: 5, Height: 5})
	assert.Equal(t, Rect{X: 0, Y: -5, Width: 25, Height: 15}, u)
	assert.Equal(t, Rect{}, Union())
}

func TestAngles(t *testing.T) {
	assert.Equal(t, 350.0, NormalizeAngle(-10))
	assert.Equal(t, 0.0, NormalizeAngle(720))
	assert.Equal(t, 0.0, NormalizeAngle(math.NaN()))
	assert.Equal(t, 20.0, AngleDelta(350, 10))
	assert.Equal(t, 180.0, AngleDelta(0, 180))
}
