package command

import (
	"math"
	"strings"

	"collabcanvas/pkg/geometry"
)

type Arrangement string

const (
	Row    Arrangement = "row"
	Column Arrangement = "column"
	Grid   Arrangement = "grid"

	DefaultSpacing = 20.0
	// MaxShapes bounds batch creation and layout.
	MaxShapes = 20
)

func ParseArrangement(s string) (Arrangement, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "row", "horizontal", "rows":
		return Row, true
	case "column", "vertical", "columns", "col":
		return Column, true
	case "grid":
		return Grid, true
	}
	return "", false
}

// Arrange returns the top-left corner of each size laid out from origin. A grid uses
// uniform cells as large as the largest item; columns <= 0 picks a near-square grid.
func Arrange(sizes []geometry.Point, origin geometry.Point, kind Arrangement, spacing float64, columns int) []geometry.Point {
	out := make([]geometry.Point, len(sizes))
	if len(sizes) == 0 {
		return out
	}
	if spacing < 0 || math.IsNaN(spacing) {
		spacing = DefaultSpacing
	}

	switch kind {
	case Column:
		y := origin.Y
		for i, s := range sizes {
			out[i] = geometry.Point{X: origin.X, Y: y}
			y += s.Y + spacing
		}
	case Grid:
		if columns <= 0 {
			columns = int(math.Ceil(math.Sqrt(float64(len(sizes)))))
		}
		var cellW, cellH float64
		for _, s := range sizes {
			cellW = math.Max(cellW, s.X)
			cellH = math.Max(cellH, s.Y)
		}
		for i := range sizes {
			col, row := i%columns, i/columns
			out[i] = geometry.Point{
				X: origin.X + float64(col)*(cellW+spacing),
				Y: origin.Y + float64(row)*(cellH+spacing),
			}
		}
	default:
		x := origin.X
		for i, s := range sizes {
			out[i] = geometry.Point{X: x, Y: origin.Y}
			x += s.X + spacing
		}
	}
	return out
}

// arrangedBounds is the rectangle covered by the arranged items.
func arrangedBounds(sizes, positions []geometry.Point) geometry.Rect {
	rects := make([]geometry.Rect, len(sizes))
	for i := range sizes {
		rects[i] = geometry.Rect{X: positions[i].X, Y: positions[i].Y, Width: sizes[i].X, Height: sizes[i].Y}
	}
	return geometry.Union(rects...)
}
