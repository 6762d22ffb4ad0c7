package geometry

import (
	"math"
	"strconv"
	"strings"
)

// Point is a 2D coordinate in canvas or screen space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale multiplies both coordinates by factor.
func (p Point) Scale(factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

// Distance returns the euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

type side int

const (
	sideRight side = iota
	sideTop
	sideBottom
	sideLeft
)

// classify places end relative to the two diagonals through start.
// The index order right, top, bottom, left is part of the curve shape.
func classify(start, end Point) side {
	index := 0
	if start.Y <= start.X-end.X+end.Y {
		index++
	}
	if start.Y > -start.X+end.X+end.Y {
		index += 2
	}
	return side(index)
}

func sign(value float64) float64 {
	switch {
	case value > 0:
		return 1
	case value < 0:
		return -1
	default:
		return 0
	}
}

// ControlPoint computes the bezier control point that belongs to start for a
// connector running from start to end. A zero-length connector yields start.
func ControlPoint(start, end Point) Point {
	diff := end.Sub(start)
	length := math.Hypot(diff.X, diff.Y)
	if length <= 0 {
		return start
	}
	factor := (diff.X * diff.Y) / (2 * length)
	third := diff.Scale(1.0 / 3.0)

	var norm Point
	switch classify(start, end) {
	case sideRight:
		s := sign(diff.X)
		norm = Point{X: (2 * s * diff.Y) / length, Y: (-s * diff.X) / length}
	case sideLeft:
		s := -sign(diff.X)
		norm = Point{X: (2 * s * diff.Y) / length, Y: (-s * diff.X) / length}
	case sideTop:
		s := -sign(diff.Y)
		norm = Point{X: (-s * diff.Y) / length, Y: (2 * s * diff.X) / length}
	case sideBottom:
		s := sign(diff.Y)
		norm = Point{X: (-s * diff.Y) / length, Y: (2 * s * diff.X) / length}
	}
	return start.Add(third.Add(norm.Scale(factor)))
}

// Path returns the SVG path data of the cubic connector between start and end.
// Each endpoint computes its own control point, so the curve is not symmetric.
func Path(start, end Point) string {
	var builder strings.Builder
	builder.WriteString("M ")
	writePoint(&builder, start)
	builder.WriteString(" C ")
	writePoint(&builder, ControlPoint(start, end))
	builder.WriteString(", ")
	writePoint(&builder, ControlPoint(end, start))
	builder.WriteString(", ")
	writePoint(&builder, end)
	return builder.String()
}

func writePoint(builder *strings.Builder, point Point) {
	builder.WriteString(FormatNumber(point.X))
	builder.WriteString(", ")
	builder.WriteString(FormatNumber(point.Y))
}

// FormatNumber renders a coordinate with the shortest decimal representation.
func FormatNumber(value float64) string {
	if value == 0 {
		// avoids "-0"
		return "0"
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
