package geometry

import "math"

// Outline enumerates the boundary shapes docking points are computed for.
type Outline string

const (
	// OutlineRectangle docks at the midpoints of the rectangle edges.
	OutlineRectangle Outline = "rectangle"
	// OutlineEllipse docks on an approximation of the ellipse boundary.
	OutlineEllipse Outline = "ellipse"
)

// Size is a width/height pair in canvas units.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Dock names one of the four docking points of a shape.
type Dock string

const (
	DockLeft   Dock = "left"
	DockRight  Dock = "right"
	DockTop    Dock = "top"
	DockBottom Dock = "bottom"
)

// DockingPoint pairs a boundary point with the side it sits on.
type DockingPoint struct {
	Dock  Dock
	Point Point
}

// DockingPoints returns the left, right, top and bottom boundary points of a
// shape centered at center. Ellipse side points are pushed out by √2.
func DockingPoints(outline Outline, center Point, size Size) [4]DockingPoint {
	scale := 1.0
	if outline == OutlineEllipse {
		scale = math.Sqrt2
	}
	halfWidth := size.Width / 2 * scale
	halfHeight := size.Height / 2 * scale
	return [4]DockingPoint{
		{Dock: DockLeft, Point: Point{X: center.X - halfWidth, Y: center.Y}},
		{Dock: DockRight, Point: Point{X: center.X + halfWidth, Y: center.Y}},
		{Dock: DockTop, Point: Point{X: center.X, Y: center.Y - halfHeight}},
		{Dock: DockBottom, Point: Point{X: center.X, Y: center.Y + halfHeight}},
	}
}

// NearestDockingPoint returns the docking point closest to target.
// Ties keep the first candidate in left, right, top, bottom order.
func NearestDockingPoint(outline Outline, center Point, size Size, target Point) DockingPoint {
	candidates := DockingPoints(outline, center, size)
	nearest := candidates[0]
	best := nearest.Point.Distance(target)
	for _, candidate := range candidates[1:] {
		if distance := candidate.Point.Distance(target); distance < best {
			best = distance
			nearest = candidate
		}
	}
	return nearest
}
