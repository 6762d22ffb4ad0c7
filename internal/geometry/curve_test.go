package geometry

import (
	"math"
	"strings"
	"testing"
)

func TestControlPointDegeneratesToStart(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 12.5, Y: -3}, {X: -400, Y: 900}}
	for _, point := range points {
		if got := ControlPoint(point, point); got != point {
			t.Fatalf("expected control point %v for zero-length curve, got %v", point, got)
		}
	}
}

func TestPathForZeroLengthRepeatsPoint(t *testing.T) {
	path := Path(Point{X: 3, Y: 4}, Point{X: 3, Y: 4})
	expected := "M 3, 4 C 3, 4, 3, 4, 3, 4"
	if path != expected {
		t.Fatalf("expected %q, got %q", expected, path)
	}
}

func TestPathUsesIndependentControlPoints(t *testing.T) {
	start := Point{X: 0, Y: 0}
	end := Point{X: 90, Y: 30}
	path := Path(start, end)
	if !strings.HasPrefix(path, "M 0, 0 C ") {
		t.Fatalf("unexpected path prefix: %q", path)
	}
	if !strings.HasSuffix(path, ", 90, 30") {
		t.Fatalf("unexpected path suffix: %q", path)
	}

	forward := ControlPoint(start, end)
	backward := ControlPoint(end, start)
	if forward == backward {
		t.Fatalf("expected distinct control points, both were %v", forward)
	}
	if !strings.Contains(path, FormatNumber(forward.X)+", "+FormatNumber(forward.Y)) {
		t.Fatalf("expected start control point in path %q", path)
	}
}

func TestControlPointHorizontalLineHasNoBulge(t *testing.T) {
	start := Point{X: 0, Y: 0}
	end := Point{X: 30, Y: 0}
	got := ControlPoint(start, end)
	if math.Abs(got.X-10) > 1e-9 || math.Abs(got.Y) > 1e-9 {
		t.Fatalf("expected third-point (10, 0) for axis aligned connector, got %v", got)
	}
}

func TestControlPointBulgesPerpendicular(t *testing.T) {
	start := Point{X: 0, Y: 0}
	end := Point{X: 60, Y: 30}
	got := ControlPoint(start, end)
	third := Point{X: 20, Y: 10}
	offset := got.Sub(third)
	if offset.Distance(Point{}) == 0 {
		t.Fatalf("expected control point to leave the straight line")
	}
	if math.IsNaN(got.X) || math.IsNaN(got.Y) {
		t.Fatalf("unexpected NaN control point %v", got)
	}
}

func TestClassifySides(t *testing.T) {
	origin := Point{X: 0, Y: 0}
	cases := []struct {
		end      Point
		expected side
	}{
		{end: Point{X: 10, Y: 0}, expected: sideRight},
		{end: Point{X: 0, Y: 10}, expected: sideTop},
		{end: Point{X: 0, Y: -10}, expected: sideBottom},
		{end: Point{X: -10, Y: 0}, expected: sideLeft},
	}
	for _, testCase := range cases {
		if got := classify(origin, testCase.end); got != testCase.expected {
			t.Fatalf("classify(%v, %v): expected %d, got %d", origin, testCase.end, testCase.expected, got)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber(math.Copysign(0, -1)); got != "0" {
		t.Fatalf("expected negative zero to render as 0, got %q", got)
	}
	if got := FormatNumber(12.5); got != "12.5" {
		t.Fatalf("unexpected formatting %q", got)
	}
	if got := FormatNumber(-7); got != "-7" {
		t.Fatalf("unexpected formatting %q", got)
	}
}
