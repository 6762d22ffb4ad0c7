package canvas

import (
	"math"
	"testing"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

const tolerance = 1e-9

func assertPointNear(t *testing.T, expected, actual geometry.Point) {
	t.Helper()
	if math.Abs(expected.X-actual.X) > tolerance || math.Abs(expected.Y-actual.Y) > tolerance {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

func TestToCanvasInvertsToScreenAcrossOperations(t *testing.T) {
	view := New()
	points := []geometry.Point{{X: 0, Y: 0}, {X: 13.5, Y: -20}, {X: -400, Y: 1200}}
	operations := []func(){
		func() { view.Move(geometry.Point{X: 15, Y: -7}) },
		func() { view.ZoomIn(geometry.Point{X: 100, Y: 50}) },
		func() { view.ZoomIn(geometry.Point{X: -30, Y: 80}) },
		func() { view.Move(geometry.Point{X: -200, Y: 3}) },
		func() { view.ZoomOut(geometry.Point{X: 640, Y: 480}) },
		func() { view.ZoomOut(geometry.Point{X: 0, Y: 0}) },
		func() { view.ZoomOut(geometry.Point{X: 5, Y: 5}) },
	}
	for _, operation := range operations {
		operation()
		for _, point := range points {
			assertPointNear(t, point, view.ToCanvas(view.ToScreen(point)))
		}
	}
}

func TestZoomOutNeverDropsBelowMinimum(t *testing.T) {
	view := New()
	for range 20 {
		view.ZoomOut(geometry.Point{X: 10, Y: 10})
		if view.Factor() < MinFactor {
			t.Fatalf("factor dropped below minimum: %v", view.Factor())
		}
	}
	if math.Abs(view.Factor()-0.512) > tolerance {
		t.Fatalf("expected factor to stop at 0.512, got %v", view.Factor())
	}
}

func TestZoomInNeverExceedsMaximum(t *testing.T) {
	view := New()
	for range 30 {
		view.ZoomIn(geometry.Point{X: 10, Y: 10})
		if view.Factor() > MaxFactor {
			t.Fatalf("factor exceeded maximum: %v", view.Factor())
		}
	}
	if math.Abs(view.Factor()-math.Pow(1.25, 10)) > 1e-6 {
		t.Fatalf("expected factor to stop at 1.25^10, got %v", view.Factor())
	}
}

func TestRejectedZoomLeavesStateUnchanged(t *testing.T) {
	view := New()
	view.Move(geometry.Point{X: 4, Y: 9})
	before := view.Transform()
	if view.Zoom(geometry.Point{X: 1, Y: 1}, 0.25) {
		t.Fatalf("expected zoom below minimum to be rejected")
	}
	if view.Zoom(geometry.Point{X: 1, Y: 1}, 20) {
		t.Fatalf("expected zoom above maximum to be rejected")
	}
	if view.Transform() != before {
		t.Fatalf("expected matrix to stay %v, got %v", before, view.Transform())
	}
	if view.Factor() != 1 {
		t.Fatalf("expected factor to stay 1, got %v", view.Factor())
	}
}

func TestZoomKeepsAnchorFixed(t *testing.T) {
	view := New()
	view.Move(geometry.Point{X: 30, Y: 40})
	anchor := geometry.Point{X: 200, Y: 120}
	before := view.ToCanvas(anchor)
	if !view.ZoomIn(anchor) {
		t.Fatalf("expected zoom to be applied")
	}
	assertPointNear(t, before, view.ToCanvas(anchor))
}

func TestMoveScalesByFactor(t *testing.T) {
	view := New()
	view.ZoomIn(geometry.Point{})
	factor := view.Factor()
	origin := view.ToScreen(geometry.Point{})
	view.Move(geometry.Point{X: 10, Y: 0})
	moved := view.ToScreen(geometry.Point{})
	// the screen shift equals the requested pixels regardless of zoom
	if math.Abs(moved.X-origin.X-10) > tolerance {
		t.Fatalf("expected 10px screen shift at factor %v, got %v", factor, moved.X-origin.X)
	}
}

func TestSetTransformDerivesFactor(t *testing.T) {
	view := New()
	view.SetTransform(Matrix2D{2, 0, 0, 2, 10, 20})
	if view.Factor() != 0.5 {
		t.Fatalf("expected factor 0.5, got %v", view.Factor())
	}
	assertPointNear(t, geometry.Point{X: 10, Y: 20}, view.ToScreen(geometry.Point{}))
	assertPointNear(t, geometry.Point{X: 5, Y: 5}, view.ToCanvasDelta(geometry.Point{X: 10, Y: 10}))
}
