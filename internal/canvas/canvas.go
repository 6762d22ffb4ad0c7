// Package canvas owns the view transform that maps canvas space to screen space.
package canvas

import (
	"math"
	"sync"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

const (
	// MinFactor is the smallest inverse scale a zoom may reach.
	MinFactor = 0.5
	// MaxFactor is the largest inverse scale a zoom may reach.
	MaxFactor = 10.0

	zoomInStep  = 5.0 / 4.0
	zoomOutStep = 4.0 / 5.0
)

// Canvas holds one affine matrix M (canvas → screen) and the derived inverse
// scale factor. All pointer input is mapped through it before it reaches
// model coordinates.
type Canvas struct {
	mu     sync.RWMutex
	matrix Matrix2D
	factor float64
}

// New returns a canvas with the identity transform.
func New() *Canvas {
	return &Canvas{matrix: Identity(), factor: 1}
}

// SetTransform replaces the matrix and resets factor to 1/a.
func (c *Canvas) SetTransform(m Matrix2D) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matrix = m
	c.factor = 1 / m[0]
}

// Transform returns the current matrix.
func (c *Canvas) Transform() Matrix2D {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matrix
}

// Factor returns the inverse horizontal scale of the current matrix.
func (c *Canvas) Factor() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.factor
}

// ToCanvas maps a screen point to canvas coordinates.
func (c *Canvas) ToCanvas(screen geometry.Point) geometry.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matrix.Invert().Apply(screen)
}

// ToScreen maps a canvas point to screen coordinates.
func (c *Canvas) ToScreen(point geometry.Point) geometry.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matrix.Apply(point)
}

// ToCanvasDelta maps a screen displacement to a canvas displacement.
func (c *Canvas) ToCanvasDelta(delta geometry.Point) geometry.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matrix.Invert().ApplyLinear(delta)
}

// Move pans the view. The delta is scaled by factor so a fixed screen drag
// covers the same canvas distance at every zoom level.
func (c *Canvas) Move(diff geometry.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matrix = c.matrix.Multiply(Translate(diff.X*c.factor, diff.Y*c.factor))
}

// Zoom scales the view about offset by step. It reports false and leaves the
// transform untouched when the resulting factor would leave [MinFactor, MaxFactor].
func (c *Canvas) Zoom(offset geometry.Point, step float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	nextFactor := c.factor * step
	if nextFactor < MinFactor || MaxFactor < math.Round(nextFactor*10)/10 {
		return false
	}
	scale := c.factor / nextFactor
	c.matrix = Translate(offset.X, offset.Y).
		Multiply(Scale(scale, scale)).
		Multiply(Translate(-offset.X, -offset.Y)).
		Multiply(c.matrix)
	c.factor = nextFactor
	return true
}

// ZoomIn zooms by one 5/4 step about offset.
func (c *Canvas) ZoomIn(offset geometry.Point) bool {
	return c.Zoom(offset, zoomInStep)
}

// ZoomOut zooms by one 4/5 step about offset.
func (c *Canvas) ZoomOut(offset geometry.Point) bool {
	return c.Zoom(offset, zoomOutStep)
}
