package input

import (
	"sync"
	"time"
)

// DoubleClickWindow is how long after a click a second click counts as a double click.
const DoubleClickWindow = 900 * time.Millisecond

// ClickKind classifies a click.
type ClickKind int

const (
	SingleClick ClickKind = iota + 1
	DoubleClick
)

func (k ClickKind) String() string {
	switch k {
	case SingleClick:
		return "click"
	case DoubleClick:
		return "dblclick"
	default:
		return "unknown"
	}
}

// ClickDetector tells single clicks from double clicks. The first click is
// reported immediately; a second click inside the window is reported as a
// double click and resets the detector.
type ClickDetector struct {
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	armed   bool
	armedAt time.Time
}

// NewClickDetector builds a detector. Zero values use DoubleClickWindow and time.Now.
func NewClickDetector(window time.Duration, clock func() time.Time) *ClickDetector {
	if window <= 0 {
		window = DoubleClickWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &ClickDetector{window: window, clock: clock}
}

// Click registers a click and classifies it.
func (c *ClickDetector) Click() ClickKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if c.armed && now.Sub(c.armedAt) < c.window {
		c.armed = false
		return DoubleClick
	}
	c.armed = true
	c.armedAt = now
	return SingleClick
}
