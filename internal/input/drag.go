// Package input turns raw pointer and keyboard events into drag deltas,
// hotkey press and release pairs, single and double clicks.
package input

import (
	"sync"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

// PointerEvent is one pointer sample in screen coordinates.
type PointerEvent struct {
	PointerID int            `json:"pointerId"`
	Target    string         `json:"target"`
	Position  geometry.Point `json:"position"`
}

// Drag is the movement of a captured pointer since its previous sample.
type Drag struct {
	PointerID int
	Target    string
	Delta     geometry.Point
	Position  geometry.Point
}

// DragEnd closes a drag. Total is the displacement since the pointer went down.
type DragEnd struct {
	PointerID int
	Target    string
	Position  geometry.Point
	Total     geometry.Point
}

type capture struct {
	target string
	start  geometry.Point
	last   geometry.Point
}

// DragTracker follows captured pointers. A pointer is captured by the
// target it went down on and keeps reporting to it until released, even
// when it leaves the target.
type DragTracker struct {
	mu       sync.Mutex
	captures map[int]*capture
}

// NewDragTracker returns a tracker with no captured pointers.
func NewDragTracker() *DragTracker {
	return &DragTracker{captures: make(map[int]*capture)}
}

// PointerDown captures the pointer for event.Target.
func (d *DragTracker) PointerDown(event PointerEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures[event.PointerID] = &capture{
		target: event.Target,
		start:  event.Position,
		last:   event.Position,
	}
}

// PointerMove reports the delta of a captured pointer.
func (d *DragTracker) PointerMove(event PointerEvent) (Drag, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.captures[event.PointerID]
	if !ok {
		return Drag{}, false
	}
	delta := event.Position.Sub(current.last)
	current.last = event.Position
	return Drag{
		PointerID: event.PointerID,
		Target:    current.target,
		Delta:     delta,
		Position:  event.Position,
	}, true
}

// PointerUp releases the pointer.
func (d *DragTracker) PointerUp(event PointerEvent) (DragEnd, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.captures[event.PointerID]
	if !ok {
		return DragEnd{}, false
	}
	delete(d.captures, event.PointerID)
	return DragEnd{
		PointerID: event.PointerID,
		Target:    current.target,
		Position:  event.Position,
		Total:     event.Position.Sub(current.start),
	}, true
}

// Captured reports whether the pointer is currently captured.
func (d *DragTracker) Captured(pointerID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.captures[pointerID]
	return ok
}

// ReleaseAll drops every capture without reporting drag ends.
func (d *DragTracker) ReleaseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.captures)
}
