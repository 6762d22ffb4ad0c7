// Package shapes keeps the live geometry of every mounted shape so connector
// endpoints can be resolved without going back to the document store.
package shapes

import (
	"sync"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

// Cell is a mutable value shared between the registry and the component that
// owns the shape. Writes are visible to every later read.
type Cell[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewCell returns a cell holding value.
func NewCell[T any](value T) *Cell[T] {
	return &Cell[T]{value: value}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the current value.
func (c *Cell[T]) Set(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
}

// Entry is one registered shape.
type Entry struct {
	Position *Cell[geometry.Point]
	Size     *Cell[geometry.Size]
	Type     diagram.ShapeType
}

// Registry maps shape ids to their live entries. Docking points are derived
// from the cells on every query.
type Registry struct {
	mu      sync.RWMutex
	entries map[diagram.ShapeID]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[diagram.ShapeID]Entry)}
}

// Register stores the entry for id. The last registration wins.
func (r *Registry) Register(id diagram.ShapeID, position *Cell[geometry.Point], size *Cell[geometry.Size], shapeType diagram.ShapeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Entry{Position: position, Size: size, Type: shapeType}
}

// Unregister drops the entry for id.
func (r *Registry) Unregister(id diagram.ShapeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the entry registered for id.
func (r *Registry) Lookup(id diagram.ShapeID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// IDs returns every registered id in no particular order.
func (r *Registry) IDs() []diagram.ShapeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]diagram.ShapeID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Position returns the live center of the shape.
func (r *Registry) Position(id diagram.ShapeID) (geometry.Point, bool) {
	entry, ok := r.Lookup(id)
	if !ok {
		return geometry.Point{}, false
	}
	return entry.Position.Get(), true
}

// NearestDockingPoint returns the boundary point of the shape closest to point.
func (r *Registry) NearestDockingPoint(id diagram.ShapeID, point geometry.Point) (geometry.Point, bool) {
	entry, ok := r.Lookup(id)
	if !ok {
		return geometry.Point{}, false
	}
	nearest := geometry.NearestDockingPoint(entry.Type.Outline(), entry.Position.Get(), entry.Size.Get(), point)
	return nearest.Point, true
}
