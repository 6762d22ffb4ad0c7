// Package workspace binds one view of a diagram: its canvas transform, the
// registry of mounted shapes and the input trackers that drive them.
package workspace

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/canvas"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/input"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/shapes"
)

const (
	// TargetCanvas is the pointer target of the empty canvas background.
	TargetCanvas = "canvas"

	shapeTargetPrefix = "shape:"

	keySpace   = "space"
	keyZoomIn  = "+"
	keyZoomAlt = "="
	keyZoomOut = "-"
	keyEscape  = "escape"
)

// ErrMissingEditor indicates a workspace was built without a mutation target.
var ErrMissingEditor = errors.New("workspace: editor is required")

// Mutator receives committed shape moves.
type Mutator interface {
	MoveShape(id diagram.ShapeID, x, y float64, opts ...diagram.MoveOption) bool
}

// Config wires a workspace.
type Config struct {
	Editor Mutator
	Logger *zap.Logger
	// Clock drives double-click detection; time.Now when nil.
	Clock func() time.Time
}

// WheelEvent is a scroll sample at a screen position.
type WheelEvent struct {
	Position geometry.Point `json:"position"`
	DeltaY   float64        `json:"deltaY"`
}

type mount struct {
	position *shapes.Cell[geometry.Point]
	size     *shapes.Cell[geometry.Size]
}

type grab struct {
	shape diagram.ShapeID
	start geometry.Point
}

// Workspace is the per-view context. Two workspaces never share state.
type Workspace struct {
	editor Mutator
	logger *zap.Logger

	canvas   *canvas.Canvas
	registry *shapes.Registry
	drags    *input.DragTracker
	hotkeys  *input.Hotkeys
	clicks   *input.ClickDetector
	mode     input.ModeState

	mu          sync.Mutex
	mounted     map[diagram.ShapeID]mount
	grabs       map[int]grab
	lastPointer geometry.Point
	panning     bool
	editing     diagram.ShapeID
	lastClick   string
}

// New builds a workspace with an identity transform and no mounted shapes.
func New(cfg Config) (*Workspace, error) {
	if cfg.Editor == nil {
		return nil, ErrMissingEditor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &Workspace{
		editor:   cfg.Editor,
		logger:   logger,
		canvas:   canvas.New(),
		registry: shapes.NewRegistry(),
		drags:    input.NewDragTracker(),
		hotkeys:  input.NewHotkeys(),
		clicks:   input.NewClickDetector(input.DoubleClickWindow, cfg.Clock),
		mounted:  make(map[diagram.ShapeID]mount),
		grabs:    make(map[int]grab),
	}
	ws.hotkeys.Register(keySpace, func() { ws.setPanning(true) }, func() { ws.setPanning(false) })
	ws.hotkeys.Register(keyZoomIn, func() { ws.canvas.ZoomIn(ws.LastPointer()) }, nil)
	ws.hotkeys.Register(keyZoomAlt, func() { ws.canvas.ZoomIn(ws.LastPointer()) }, nil)
	ws.hotkeys.Register(keyZoomOut, func() { ws.canvas.ZoomOut(ws.LastPointer()) }, nil)
	ws.hotkeys.Register(keyEscape, ws.StopEditing, nil)
	return ws, nil
}

// Canvas returns the view transform.
func (w *Workspace) Canvas() *canvas.Canvas {
	return w.canvas
}

// Registry returns the mounted shapes.
func (w *Workspace) Registry() *shapes.Registry {
	return w.registry
}

// Sync mounts, updates and unmounts registry entries to match doc. Shapes
// grabbed by a pointer keep their live position until released.
func (w *Workspace) Sync(doc diagram.Diagram) {
	w.mu.Lock()
	defer w.mu.Unlock()

	grabbed := make(map[diagram.ShapeID]bool, len(w.grabs))
	for _, current := range w.grabs {
		grabbed[current.shape] = true
	}

	seen := make(map[diagram.ShapeID]bool, len(doc.Shapes))
	for _, shape := range doc.Shapes {
		seen[shape.ID] = true
		existing, ok := w.mounted[shape.ID]
		if !ok {
			existing = mount{
				position: shapes.NewCell(shape.Center()),
				size:     shapes.NewCell(shape.Size()),
			}
			w.mounted[shape.ID] = existing
			w.registry.Register(shape.ID, existing.position, existing.size, shape.Type)
			continue
		}
		if !grabbed[shape.ID] {
			existing.position.Set(shape.Center())
		}
		existing.size.Set(shape.Size())
		if entry, found := w.registry.Lookup(shape.ID); found && entry.Type != shape.Type {
			w.registry.Register(shape.ID, existing.position, existing.size, shape.Type)
		}
	}

	for id := range w.mounted {
		if seen[id] {
			continue
		}
		delete(w.mounted, id)
		w.registry.Unregister(id)
		if w.editing == id {
			w.stopEditingLocked()
		}
	}
}

// PointerDown captures the pointer for its target.
func (w *Workspace) PointerDown(event input.PointerEvent) {
	w.trackPointer(event.Position)
	w.drags.PointerDown(event)

	id, ok := ParseShapeTarget(event.Target)
	if !ok {
		return
	}
	position, found := w.registry.Position(id)
	if !found {
		return
	}
	w.mu.Lock()
	w.grabs[event.PointerID] = grab{shape: id, start: position}
	w.mu.Unlock()
}

// PointerMove pans the canvas or drags the grabbed shape.
func (w *Workspace) PointerMove(event input.PointerEvent) {
	w.trackPointer(event.Position)
	drag, ok := w.drags.PointerMove(event)
	if !ok {
		return
	}

	w.mu.Lock()
	current, grabbed := w.grabs[event.PointerID]
	panning := w.panning
	w.mu.Unlock()

	if panning || !grabbed {
		w.canvas.Move(drag.Delta)
		return
	}
	entry, found := w.registry.Lookup(current.shape)
	if !found {
		return
	}
	entry.Position.Set(entry.Position.Get().Add(w.canvas.ToCanvasDelta(drag.Delta)))
}

// PointerUp releases the pointer and commits a moved shape.
func (w *Workspace) PointerUp(event input.PointerEvent) {
	w.trackPointer(event.Position)
	end, ok := w.drags.PointerUp(event)
	if !ok {
		return
	}
	if end.Total == (geometry.Point{}) {
		w.click(end.Target)
	}

	w.mu.Lock()
	current, grabbed := w.grabs[event.PointerID]
	delete(w.grabs, event.PointerID)
	w.mu.Unlock()
	if !grabbed {
		return
	}

	position, found := w.registry.Position(current.shape)
	if !found || position == current.start {
		return
	}
	if !w.editor.MoveShape(current.shape, position.X, position.Y) {
		w.logger.Debug("shape move not committed", zap.Int64("shape_id", int64(current.shape)))
	}
}

// Wheel zooms about the pointer. Scrolling up zooms in.
func (w *Workspace) Wheel(event WheelEvent) bool {
	w.trackPointer(event.Position)
	switch {
	case event.DeltaY < 0:
		return w.canvas.ZoomIn(event.Position)
	case event.DeltaY > 0:
		return w.canvas.ZoomOut(event.Position)
	default:
		return false
	}
}

// KeyDown reports whether the key is bound.
func (w *Workspace) KeyDown(key string) bool {
	return w.hotkeys.KeyDown(key)
}

// KeyUp reports whether the key is bound.
func (w *Workspace) KeyUp(key string) bool {
	return w.hotkeys.KeyUp(key)
}

// Blur releases held keys and drops pointer captures without committing.
func (w *Workspace) Blur() {
	w.hotkeys.ReleaseAll()
	w.drags.ReleaseAll()

	w.mu.Lock()
	defer w.mu.Unlock()
	for pointer, current := range w.grabs {
		if entry, ok := w.registry.Lookup(current.shape); ok {
			entry.Position.Set(current.start)
		}
		delete(w.grabs, pointer)
	}
}

// Mode returns the interaction mode of the view.
func (w *Workspace) Mode() input.Mode {
	return w.mode.Current()
}

// Editing returns the shape whose text is being edited.
func (w *Workspace) Editing() (diagram.ShapeID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode.Current() != input.ModeEdit {
		return 0, false
	}
	return w.editing, true
}

// StopEditing returns the view to idle mode.
func (w *Workspace) StopEditing() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopEditingLocked()
}

func (w *Workspace) stopEditingLocked() {
	if w.mode.Current() == input.ModeEdit {
		w.mode.Toggle()
	}
	w.editing = 0
}

// click handles a pointer release that did not move. A double click on a
// shape starts editing it; a click on the background stops editing.
func (w *Workspace) click(target string) {
	kind := w.clicks.Click()
	id, onShape := ParseShapeTarget(target)

	w.mu.Lock()
	defer w.mu.Unlock()
	previous := w.lastClick
	w.lastClick = target
	switch {
	case onShape && kind == input.DoubleClick && previous == target:
		if w.mode.Current() == input.ModeIdle {
			w.mode.Toggle()
		}
		w.editing = id
	case !onShape:
		w.stopEditingLocked()
	}
}

// LastPointer returns the last screen position seen by any pointer event.
func (w *Workspace) LastPointer() geometry.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPointer
}

// Panning reports whether the pan modifier is held.
func (w *Workspace) Panning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.panning
}

// ConnectorPath returns the curve for relation. Each end is anchored at the
// docking point of its shape nearest the other shape; an unmounted shape
// falls back to the cached endpoint position.
func (w *Workspace) ConnectorPath(relation diagram.Relation) string {
	fromCenter := w.endpointCenter(relation.From)
	toCenter := w.endpointCenter(relation.To)

	start, ok := w.registry.NearestDockingPoint(relation.From.ID, toCenter)
	if !ok {
		start = fromCenter
	}
	end, ok := w.registry.NearestDockingPoint(relation.To.ID, fromCenter)
	if !ok {
		end = toCenter
	}
	return geometry.Path(start, end)
}

func (w *Workspace) endpointCenter(endpoint diagram.Endpoint) geometry.Point {
	if position, ok := w.registry.Position(endpoint.ID); ok {
		return position
	}
	return endpoint.Point()
}

func (w *Workspace) trackPointer(position geometry.Point) {
	w.mu.Lock()
	w.lastPointer = position
	w.mu.Unlock()
}

func (w *Workspace) setPanning(panning bool) {
	w.mu.Lock()
	w.panning = panning
	w.mu.Unlock()
}

// ShapeTarget returns the pointer target name of a shape.
func ShapeTarget(id diagram.ShapeID) string {
	return shapeTargetPrefix + strconv.FormatInt(int64(id), 10)
}

// ParseShapeTarget extracts the shape id from a "shape:<id>" target.
func ParseShapeTarget(target string) (diagram.ShapeID, bool) {
	raw, ok := strings.CutPrefix(target, shapeTargetPrefix)
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return diagram.ShapeID(value), true
}
