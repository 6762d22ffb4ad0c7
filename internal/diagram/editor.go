package diagram

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errMissingDiagramID = errors.New("diagram: diagram id is required")

// EditorConfig wires an Editor to its document store.
type EditorConfig struct {
	Store     DocumentStore
	DiagramID string
	// Origin tags every write made by this editor. A random id is used when empty.
	Origin string
	Logger *zap.Logger
}

// Editor is the in-memory copy of one diagram plus its mutation API. Every
// mutation applies to the cache under a lock and queues the whole document
// for persistence. Mutations report whether anything changed; an unloaded
// document or a missing shape or relation leaves the state untouched.
type Editor struct {
	store  DocumentStore
	id     string
	origin string
	logger *zap.Logger
	writer *Writer

	mu      sync.Mutex
	doc     Diagram
	version int64
	loaded  bool
}

// MoveOption adjusts a MoveShape call.
type MoveOption func(*moveOptions)

type moveOptions struct {
	width  *float64
	height *float64
}

// WithSize resizes the shape as part of the move.
func WithSize(width, height float64) MoveOption {
	return func(opts *moveOptions) {
		opts.width = &width
		opts.height = &height
	}
}

// WithWidth changes only the width.
func WithWidth(width float64) MoveOption {
	return func(opts *moveOptions) {
		opts.width = &width
	}
}

// WithHeight changes only the height.
func WithHeight(height float64) MoveOption {
	return func(opts *moveOptions) {
		opts.height = &height
	}
}

// NewEditor builds an editor with an empty, unloaded cache.
func NewEditor(cfg EditorConfig) (*Editor, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.DiagramID == "" {
		return nil, errMissingDiagramID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	editor := &Editor{
		store:  cfg.Store,
		id:     cfg.DiagramID,
		origin: origin,
		logger: logger,
	}
	editor.writer = NewWriter(editor.persist, logger)
	return editor, nil
}

// ID returns the diagram id.
func (e *Editor) ID() string {
	return e.id
}

// Origin returns the tag attached to this editor's writes.
func (e *Editor) Origin() string {
	return e.origin
}

// Load fetches the current document from the store into the cache.
func (e *Editor) Load(ctx context.Context) error {
	event, err := e.store.Load(ctx, e.id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = event.Diagram.Clone()
	e.version = event.Version
	e.loaded = true
	return nil
}

// Snapshot returns a copy of the cached document.
func (e *Editor) Snapshot() (Diagram, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return Diagram{}, false
	}
	return e.doc.Clone(), true
}

// Version returns the last store version the cache is known to reflect.
func (e *Editor) Version() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Apply replaces the cache with a snapshot written elsewhere. Events from
// this editor's own origin and versions older than the cache are ignored.
func (e *Editor) Apply(event Event) bool {
	if event.Origin == e.origin || event.Diagram.ID != e.id {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && event.Version <= e.version {
		return false
	}
	e.doc = event.Diagram.Clone()
	e.version = event.Version
	e.loaded = true
	return true
}

// Run keeps the cache in sync with the store and drains the write queue
// until ctx is done.
func (e *Editor) Run(ctx context.Context) {
	events, cleanup := e.store.Subscribe(ctx, e.id)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.writer.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case event, ok := <-events:
			if !ok {
				<-ctx.Done()
				<-done
				return
			}
			if e.Apply(event) {
				e.logger.Debug("diagram updated remotely",
					zap.String("diagram_id", e.id),
					zap.String("origin", event.Origin),
					zap.Int64("version", event.Version))
			}
		}
	}
}

// Flush waits for every queued write to reach the store. It returns the
// store error when the last write failed; the cache has then been reloaded.
func (e *Editor) Flush(ctx context.Context) error {
	return e.writer.Flush(ctx)
}

// AddShape appends a default sized shape centered at (x, y).
func (e *Editor) AddShape(shapeType ShapeType, x, y float64, color Color) (ShapeID, bool) {
	if color == "" {
		color = ColorWhite
	}
	var id ShapeID
	changed := e.mutate(func(doc *Diagram) bool {
		id = doc.NextShapeID()
		doc.Shapes = append(doc.Shapes, Shape{
			ID:       id,
			Type:     shapeType,
			Color:    color,
			X:        x,
			Y:        y,
			Width:    DefaultShapeWidth,
			Height:   DefaultShapeHeight,
			FontSize: DefaultFontSize,
		})
		return true
	})
	return id, changed
}

// AddRelation connects two existing shapes with an unstyled relation.
func (e *Editor) AddRelation(from, to ShapeID) (RelationID, bool) {
	var id RelationID
	changed := e.mutate(func(doc *Diagram) bool {
		fromShape, ok := doc.Shape(from)
		if !ok {
			return false
		}
		toShape, ok := doc.Shape(to)
		if !ok {
			return false
		}
		id = doc.NextRelationID()
		doc.Relations = append(doc.Relations, Relation{
			ID:   id,
			From: Endpoint{ID: from, X: fromShape.X, Y: fromShape.Y, Style: ArrowStyleNone},
			To:   Endpoint{ID: to, X: toShape.X, Y: toShape.Y, Style: ArrowStyleNone},
		})
		return true
	})
	return id, changed
}

// RemoveShape deletes the shape and every relation attached to it.
func (e *Editor) RemoveShape(id ShapeID) bool {
	return e.mutate(func(doc *Diagram) bool {
		if _, ok := doc.Shape(id); !ok {
			return false
		}
		doc.Relations = slices.DeleteFunc(doc.Relations, func(relation Relation) bool {
			return relation.From.ID == id || relation.To.ID == id
		})
		doc.Shapes = slices.DeleteFunc(doc.Shapes, func(shape Shape) bool {
			return shape.ID == id
		})
		return true
	})
}

// RemoveRelation deletes the relation.
func (e *Editor) RemoveRelation(id RelationID) bool {
	return e.mutate(func(doc *Diagram) bool {
		if _, ok := doc.Relation(id); !ok {
			return false
		}
		doc.Relations = slices.DeleteFunc(doc.Relations, func(relation Relation) bool {
			return relation.ID == id
		})
		return true
	})
}

// MoveShape moves the shape and refreshes the cached endpoint of every
// relation attached to it. A self loop has both endpoints refreshed.
func (e *Editor) MoveShape(id ShapeID, x, y float64, opts ...MoveOption) bool {
	var options moveOptions
	for _, opt := range opts {
		opt(&options)
	}
	return e.mutate(func(doc *Diagram) bool {
		shape, ok := doc.Shape(id)
		if !ok {
			return false
		}
		shape.X = x
		shape.Y = y
		if options.width != nil {
			shape.Width = *options.width
		}
		if options.height != nil {
			shape.Height = *options.height
		}
		for index := range doc.Relations {
			relation := &doc.Relations[index]
			if relation.From.ID == id {
				relation.From.X = x
				relation.From.Y = y
			}
			if relation.To.ID == id {
				relation.To.X = x
				relation.To.Y = y
			}
		}
		return true
	})
}

// ColorShape changes the fill color.
func (e *Editor) ColorShape(id ShapeID, color Color) bool {
	return e.mutate(func(doc *Diagram) bool {
		shape, ok := doc.Shape(id)
		if !ok {
			return false
		}
		shape.Color = color
		return true
	})
}

// SetShapeText changes the label inside the shape.
func (e *Editor) SetShapeText(id ShapeID, text string) bool {
	return e.mutate(func(doc *Diagram) bool {
		shape, ok := doc.Shape(id)
		if !ok {
			return false
		}
		shape.Text = text
		return true
	})
}

// StyleRelation overwrites both arrow styles from direction.
func (e *Editor) StyleRelation(id RelationID, direction Direction) bool {
	from, to := direction.ArrowStyles()
	return e.mutate(func(doc *Diagram) bool {
		relation, ok := doc.Relation(id)
		if !ok {
			return false
		}
		relation.From.Style = from
		relation.To.Style = to
		return true
	})
}

// Connect rebinds one end of the relation to shapeID.
func (e *Editor) Connect(relationID RelationID, shapeID ShapeID, end End) bool {
	return e.mutate(func(doc *Diagram) bool {
		relation, ok := doc.Relation(relationID)
		if !ok {
			return false
		}
		shape, ok := doc.Shape(shapeID)
		if !ok {
			return false
		}
		endpoint := &relation.From
		if end == EndEnd {
			endpoint = &relation.To
		}
		endpoint.ID = shapeID
		endpoint.X = shape.X
		endpoint.Y = shape.Y
		return true
	})
}

// SetLabelText writes one of the three relation labels.
func (e *Editor) SetLabelText(id RelationID, text string, position LabelPosition) bool {
	return e.mutate(func(doc *Diagram) bool {
		relation, ok := doc.Relation(id)
		if !ok {
			return false
		}
		switch position {
		case LabelStart:
			relation.From.Text = text
		case LabelEnd:
			relation.To.Text = text
		default:
			relation.Text = text
		}
		return true
	})
}

// Clear removes every shape and relation.
func (e *Editor) Clear() bool {
	return e.mutate(func(doc *Diagram) bool {
		doc.Shapes = []Shape{}
		doc.Relations = []Relation{}
		return true
	})
}

// ChangeVisibility sets who may open the diagram.
func (e *Editor) ChangeVisibility(visibility Visibility) bool {
	return e.mutate(func(doc *Diagram) bool {
		doc.Visibility = visibility
		return true
	})
}

func (e *Editor) mutate(apply func(doc *Diagram) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return false
	}
	if !apply(&e.doc) {
		return false
	}
	e.writer.Enqueue(e.doc.Clone())
	return true
}

func (e *Editor) persist(ctx context.Context, doc Diagram) error {
	event, err := e.store.Replace(ctx, doc, e.origin)
	if err != nil {
		e.revert(ctx)
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.version = max(e.version, event.Version)
	return nil
}

// revert drops unsaved mutations after a failed write by reloading the cache
// from the store. A newer queued snapshot gets its own attempt instead.
func (e *Editor) revert(ctx context.Context) {
	event, err := e.store.Load(ctx, e.id)
	if err != nil {
		e.logger.Warn("diagram reload after failed persist",
			zap.String("diagram_id", e.id),
			zap.Error(err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer.queued() {
		return
	}
	e.doc = event.Diagram.Clone()
	e.version = event.Version
}
