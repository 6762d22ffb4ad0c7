package diagram

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

const (
	// DefaultShapeWidth is the width given to every new shape.
	DefaultShapeWidth = 100
	// DefaultShapeHeight is the height given to every new shape.
	DefaultShapeHeight = 100
	// DefaultFontSize is the label font size given to every new shape.
	DefaultFontSize = 10
)

var (
	// ErrInvalidShapeType indicates an unknown shape type value.
	ErrInvalidShapeType = errors.New("diagram: invalid shape type")
	// ErrInvalidColor indicates an unknown color value.
	ErrInvalidColor = errors.New("diagram: invalid color")
	// ErrInvalidDirection indicates an unknown relation direction.
	ErrInvalidDirection = errors.New("diagram: invalid direction")
	// ErrInvalidLabelPosition indicates an unknown label position.
	ErrInvalidLabelPosition = errors.New("diagram: invalid label position")
	// ErrInvalidVisibility indicates an unknown visibility value.
	ErrInvalidVisibility = errors.New("diagram: invalid visibility")
	// ErrInvalidEnd indicates an unknown relation end.
	ErrInvalidEnd = errors.New("diagram: invalid relation end")
	// ErrInvalidID indicates a non-finite shape or relation identifier.
	ErrInvalidID = errors.New("diagram: invalid id")
)

// ShapeID identifies a shape within one diagram.
type ShapeID int64

// RelationID identifies a relation within one diagram.
type RelationID int64

// IsValidID reports whether a raw identifier is a finite number.
func IsValidID(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

// NewShapeID validates a raw numeric identifier.
func NewShapeID(value float64) (ShapeID, error) {
	if !IsValidID(value) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, value)
	}
	return ShapeID(value), nil
}

// NewRelationID validates a raw numeric identifier.
func NewRelationID(value float64) (RelationID, error) {
	if !IsValidID(value) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, value)
	}
	return RelationID(value), nil
}

// ShapeType enumerates the supported shape outlines.
type ShapeType string

const (
	ShapeTypeRectangle ShapeType = "rectangle"
	ShapeTypeOval      ShapeType = "oval"

	legacyShapeTypeRectangle = "rectange"
)

// ParseShapeType validates raw input. The misspelled legacy rectangle value
// written by older clients is accepted.
func ParseShapeType(raw string) (ShapeType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ShapeTypeRectangle), legacyShapeTypeRectangle:
		return ShapeTypeRectangle, nil
	case string(ShapeTypeOval):
		return ShapeTypeOval, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidShapeType, raw)
	}
}

// Outline maps the shape type onto the geometry used for docking.
func (t ShapeType) Outline() geometry.Outline {
	if t == ShapeTypeOval {
		return geometry.OutlineEllipse
	}
	return geometry.OutlineRectangle
}

// Color enumerates shape fill colors.
type Color string

const (
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorWhite  Color = "white"
)

// ParseColor validates raw input.
func ParseColor(raw string) (Color, error) {
	color := Color(strings.ToLower(strings.TrimSpace(raw)))
	switch color {
	case ColorBlue, ColorRed, ColorYellow, ColorGreen, ColorWhite:
		return color, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, raw)
	}
}

// ArrowStyle is the marker drawn at one end of a relation.
type ArrowStyle string

const (
	ArrowStyleNone   ArrowStyle = "none"
	ArrowStyleSimple ArrowStyle = "simple"
)

// Direction is the symbolic arrow configuration of a relation.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionBothWays Direction = "bothWays"
)

// ParseDirection validates raw input.
func ParseDirection(raw string) (Direction, error) {
	switch direction := Direction(strings.TrimSpace(raw)); direction {
	case DirectionNone, DirectionForward, DirectionBackward, DirectionBothWays:
		return direction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// ArrowStyles returns the (from, to) marker pair for the direction.
func (d Direction) ArrowStyles() (ArrowStyle, ArrowStyle) {
	switch d {
	case DirectionForward:
		return ArrowStyleNone, ArrowStyleSimple
	case DirectionBackward:
		return ArrowStyleSimple, ArrowStyleNone
	case DirectionBothWays:
		return ArrowStyleSimple, ArrowStyleSimple
	default:
		return ArrowStyleNone, ArrowStyleNone
	}
}

// LabelPosition selects which of the three relation labels is written.
type LabelPosition string

const (
	LabelStart  LabelPosition = "start"
	LabelMiddle LabelPosition = "middle"
	LabelEnd    LabelPosition = "end"
)

// ParseLabelPosition validates raw input.
func ParseLabelPosition(raw string) (LabelPosition, error) {
	switch position := LabelPosition(strings.TrimSpace(raw)); position {
	case LabelStart, LabelMiddle, LabelEnd:
		return position, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLabelPosition, raw)
	}
}

// End selects one endpoint of a relation.
type End string

const (
	EndStart End = "start"
	EndEnd   End = "end"
)

// ParseEnd validates raw input.
func ParseEnd(raw string) (End, error) {
	switch end := End(strings.TrimSpace(raw)); end {
	case EndStart, EndEnd:
		return end, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnd, raw)
	}
}

// Visibility controls who may open a diagram.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// ParseVisibility validates raw input.
func ParseVisibility(raw string) (Visibility, error) {
	switch visibility := Visibility(strings.ToLower(strings.TrimSpace(raw))); visibility {
	case VisibilityPrivate, VisibilityPublic:
		return visibility, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, raw)
	}
}

// Shape is a box on the canvas. X and Y are its center in canvas coordinates.
type Shape struct {
	ID       ShapeID   `json:"id"`
	Type     ShapeType `json:"type"`
	Color    Color     `json:"color"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Text     string    `json:"text"`
	FontSize float64   `json:"fontSize"`
}

// Center returns the shape position as a point.
func (s Shape) Center() geometry.Point {
	return geometry.Point{X: s.X, Y: s.Y}
}

// Size returns the shape dimensions.
func (s Shape) Size() geometry.Size {
	return geometry.Size{Width: s.Width, Height: s.Height}
}

// Endpoint is one side of a relation. X and Y cache the position of the
// connected shape as of the last connect or move.
type Endpoint struct {
	ID    ShapeID    `json:"id"`
	X     float64    `json:"x"`
	Y     float64    `json:"y"`
	Style ArrowStyle `json:"style"`
	Text  string     `json:"text"`
}

// Point returns the cached endpoint position.
func (e Endpoint) Point() geometry.Point {
	return geometry.Point{X: e.X, Y: e.Y}
}

// Relation is a styled connector between two shapes.
type Relation struct {
	ID   RelationID `json:"id"`
	From Endpoint   `json:"from"`
	To   Endpoint   `json:"to"`
	Text string     `json:"text"`
}

// Diagram is the whole document persisted per diagram id.
type Diagram struct {
	AuthorID   string     `json:"author_id"`
	ID         string     `json:"id"`
	Shapes     []Shape    `json:"shapes"`
	Relations  []Relation `json:"relations"`
	Visibility Visibility `json:"visibility"`
}

// NewDiagram returns an empty public diagram.
func NewDiagram(id, authorID string) Diagram {
	return Diagram{
		AuthorID:   authorID,
		ID:         id,
		Shapes:     []Shape{},
		Relations:  []Relation{},
		Visibility: VisibilityPublic,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (d Diagram) Clone() Diagram {
	clone := d
	clone.Shapes = append(make([]Shape, 0, len(d.Shapes)), d.Shapes...)
	clone.Relations = append(make([]Relation, 0, len(d.Relations)), d.Relations...)
	return clone
}

// Shape looks up a shape by id.
func (d *Diagram) Shape(id ShapeID) (*Shape, bool) {
	for index := range d.Shapes {
		if d.Shapes[index].ID == id {
			return &d.Shapes[index], true
		}
	}
	return nil, false
}

// Relation looks up a relation by id.
func (d *Diagram) Relation(id RelationID) (*Relation, bool) {
	for index := range d.Relations {
		if d.Relations[index].ID == id {
			return &d.Relations[index], true
		}
	}
	return nil, false
}

// NextShapeID returns max(existing ids, 0) + 1.
func (d *Diagram) NextShapeID() ShapeID {
	var maxID ShapeID
	for _, shape := range d.Shapes {
		maxID = max(maxID, shape.ID)
	}
	return maxID + 1
}

// NextRelationID returns max(existing ids, 0) + 1.
func (d *Diagram) NextRelationID() RelationID {
	var maxID RelationID
	for _, relation := range d.Relations {
		maxID = max(maxID, relation.ID)
	}
	return maxID + 1
}
