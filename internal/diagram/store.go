package diagram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// DiagramIDPrefix is the typeid prefix of generated diagram ids.
const DiagramIDPrefix = "diagram"

var errMissingStore = errors.New("diagram: document store is required")

// Event is one committed version of a diagram document.
type Event struct {
	Diagram Diagram
	Version int64
	Origin  string
}

// DocumentStore persists whole diagram documents keyed by id. Every write
// replaces the full document; there are no field level updates.
type DocumentStore interface {
	Load(ctx context.Context, id string) (Event, error)
	Create(ctx context.Context, doc Diagram, origin string) (Event, error)
	Replace(ctx context.Context, doc Diagram, origin string) (Event, error)
	Subscribe(ctx context.Context, id string) (<-chan Event, func())
}

// NewDiagramID returns a fresh random diagram id.
func NewDiagramID() string {
	return typeid.MustGenerate(DiagramIDPrefix).String()
}

// ValidateGeneratedID reports whether id looks like an id produced by NewDiagramID.
func ValidateGeneratedID(id string) error {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid typeid %q: %w", id, err)
	}
	if parsed.Prefix() != DiagramIDPrefix {
		return fmt.Errorf("expected prefix %q but got %q in id %q", DiagramIDPrefix, parsed.Prefix(), id)
	}
	return nil
}

// Create writes an empty public diagram owned by authorID. An empty id is
// replaced with a generated one.
func Create(ctx context.Context, store DocumentStore, authorID, id string) (Diagram, error) {
	if store == nil {
		return Diagram{}, errMissingStore
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewDiagramID()
	}
	event, err := store.Create(ctx, NewDiagram(id, authorID), "")
	if err != nil {
		return Diagram{}, err
	}
	return event.Diagram, nil
}
