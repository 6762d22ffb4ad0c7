package diagram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/broadcast"
)

var errMemoryNotFound = errors.New("memory store: not found")

type memoryStore struct {
	mu         sync.Mutex
	docs       map[string]Event
	replaces   int
	replaceErr error
	entered    chan struct{}
	block      chan struct{}
	dispatcher *broadcast.Dispatcher[Event]
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:       make(map[string]Event),
		dispatcher: broadcast.NewDispatcher[Event](16),
	}
}

func (s *memoryStore) Load(_ context.Context, id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.docs[id]
	if !ok {
		return Event{}, errMemoryNotFound
	}
	event.Diagram = event.Diagram.Clone()
	return event, nil
}

func (s *memoryStore) Create(_ context.Context, doc Diagram, origin string) (Event, error) {
	s.mu.Lock()
	event := Event{Diagram: doc.Clone(), Version: 1, Origin: origin}
	s.docs[doc.ID] = event
	s.mu.Unlock()
	s.dispatcher.Publish(doc.ID, event)
	return event, nil
}

func (s *memoryStore) Replace(_ context.Context, doc Diagram, origin string) (Event, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	if s.replaceErr != nil {
		s.mu.Unlock()
		return Event{}, s.replaceErr
	}
	current, ok := s.docs[doc.ID]
	if !ok {
		s.mu.Unlock()
		return Event{}, errMemoryNotFound
	}
	event := Event{Diagram: doc.Clone(), Version: current.Version + 1, Origin: origin}
	s.docs[doc.ID] = event
	s.replaces++
	s.mu.Unlock()
	s.dispatcher.Publish(doc.ID, event)
	return event, nil
}

func (s *memoryStore) Subscribe(ctx context.Context, id string) (<-chan Event, func()) {
	return s.dispatcher.Subscribe(ctx, id)
}

func (s *memoryStore) replaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}

func (s *memoryStore) stored(t *testing.T, id string) Event {
	t.Helper()
	event, err := s.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return event
}

func mustCreate(t *testing.T, store *memoryStore, doc Diagram) {
	t.Helper()
	if _, err := store.Create(context.Background(), doc, ""); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
}

// mustLoadedEditor returns an editor over doc whose writer is running.
func mustLoadedEditor(t *testing.T, store *memoryStore, doc Diagram) *Editor {
	t.Helper()
	mustCreate(t, store, doc)
	editor, err := NewEditor(EditorConfig{Store: store, DiagramID: doc.ID})
	if err != nil {
		t.Fatalf("unexpected editor error: %v", err)
	}
	if err := editor.Load(context.Background()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		editor.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return editor
}

func mustFlush(t *testing.T, editor *Editor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := editor.Flush(ctx); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
}

func mustSnapshot(t *testing.T, editor *Editor) Diagram {
	t.Helper()
	doc, ok := editor.Snapshot()
	if !ok {
		t.Fatalf("expected loaded document")
	}
	return doc
}

func shapeIDs(doc Diagram) []ShapeID {
	ids := make([]ShapeID, 0, len(doc.Shapes))
	for _, shape := range doc.Shapes {
		ids = append(ids, shape.ID)
	}
	return ids
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
