package diagram

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerReusesEditorsAndFlushesOnClose(t *testing.T) {
	store := newMemoryStore()
	mustCreate(t, store, NewDiagram("d-managed", "author"))

	manager, err := NewManager(ManagerConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	first, releaseFirst, err := manager.Open(context.Background(), "d-managed")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer releaseFirst()
	second, releaseSecond, err := manager.Open(context.Background(), "d-managed")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer releaseSecond()
	if first != second {
		t.Fatalf("expected the same editor for one diagram")
	}

	first.AddShape(ShapeTypeOval, 1, 2, ColorGreen)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := manager.Close(ctx); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if got := len(store.stored(t, "d-managed").Diagram.Shapes); got != 1 {
		t.Fatalf("expected queued shape to be persisted, got %d shapes", got)
	}
	if _, _, err := manager.Open(context.Background(), "d-managed"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestManagerOpenFailsForMissingDiagram(t *testing.T) {
	manager, err := NewManager(ManagerConfig{Store: newMemoryStore()})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	defer manager.Close(context.Background())

	if _, _, err := manager.Open(context.Background(), "nope"); !errors.Is(err, errMemoryNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if manager.Len() != 0 {
		t.Fatalf("expected no hosted editors, got %d", manager.Len())
	}
}

func TestManagerStopsEditorAfterLastRelease(t *testing.T) {
	store := newMemoryStore()
	mustCreate(t, store, NewDiagram("d-idle", "author"))

	manager, err := NewManager(ManagerConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	defer manager.Close(context.Background())

	editor, releaseFirst, err := manager.Open(context.Background(), "d-idle")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	_, releaseSecond, err := manager.Open(context.Background(), "d-idle")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	editor.AddShape(ShapeTypeRectangle, 3, 4, ColorWhite)

	releaseFirst()
	releaseFirst()
	if manager.Len() != 1 {
		t.Fatalf("expected editor to stay while still in use, got %d", manager.Len())
	}

	releaseSecond()
	waitFor(t, func() bool { return manager.Len() == 0 })
	if got := len(store.stored(t, "d-idle").Diagram.Shapes); got != 1 {
		t.Fatalf("expected queued shape to be flushed before stopping, got %d shapes", got)
	}
	waitFor(t, func() bool { return store.dispatcher.SubscriberCount("d-idle") == 0 })

	reopened, release, err := manager.Open(context.Background(), "d-idle")
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	defer release()
	if reopened == editor {
		t.Fatalf("expected a fresh editor after the idle one stopped")
	}
	if doc := mustSnapshot(t, reopened); len(doc.Shapes) != 1 {
		t.Fatalf("expected reopened editor to load persisted shape, got %v", shapeIDs(doc))
	}
}
