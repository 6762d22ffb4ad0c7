package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/realtime"
)

func mustSession(t *testing.T, store Store, id string) *Session {
	t.Helper()
	session, err := NewSession(SessionConfig{Store: store, SessionID: id})
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	return session
}

func cursorsOn(t *testing.T, store *realtime.Store, diagramID string) map[string]any {
	t.Helper()
	value, err := store.Get(context.Background(), realtime.JoinPath(cursorsRoot, diagramID))
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	cursors, _ := value.(map[string]any)
	return cursors
}

func receivePeers(t *testing.T, peers <-chan []Peer) []Peer {
	t.Helper()
	select {
	case list := <-peers:
		return list
	case <-time.After(time.Second):
		t.Fatal("expected peers within deadline")
		return nil
	}
}

func TestAttachAddsCursorAndOthersExcludesSelf(t *testing.T) {
	store := realtime.NewStore(realtime.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := mustSession(t, store, "self")
	other := mustSession(t, store, "other")
	if err := other.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if err := self.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if _, ok := cursorsOn(t, store, "d-1")["self"]; !ok {
		t.Fatalf("expected own cursor to be stored")
	}

	peers, cleanup, err := self.Others(ctx)
	if err != nil {
		t.Fatalf("unexpected others error: %v", err)
	}
	defer cleanup()

	list := receivePeers(t, peers)
	if len(list) != 1 || list[0].SessionID != "other" {
		t.Fatalf("expected only the other session, got %+v", list)
	}
	if list[0].Cursor.Color != DefaultColor {
		t.Fatalf("expected default color, got %q", list[0].Cursor.Color)
	}

	other.UpdatePosition(ctx, 12, 34)
	list = receivePeers(t, peers)
	if len(list) != 1 || list[0].Cursor.X != 12 || list[0].Cursor.Y != 34 {
		t.Fatalf("expected moved cursor, got %+v", list)
	}
	for _, peer := range list {
		if peer.SessionID == self.ID() {
			t.Fatalf("own session leaked into others")
		}
	}
}

func TestAttachRemovesFromPreviousDiagramFirst(t *testing.T) {
	store := realtime.NewStore(realtime.Config{})
	ctx := context.Background()
	session := mustSession(t, store, "s-1")

	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if err := session.Attach(ctx, "d-2"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if len(cursorsOn(t, store, "d-1")) != 0 {
		t.Fatalf("expected cursor to leave the previous diagram")
	}
	if _, ok := cursorsOn(t, store, "d-2")["s-1"]; !ok {
		t.Fatalf("expected cursor on the new diagram")
	}
	if session.DiagramID() != "d-2" {
		t.Fatalf("expected d-2, got %s", session.DiagramID())
	}
}

func TestInitGuardSkipsSecondAddUntilRemoved(t *testing.T) {
	store := realtime.NewStore(realtime.Config{})
	ctx := context.Background()
	session := mustSession(t, store, "s-1")

	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if err := store.Remove(ctx, "diagrams/d-1/s-1"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if len(cursorsOn(t, store, "d-1")) != 0 {
		t.Fatalf("expected guarded add to be skipped")
	}

	session.Detach(ctx)
	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if _, ok := cursorsOn(t, store, "d-1")["s-1"]; !ok {
		t.Fatalf("expected add after detach")
	}
}

func TestDetachToleratesNonObjectPresenceValue(t *testing.T) {
	store := realtime.NewStore(realtime.Config{})
	ctx := context.Background()
	session := mustSession(t, store, "s-1")
	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if err := store.Set(ctx, "diagrams/d-1", []string{"corrupted"}); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	session.Detach(ctx)
	if session.DiagramID() != "" {
		t.Fatalf("expected detached session")
	}
	value, _ := store.Get(ctx, "diagrams/d-1")
	if value != nil {
		t.Fatalf("expected presence value to be cleared, got %#v", value)
	}
}

func TestUpdatesAreIgnoredWhileDetached(t *testing.T) {
	store := realtime.NewStore(realtime.Config{})
	ctx := context.Background()
	session := mustSession(t, store, "s-1")

	session.UpdatePosition(ctx, 1, 2)
	session.ChangeColor(ctx, "red")
	value, _ := store.Get(ctx, "diagrams")
	if value != nil {
		t.Fatalf("expected no writes while detached, got %#v", value)
	}
	if session.Cursor().Color != "red" {
		t.Fatalf("expected local color to change")
	}
	if _, _, err := session.Others(ctx); err != ErrNotAttached {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}

	if err := session.Attach(ctx, "d-1"); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	cursor, _ := cursorsOn(t, store, "d-1")["s-1"].(map[string]any)
	if cursor["color"] != "red" || cursor["x"] != 1.0 {
		t.Fatalf("expected attach to publish the local cursor, got %#v", cursor)
	}
}

type rejectingTransactStore struct {
	*realtime.Store
}

func (rejectingTransactStore) Transact(context.Context, string, realtime.TransactionFunc) (any, error) {
	return nil, realtime.ErrTransactionAborted
}

func TestFailedAttachLeavesSessionDetached(t *testing.T) {
	backing := realtime.NewStore(realtime.Config{})
	ctx := context.Background()
	session := mustSession(t, rejectingTransactStore{Store: backing}, "s-1")

	if err := session.Attach(ctx, "d-1"); !errors.Is(err, realtime.ErrTransactionAborted) {
		t.Fatalf("expected attach to report the store error, got %v", err)
	}
	if session.DiagramID() != "" {
		t.Fatalf("expected detached session, got %s", session.DiagramID())
	}

	session.UpdatePosition(ctx, 5, 6)
	session.ChangeColor(ctx, "red")
	if cursors := cursorsOn(t, backing, "d-1"); len(cursors) != 0 {
		t.Fatalf("expected no cursor entry after a failed attach, got %#v", cursors)
	}
	if _, _, err := session.Others(ctx); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}
}
