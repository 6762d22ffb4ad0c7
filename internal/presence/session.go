// Package presence publishes per session cursors and ink trails for a
// diagram and exposes the state of the other sessions viewing it.
package presence

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultColor is used for cursors and trails when none is configured.
	DefaultColor = "blue"

	cursorsRoot = "diagrams"
	trailsRoot  = "trails"
)

var (
	// ErrNotAttached indicates that the session has no active diagram.
	ErrNotAttached = errors.New("presence: session is not attached")

	errMissingStore     = errors.New("presence: realtime store is required")
	errMissingDiagramID = errors.New("presence: diagram id is required")
)

// Store is the subset of the realtime store used for presence.
type Store interface {
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	Transact(ctx context.Context, path string, fn realtime.TransactionFunc) (any, error)
	PushKey(ctx context.Context, path string) (string, error)
	SubscribeList(ctx context.Context, path, orderBy string) (<-chan []realtime.Child, func(), error)
}

// Cursor is the pointer of one session in canvas coordinates.
type Cursor struct {
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Peer is the cursor of another session.
type Peer struct {
	SessionID string `json:"session_id"`
	Cursor    Cursor `json:"cursor"`
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Store Store
	// SessionID identifies this session; a random id is generated when empty.
	SessionID string
	Color     string
	Logger    *zap.Logger
}

// Session owns the cursor entry of one session. Only the owning session
// writes its entry, so position and color updates are plain overwrites;
// adding and removing the entry goes through transactions on the shared map.
type Session struct {
	store  Store
	id     string
	logger *zap.Logger

	lifecycle sync.Mutex

	mu        sync.Mutex
	diagramID string
	cursor    Cursor
	init      bool
}

// NewSession builds a detached session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	id := strings.TrimSpace(cfg.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	color := strings.TrimSpace(cfg.Color)
	if color == "" {
		color = DefaultColor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:  cfg.Store,
		id:     id,
		logger: logger.With(zap.String("session_id", id)),
		cursor: Cursor{Color: color},
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// DiagramID returns the attached diagram, or "" when detached.
func (s *Session) DiagramID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagramID
}

// Cursor returns the last cursor written by this session.
func (s *Session) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Attach moves the session to diagramID. The entry is removed from the
// previous diagram before it is added to the new one, so the session never
// shows up in two diagrams at once. The session only counts as attached once
// its entry has been added; when the store rejects the add, Attach returns
// the error and leaves the session detached.
func (s *Session) Attach(ctx context.Context, diagramID string) error {
	diagramID = strings.TrimSpace(diagramID)
	if diagramID == "" {
		return errMissingDiagramID
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	previous := s.DiagramID()
	if previous != "" && previous != diagramID {
		s.removeCursor(ctx, previous)
	}
	if err := s.addCursor(ctx, diagramID); err != nil {
		s.setDiagram("")
		return err
	}
	s.setDiagram(diagramID)
	return nil
}

// Detach removes the cursor entry from the attached diagram.
func (s *Session) Detach(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	previous := s.DiagramID()
	if previous == "" {
		return
	}
	s.removeCursor(ctx, previous)
	s.setDiagram("")
}

func (s *Session) setDiagram(diagramID string) {
	s.mu.Lock()
	s.diagramID = diagramID
	s.mu.Unlock()
}

// UpdatePosition overwrites the cursor position.
func (s *Session) UpdatePosition(ctx context.Context, x, y float64) {
	s.mu.Lock()
	s.cursor.X = x
	s.cursor.Y = y
	s.mu.Unlock()
	s.writeCursor(ctx)
}

// ChangeColor overwrites the cursor color.
func (s *Session) ChangeColor(ctx context.Context, color string) {
	color = strings.TrimSpace(color)
	if color == "" {
		return
	}
	s.mu.Lock()
	s.cursor.Color = color
	s.mu.Unlock()
	s.writeCursor(ctx)
}

// Others streams the cursors of every other session on the attached diagram.
func (s *Session) Others(ctx context.Context) (<-chan []Peer, func(), error) {
	diagramID := s.DiagramID()
	if diagramID == "" {
		return nil, nil, ErrNotAttached
	}
	lists, cleanup, err := s.store.SubscribeList(ctx, realtime.JoinPath(cursorsRoot, diagramID), "")
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []Peer, 1)
	go func() {
		defer close(out)
		for children := range lists {
			peers := make([]Peer, 0, len(children))
			for _, child := range children {
				if child.Key == s.id {
					continue
				}
				peers = append(peers, Peer{SessionID: child.Key, Cursor: decodeCursor(child.Value)})
			}
			select {
			case out <- peers:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cleanup, nil
}

func (s *Session) writeCursor(ctx context.Context) {
	s.mu.Lock()
	diagramID := s.diagramID
	cursor := s.cursor
	added := s.init
	s.mu.Unlock()
	if diagramID == "" || !added {
		return
	}
	if err := s.store.Set(ctx, realtime.JoinPath(cursorsRoot, diagramID, s.id), cursor); err != nil {
		s.logger.Warn("cursor update failed",
			zap.String("diagram_id", diagramID),
			zap.Error(err))
	}
}

func (s *Session) addCursor(ctx context.Context, diagramID string) error {
	s.mu.Lock()
	if s.init {
		s.mu.Unlock()
		return nil
	}
	cursor := s.cursor
	s.mu.Unlock()

	_, err := s.store.Transact(ctx, realtime.JoinPath(cursorsRoot, diagramID), func(current any) (any, error) {
		cursors, ok := current.(map[string]any)
		if !ok {
			cursors = make(map[string]any)
		}
		cursors[s.id] = cursor
		return cursors, nil
	})
	if err != nil {
		s.logger.Warn("add cursor failed",
			zap.String("diagram_id", diagramID),
			zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.init = true
	s.mu.Unlock()
	return nil
}

func (s *Session) removeCursor(ctx context.Context, diagramID string) {
	_, err := s.store.Transact(ctx, realtime.JoinPath(cursorsRoot, diagramID), func(current any) (any, error) {
		cursors, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}
		delete(cursors, s.id)
		return cursors, nil
	})
	if err != nil {
		s.logger.Warn("remove cursor failed",
			zap.String("diagram_id", diagramID),
			zap.Error(err))
	}
	s.mu.Lock()
	s.init = false
	s.mu.Unlock()
}

func decodeCursor(value any) Cursor {
	var cursor Cursor
	object, ok := value.(map[string]any)
	if !ok {
		return cursor
	}
	cursor.Color, _ = object["color"].(string)
	cursor.X, _ = object["x"].(float64)
	cursor.Y, _ = object["y"].(float64)
	return cursor
}
