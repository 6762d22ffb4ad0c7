package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/schedule"
	"go.uber.org/zap"
)

const (
	// DefaultFadeInterval is the time between two fade steps.
	DefaultFadeInterval = time.Second

	fadeSteps = 10
)

// TrailEntry is one stroke as stored under trails/{diagram}/{key}.
type TrailEntry struct {
	Key    string   `json:"key,omitempty"`
	Cursor string   `json:"cursor"`
	D      string   `json:"d"`
	Color  string   `json:"color"`
	Fade   *float64 `json:"fade,omitempty"`
}

// TrailConfig wires a Trail.
type TrailConfig struct {
	Store        Store
	SessionID    string
	DiagramID    string
	Color        string
	FadeInterval time.Duration
	Logger       *zap.Logger
}

// Trail publishes the ink strokes of one session on one diagram. A stroke
// is created on the first part, rewritten on every following part and
// fades out after Commit in ten visible steps before it is removed.
type Trail struct {
	store        Store
	sessionID    string
	diagramID    string
	color        string
	fadeInterval time.Duration
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	key    string
	fades  map[string]*schedule.Task
	closed bool
}

// NewTrail builds a trail with no active stroke.
func NewTrail(cfg TrailConfig) (*Trail, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	diagramID := strings.TrimSpace(cfg.DiagramID)
	if diagramID == "" {
		return nil, errMissingDiagramID
	}
	color := strings.TrimSpace(cfg.Color)
	if color == "" {
		color = DefaultColor
	}
	interval := cfg.FadeInterval
	if interval <= 0 {
		interval = DefaultFadeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trail{
		store:        cfg.Store,
		sessionID:    cfg.SessionID,
		diagramID:    diagramID,
		color:        color,
		fadeInterval: interval,
		logger: logger.With(
			zap.String("session_id", cfg.SessionID),
			zap.String("diagram_id", diagramID)),
		ctx:    ctx,
		cancel: cancel,
		fades:  make(map[string]*schedule.Task),
	}, nil
}

// DiagramID returns the diagram the strokes are drawn on.
func (t *Trail) DiagramID() string {
	return t.diagramID
}

// AddPart replaces the path data of the active stroke, starting a new
// stroke if there is none.
func (t *Trail) AddPart(ctx context.Context, d string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.key == "" {
		key, err := t.store.PushKey(ctx, t.root())
		if err != nil {
			t.logger.Warn("trail key allocation failed", zap.Error(err))
			return
		}
		seed := map[string]any{
			realtime.JoinPath(key, "cursor"): t.sessionID,
			realtime.JoinPath(key, "d"):      "",
			realtime.JoinPath(key, "color"):  t.color,
		}
		if err := t.store.Update(ctx, t.root(), seed); err != nil {
			t.logger.Warn("trail seed failed", zap.String("trail_key", key), zap.Error(err))
			return
		}
		t.key = key
	}
	if err := t.store.Update(ctx, realtime.JoinPath(t.root(), t.key), map[string]any{"d": d}); err != nil {
		t.logger.Warn("trail update failed", zap.String("trail_key", t.key), zap.Error(err))
	}
}

// Commit ends the active stroke and starts its fade.
func (t *Trail) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.key == "" {
		return
	}
	key := t.key
	t.key = ""

	remaining := fadeSteps
	t.fades[key] = schedule.Every(t.ctx, t.fadeInterval, func(ctx context.Context) bool {
		path := realtime.JoinPath(t.root(), key)
		if remaining <= 0 {
			if err := t.store.Remove(ctx, path); err != nil {
				t.logger.Warn("trail removal failed", zap.String("trail_key", key), zap.Error(err))
			}
			t.forgetFade(key)
			return false
		}
		fade := float64(remaining) / fadeSteps
		if err := t.store.Update(ctx, path, map[string]any{"fade": fade}); err != nil {
			t.logger.Warn("trail fade failed", zap.String("trail_key", key), zap.Error(err))
		}
		remaining--
		return true
	})
}

// Active reports the key of the stroke in progress.
func (t *Trail) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// Fading reports how many committed strokes are still fading.
func (t *Trail) Fading() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fades)
}

// Others streams every stroke on the diagram that belongs to another
// session, ordered by session id.
func (t *Trail) Others(ctx context.Context) (<-chan []TrailEntry, func(), error) {
	lists, cleanup, err := t.store.SubscribeList(ctx, t.root(), "cursor")
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []TrailEntry, 1)
	go func() {
		defer close(out)
		for children := range lists {
			entries := make([]TrailEntry, 0, len(children))
			for _, child := range children {
				entry := decodeTrail(child)
				if entry.Cursor == t.sessionID {
					continue
				}
				entries = append(entries, entry)
			}
			select {
			case out <- entries:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cleanup, nil
}

// Close stops every pending fade and removes the strokes it owned,
// including a stroke still in progress.
func (t *Trail) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	keys := make([]string, 0, len(t.fades)+1)
	tasks := make([]*schedule.Task, 0, len(t.fades))
	for key, task := range t.fades {
		keys = append(keys, key)
		tasks = append(tasks, task)
	}
	if t.key != "" {
		keys = append(keys, t.key)
		t.key = ""
	}
	t.fades = make(map[string]*schedule.Task)
	t.mu.Unlock()

	t.cancel()
	for _, task := range tasks {
		task.Cancel()
	}
	for _, key := range keys {
		if err := t.store.Remove(ctx, realtime.JoinPath(t.root(), key)); err != nil {
			t.logger.Warn("trail cleanup failed", zap.String("trail_key", key), zap.Error(err))
		}
	}
}

func (t *Trail) root() string {
	return realtime.JoinPath(trailsRoot, t.diagramID)
}

func (t *Trail) forgetFade(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fades, key)
}

func decodeTrail(child realtime.Child) TrailEntry {
	entry := TrailEntry{Key: child.Key}
	object, ok := child.Value.(map[string]any)
	if !ok {
		return entry
	}
	entry.Cursor, _ = object["cursor"].(string)
	entry.D, _ = object["d"].(string)
	entry.Color, _ = object["color"].(string)
	if fade, ok := object["fade"].(float64); ok {
		entry.Fade = &fade
	}
	return entry
}
