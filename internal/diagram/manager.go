package diagram

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const idleFlushTimeout = 5 * time.Second

// ErrManagerClosed is returned by Open after Close.
var ErrManagerClosed = errors.New("diagram: manager closed")

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Store  DocumentStore
	Logger *zap.Logger
}

// Manager keeps one running Editor per open diagram. All writers to a hosted
// diagram go through that single editor. Editors are reference counted and
// stop once their last user releases them and their writes are flushed.
type Manager struct {
	store  DocumentStore
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	editors map[string]*hostedEditor
	closed  bool
}

type hostedEditor struct {
	editor *Editor
	refs   int
	cancel context.CancelFunc
}

// NewManager builds a manager. Close must be called to stop its editors.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   cfg.Store,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		editors: make(map[string]*hostedEditor),
	}, nil
}

// Open returns the running editor for id, loading it on first use. The
// caller must invoke release once it no longer uses the editor.
func (m *Manager) Open(ctx context.Context, id string) (*Editor, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrManagerClosed
	}
	if hosted, ok := m.editors[id]; ok {
		hosted.refs++
		return hosted.editor, m.releaser(id, hosted), nil
	}

	editor, err := NewEditor(EditorConfig{
		Store:     m.store,
		DiagramID: id,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := editor.Load(ctx); err != nil {
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(m.ctx)
	hosted := &hostedEditor{editor: editor, refs: 1, cancel: cancel}
	m.editors[id] = hosted
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		editor.Run(runCtx)
	}()
	m.logger.Debug("diagram editor opened", zap.String("diagram_id", id))
	return editor, m.releaser(id, hosted), nil
}

// Len returns the number of hosted editors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.editors)
}

func (m *Manager) releaser(id string, hosted *hostedEditor) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(id, hosted) })
	}
}

func (m *Manager) release(id string, hosted *hostedEditor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hosted.refs--
	if hosted.refs > 0 || m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.retire(id, hosted)
	}()
}

// retire stops an editor nobody uses once its queued writes are flushed. An
// editor reopened in the meantime keeps running.
func (m *Manager) retire(id string, hosted *hostedEditor) {
	ctx, cancel := context.WithTimeout(m.ctx, idleFlushTimeout)
	defer cancel()
	if err := hosted.editor.Flush(ctx); err != nil {
		m.logger.Warn("diagram flush before idle stop failed",
			zap.String("diagram_id", id),
			zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if hosted.refs > 0 || m.editors[id] != hosted {
		return
	}
	delete(m.editors, id)
	hosted.cancel()
	m.logger.Debug("diagram editor closed", zap.String("diagram_id", id))
}

// Close stops every editor after its queued writes have been flushed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	editors := make([]*Editor, 0, len(m.editors))
	for _, hosted := range m.editors {
		editors = append(editors, hosted.editor)
	}
	m.mu.Unlock()

	var flushErr error
	for _, editor := range editors {
		if err := editor.Flush(ctx); err != nil {
			flushErr = errors.Join(flushErr, err)
		}
	}
	m.cancel()
	m.wg.Wait()
	return flushErr
}
