package diagram

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const finalFlushTimeout = 5 * time.Second

// PersistFunc writes one full document snapshot.
type PersistFunc func(ctx context.Context, doc Diagram) error

// Writer is a pending write queue for a single document. Enqueue never
// blocks; the queue holds at most one snapshot, so a burst of mutations
// collapses into a single persist of the latest state.
type Writer struct {
	persist PersistFunc
	logger  *zap.Logger

	mu      sync.Mutex
	pending *Diagram
	busy    bool
	cycle   *writeCycle
	wake    chan struct{}
}

// writeCycle spans from the first Enqueue on an idle writer until the queue
// drains again. err holds the outcome of its last persist.
type writeCycle struct {
	done chan struct{}
	err  error
}

// NewWriter builds a writer around persist.
func NewWriter(persist PersistFunc, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cycle := &writeCycle{done: make(chan struct{})}
	close(cycle.done)
	return &Writer{
		persist: persist,
		logger:  logger,
		cycle:   cycle,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue replaces the pending snapshot with doc.
func (w *Writer) Enqueue(doc Diagram) {
	w.mu.Lock()
	if w.pending == nil && !w.busy {
		w.cycle = &writeCycle{done: make(chan struct{})}
	}
	w.pending = &doc
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether a snapshot is queued or being written.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil || w.busy
}

// Run drains the queue until ctx is done. Whatever is still pending at that
// point is written once more with a short detached deadline.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			w.drain(flushCtx)
			cancel()
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// Flush waits until every enqueued snapshot has been written and returns the
// error of the last persist attempt, if it failed.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	cycle := w.cycle
	w.mu.Unlock()
	select {
	case <-cycle.done:
		return cycle.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queued reports whether a snapshot newer than the one being written waits.
func (w *Writer) queued() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

func (w *Writer) drain(ctx context.Context) {
	for {
		doc, ok := w.next()
		if !ok {
			return
		}
		err := w.persist(ctx, doc)
		if err != nil {
			w.logger.Error("diagram persist failed",
				zap.String("diagram_id", doc.ID),
				zap.Error(err))
		}
		w.finish(err)
	}
}

func (w *Writer) next() (Diagram, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return Diagram{}, false
	}
	doc := *w.pending
	w.pending = nil
	w.busy = true
	return doc, true
}

func (w *Writer) finish(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	w.cycle.err = err
	if w.pending == nil {
		close(w.cycle.done)
	}
}
