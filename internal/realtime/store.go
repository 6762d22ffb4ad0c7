// Package realtime is a keyed JSON tree with optimistic transactions and live
// subscriptions. It backs presence state that is shared by every session
// viewing a diagram.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/broadcast"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxTransactionAttempts bounds the retries of one Transact call.
	MaxTransactionAttempts = 25

	subscriptionSeparator = "#"
	listBufferSize        = 8
)

var (
	// ErrTransactionAborted indicates that the value kept changing under a
	// transaction until its retry budget ran out.
	ErrTransactionAborted = errors.New("realtime: transaction aborted")
	// ErrInvalidPath indicates a malformed path.
	ErrInvalidPath = errors.New("realtime: invalid path")
	// ErrInvalidValue indicates a value that cannot be stored as JSON.
	ErrInvalidValue = errors.New("realtime: invalid value")
)

// TransactionFunc maps the current value at a path to its next value.
// Returning nil removes the value; returning an error aborts.
type TransactionFunc func(current any) (any, error)

// Config wires a Store.
type Config struct {
	Logger *zap.Logger
}

// Store holds the tree. Writers are serialized; every write wakes the
// subscriptions whose path is an ancestor or descendant of the written path.
type Store struct {
	logger *zap.Logger

	mu   sync.RWMutex
	root map[string]any

	signals *broadcast.Dispatcher[struct{}]
	nextSub atomic.Int64
}

// NewStore returns an empty store.
func NewStore(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:  logger,
		root:    make(map[string]any),
		signals: broadcast.NewDispatcher[struct{}](1),
	}
}

// Get returns a copy of the value at path, or nil when absent.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(lookup(s.root, segments)), nil
}

// Set overwrites the value at path. A nil or empty value removes it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(segments, normalized)
	return nil
}

// Update writes every field below path in one step. Field keys may contain
// slashes to address nested values.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base, err := SplitPath(path)
	if err != nil {
		return err
	}
	type pendingWrite struct {
		segments []string
		value    any
	}
	writes := make([]pendingWrite, 0, len(fields))
	for key, value := range fields {
		relative, err := SplitPath(key)
		if err != nil {
			return err
		}
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		writes = append(writes, pendingWrite{segments: append(cloneSegments(base), relative...), value: normalized})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, write := range writes {
		s.write(write.segments, write.value)
	}
	return nil
}

// Remove deletes the value at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Transact runs fn against the current value and commits its result only if
// the value did not change in the meantime. Conflicts are retried up to
// MaxTransactionAttempts times.
func (s *Store) Transact(ctx context.Context, path string, fn TransactionFunc) (any, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < MaxTransactionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		observed := deepCopy(lookup(s.root, segments))
		s.mu.RUnlock()

		next, err := fn(deepCopy(observed))
		if err != nil {
			return nil, err
		}
		normalized, err := normalize(next)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if !reflect.DeepEqual(observed, lookup(s.root, segments)) {
			s.mu.Unlock()
			s.logger.Debug("realtime transaction retry",
				zap.String("path", path),
				zap.Int("attempt", attempt+1))
			continue
		}
		s.write(segments, normalized)
		s.mu.Unlock()
		return deepCopy(normalized), nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrTransactionAborted, path, MaxTransactionAttempts)
}

// PushKey allocates a unique child key under path. Keys sort in allocation order.
func (s *Store) PushKey(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := SplitPath(path); err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

// SubscribeObject streams the value at path: the current value first, then
// every distinct value after a related write. Intermediate values may be
// skipped by slow readers but the latest value is always delivered.
func (s *Store) SubscribeObject(ctx context.Context, path string) (<-chan any, func(), error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, nil, err
	}
	key := JoinPath(segments...) + subscriptionSeparator + strconv.FormatInt(s.nextSub.Add(1), 10)
	signals, release := s.signals.Subscribe(ctx, key)

	out := make(chan any, listBufferSize)
	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			release()
		})
	}

	go func() {
		defer close(out)
		var last any
		delivered := false
		for {
			s.mu.RLock()
			current := deepCopy(lookup(s.root, segments))
			s.mu.RUnlock()
			if !delivered || !reflect.DeepEqual(last, current) {
				select {
				case out <- current:
					last = current
					delivered = true
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case _, ok := <-signals:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return out, cleanup, nil
}

// SubscribeList is SubscribeObject viewed as the ordered children of path.
func (s *Store) SubscribeList(ctx context.Context, path, orderBy string) (<-chan []Child, func(), error) {
	values, cleanup, err := s.SubscribeObject(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []Child, listBufferSize)
	done := make(chan struct{})
	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			cleanup()
		})
	}
	go func() {
		defer close(out)
		for value := range values {
			select {
			case out <- Children(value, orderBy):
			case <-done:
				return
			case <-ctx.Done():
				release()
				return
			}
		}
	}()
	return out, release, nil
}

// write must be called with mu held.
func (s *Store) write(segments []string, value any) {
	assign(s.root, segments, deepCopy(value))
	for _, key := range s.signals.Keys() {
		subscribed, _, _ := strings.Cut(key, subscriptionSeparator)
		if related(segments, strings.Split(subscribed, "/")) {
			s.signals.Publish(key, struct{}{})
		}
	}
}

func cloneSegments(segments []string) []string {
	return append(make([]string, 0, len(segments)), segments...)
}
