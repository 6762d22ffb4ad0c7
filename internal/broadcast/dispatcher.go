// Package broadcast fans values out to subscribers grouped by key.
package broadcast

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Dispatcher delivers published values to every subscriber of a key.
// Slow subscribers lose values once their buffer is full; Publish never blocks.
type Dispatcher[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber[T]
	nextID      int64
	bufferSize  int
}

type subscriber[T any] struct {
	id     int64
	stream chan T
	once   sync.Once
}

// NewDispatcher builds a dispatcher whose subscriber channels hold bufferSize
// values. Non-positive sizes use the default.
func NewDispatcher[T any](bufferSize int) *Dispatcher[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher[T]{
		subscribers: make(map[string]map[int64]*subscriber[T]),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers for values published under key. The returned cleanup
// is idempotent and closes the channel; it also runs when ctx is done.
func (d *Dispatcher[T]) Subscribe(ctx context.Context, key string) (<-chan T, func()) {
	if key == "" {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber[T]{stream: make(chan T, d.bufferSize)}
	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber[T])
	}
	d.subscribers[key][sub.id] = sub
	d.mu.Unlock()

	cleanup := func() {
		d.unregister(key, sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish offers value to every subscriber of key.
func (d *Dispatcher[T]) Publish(key string, value T) {
	if key == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[key] {
		select {
		case sub.stream <- value:
		default:
		}
	}
}

// Keys returns every key that currently has at least one subscriber.
func (d *Dispatcher[T]) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.subscribers))
	for key := range d.subscribers {
		keys = append(keys, key)
	}
	return keys
}

// SubscriberCount reports how many subscribers listen on key.
func (d *Dispatcher[T]) SubscriberCount(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[key])
}

func (d *Dispatcher[T]) unregister(key string, sub *subscriber[T]) {
	sub.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subscribers := d.subscribers[key]
		if subscribers != nil {
			delete(subscribers, sub.id)
			if len(subscribers) == 0 {
				delete(d.subscribers, key)
			}
		}
		close(sub.stream)
	})
}
