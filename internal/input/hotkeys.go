package input

import (
	"strings"
	"sync"
)

type binding struct {
	onPress   func()
	onRelease func()
}

// Hotkeys dispatches hold-then-release key bindings. Auto-repeat keydown
// events while a key is held do not fire the press callback again.
type Hotkeys struct {
	mu       sync.Mutex
	bindings map[string]binding
	held     map[string]bool
}

// NewHotkeys returns an empty registry.
func NewHotkeys() *Hotkeys {
	return &Hotkeys{
		bindings: make(map[string]binding),
		held:     make(map[string]bool),
	}
}

// Register binds key. Either callback may be nil.
func (h *Hotkeys) Register(key string, onPress, onRelease func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[normalizeKey(key)] = binding{onPress: onPress, onRelease: onRelease}
}

// Unregister drops the binding for key.
func (h *Hotkeys) Unregister(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key = normalizeKey(key)
	delete(h.bindings, key)
	delete(h.held, key)
}

// KeyDown reports whether key is bound.
func (h *Hotkeys) KeyDown(key string) bool {
	key = normalizeKey(key)
	h.mu.Lock()
	bound, ok := h.bindings[key]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if h.held[key] {
		h.mu.Unlock()
		return true
	}
	h.held[key] = true
	h.mu.Unlock()

	if bound.onPress != nil {
		bound.onPress()
	}
	return true
}

// KeyUp reports whether key is bound.
func (h *Hotkeys) KeyUp(key string) bool {
	key = normalizeKey(key)
	h.mu.Lock()
	bound, ok := h.bindings[key]
	if !ok {
		h.mu.Unlock()
		return false
	}
	wasHeld := h.held[key]
	delete(h.held, key)
	h.mu.Unlock()

	if wasHeld && bound.onRelease != nil {
		bound.onRelease()
	}
	return true
}

// Held reports whether key is down.
func (h *Hotkeys) Held(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held[normalizeKey(key)]
}

// ReleaseAll releases every held key, as on focus loss.
func (h *Hotkeys) ReleaseAll() {
	h.mu.Lock()
	released := make([]func(), 0, len(h.held))
	for key := range h.held {
		if bound := h.bindings[key]; bound.onRelease != nil {
			released = append(released, bound.onRelease)
		}
	}
	clear(h.held)
	h.mu.Unlock()

	for _, onRelease := range released {
		onRelease()
	}
}

func normalizeKey(key string) string {
	if key == " " {
		return "space"
	}
	return strings.ToLower(strings.TrimSpace(key))
}
