package strix

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/pkg/uuidx"
)

// handlers is an insertion-ordered callback registry. Every On* method in
// this package is backed by one of these: registering returns a disposer
// that removes exactly that registration, and callbacks always fire in
// registration order.
type handlers[T any] struct {
	mu  sync.Mutex
	reg *orderedmap.OrderedMap[string, func(T)]
}

func (h *handlers[T]) on(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reg == nil {
		h.reg = orderedmap.New[string, func(T)]()
	}
	id := uuidx.NewString()
	h.reg.Set(id, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.reg.Delete(id)
		})
	}
}

func (h *handlers[T]) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg == nil {
		return 0
	}
	return h.reg.Len()
}

// snapshot copies the current callbacks so emit can run them without
// holding the registry lock. A handler disposed mid-emit still sees that
// emission; it stops receiving from the next one.
func (h *handlers[T]) snapshot() []func(T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg == nil {
		return nil
	}
	out := make([]func(T), 0, h.reg.Len())
	for pair := h.reg.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (h *handlers[T]) emit(v T) {
	for _, fn := range h.snapshot() {
		fn(v)
	}
}
