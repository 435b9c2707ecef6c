package store

import "sync"

// Hub delivers live-query notifications. Watchers subscribe to a collection
// and get a signal after every committed write that touched it; they re-run
// their query on each signal. Signals are coalesced, never dropped entirely:
// a buffered channel of size one means a slow watcher sees at least one
// notification for any burst of writes.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int64]chan struct{}
	next int64
}

// NewHub creates a notification hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]chan struct{})}
}

// Subscribe registers a watcher for a collection. The returned cancel func
// must be called when the watcher goes away.
func (h *Hub) Subscribe(collection string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[collection] == nil {
		h.subs[collection] = make(map[int64]chan struct{})
	}

	id := h.next
	h.next++
	ch := make(chan struct{}, 1)
	h.subs[collection][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[collection], id)
	}
	return ch, cancel
}

// Notify signals every watcher of a collection that its result may have changed
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
			// watcher already has a pending signal
		}
	}
}
