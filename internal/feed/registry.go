package feed

import (
	"sync"

	"github.com/chatnest/chat-app/internal/metrics"
)

// Registry maps connection IDs to their feeds.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]*Feed)}
}

// Add registers f under id, closing any feed it replaces.
func (r *Registry) Add(id string, f *Feed) {
	r.mu.Lock()
	old := r.feeds[id]
	r.feeds[id] = f
	r.mu.Unlock()

	if old == nil {
		metrics.ActiveFeeds.Inc()
	}
	if old != nil && old != f {
		old.Close()
	}
}

// Get returns the feed for id, or nil.
func (r *Registry) Get(id string) *Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeds[id]
}

// Remove unregisters and closes the feed for id. It reports whether a feed
// was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	f, ok := r.feeds[id]
	delete(r.feeds, id)
	r.mu.Unlock()

	if ok {
		metrics.ActiveFeeds.Dec()
		f.Close()
	}
	return ok
}

// Len returns the number of registered feeds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

// CloseAll closes every feed and waits for their relay calls to finish.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	feeds := r.feeds
	r.feeds = make(map[string]*Feed)
	r.mu.Unlock()
	metrics.ActiveFeeds.Sub(float64(len(feeds)))

	for _, f := range feeds {
		f.Close()
	}
	for _, f := range feeds {
		f.Wait()
	}
}
