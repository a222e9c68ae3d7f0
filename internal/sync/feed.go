package sync

import (
	"sync"

	"larder/internal/store"
)

// Feed is the in-process change feed: stores publish committed mutations,
// mirrors and the WebSocket bridge subscribe. It plays the role the remote
// store's snapshot listeners played for the original client.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]func(store.Event)
	next int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(store.Event))}
}

// Publish delivers the event to every subscriber synchronously, in
// publication order relative to each subscriber.
func (f *Feed) Publish(ev store.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.subs {
		fn(ev)
	}
}

// Subscribe registers a callback and returns an unsubscribe function. After
// unsubscribe returns, no further events are delivered.
func (f *Feed) Subscribe(fn func(store.Event)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
