package telemetry

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// subscription represents an active event subscription.
type subscription struct {
	id       string
	types    map[EventType]struct{} // nil means all types
	callback func(Event)
	active   atomic.Bool
}

// Broadcaster is a Sink that fans events out to registered subscribers.
// It ensures callbacks are never invoked after unsubscription completes.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	nextID atomic.Uint64
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]*subscription),
	}
}

// Subscribe registers a callback for events of the given types; with no types
// the callback receives every event. Callbacks are invoked synchronously at
// the emission point. Returns an unsubscribe function that must be called to
// clean up; it is safe to call multiple times.
func (b *Broadcaster) Subscribe(callback func(Event), types ...EventType) func() {
	id := strconv.FormatUint(b.nextID.Add(1), 10)

	sub := &subscription{
		id:       id,
		callback: callback,
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.unsubscribe(id)
	}
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		sub.active.Store(false) // Mark inactive before removing
		delete(b.subs, id)
	}
}

// Emit implements Sink. Callbacks are invoked after releasing the read lock;
// the active flag is checked before invoking to prevent calls after
// unsubscribe.
func (b *Broadcaster) Emit(e Event) {
	b.mu.RLock()
	if len(b.subs) == 0 {
		b.mu.RUnlock()
		return
	}

	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		if sub.types != nil {
			if _, ok := sub.types[e.Type]; !ok {
				continue
			}
		}
		sub.callback(e)
	}
}

// Clear removes all subscriptions.
func (b *Broadcaster) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.active.Store(false)
	}
	b.subs = make(map[string]*subscription)
}
