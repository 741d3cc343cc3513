package transport

import (
	"sync"
)

// Broadcaster fans notifications out to subscribed listeners. Deliveries
// are serialized so every listener sees events in publish order.
type Broadcaster struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]Listener)}
}

// Subscribe implements Notifications.
func (b *Broadcaster) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) snapshot() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Listener, 0, len(b.listeners))
	for i := 0; i < b.nextID; i++ {
		if l, ok := b.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return out
}

// PublishProgress delivers p to every listener.
func (b *Broadcaster) PublishProgress(p Progress) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	for _, l := range b.snapshot() {
		l.OnProgress(p)
	}
}

// PublishCompletion delivers c to every listener.
func (b *Broadcaster) PublishCompletion(c Completion) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	for _, l := range b.snapshot() {
		l.OnCompletion(c)
	}
}

// Listeners returns the number of active subscriptions.
func (b *Broadcaster) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
