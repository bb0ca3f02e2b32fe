package notify

import (
	"fmt"
	"io"
	"sync"
)

const subscriberBuffer = 256

// Broadcaster distributes controller notifications to multiple subscribers.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives notifications and a cleanup function.
// The caller must call the returned cleanup when done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Notify sends an event to all subscribers without blocking.
// Slow subscribers may miss events once their buffer is full; the controller
// is driven from edge callbacks and must never wait on a reader.
func (b *Broadcaster) Notify(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- e:
		default:
			// channel full, skip
		}
	}
}

// Print writes one formatted line per event until ch is closed.
func Print(w io.Writer, ch <-chan Event) {
	for e := range ch {
		fmt.Fprintln(w, Format(e))
	}
}
