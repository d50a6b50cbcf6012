package syncutil

import "sync"

// Broadcaster is a repeatable, edge-triggered wakeup signal: each call to
// Broadcast wakes every goroutine currently blocked on a channel obtained
// from Chan, without affecting goroutines that subscribe afterward. It
// models the fleet-wide restart condition variable without requiring
// callers to juggle a shared sync.Locker, which makes it composable with
// context-based cancellation via select.
type Broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBroadcaster returns a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// Chan returns the channel that closes on the next Broadcast call.
func (b *Broadcaster) Chan() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Broadcast wakes every current waiter and rotates in a fresh channel for
// subsequent subscribers.
func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}
