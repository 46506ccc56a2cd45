// Package statebus publishes engine state snapshots to subscribers.
package statebus

import "sync"

// State is the published snapshot consumed by UIs and logs. LiveLatency is
// in seconds; a negative value means unknown.
type State struct {
	Title            string
	Author           string
	IsPlaying        bool
	LiveLatency      float64
	ConnectionStatus string
}

// Bus is a single-writer, multi-reader snapshot holder. Subscribers receive
// latest-wins notifications on buffered channels; a slow subscriber never
// blocks the publisher.
type Bus struct {
	mu      sync.RWMutex
	current State
	subs    map[chan State]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[chan State]struct{})}
}

// Publish replaces the current snapshot and notifies all subscribers.
func (b *Bus) Publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = s
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale pending value with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Snapshot returns the most recently published state.
func (b *Bus) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe registers a new subscriber. The returned channel carries the
// latest snapshot; intermediate values may be skipped.
func (b *Bus) Subscribe() chan State {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. The channel is left open so a racing
// Publish cannot send on a closed channel.
func (b *Bus) Unsubscribe(ch chan State) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}
