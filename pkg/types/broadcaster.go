package types

import "sync"

// Broadcaster fans status events out to any number of subscribers and
// retains the most recent event for late attachers.
//
// Delivery is fire-and-forget: a subscriber whose channel buffer is full
// misses the event rather than blocking the run.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan *StatusEvent
	nextID int
	latest *StatusEvent
}

// NewBroadcaster creates a broadcaster whose initial status is idle.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]chan *StatusEvent),
		latest: NewIdleEvent(),
	}
}

// Subscribe registers a new observer. The returned cancel function removes
// the subscription; the channel is closed by the cancel function only.
func (b *Broadcaster) Subscribe() (<-chan *StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan *StatusEvent, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish records the event as the latest status and delivers it to every
// subscriber whose buffer has room. Slow or detached observers are skipped.
func (b *Broadcaster) Publish(event *StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = event
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Observer is not keeping up; drop rather than stall the run.
		}
	}
}

// Latest returns the most recently published status event. Valid whether or
// not a run is active.
func (b *Broadcaster) Latest() *StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}
