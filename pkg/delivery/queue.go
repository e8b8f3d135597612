// Package delivery implements a per-target mailbox that makes agent
// requests reliable across document reloads.
//
// A full navigation destroys the page's script context and with it the
// in-page agent. Requests issued while the agent is down are buffered and
// flushed, in submission order, once the replacement agent announces
// itself. Callers never need to know whether the agent is alive right now.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoReceiver indicates a delivery attempt found no live agent in the
	// target. Transports return (or wrap) this to trigger transparent
	// buffering instead of failure.
	ErrNoReceiver = errors.New("no receiving agent in target")

	// ErrDeliveryTimeout indicates a buffered request expired before an
	// agent became ready to receive it.
	ErrDeliveryTimeout = errors.New("delivery timed out waiting for agent")

	// ErrTargetClosed indicates the target was closed with requests still
	// buffered.
	ErrTargetClosed = errors.New("target closed")
)

// Request is a single agent request.
type Request struct {
	// Action names the agent operation (e.g. "metrics", "convert").
	Action string

	// Args carries operation parameters, serialized for the in-page agent.
	Args map[string]interface{}
}

// Transport delivers one request to the current agent instance in a target.
// A transport reporting ErrNoReceiver signals that the agent is (or just
// became) dead; any other error is surfaced to the sender unchanged.
type Transport func(ctx context.Context, targetID string, req Request) (interface{}, error)

// Queue buffers and delivers agent requests per target.
type Queue struct {
	mu        sync.Mutex
	transport Transport
	timeout   time.Duration
	boxes     map[string]*mailbox
}

// mailbox tracks one target's agent readiness and its buffered requests.
type mailbox struct {
	ready    bool
	flushing bool
	gen      uint64 // bumped on every agent announcement
	pending  []*entry
}

type entry struct {
	req     Request
	done    chan outcome
	timer   *time.Timer
	settled bool // guarded by Queue.mu
}

type outcome struct {
	value interface{}
	err   error
}

// NewQueue creates a queue delivering through the given transport. Buffered
// requests expire after timeout.
func NewQueue(transport Transport, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Queue{
		transport: transport,
		timeout:   timeout,
		boxes:     make(map[string]*mailbox),
	}
}

// box returns the mailbox for a target, creating it on first contact.
// Caller must hold q.mu.
func (q *Queue) box(targetID string) *mailbox {
	b, ok := q.boxes[targetID]
	if !ok {
		b = &mailbox{}
		q.boxes[targetID] = b
	}
	return b
}

// MarkPending flags the target's agent as not-yet-ready. Subsequent sends
// buffer instead of attempting delivery.
func (q *Queue) MarkPending(targetID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.box(targetID).ready = false
}

// MarkReady flags the target's agent as ready and flushes everything
// buffered for it, in original submission order, one request at a time,
// each against the current agent instance. If a flush delivery reports
// ErrNoReceiver the agent died again: the request goes back to the front
// of the buffer and flushing stops until the next announcement.
func (q *Queue) MarkReady(targetID string) {
	q.mu.Lock()
	b := q.box(targetID)
	b.ready = true
	b.gen++
	if b.flushing {
		// A concurrent flush will pick up the remaining entries.
		q.mu.Unlock()
		return
	}
	b.flushing = true
	q.mu.Unlock()

	q.flush(targetID, b)
}

// flush drains the mailbox one entry at a time. Sends issued while a flush
// is in progress buffer behind it, preserving per-target order.
func (q *Queue) flush(targetID string, b *mailbox) {
	for {
		q.mu.Lock()
		if !b.ready || len(b.pending) == 0 {
			b.flushing = false
			q.mu.Unlock()
			return
		}
		e := b.pending[0]
		b.pending = b.pending[1:]
		q.mu.Unlock()

		value, err := q.transport(context.Background(), targetID, e.req)
		if err != nil && errors.Is(err, ErrNoReceiver) {
			// Agent churned mid-flush. Requeue at the front and wait for
			// the next announcement.
			q.mu.Lock()
			b.ready = false
			b.flushing = false
			if !e.settled {
				b.pending = append([]*entry{e}, b.pending...)
			}
			q.mu.Unlock()
			return
		}
		q.settle(e, value, err)
	}
}

// Send delivers a request to the target's agent, buffering transparently
// when the agent is pending or mid-reload. It returns when the request is
// delivered, expires (ErrDeliveryTimeout), or ctx is done.
func (q *Queue) Send(ctx context.Context, targetID string, req Request) (interface{}, error) {
	q.mu.Lock()
	b := q.box(targetID)
	if b.ready && !b.flushing {
		gen := b.gen
		q.mu.Unlock()

		value, err := q.transport(ctx, targetID, req)
		if err == nil || !errors.Is(err, ErrNoReceiver) {
			return value, err
		}

		// Race: a reload started between the last announcement and this
		// call. Fall back to buffering for the replacement agent, unless a
		// new agent already announced while the attempt was in flight.
		q.mu.Lock()
		if b.gen == gen {
			b.ready = false
		}
	}

	e := &entry{
		req:  req,
		done: make(chan outcome, 1),
	}
	b.pending = append(b.pending, e)
	e.timer = time.AfterFunc(q.timeout, func() {
		q.expire(b, e)
	})
	startFlush := b.ready && !b.flushing
	if startFlush {
		b.flushing = true
	}
	q.mu.Unlock()

	if startFlush {
		go q.flush(targetID, b)
	}

	select {
	case out := <-e.done:
		return out.value, out.err
	case <-ctx.Done():
		q.abandon(b, e)
		return nil, ctx.Err()
	}
}

// settle resolves an entry exactly once.
func (q *Queue) settle(e *entry, value interface{}, err error) {
	q.mu.Lock()
	if e.settled {
		q.mu.Unlock()
		return
	}
	e.settled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	q.mu.Unlock()

	e.done <- outcome{value: value, err: err}
}

// expire rejects a buffered entry whose deadline elapsed and removes it
// from the buffer.
func (q *Queue) expire(b *mailbox, e *entry) {
	q.mu.Lock()
	if e.settled {
		q.mu.Unlock()
		return
	}
	e.settled = true
	b.remove(e)
	q.mu.Unlock()

	e.done <- outcome{err: fmt.Errorf("request %q: %w", e.req.Action, ErrDeliveryTimeout)}
}

// abandon removes an entry whose sender gave up (context done). The entry
// is settled so a later flush cannot deliver it.
func (q *Queue) abandon(b *mailbox, e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.settled {
		return
	}
	e.settled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	b.remove(e)
}

// Remove drops a closed target's mailbox, rejecting everything still
// buffered for it.
func (q *Queue) Remove(targetID string) {
	q.mu.Lock()
	b, ok := q.boxes[targetID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.boxes, targetID)

	var rejected []*entry
	for _, e := range b.pending {
		if e.settled {
			continue
		}
		e.settled = true
		if e.timer != nil {
			e.timer.Stop()
		}
		rejected = append(rejected, e)
	}
	b.pending = nil
	q.mu.Unlock()

	for _, e := range rejected {
		e.done <- outcome{err: fmt.Errorf("request %q: %w", e.req.Action, ErrTargetClosed)}
	}
}

// PendingCount reports how many requests are buffered for a target.
func (q *Queue) PendingCount(targetID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.boxes[targetID]
	if !ok {
		return 0
	}
	return len(b.pending)
}

// remove deletes e from the pending buffer. Caller must hold Queue.mu.
func (b *mailbox) remove(e *entry) {
	for i, candidate := range b.pending {
		if candidate == e {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}
