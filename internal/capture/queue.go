package capture

import (
	"context"
	"errors"
	"sync/atomic"
)

// DefaultQueueSize is the packet queue capacity when none is configured.
const DefaultQueueSize = 100000

// ErrQueueFull is returned by TryPush when the queue is at capacity.
var ErrQueueFull = errors.New("packet queue full")

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
}

// Queue is a bounded packet handoff between a capture source and the consumer.
type Queue struct {
	ch      chan Packet
	pushed  atomic.Uint64
	dropped atomic.Uint64
	onDrop  func()
}

// NewQueue creates a queue with the given capacity. onDrop, if set, is
// called for every dropped packet.
func NewQueue(capacity int, onDrop func()) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan Packet, capacity), onDrop: onDrop}
}

// TryPush enqueues p without blocking.
func (q *Queue) TryPush(p Packet) error {
	select {
	case q.ch <- p:
		q.pushed.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		return ErrQueueFull
	}
}

// Push enqueues p, waiting for space until ctx is done. Lossless sources
// such as replays use it instead of TryPush.
func (q *Queue) Push(ctx context.Context, p Packet) error {
	select {
	case q.ch <- p:
		q.pushed.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPop returns a queued packet without blocking.
func (q *Queue) TryPop() (Packet, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
		return Packet{}, false
	}
}

// Pop blocks until a packet is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Packet, bool) {
	select {
	case p := <-q.ch:
		return p, true
	case <-ctx.Done():
		return Packet{}, false
	}
}

// Drain discards everything currently queued and returns the count.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Stats returns queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Depth:    len(q.ch),
		Capacity: cap(q.ch),
		Pushed:   q.pushed.Load(),
		Dropped:  q.dropped.Load(),
	}
}
