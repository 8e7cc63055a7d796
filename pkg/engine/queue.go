package engine

import (
	"context"
	"sync"

	"github.com/marmos91/flock/pkg/protocol"
)

// Frame is one encoded outbound wire frame plus its type tag. The tag is
// kept alongside the payload so queues can tell lifecycle frames apart from
// droppable traffic without re-parsing JSON.
type Frame struct {
	Type    string
	Payload []byte
}

// Queue is the bounded outbound buffer of a single attachment.
//
// The coordinator worker pushes, the attachment's writer goroutine pops.
// When the buffer is full, Push evicts the oldest non-lifecycle frame to
// make room; if every buffered frame is a lifecycle frame the queue is
// stalled and Push fails, which the coordinator treats as a slow consumer.
//
// Close is idempotent and does not discard buffered frames: Pop keeps
// draining until the buffer is empty and only then reports ErrQueueClosed.
// This guarantees a session_ended pushed right before Close is delivered.
type Queue struct {
	mu     sync.Mutex
	frames []Frame
	head   int
	count  int
	closed bool
	wake   chan struct{}
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultConfig().OutboundQueueSize
	}
	return &Queue{
		frames: make([]Frame, capacity),
		wake:   make(chan struct{}, 1),
	}
}

// Push enqueues a frame, evicting the oldest droppable frame when full.
// Returns the evicted frame if one was dropped. Fails with ErrQueueClosed
// after Close and with ErrQueueStalled when the buffer holds only
// lifecycle frames.
func (q *Queue) Push(f Frame) (*Frame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var evicted *Frame
	if q.count == len(q.frames) {
		dropped, ok := q.evictOldestDroppable()
		if !ok {
			return nil, ErrQueueStalled
		}
		evicted = &dropped
	}

	idx := (q.head + q.count) % len(q.frames)
	q.frames[idx] = f
	q.count++

	q.signal()
	return evicted, nil
}

// evictOldestDroppable removes the oldest non-lifecycle frame, compacting
// the ring. Caller holds the lock.
func (q *Queue) evictOldestDroppable() (Frame, bool) {
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.frames)
		if protocol.IsPriority(q.frames[idx].Type) {
			continue
		}

		dropped := q.frames[idx]
		for j := i; j > 0; j-- {
			dst := (q.head + j) % len(q.frames)
			src := (q.head + j - 1) % len(q.frames)
			q.frames[dst] = q.frames[src]
		}
		q.frames[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.frames)
		q.count--
		return dropped, true
	}
	return Frame{}, false
}

// Pop blocks until a frame is available, the queue is drained and closed,
// or the context is cancelled.
func (q *Queue) Pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			f := q.frames[q.head]
			q.frames[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.frames)
			q.count--
			q.mu.Unlock()
			return f, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Frame{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Close marks the queue closed. Buffered frames remain poppable; further
// pushes fail. Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
