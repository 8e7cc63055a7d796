package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/flock/pkg/protocol"
)

func locFrame(i int) Frame {
	return Frame{Type: protocol.TypeLocationUpdate, Payload: []byte(fmt.Sprintf(`{"seq":%d}`, i))}
}

func priFrame(i int) Frame {
	return Frame{Type: protocol.TypeParticipantJoined, Payload: []byte(fmt.Sprintf(`{"seq":%d}`, i))}
}

func mustPop(t *testing.T, q *Queue) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	return f
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)

	for i := 0; i < 3; i++ {
		if _, err := q.Push(locFrame(i)); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		f := mustPop(t, q)
		if string(f.Payload) != fmt.Sprintf(`{"seq":%d}`, i) {
			t.Errorf("frame %d out of order: %s", i, f.Payload)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueEvictsOldestDroppable(t *testing.T) {
	q := NewQueue(3)

	q.Push(locFrame(0))
	q.Push(locFrame(1))
	q.Push(locFrame(2))

	evicted, err := q.Push(locFrame(3))
	if err != nil {
		t.Fatalf("Push into full queue failed: %v", err)
	}
	if evicted == nil || string(evicted.Payload) != `{"seq":0}` {
		t.Fatalf("expected oldest frame evicted, got %+v", evicted)
	}

	want := []int{1, 2, 3}
	for _, seq := range want {
		f := mustPop(t, q)
		if string(f.Payload) != fmt.Sprintf(`{"seq":%d}`, seq) {
			t.Errorf("expected seq %d, got %s", seq, f.Payload)
		}
	}
}

func TestQueuePreservesLifecycleFrames(t *testing.T) {
	q := NewQueue(3)

	q.Push(priFrame(0))
	q.Push(locFrame(1))
	q.Push(priFrame(2))

	// The droppable frame in the middle goes, lifecycle frames stay.
	evicted, err := q.Push(priFrame(3))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if evicted == nil || string(evicted.Payload) != `{"seq":1}` {
		t.Fatalf("expected droppable frame evicted, got %+v", evicted)
	}

	want := []int{0, 2, 3}
	for _, seq := range want {
		f := mustPop(t, q)
		if string(f.Payload) != fmt.Sprintf(`{"seq":%d}`, seq) {
			t.Errorf("expected seq %d, got %s", seq, f.Payload)
		}
	}
}

func TestQueueStallsWhenOnlyLifecycleFramesRemain(t *testing.T) {
	q := NewQueue(2)

	q.Push(priFrame(0))
	q.Push(priFrame(1))

	if _, err := q.Push(locFrame(2)); !errors.Is(err, ErrQueueStalled) {
		t.Errorf("expected ErrQueueStalled, got %v", err)
	}
	if _, err := q.Push(priFrame(3)); !errors.Is(err, ErrQueueStalled) {
		t.Errorf("expected ErrQueueStalled for lifecycle push too, got %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("stalled pushes must not change the buffer, len=%d", q.Len())
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue(4)
	q.Push(locFrame(0))
	q.Push(priFrame(1))
	q.Close()
	q.Close() // idempotent

	if _, err := q.Push(locFrame(2)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close = %v, want ErrQueueClosed", err)
	}

	// Buffered frames still come out, then the closed error.
	mustPop(t, q)
	mustPop(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on drained closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueuePopBlocks(t *testing.T) {
	q := NewQueue(4)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(locFrame(7))
	}()

	f := mustPop(t, q)
	if string(f.Payload) != `{"seq":7}` {
		t.Errorf("unexpected frame: %s", f.Payload)
	}
}

func TestQueuePopContextCancel(t *testing.T) {
	q := NewQueue(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
