package relay

import (
	"context"
	"sync"
)

// frameQueue is a bounded FIFO. When full, push evicts the oldest frame so that
// added latency stays bounded while the consumer catches up.
type frameQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	max     int
	notify  chan struct{}
	dropped int64
}

func newFrameQueue(max int) *frameQueue {
	if max <= 0 {
		max = 1
	}
	return &frameQueue{max: max, notify: make(chan struct{}, 1)}
}

func (q *frameQueue) push(frame []byte) {
	q.mu.Lock()
	if len(q.frames) >= q.max {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop waits for the next frame. It returns false once ctx is done.
func (q *frameQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

// flush empties the queue and returns how many frames were discarded.
func (q *frameQueue) flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *frameQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
