package rewardqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var _ Queue = (*Memory)(nil)

// Memory is an unbounded in-process queue. Its contents are carried across
// restarts by the state snapshot (see Pending).
type Memory struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

func NewMemory(initial ...string) *Memory {
	q := &Memory{
		items:  append([]string(nil), initial...),
		notify: make(chan struct{}, 1),
	}
	if len(q.items) > 0 {
		q.notify <- struct{}{}
	}
	return q
}

func (q *Memory) Enqueue(_ context.Context, address string) error {
	q.mu.Lock()
	q.items = append(q.items, address)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Memory) Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			address := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return address, true, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return "", false, nil
		case <-ctx.Done():
			return "", false, errors.WithStack(ctx.Err())
		}
	}
}

func (q *Memory) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Pending returns a copy of the queued addresses, oldest first.
func (q *Memory) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

func (q *Memory) Close() error {
	return nil
}

func (q *Memory) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
