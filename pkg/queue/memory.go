package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dandiarchive/dandipub/dpapi"
)

// Memory is an in-process Queue with the same list semantics as Redis.
// Tasks do not survive the process.
type Memory struct {
	mu         sync.Mutex
	pending    []string // oldest first
	processing []string
	status     map[uuid.UUID]Status
	notify     chan struct{}
}

var _ Queue = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		status: map[uuid.UUID]Status{},
		notify: make(chan struct{}, 1),
	}
}

func (q *Memory) Enqueue(ctx context.Context, task Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, raw)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Memory) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Memory) take() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	raw := q.pending[0]
	q.pending = q.pending[1:]
	q.processing = append(q.processing, raw)
	if len(q.pending) > 0 {
		q.wake()
	}
	return raw, true
}

func (q *Memory) Reserve(ctx context.Context, wait time.Duration) (Reservation, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if raw, ok := q.take(); ok {
			task, err := decodeTask(raw)
			if err != nil {
				return Reservation{}, false, err
			}
			return Reservation{Task: task, raw: raw}, true, nil
		}
		select {
		case <-ctx.Done():
			return Reservation{}, false, dpapi.ErrorQueue("reserve", ctx.Err())
		case <-timer.C:
			return Reservation{}, false, nil
		case <-q.notify:
		}
	}
}

func (q *Memory) Ack(ctx context.Context, r Reservation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, raw := range q.processing {
		if raw == r.raw {
			q.processing = append(q.processing[:i], q.processing[i+1:]...)
			break
		}
	}
	return nil
}

func (q *Memory) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	n := len(q.processing)
	q.pending = append(q.processing, q.pending...)
	q.processing = nil
	q.mu.Unlock()
	if n > 0 {
		q.wake()
	}
	return n, nil
}

func (q *Memory) SetStatus(ctx context.Context, s Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[s.TaskID] = s
	return nil
}

func (q *Memory) Status(ctx context.Context, id uuid.UUID) (Status, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.status[id]
	return s, ok, nil
}

// Len returns the lengths of the pending and processing lists.
func (q *Memory) Len() (pending, processing int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.processing)
}

func (q *Memory) Ping(ctx context.Context) error { return nil }
func (q *Memory) Close() error                   { return nil }
