package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"tickerflow/internal/model"
	"tickerflow/pkg/exception"
)

// OverflowPolicy decides what Enqueue does when the queue is full.
type OverflowPolicy uint8

const (
	_overflow_beg OverflowPolicy = iota
	// OverflowDropNewest rejects the incoming envelope with ErrQueueFull.
	OverflowDropNewest
	// OverflowBlock waits for space, ctx cancellation or Close.
	OverflowBlock
	_overflow_end
)

func (p OverflowPolicy) IsAvailable() bool {
	return p > _overflow_beg && p < _overflow_end
}

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDropNewest:
		return "drop_newest"
	case OverflowBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy maps a config value to a policy. Empty means drop newest.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_newest", "drop-newest":
		return OverflowDropNewest, true
	case "block":
		return OverflowBlock, true
	default:
		return _overflow_beg, false
	}
}

// Queue is a bounded envelope queue shared by many producers and one consumer.
// The channel is never closed, so a late producer cannot panic.
type Queue struct {
	ch     chan model.Envelope
	policy OverflowPolicy

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if !policy.IsAvailable() {
		policy = OverflowDropNewest
	}
	return &Queue{
		ch:     make(chan model.Envelope, capacity),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Enqueue transfers ownership of env to the queue.
func (q *Queue) Enqueue(ctx context.Context, env model.Envelope) error {
	if q == nil {
		return exception.ErrNilInstance
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}

	if q.policy != OverflowBlock {
		select {
		case q.ch <- env:
			return nil
		default:
			return exception.ErrQueueFull
		}
	}

	select {
	case q.ch <- env:
		return nil
	case <-q.done:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll waits up to timeout for an envelope.
func (q *Queue) Poll(timeout time.Duration) (model.Envelope, bool) {
	if env, ok := q.TryDequeue(); ok || timeout <= 0 {
		return env, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-q.ch:
		return env, true
	case <-timer.C:
		return model.Envelope{}, false
	}
}

// TryDequeue returns an envelope without blocking.
func (q *Queue) TryDequeue() (model.Envelope, bool) {
	select {
	case env := <-q.ch:
		return env, true
	default:
		return model.Envelope{}, false
	}
}

// Close stops the queue from accepting envelopes. Queued envelopes stay
// available to the consumer.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	})
}

func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *Queue) Cap() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}
