// Package batch accumulates items into size or age bounded windows.
package batch

import (
	"time"

	"tickerflow/pkg/exception"

	"github.com/yanun0323/errors"
)

// Option customizes a Policy.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the policy's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Policy decides when the accumulated window should be flushed. Either
// threshold alone makes it ready. A Policy is not safe for concurrent use;
// it belongs to the loop that flushes it.
type Policy[T any] struct {
	items   []T
	start   time.Time
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// New validates the thresholds and builds an empty policy.
func New[T any](maxSize int, maxAge time.Duration, opts ...Option) (*Policy[T], error) {
	if maxSize <= 0 || maxAge <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidBatchConfig, "max size: %d, max age: %s", maxSize, maxAge)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Policy[T]{
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     o.now,
	}, nil
}

// Append adds item to the window. The first item of a window starts its age.
func (p *Policy[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	if len(p.items) == 0 {
		p.start = p.now()
	}
	p.items = append(p.items, items...)
}

// Ready reports whether the window reached its size or age threshold.
func (p *Policy[T]) Ready() bool {
	if len(p.items) >= p.maxSize {
		return true
	}
	if p.start.IsZero() {
		return false
	}
	return p.now().Sub(p.start) >= p.maxAge
}

// Drain returns the current window without clearing it; call Reset after.
func (p *Policy[T]) Drain() []T {
	return p.items
}

// Reset empties the window. The backing array is dropped rather than reused,
// so a slice returned by Drain stays intact for whoever now owns it.
func (p *Policy[T]) Reset() {
	p.items = nil
	p.start = time.Time{}
}

// Len returns the number of buffered items.
func (p *Policy[T]) Len() int {
	return len(p.items)
}

// Started returns when the current window began, if it is non-empty.
func (p *Policy[T]) Started() (time.Time, bool) {
	return p.start, !p.start.IsZero()
}

// MaxSize returns the configured size threshold.
func (p *Policy[T]) MaxSize() int {
	return p.maxSize
}

// MaxAge returns the configured age threshold.
func (p *Policy[T]) MaxAge() time.Duration {
	return p.maxAge
}
