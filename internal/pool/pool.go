// Package pool keeps a bounded set of reusable instances for engines whose
// instances must not be used by two goroutines at once.
package pool

import (
	"context"
	"sync"

	"github.com/wippyai/fmt-bridge/errors"
)

// Pool hands out at most Max instances at a time. Instances are created on
// demand and reused after Put. Get blocks while all instances are in use.
type Pool[T any] struct {
	newFn   func(ctx context.Context) (T, error)
	closeFn func(ctx context.Context, item T) error
	idle    chan T
	slots   chan struct{}
	mu      sync.Mutex
	closed  bool
}

// New creates a pool of up to size instances. size < 1 is treated as 1.
func New[T any](size int, newFn func(context.Context) (T, error), closeFn func(context.Context, T) error) *Pool[T] {
	if size < 1 {
		size = 1
	}
	return &Pool[T]{
		newFn:   newFn,
		closeFn: closeFn,
		idle:    make(chan T, size),
		slots:   make(chan struct{}, size),
	}
}

// Get returns an idle instance or creates one if the pool has room.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T

	if p.isClosed() {
		return zero, errors.Closed(errors.PhaseRuntime, "pool")
	}

	select {
	case item := <-p.idle:
		return item, nil
	default:
	}

	select {
	case item := <-p.idle:
		return item, nil
	case p.slots <- struct{}{}:
		item, err := p.newFn(ctx)
		if err != nil {
			<-p.slots
			return zero, err
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Put returns a healthy instance to the pool.
func (p *Pool[T]) Put(ctx context.Context, item T) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.Discard(ctx, item)
		return
	}
	p.idle <- item
	p.mu.Unlock()
}

// Discard closes an instance that must not be reused and frees its slot.
func (p *Pool[T]) Discard(ctx context.Context, item T) {
	if p.closeFn != nil {
		_ = p.closeFn(ctx, item)
	}
	<-p.slots
}

// Close closes idle instances. Instances still checked out are closed when
// they are returned.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for {
		select {
		case item := <-p.idle:
			if p.closeFn != nil {
				if err := p.closeFn(ctx, item); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			<-p.slots
		default:
			return firstErr
		}
	}
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
