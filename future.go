package stores

import (
	"context"
	"sync"
)

// Awaiter is implemented by values that settle asynchronously. Set awaits
// awaiter values before resolving owners; dispatch awaits awaiter results
// returned by handlers.
type Awaiter interface {
	Await(ctx context.Context) (any, error)
}

// Future is the completion signal of a deferred operation.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     any
	err       error
	callbacks []func(any, error)
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future already settled with value.
func Resolved(value any) *Future {
	f := NewFuture()
	f.Resolve(value)
	return f
}

// Rejected returns a future already settled with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the future with value. Only the first settle wins.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject settles the future with err. Only the first settle wins.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a result.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Await blocks until the future settles or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// follow settles f with whatever other settles with.
func (f *Future) follow(other *Future) {
	if other == nil || other == f {
		return
	}
	other.onSettle(func(value any, err error) {
		f.settle(value, err)
	})
}

func (f *Future) onSettle(fn func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	fn(value, err)
}

func (f *Future) settle(value any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(value, err)
	}
	return true
}

func awaitValue(ctx context.Context, value any) (any, error) {
	awaiter, ok := value.(Awaiter)
	if !ok || awaiter == nil {
		return value, nil
	}
	return awaiter.Await(ctx)
}
