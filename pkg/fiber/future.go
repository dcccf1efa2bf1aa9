package fiber

import (
	"context"
	"errors"
	"sync"
)

// ErrDestroyed resolves the futures of renders whose unit was destroyed
// before they committed.
var ErrDestroyed = errors.New("fiber: unit destroyed before commit")

// Future resolves when a root fiber commits or fails. A future whose root
// was superseded resolves together with the superseding root.
type Future struct {
	done     chan struct{}
	once     sync.Once
	err      error
	absorbed []*Future
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolved(err error) *Future {
	f := newFuture()
	f.resolve(err)
	return f
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the failure, or nil for a successful commit. It is only
// meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Resolved reports whether the future has resolved.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done. It does not drive
// the scheduler; use Scheduler.Await on the loop goroutine.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// absorb makes other resolve with f.
func (f *Future) absorb(other *Future) {
	if other == nil || other == f {
		return
	}
	f.absorbed = append(f.absorbed, other)
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
		for _, o := range f.absorbed {
			o.resolve(err)
		}
		f.absorbed = nil
	})
}
