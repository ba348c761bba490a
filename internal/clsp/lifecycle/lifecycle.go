// Package lifecycle implements the Destroyable contract shared by every
// stateful CLSP component (spec §4.3): destroy is idempotent, asynchronous
// from the caller's perspective only in that it may release resources that
// take time, and guarantees that once it returns every owned resource has
// been released and IsDestroyed() is true. It is grounded on the teacher's
// context+cancel+sync.WaitGroup connection-shutdown pattern
// (conn.Connection.Close) and its sync.Once-guarded initialization
// (logger.Init), combined into a single reusable teardown primitive.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Destroyable is embedded by every stateful component that must support a
// single-shot, idempotent destroy. Teardown is supplied once, via
// NewDestroyable, typically from the owning type's constructor.
type Destroyable struct {
	once      sync.Once
	destroyed atomic.Bool
	done      chan struct{}
	teardown  func() error
	err       error
}

// NewDestroyable creates a Destroyable ready to run teardown exactly once
// when Destroy is first called. teardown may be nil for components with
// nothing to release beyond flipping IsDestroyed.
func NewDestroyable(teardown func() error) *Destroyable {
	return &Destroyable{
		done:     make(chan struct{}),
		teardown: teardown,
	}
}

// Destroy runs the teardown function exactly once. A second and every
// subsequent call blocks until the first completes (if still in flight)
// and then returns the same result immediately — this is what makes
// "resolves immediately" (spec §4.3) true for concurrent callers without
// doing a second teardown.
func (d *Destroyable) Destroy() error {
	d.once.Do(func() {
		d.destroyed.Store(true)
		if d.teardown != nil {
			d.err = d.teardown()
		}
		close(d.done)
	})
	<-d.done
	return d.err
}

// IsDestroyed reports whether Destroy has been called. It flips to true
// the instant teardown begins, before teardown itself has finished — this
// is the session's "isStopping"-style monotonic guard used to reject new
// mutating calls immediately (spec I4), distinct from IsDestroyComplete.
func (d *Destroyable) IsDestroyed() bool {
	return d.destroyed.Load()
}

// IsDestroyComplete reports whether teardown has finished running (spec
// P3: "every child destroy has been awaited"). Unlike IsDestroyed, this is
// false while teardown is still in flight on another goroutine.
func (d *Destroyable) IsDestroyComplete() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
