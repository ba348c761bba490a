package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDestroyRunsTeardownExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	d := NewDestroyable(func() error {
		calls.Add(1)
		return nil
	})

	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected teardown to run once, ran %d times", n)
	}
}

func TestDestroyIsIdempotentAcrossConcurrentCallers(t *testing.T) {
	var calls atomic.Int32
	d := NewDestroyable(func() error {
		calls.Add(1)
		return nil
	})

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.Destroy()
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected teardown to run once, ran %d times", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}
}

func TestDestroyReturnsTeardownError(t *testing.T) {
	want := errors.New("teardown failed")
	d := NewDestroyable(func() error { return want })

	if err := d.Destroy(); err != want {
		t.Fatalf("expected %v, got %v", want, err)
	}
	// Second call yields the same result without re-running teardown.
	if err := d.Destroy(); err != want {
		t.Fatalf("expected cached %v, got %v", want, err)
	}
}

func TestNewDestroyableAllowsNilTeardown(t *testing.T) {
	d := NewDestroyable(nil)
	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy with nil teardown: %v", err)
	}
}

func TestIsDestroyedBeforeAndAfter(t *testing.T) {
	d := NewDestroyable(nil)
	if d.IsDestroyed() {
		t.Fatalf("expected IsDestroyed false before Destroy")
	}
	d.Destroy()
	if !d.IsDestroyed() {
		t.Fatalf("expected IsDestroyed true after Destroy")
	}
}

func TestIsDestroyCompleteOnlyAfterTeardownReturns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := NewDestroyable(func() error {
		close(started)
		<-release
		return nil
	})

	go d.Destroy()
	<-started

	if d.IsDestroyComplete() {
		t.Fatalf("expected IsDestroyComplete false while teardown still running")
	}
	if !d.IsDestroyed() {
		t.Fatalf("expected IsDestroyed true as soon as teardown begins")
	}

	close(release)
	d.Destroy() // blocks until the in-flight teardown finishes

	if !d.IsDestroyComplete() {
		t.Fatalf("expected IsDestroyComplete true after Destroy returns")
	}
}
