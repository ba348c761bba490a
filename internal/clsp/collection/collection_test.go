package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
)

type fakePlayer struct {
	id      uint64
	playErr error
	stopErr error
	stopped bool

	mu       sync.Mutex
	handlers map[eventbus.Name][]eventbus.Handler
}

func newFakePlayer(id uint64) *fakePlayer {
	return &fakePlayer{id: id, handlers: make(map[eventbus.Name][]eventbus.Handler)}
}

func (f *fakePlayer) ID() uint64 { return f.id }

func (f *fakePlayer) Play(ctx context.Context) error { return f.playErr }

func (f *fakePlayer) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakePlayer) On(name eventbus.Name, handler eventbus.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], handler)
	return nil
}

func (f *fakePlayer) emit(name eventbus.Name, payload any) {
	f.mu.Lock()
	hs := append([]eventbus.Handler(nil), f.handlers[name]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

func (f *fakePlayer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func testConfig(t *testing.T) *streamconfig.StreamConfiguration {
	t.Helper()
	cfg, err := streamconfig.FromURL("clsp://sfs/stream-a")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	return cfg
}

func TestCreateReturnsIDWithoutWaitingForFirstFrame(t *testing.T) {
	fp := newFakePlayer(0)
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		fp.id = id
		return fp, nil
	}, time.Millisecond, nil)

	id, err := c.Create(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first id 0, got %d", id)
	}
}

func TestCreatePropagatesFactoryErrorAsChangeSrcFailed(t *testing.T) {
	wantErr := errors.New("boom")
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		return nil, wantErr
	}, time.Millisecond, nil)

	_, err := c.Create(context.Background(), testConfig(t))
	if !clsperrors.IsChangeSrcFailed(err) {
		t.Fatalf("expected ChangeSrcFailed, got %v", err)
	}
}

func TestCreatePropagatesPlayErrorAsChangeSrcFailed(t *testing.T) {
	fp := newFakePlayer(0)
	fp.playErr = errors.New("play failed")
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		fp.id = id
		return fp, nil
	}, time.Millisecond, nil)

	_, err := c.Create(context.Background(), testConfig(t))
	if !clsperrors.IsChangeSrcFailed(err) {
		t.Fatalf("expected ChangeSrcFailed, got %v", err)
	}
}

func TestFirstFrameShownIsForwardedWithPlayerID(t *testing.T) {
	fp := newFakePlayer(0)
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		fp.id = id
		return fp, nil
	}, time.Millisecond, nil)

	var gotID uint64
	if err := c.On(EventFirstFrameShown, func(payload any) { gotID, _ = payload.(uint64) }); err != nil {
		t.Fatalf("On: %v", err)
	}

	id, err := c.Create(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fp.emit(EventFirstFrameShown, nil)

	if gotID != id {
		t.Fatalf("expected forwarded id %d, got %d", id, gotID)
	}
}

func TestHandoffRetiresPriorPlayersAfterDelay(t *testing.T) {
	oldPlayer := newFakePlayer(0)
	newPlayer := newFakePlayer(0)

	calls := 0
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		calls++
		if calls == 1 {
			oldPlayer.id = id
			return oldPlayer, nil
		}
		newPlayer.id = id
		return newPlayer, nil
	}, 10*time.Millisecond, nil)

	if _, err := c.Create(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Create (1st): %v", err)
	}
	if _, err := c.Create(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Create (2nd): %v", err)
	}

	newPlayer.emit(EventFirstFrameShown, nil)

	deadline := time.After(time.Second)
	for !oldPlayer.isStopped() {
		select {
		case <-deadline:
			t.Fatalf("expected old player to be retired after handoff delay")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRemoveAllStopsEveryPlayer(t *testing.T) {
	p1 := newFakePlayer(0)
	p2 := newFakePlayer(0)
	calls := 0
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		calls++
		if calls == 1 {
			p1.id = id
			return p1, nil
		}
		p2.id = id
		return p2, nil
	}, time.Millisecond, nil)

	if _, err := c.Create(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Create(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := c.RemoveAll(context.Background()); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if !p1.isStopped() || !p2.isStopped() {
		t.Fatalf("expected both players stopped")
	}
}

func TestCreateAfterDestroyFailsWithAlreadyDestroyed(t *testing.T) {
	c := New(func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error) {
		return newFakePlayer(id), nil
	}, time.Millisecond, nil)

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := c.Create(context.Background(), testConfig(t)); !clsperrors.IsAlreadyDestroyed(err) {
		t.Fatalf("expected AlreadyDestroyed, got %v", err)
	}
}
