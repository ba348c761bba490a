// Package collection implements the Player Collection (C6): changeSrc
// handoff. It creates a new player, waits for its first frame, then
// retires whatever players preceded it. It is grounded on the teacher's
// server/hooks.Manager — a registered-callback fan-out with swallow-and-log
// error policy — generalized from firing one event to many hooks into
// forwarding several player-level events up to one collection-level bus,
// and on golang.org/x/sync/errgroup (attested in the retrieved pack) for
// the teardown fan-out removeAll and handoff retirement require.
package collection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/lifecycle"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
	"github.com/clspio/clsp-go/internal/logger"
)

// Event names forwarded upward to a Session.
const (
	EventFirstFrameShown           eventbus.Name = "FIRST_FRAME_SHOWN"
	EventVideoReceived             eventbus.Name = "VIDEO_RECEIVED"
	EventVideoInfoReceived         eventbus.Name = "VIDEO_INFO_RECEIVED"
	EventIframeDestroyedExternally eventbus.Name = "IFRAME_DESTROYED_EXTERNALLY"
	EventReinitializeError         eventbus.Name = "REINITIALZE_ERROR"
	EventRetryError                eventbus.Name = "RETRY_ERROR"
)

var eventNames = []eventbus.Name{
	EventFirstFrameShown,
	EventVideoReceived,
	EventVideoInfoReceived,
	EventIframeDestroyedExternally,
	EventReinitializeError,
	EventRetryError,
}

// DefaultShowNextVideoDelay is the default handoff grace period (spec
// §4.6: "a configurable SHOW_NEXT_VIDEO_DELAY (default 0.5s)").
const DefaultShowNextVideoDelay = 500 * time.Millisecond

// Player is the subset of *player.Player the collection depends on. It is
// declared here, not imported as a concrete type, so tests can exercise
// handoff/retirement timing with a lightweight double instead of a real
// Conduit/MediaBuffer stack.
type Player interface {
	ID() uint64
	Play(ctx context.Context) error
	Stop() error
	On(name eventbus.Name, handler eventbus.Handler) error
}

// Factory constructs a Player bound to id within the owning session, wired
// to its own Conduit/MediaBuffer/VideoSurface. The Session supplies this,
// since only it knows the rendering surface a new player attaches to.
type Factory func(id uint64, cfg *streamconfig.StreamConfiguration) (Player, error)

// Collection owns zero or more in-flight players for one session, exactly
// one outside a handoff and up to two momentarily during one (spec I1).
type Collection struct {
	factory            Factory
	showNextVideoDelay time.Duration
	bus                *eventbus.Bus
	life               *lifecycle.Destroyable
	log                *slog.Logger

	mu      sync.Mutex
	players map[uint64]Player
	nextID  uint64
}

// New creates a Collection using factory to build each player. log and a
// non-positive showNextVideoDelay fall back to their defaults.
func New(factory Factory, showNextVideoDelay time.Duration, log *slog.Logger) *Collection {
	if log == nil {
		log = logger.Logger()
	}
	if showNextVideoDelay <= 0 {
		showNextVideoDelay = DefaultShowNextVideoDelay
	}
	c := &Collection{
		factory:            factory,
		showNextVideoDelay: showNextVideoDelay,
		bus:                eventbus.New(eventNames, log),
		players:            make(map[uint64]Player),
		log:                log,
	}
	c.life = lifecycle.NewDestroyable(c.teardown)
	return c
}

// On subscribes handler to one of the Collection's forwarded events.
func (c *Collection) On(name eventbus.Name, handler eventbus.Handler) error {
	return c.bus.On(name, handler)
}

// IsDestroyed reports whether Destroy has been called.
func (c *Collection) IsDestroyed() bool { return c.life.IsDestroyed() }

// Destroy stops and destroys every owned player, then releases listeners.
// Idempotent; only the first call does work.
func (c *Collection) Destroy() error { return c.life.Destroy() }

// Create constructs a new player for cfg, starts its play flow, and
// returns its id without waiting for FIRST_FRAME_SHOWN. Once the new
// player reports its first frame, every player that existed in this
// collection at Create time is scheduled for retirement after
// showNextVideoDelay.
func (c *Collection) Create(ctx context.Context, cfg *streamconfig.StreamConfiguration) (uint64, error) {
	const op = "collection.Create"
	if c.life.IsDestroyed() {
		return 0, clsperrors.NewAlreadyDestroyed(op)
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	prior := make([]Player, 0, len(c.players))
	for _, p := range c.players {
		prior = append(prior, p)
	}
	c.mu.Unlock()

	p, err := c.factory(id, cfg)
	if err != nil {
		return 0, clsperrors.NewChangeSrcFailed(op, err)
	}

	c.mu.Lock()
	c.players[id] = p
	c.mu.Unlock()

	c.wireEvents(p, prior)

	if err := p.Play(ctx); err != nil {
		c.mu.Lock()
		delete(c.players, id)
		c.mu.Unlock()
		return 0, clsperrors.NewChangeSrcFailed(op, err)
	}

	return id, nil
}

func (c *Collection) wireEvents(p Player, prior []Player) {
	id := p.ID()

	_ = p.On(EventFirstFrameShown, func(any) {
		c.bus.Emit(EventFirstFrameShown, id)
		if len(prior) == 0 {
			return
		}
		go c.scheduleRetirement(prior)
	})
	_ = p.On(EventVideoReceived, func(payload any) { c.bus.Emit(EventVideoReceived, payload) })
	_ = p.On(EventVideoInfoReceived, func(payload any) { c.bus.Emit(EventVideoInfoReceived, payload) })
	_ = p.On(EventIframeDestroyedExternally, func(payload any) {
		c.bus.Emit(EventIframeDestroyedExternally, payload)
	})
	_ = p.On(EventReinitializeError, func(payload any) { c.bus.Emit(EventReinitializeError, payload) })
	_ = p.On(EventRetryError, func(payload any) { c.bus.Emit(EventRetryError, payload) })
}

// scheduleRetirement waits showNextVideoDelay, then stops and drops every
// player in prior. It runs on its own goroutine so changeSrc's resolve is
// never blocked on it (spec §4.6).
func (c *Collection) scheduleRetirement(prior []Player) {
	time.Sleep(c.showNextVideoDelay)
	c.retire(prior)
}

func (c *Collection) retire(ps []Player) {
	g := new(errgroup.Group)
	for _, p := range ps {
		p := p
		g.Go(func() error {
			if err := p.Stop(); err != nil {
				c.log.Warn("retiring player failed", "player_id", p.ID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, p := range ps {
		delete(c.players, p.ID())
	}
	c.mu.Unlock()
}

// RemoveAll stops and destroys every owned player concurrently, in any
// order; per-player errors are logged and swallowed individually.
func (c *Collection) RemoveAll(ctx context.Context) error {
	c.mu.Lock()
	ps := make([]Player, 0, len(c.players))
	for _, p := range c.players {
		ps = append(ps, p)
	}
	c.players = make(map[uint64]Player)
	c.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, p := range ps {
		p := p
		g.Go(func() error {
			if err := p.Stop(); err != nil {
				c.log.Warn("player stop failed during removeAll", "player_id", p.ID(), "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Collection) teardown() error {
	_ = c.RemoveAll(context.Background())
	c.bus.RemoveAllListeners()
	return nil
}
