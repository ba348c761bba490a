// Package registry implements the IOV Registry (C8): a process-scoped
// directory of sessions, keyed by a monotonically increasing id, with
// retry supervision over the fatal event set a Session reports.
//
// There is deliberately no package-level `var registry Registry`. The
// spec's redesign direction replaces that implicit global with a
// lazily-initialized, once-guarded singleton (grounded on the teacher's
// logger.Init pattern), reachable only through AsSingleton, plus an
// explicit constructor for callers (and tests) that want an independent
// instance.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/lifecycle"
	"github.com/clspio/clsp-go/internal/clsp/session"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	"github.com/clspio/clsp-go/internal/clsp/surface"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
	"github.com/clspio/clsp-go/internal/logger"
)

// EventRetryExhausted is emitted when retry supervision for a session's
// retry chain has run out of budget (spec §9's resolved open question).
const EventRetryExhausted eventbus.Name = "RETRY_EXHAUSTED"

var eventNames = []eventbus.Name{EventRetryExhausted}

// DefaultRetryTokens, DefaultRetryWindow and DefaultRetryBurst bound how
// many replacement sessions one logical retry chain may spawn before
// supervision gives up and emits EventRetryExhausted instead of trying
// again.
const (
	DefaultRetryTokens = 5
	DefaultRetryWindow = 60 * time.Second
	DefaultRetryBurst  = 5
)

// Session is the subset of *session.Session the registry depends on. A
// narrow interface here, the same move as collection.Player and
// session.Config.PlayerFactory, lets retry supervision be tested with a
// lightweight double instead of a live Session backed by real surfaces.
type Session interface {
	ID() uint64
	On(name eventbus.Name, handler eventbus.Handler) error
	Destroy() error
	ChangeSrc(ctx context.Context, urlOrConfig any) error
	TargetStreamConfiguration() *streamconfig.StreamConfiguration
}

// SurfaceConfig bundles everything needed to construct (or reconstruct,
// on retry) one session bound to one rendering surface.
type SurfaceConfig struct {
	SessionConfig session.Config
	Resolver      surface.ElementResolver
	Watcher       surface.EnvironmentWatcher
}

// Factory constructs a Session for id bound to cfg. Registries default to
// sessionFactory, which wraps session.New; tests substitute a double.
type Factory func(id uint64, cfg SurfaceConfig) (Session, error)

func sessionFactory(log *slog.Logger) Factory {
	return func(id uint64, cfg SurfaceConfig) (Session, error) {
		return session.New(id, cfg.SessionConfig, cfg.Resolver, cfg.Watcher, log)
	}
}

// Registry is a directory of live sessions plus retry supervision over
// their fatal events. The zero value is not usable; construct with New
// or reach the process-wide instance via AsSingleton.
type Registry struct {
	factory Factory
	log     *slog.Logger
	bus     *eventbus.Bus
	life    *lifecycle.Destroyable

	retryTokens int
	retryWindow time.Duration
	retryBurst  int

	mu             sync.Mutex
	sessions       map[uint64]Session
	pendingRemoval map[uint64]bool
	surfaceConfigs map[uint64]SurfaceConfig
	retryRootOf    map[uint64]uint64
	nextID         uint64

	limiterMu sync.Mutex
	limiters  map[uint64]*rate.Limiter
}

// Option configures a Registry built with New.
type Option func(*Registry)

// WithFactory overrides how a Registry constructs each session. Tests use
// this to inject a Session double bound to no real surface or transport.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithRetryBudget overrides the default per-retry-chain token bucket.
func WithRetryBudget(tokens int, window time.Duration, burst int) Option {
	return func(r *Registry) {
		r.retryTokens = tokens
		r.retryWindow = window
		r.retryBurst = burst
	}
}

// New constructs an independent Registry. Most callers want AsSingleton;
// New exists for tests and for hosts that deliberately run more than one
// registry (e.g. one per tenant) in the same process.
func New(log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logger.Logger()
	}
	r := &Registry{
		log:            log,
		bus:            eventbus.New(eventNames, log),
		sessions:       make(map[uint64]Session),
		pendingRemoval: make(map[uint64]bool),
		surfaceConfigs: make(map[uint64]SurfaceConfig),
		retryRootOf:    make(map[uint64]uint64),
		limiters:       make(map[uint64]*rate.Limiter),
		retryTokens:    DefaultRetryTokens,
		retryWindow:    DefaultRetryWindow,
		retryBurst:     DefaultRetryBurst,
	}
	r.factory = sessionFactory(log)
	for _, opt := range opts {
		opt(r)
	}
	r.life = lifecycle.NewDestroyable(r.teardown)
	return r
}

var (
	singletonOnce sync.Once
	singleton     *Registry
)

// AsSingleton returns the process-wide Registry, constructing it with
// default wiring on first call.
func AsSingleton() *Registry {
	singletonOnce.Do(func() {
		singleton = New(nil)
	})
	return singleton
}

// On subscribes handler to one of the Registry's whitelisted events.
func (r *Registry) On(name eventbus.Name, handler eventbus.Handler) error {
	return r.bus.On(name, handler)
}

// IsDestroyed reports whether Destroy has been called.
func (r *Registry) IsDestroyed() bool { return r.life.IsDestroyed() }

// Create allocates a fresh session id, constructs a Session bound to cfg,
// wires retry supervision over its fatal event set, and registers it.
func (r *Registry) Create(cfg SurfaceConfig) (Session, uint64, error) {
	const op = "registry.Create"
	if r.life.IsDestroyed() {
		return nil, 0, clsperrors.NewAlreadyDestroyed(op)
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	wrapped := r.nextID == 0
	r.mu.Unlock()
	if wrapped {
		r.log.Error("session id counter wrapped; later ids repeat earlier ones", "session_id", id)
	}

	s, err := r.factory(id, cfg)
	if err != nil {
		return nil, 0, err
	}

	r.wireRetrySupervision(id, s)

	r.mu.Lock()
	r.sessions[id] = s
	r.surfaceConfigs[id] = cfg
	if _, ok := r.retryRootOf[id]; !ok {
		r.retryRootOf[id] = id
	}
	r.mu.Unlock()

	return s, id, nil
}

// Has reports whether id names a live, non-pending-removal session (I3:
// an id mid-teardown is treated as absent so remove is idempotent).
func (r *Registry) Has(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingRemoval[id] {
		return false
	}
	_, ok := r.sessions[id]
	return ok
}

// Get returns the session for id, or (nil, false) if absent or pending
// removal.
func (r *Registry) Get(id uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingRemoval[id] {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Remove idempotently tears down the session named by id: unknown or
// already-pending ids are a no-op success (L3). Errors destroying the
// session are logged, never returned.
func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	if r.pendingRemoval[id] {
		r.mu.Unlock()
		return nil
	}
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	r.pendingRemoval[id] = true
	delete(r.sessions, id)
	r.mu.Unlock()

	if err := s.Destroy(); err != nil {
		r.log.Warn("session destroy failed during remove", "session_id", id, "error", err)
	}

	r.mu.Lock()
	delete(r.pendingRemoval, id)
	delete(r.surfaceConfigs, id)
	delete(r.retryRootOf, id)
	r.mu.Unlock()

	return nil
}

// Destroy removes every session. After it returns, Create fails with
// AlreadyDestroyed. Idempotent; only the first call does work.
func (r *Registry) Destroy() error { return r.life.Destroy() }

// teardown removes every session concurrently, the same
// fan-out-then-wait shape as collection.Collection.RemoveAll, so a
// registry holding many sessions doesn't pay their teardown latency
// serially.
func (r *Registry) teardown() error {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_ = r.Remove(id)
			return nil
		})
	}
	_ = g.Wait()

	r.bus.RemoveAllListeners()
	return nil
}

// wireRetrySupervision subscribes id's session to the fatal event set
// (spec §4.8): on any of them, the registry removes the session and
// creates a replacement bound to the same surface config, retrying the
// last changeSrc target.
func (r *Registry) wireRetrySupervision(id uint64, s Session) {
	retry := func(any) { r.retry(id) }
	_ = s.On(session.EventIframeDestroyedExternally, retry)
	_ = s.On(session.EventReinitializeError, retry)
	_ = s.On(session.EventNoStreamConfiguration, retry)
	_ = s.On(session.EventRetryError, retry)
}

func (r *Registry) retry(id uint64) {
	if !r.Has(id) {
		return
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	cfg, hasCfg := r.surfaceConfigs[id]
	root := r.retryRootOf[id]
	r.mu.Unlock()
	if !ok || !hasCfg {
		return
	}

	target := s.TargetStreamConfiguration()

	if !r.limiterFor(root).Allow() {
		r.log.Warn("retry budget exhausted", "session_id", id, "root_id", root)
		r.bus.Emit(EventRetryExhausted, root)
		_ = r.Remove(id)
		return
	}

	if err := r.Remove(id); err != nil {
		r.log.Warn("remove failed during retry", "session_id", id, "error", err)
	}

	replacement, newID, err := r.Create(cfg)
	if err != nil {
		r.log.Warn("replacement session creation failed during retry", "session_id", id, "error", err)
		return
	}

	r.mu.Lock()
	r.retryRootOf[newID] = root
	r.mu.Unlock()

	if target == nil {
		return
	}
	if err := replacement.ChangeSrc(context.Background(), target); err != nil {
		r.log.Warn("replacement changeSrc failed during retry", "session_id", newID, "error", err)
	}
}

func (r *Registry) limiterFor(root uint64) *rate.Limiter {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()
	lim, ok := r.limiters[root]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.retryTokens)/r.retryWindow.Seconds()), r.retryBurst)
		r.limiters[root] = lim
	}
	return lim
}
