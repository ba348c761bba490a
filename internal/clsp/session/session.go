// Package session implements the IOV Session (C7): the user-facing handle
// for one rendering surface. It owns one Player Collection, initializes and
// releases the DOM surfaces a caller hands it or asks it to create, and
// reacts to environment signals (tab visibility, network online/offline).
//
// Every mutating call that touches streamConfiguration state (changeSrc,
// restart) runs on a single owner goroutine started in New and stopped in
// teardown, so those operations are linearized the way the source's
// single-threaded event loop linearizes them. stop/destroy deliberately
// bypass that goroutine: they must be able to preempt an in-flight
// changeSrc (the source's "a stop during changeSrc observes a Dead
// player"), so they run on the caller's goroutine, guarded by an atomic
// idempotency flag, and wake any in-flight changeSrc by closing a
// generation channel it is selecting on.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clspio/clsp-go/internal/bufpool"
	"github.com/clspio/clsp-go/internal/clsp/collection"
	"github.com/clspio/clsp-go/internal/clsp/conduit"
	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/lifecycle"
	"github.com/clspio/clsp-go/internal/clsp/player"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	"github.com/clspio/clsp-go/internal/clsp/surface"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
	"github.com/clspio/clsp-go/internal/logger"
)

// Event names emitted on a Session's Bus (spec §4.7's whitelist).
const (
	EventMetric                    eventbus.Name = "METRIC"
	EventFirstFrameShown           eventbus.Name = "FIRST_FRAME_SHOWN"
	EventVideoReceived             eventbus.Name = "VIDEO_RECEIVED"
	EventVideoInfoReceived         eventbus.Name = "VIDEO_INFO_RECEIVED"
	EventIframeDestroyedExternally eventbus.Name = "IFRAME_DESTROYED_EXTERNALLY"
	EventReinitializeError         eventbus.Name = "REINITIALZE_ERROR"
	EventNoStreamConfiguration     eventbus.Name = "NO_STREAM_CONFIGURATION"
	EventRetryError                eventbus.Name = "RETRY_ERROR"
)

var eventNames = []eventbus.Name{
	EventMetric,
	EventFirstFrameShown,
	EventVideoReceived,
	EventVideoInfoReceived,
	EventIframeDestroyedExternally,
	EventReinitializeError,
	EventNoStreamConfiguration,
	EventRetryError,
}

// MetricPayload is the payload carried by EventMetric, when EnableMetrics is
// set. internal/metrics subscribes to these to back ENABLE_METRICS with real
// counters/histograms; a host with no metrics sink just never calls On for
// this event.
type MetricPayload struct {
	SessionID uint64
	Name      string
	Value     float64
}

const (
	MetricChangeSrcTotal       = "changesrc_total"
	MetricChangeSrcFailedTotal = "changesrc_failed_total"
	MetricFirstFrameLatency    = "first_frame_latency_seconds"
	MetricStopTotal            = "stop_total"
)

const containerClass = "clsp-player-container"
const videoClass = "clsp-player"
const fullscreenClass = "clsp-fullscreen-active"

// DefaultConnectionChangePlayDelay is the default §6 config value for how
// long to wait after an "online" signal before restarting: browser-reported
// online events precede actual network readiness.
const DefaultConnectionChangePlayDelay = 5 * time.Second

// Config configures a Session's surfaces and timing knobs. Exactly one of
// {ContainerElementID, ContainerElement, VideoElementID, VideoElement} (or
// a video plus a container) must resolve to a usable surface.
type Config struct {
	ContainerElementID string
	ContainerElement   surface.ContainerSurface
	VideoElementID     string
	VideoElement       surface.VideoSurface

	// MediaBufferFactory builds a fresh MediaBuffer for each player this
	// session creates. Required: the buffer is the one piece of a real
	// DOM binding this package cannot default on the caller's behalf.
	MediaBufferFactory func() surface.MediaBuffer

	BufPool *bufpool.Pool

	// PlayerFactory overrides how each player is built. Nil uses the
	// session's own conduit+player wiring; tests supply a double bound
	// to no real transport.
	PlayerFactory collection.Factory

	EnableMetrics             bool
	ShowNextVideoDelay        time.Duration
	ConnectionChangePlayDelay time.Duration
}

// applyDefaults fills zero values with sensible defaults, in the teacher's
// Config.applyDefaults style.
func (c *Config) applyDefaults() {
	if c.ShowNextVideoDelay <= 0 {
		c.ShowNextVideoDelay = collection.DefaultShowNextVideoDelay
	}
	if c.ConnectionChangePlayDelay <= 0 {
		c.ConnectionChangePlayDelay = DefaultConnectionChangePlayDelay
	}
}

// Session is the user-facing handle for one rendering surface.
type Session struct {
	id       uint64
	cfg      Config
	resolver surface.ElementResolver
	watcher  surface.EnvironmentWatcher
	pool     *bufpool.Pool

	collection *collection.Collection
	bus        *eventbus.Bus
	life       *lifecycle.Destroyable
	log        *slog.Logger

	cmds      chan func()
	stopOwner chan struct{}

	mu                                  sync.Mutex
	container                           surface.ContainerSurface
	video                               surface.VideoSurface
	shouldRetainSurface                 bool
	hidden                              bool
	streamConfiguration                 *streamconfig.StreamConfiguration
	pendingChangeSrcStreamConfiguration *streamconfig.StreamConfiguration
	stopGen                             chan struct{}
	frameWaiters                        map[uint64]chan struct{}
	connectionTimer                     *time.Timer

	stopping atomic.Bool

	unsubVisibility func()
	unsubConnection func()
}

// New constructs a Session bound to one surface, resolving or creating its
// video/container elements per initializeElements semantics, then starts
// its owner goroutine.
func New(id uint64, cfg Config, resolver surface.ElementResolver, watcher surface.EnvironmentWatcher, log *slog.Logger) (*Session, error) {
	const op = "session.New"
	if resolver == nil {
		return nil, clsperrors.NewNoSurface(op)
	}
	if watcher == nil {
		return nil, clsperrors.NewUnsupportedEnvironment(op)
	}
	cfg.applyDefaults()
	if log == nil {
		log = logger.Logger()
	}
	log = logger.WithSession(log, id)

	pool := cfg.BufPool
	if pool == nil {
		pool = bufpool.New()
	}

	s := &Session{
		id:           id,
		cfg:          cfg,
		resolver:     resolver,
		watcher:      watcher,
		pool:         pool,
		bus:          eventbus.New(eventNames, log),
		cmds:         make(chan func(), 1),
		stopOwner:    make(chan struct{}),
		stopGen:      make(chan struct{}),
		frameWaiters: make(map[uint64]chan struct{}),
		log:          log,
	}
	s.life = lifecycle.NewDestroyable(s.teardown)

	if err := s.initializeElements(cfg); err != nil {
		return nil, err
	}

	factory := cfg.PlayerFactory
	if factory == nil {
		factory = s.playerFactory
	}
	s.collection = collection.New(factory, cfg.ShowNextVideoDelay, log)
	_ = s.collection.On(collection.EventFirstFrameShown, s.onCollectionFirstFrame)
	_ = s.collection.On(collection.EventVideoReceived, func(p any) { s.bus.Emit(EventVideoReceived, p) })
	_ = s.collection.On(collection.EventVideoInfoReceived, func(p any) { s.bus.Emit(EventVideoInfoReceived, p) })
	_ = s.collection.On(collection.EventIframeDestroyedExternally, func(p any) {
		s.bus.Emit(EventIframeDestroyedExternally, p)
	})
	_ = s.collection.On(collection.EventReinitializeError, func(p any) { s.bus.Emit(EventReinitializeError, p) })
	_ = s.collection.On(collection.EventRetryError, func(p any) { s.bus.Emit(EventRetryError, p) })

	s.unsubVisibility = watcher.OnVisibilityChange(s.onVisibilityChange)
	s.unsubConnection = watcher.OnConnectionChange(s.onConnectionChange)

	go s.run()

	return s, nil
}

// ID returns this session's process-unique identifier.
func (s *Session) ID() uint64 { return s.id }

// On subscribes handler to one of the Session's whitelisted events.
func (s *Session) On(name eventbus.Name, handler eventbus.Handler) error {
	return s.bus.On(name, handler)
}

// IsDestroyed reports whether Destroy has been called.
func (s *Session) IsDestroyed() bool { return s.life.IsDestroyed() }

// IsDestroyComplete reports whether teardown has finished running.
func (s *Session) IsDestroyComplete() bool { return s.life.IsDestroyComplete() }

// StreamConfiguration returns the currently committed target, or nil if
// changeSrc has never been called.
func (s *Session) StreamConfiguration() *streamconfig.StreamConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamConfiguration
}

// TargetStreamConfiguration returns the in-flight changeSrc target if one
// is running, else the committed streamConfiguration. The Registry reads
// this to know what to retry against (spec §4.8 step 2).
func (s *Session) TargetStreamConfiguration() *streamconfig.StreamConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingChangeSrcStreamConfiguration != nil {
		return s.pendingChangeSrcStreamConfiguration
	}
	return s.streamConfiguration
}

func (s *Session) run() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-s.stopOwner:
			return
		}
	}
}

// initializeElements resolves or creates this session's container/video
// surfaces and applies the marker classes and default video attributes.
func (s *Session) initializeElements(cfg Config) error {
	const op = "session.initializeElements"

	var container surface.ContainerSurface
	var video surface.VideoSurface
	var retain bool

	switch {
	case cfg.VideoElement != nil:
		video = cfg.VideoElement
		retain = true
	case cfg.VideoElementID != "":
		v, ok := s.resolver.ResolveVideo(cfg.VideoElementID)
		if !ok {
			return clsperrors.NewNoSurface(op)
		}
		video = v
		retain = true
	}

	switch {
	case cfg.ContainerElement != nil:
		container = cfg.ContainerElement
	case cfg.ContainerElementID != "":
		c, ok := s.resolver.ResolveContainer(cfg.ContainerElementID)
		if !ok {
			return clsperrors.NewNoSurface(op)
		}
		container = c
	}

	if video == nil {
		if container == nil {
			return clsperrors.NewNoSurface(op)
		}
		created, err := s.resolver.CreateVideoIn(container)
		if err != nil {
			return clsperrors.NewNoSurface(op)
		}
		video = created
		retain = false
	}

	if container != nil {
		container.AddClass(containerClass)
	}
	video.AddClass(videoClass)
	video.SetMuted(true)
	video.SetPlaysInline(true)

	s.container = container
	s.video = video
	s.shouldRetainSurface = retain
	return nil
}

// uninitializeElements detaches the media source before removing or
// releasing the surface, in that order: detaching first prevents a
// buffer-backed surface from leaking its backing store (spec §9's
// resolved "surface lifecycle ambiguity"). A retained (caller-supplied)
// surface is never removed, only stripped of its marker classes.
func (s *Session) uninitializeElements() {
	if s.video != nil {
		s.video.DetachSource()
		s.video.RemoveClass(videoClass)
		if !s.shouldRetainSurface {
			s.resolver.Remove(s.video)
		}
	}
	if s.container != nil {
		s.container.RemoveClass(containerClass)
		s.container.RemoveClass(fullscreenClass)
	}
}

func (s *Session) playerFactory(id uint64, cfg *streamconfig.StreamConfiguration) (collection.Player, error) {
	const op = "session.playerFactory"
	if s.cfg.MediaBufferFactory == nil {
		return nil, clsperrors.NewNoSurface(op)
	}
	buf := s.cfg.MediaBufferFactory()
	cd := conduit.New(cfg, s.log)
	return player.New(s.id, id, cfg, cd, buf, s.video, s.pool, s.log), nil
}

// ChangeSrc implements the source's changeSrc: parse or accept a target
// configuration, defer starting a player while the document is hidden,
// otherwise create one via the collection and await its own
// FIRST_FRAME_SHOWN (ignoring events carrying any other player id).
func (s *Session) ChangeSrc(ctx context.Context, urlOrConfig any) error {
	const op = "session.ChangeSrc"
	if s.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reply := make(chan error, 1)
	cmd := func() { reply <- s.runChangeSrc(ctx, urlOrConfig) }

	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return clsperrors.NewChangeSrcFailed(op, ctx.Err())
	case <-s.stopOwner:
		return clsperrors.NewAlreadyDestroyed(op)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return clsperrors.NewChangeSrcFailed(op, ctx.Err())
	}
}

func (s *Session) runChangeSrc(ctx context.Context, urlOrConfig any) error {
	const op = "session.changeSrc"
	start := time.Now()
	s.emitMetric(MetricChangeSrcTotal, 1)

	cfg, err := resolveStreamConfiguration(urlOrConfig)
	if err != nil {
		s.emitMetric(MetricChangeSrcFailedTotal, 1)
		return err
	}

	s.mu.Lock()
	s.pendingChangeSrcStreamConfiguration = cfg
	hidden := s.hidden
	s.mu.Unlock()

	if hidden {
		s.mu.Lock()
		s.streamConfiguration = cfg
		s.pendingChangeSrcStreamConfiguration = nil
		s.mu.Unlock()
		return nil
	}

	id, err := s.collection.Create(ctx, cfg)
	if err != nil {
		s.mu.Lock()
		s.pendingChangeSrcStreamConfiguration = nil
		s.mu.Unlock()
		s.emitMetric(MetricChangeSrcFailedTotal, 1)
		return clsperrors.NewChangeSrcFailed(op, err)
	}

	waitCh := s.registerFirstFrameWaiter(id)
	stopGen := s.currentStopGeneration()
	defer s.unregisterFirstFrameWaiter(id)

	select {
	case <-waitCh:
		s.mu.Lock()
		s.streamConfiguration = cfg
		s.pendingChangeSrcStreamConfiguration = nil
		s.mu.Unlock()
		s.emitMetric(MetricFirstFrameLatency, time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		s.emitMetric(MetricChangeSrcFailedTotal, 1)
		return clsperrors.NewChangeSrcFailed(op, ctx.Err())
	case <-stopGen:
		if s.life.IsDestroyed() {
			return clsperrors.NewAlreadyDestroyed(op)
		}
		s.emitMetric(MetricChangeSrcFailedTotal, 1)
		return clsperrors.NewChangeSrcFailed(op, errors.New("session stopped before first frame"))
	}
}

func resolveStreamConfiguration(urlOrConfig any) (*streamconfig.StreamConfiguration, error) {
	const op = "session.changeSrc"
	if streamconfig.IsStreamConfiguration(urlOrConfig) {
		cfg := urlOrConfig.(*streamconfig.StreamConfiguration)
		if cfg == nil {
			return nil, clsperrors.NewMissingURL(op)
		}
		return cfg, nil
	}
	if raw, ok := urlOrConfig.(string); ok {
		if raw == "" {
			return nil, clsperrors.NewMissingURL(op)
		}
		return streamconfig.FromURL(raw)
	}
	return nil, clsperrors.NewMissingURL(op)
}

// emitMetric reports a named measurement on the session's own bus, a no-op
// unless the caller opted into EnableMetrics.
func (s *Session) emitMetric(name string, value float64) {
	if !s.cfg.EnableMetrics {
		return
	}
	s.bus.Emit(EventMetric, MetricPayload{SessionID: s.id, Name: name, Value: value})
}

func (s *Session) onCollectionFirstFrame(payload any) {
	id, _ := payload.(uint64)
	s.bus.Emit(EventFirstFrameShown, id)

	s.mu.Lock()
	ch, ok := s.frameWaiters[id]
	if ok {
		delete(s.frameWaiters, id)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
	}
}

func (s *Session) registerFirstFrameWaiter(id uint64) <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.frameWaiters[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) unregisterFirstFrameWaiter(id uint64) {
	s.mu.Lock()
	delete(s.frameWaiters, id)
	s.mu.Unlock()
}

func (s *Session) currentStopGeneration() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopGen
}

func (s *Session) bumpStopGeneration() {
	s.mu.Lock()
	close(s.stopGen)
	s.stopGen = make(chan struct{})
	s.mu.Unlock()
}

// Stop idempotently tears down every live player. A concurrent call while
// a stop is already in flight observes the guard and returns immediately
// without doing additional work (spec L2); a stop concurrent with an
// in-flight changeSrc wakes it so it fails with ChangeSrcFailed instead of
// resolving against a player this call just destroyed.
func (s *Session) Stop() error {
	const op = "session.Stop"
	if s.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}
	return s.doStop(context.Background())
}

func (s *Session) doStop(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	defer s.stopping.Store(false)

	s.bumpStopGeneration()
	s.clearTimers()
	s.emitMetric(MetricStopTotal, 1)
	return s.collection.RemoveAll(ctx)
}

// Restart stops, then changeSrc's back to the last committed target. Stop
// errors are logged and swallowed; changeSrc errors propagate.
func (s *Session) Restart() error {
	const op = "session.Restart"
	if s.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}

	if err := s.doStop(context.Background()); err != nil {
		s.log.Warn("stop failed during restart", "error", err)
	}

	s.mu.Lock()
	cfg := s.streamConfiguration
	s.mu.Unlock()
	if cfg == nil {
		s.bus.Emit(EventNoStreamConfiguration, nil)
		return nil
	}
	return s.ChangeSrc(context.Background(), cfg)
}

func (s *Session) onVisibilityChange(hidden bool) {
	s.mu.Lock()
	s.hidden = hidden
	s.mu.Unlock()

	if hidden {
		if err := s.Stop(); err != nil {
			s.log.Warn("stop failed on visibility change", "error", err)
		}
		return
	}
	if err := s.Restart(); err != nil {
		s.log.Warn("restart failed on visibility change", "error", err)
	}
}

func (s *Session) onConnectionChange(online bool) {
	if !online {
		if err := s.Stop(); err != nil {
			s.log.Warn("stop failed on connection change", "error", err)
		}
		return
	}
	s.scheduleDelayedRestart()
}

func (s *Session) scheduleDelayedRestart() {
	s.mu.Lock()
	if s.connectionTimer != nil {
		s.connectionTimer.Stop()
	}
	s.connectionTimer = time.AfterFunc(s.cfg.ConnectionChangePlayDelay, func() {
		if s.life.IsDestroyed() {
			return
		}
		if err := s.Restart(); err != nil {
			s.log.Warn("restart failed after connection change delay", "error", err)
		}
	})
	s.mu.Unlock()
}

func (s *Session) clearTimers() {
	s.mu.Lock()
	if s.connectionTimer != nil {
		s.connectionTimer.Stop()
		s.connectionTimer = nil
	}
	s.mu.Unlock()
}

// EnterFullscreen requests fullscreen on the container, not the video
// surface: the video surface is destroyed on every handoff, so only the
// container is stable enough to hold the fullscreen request.
func (s *Session) EnterFullscreen() error {
	const op = "session.EnterFullscreen"
	if s.container == nil {
		return clsperrors.NewNoSurface(op)
	}
	if err := s.container.RequestFullscreen(); err != nil {
		return clsperrors.NewUnsupportedEnvironment(op)
	}
	s.container.AddClass(fullscreenClass)
	return nil
}

// ExitFullscreen delegates the exit itself to the container (standing in
// for "the document" in a real DOM binding).
func (s *Session) ExitFullscreen() error {
	const op = "session.ExitFullscreen"
	if s.container == nil {
		return clsperrors.NewNoSurface(op)
	}
	err := s.container.ExitFullscreen()
	s.container.RemoveClass(fullscreenClass)
	return err
}

// ToggleFullscreen flips between EnterFullscreen and ExitFullscreen based
// on the container's current fullscreen marker class.
func (s *Session) ToggleFullscreen() error {
	if s.container != nil && s.container.HasClass(fullscreenClass) {
		return s.ExitFullscreen()
	}
	return s.EnterFullscreen()
}

// Destroy stops the owner goroutine, releases every player, and releases
// or detaches the rendering surface. Safe to call more than once; only
// the first call does work.
func (s *Session) Destroy() error { return s.life.Destroy() }

func (s *Session) teardown() error {
	close(s.stopOwner)

	if s.unsubVisibility != nil {
		s.unsubVisibility()
	}
	if s.unsubConnection != nil {
		s.unsubConnection()
	}
	s.clearTimers()
	s.bumpStopGeneration()

	if err := s.collection.RemoveAll(context.Background()); err != nil {
		s.log.Warn("collection removeAll failed during session teardown", "error", err)
	}
	if err := s.collection.Destroy(); err != nil {
		s.log.Warn("collection destroy failed during session teardown", "error", err)
	}

	s.uninitializeElements()
	s.bus.RemoveAllListeners()
	return nil
}
