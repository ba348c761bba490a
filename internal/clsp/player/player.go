// Package player implements the Player (C5): one Conduit plus one
// media-buffer feeder bound to a rendering surface. It is grounded on the
// teacher's codec_detector.go one-shot detection pattern (generalized from
// FLV tags to fMP4 stsd boxes, see codec.go) and on conn.Connection's
// state-machine-by-field-plus-mutex shape, replacing its fixed
// handshake/read/write states with the spec's eight-state player
// lifecycle.
package player

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/clspio/clsp-go/internal/bufpool"
	"github.com/clspio/clsp-go/internal/clsp/conduit"
	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/lifecycle"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	"github.com/clspio/clsp-go/internal/clsp/surface"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
	"github.com/clspio/clsp-go/internal/logger"
)

// State is one of the eight Player lifecycle states (spec §4.5).
type State uint8

const (
	StateCreated State = iota
	StateConnecting
	StateSubscribed
	StateReceivingInit
	StateStreaming
	StateStalled
	StateStopping
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceivingInit:
		return "receiving_init"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StateStopping:
		return "stopping"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Event names emitted on a Player's Bus.
const (
	EventFirstFrameShown           eventbus.Name = "FIRST_FRAME_SHOWN"
	EventVideoReceived             eventbus.Name = "VIDEO_RECEIVED"
	EventVideoInfoReceived         eventbus.Name = "VIDEO_INFO_RECEIVED"
	EventIframeDestroyedExternally eventbus.Name = "IFRAME_DESTROYED_EXTERNALLY"
	// EventReinitializeError keeps the source's misspelling verbatim: it
	// is a wire-level event name other CLSP clients may already expect.
	EventReinitializeError eventbus.Name = "REINITIALZE_ERROR"
	EventRetryError        eventbus.Name = "RETRY_ERROR"
)

var eventNames = []eventbus.Name{
	EventFirstFrameShown,
	EventVideoReceived,
	EventVideoInfoReceived,
	EventIframeDestroyedExternally,
	EventReinitializeError,
	EventRetryError,
}

// maxAppendRetries bounds Streaming -> Stalled -> Dead transitions (spec
// §4.5: "at most N=3 retries before emitting RETRY_ERROR and moving to
// Dead").
const maxAppendRetries = 3

// minEvictDuration is the minimum amount of oldest buffered data evicted on
// a quota exceeded append failure before the single retry.
const minEvictDuration = 2 * time.Second

// CodecInfo is the VIDEO_INFO_RECEIVED payload: the fourcc of the first
// video/audio sample entry found in the init segment, or "" if absent.
type CodecInfo struct {
	VideoCodec string
	AudioCodec string
}

// Player owns one Conduit and one media buffer feeder bound to a video
// surface, for exactly one PlayerId within one Session.
type Player struct {
	id        uint64
	sessionID uint64
	cfg       *streamconfig.StreamConfiguration
	conduit   *conduit.Conduit
	buffer    surface.MediaBuffer
	video     surface.VideoSurface
	pool      *bufpool.Pool
	bus       *eventbus.Bus
	life      *lifecycle.Destroyable
	log       *slog.Logger

	mu                sync.Mutex
	state             State
	firstFrameEmitted bool
	retries           int
}

// New constructs a Player bound to one session's stream configuration,
// conduit, media buffer, and video surface. Conduit and video surface
// callbacks are wired immediately; Play must be called to begin
// connecting.
func New(sessionID, id uint64, cfg *streamconfig.StreamConfiguration, cd *conduit.Conduit, buffer surface.MediaBuffer, video surface.VideoSurface, pool *bufpool.Pool, log *slog.Logger) *Player {
	if log == nil {
		log = logger.Logger()
	}
	log = logger.WithPlayer(log, sessionID, id)
	if pool == nil {
		pool = bufpool.New()
	}

	p := &Player{
		id:        id,
		sessionID: sessionID,
		cfg:       cfg,
		conduit:   cd,
		buffer:    buffer,
		video:     video,
		pool:      pool,
		bus:       eventbus.New(eventNames, log),
		log:       log,
	}
	p.life = lifecycle.NewDestroyable(p.teardown)

	_ = cd.On(conduit.EventConnected, p.handleConnected)
	_ = cd.On(conduit.EventDisconnected, p.handleDisconnected)
	_ = cd.On(conduit.EventInitSegment, p.handleInitSegment)
	_ = cd.On(conduit.EventMediaSegment, p.handleMediaSegment)
	_ = cd.On(conduit.EventReconnectNeeded, p.handleReconnectNeeded)

	video.OnFrameRendered(p.onFrameRendered)
	video.OnHostRemoved(p.onHostRemoved)

	return p
}

// ID returns this player's id, scoped to its owning session.
func (p *Player) ID() uint64 { return p.id }

// State returns the player's current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// On subscribes handler to one of the Player's declared events.
func (p *Player) On(name eventbus.Name, handler eventbus.Handler) error {
	return p.bus.On(name, handler)
}

// IsDestroyed reports whether Destroy/Stop has been called.
func (p *Player) IsDestroyed() bool { return p.life.IsDestroyed() }

// Play begins the Created -> Connecting transition: connect the conduit,
// then wait for its CONNECTED callback to drive Subscribed and beyond.
// Play does not block for FIRST_FRAME_SHOWN; the caller (PlayerCollection)
// observes that via the event bus.
func (p *Player) Play(ctx context.Context) error {
	const op = "player.Play"
	if p.life.IsDestroyed() {
		return clsperrors.NewAlreadyDestroyed(op)
	}
	p.setState(StateConnecting)
	if err := p.conduit.Connect(ctx); err != nil {
		p.setState(StateDead)
		return clsperrors.NewChangeSrcFailed(op, err)
	}
	return nil
}

// Stop publishes a stop command, unsubscribes, disconnects, and releases
// the buffer. It is equivalent to Destroy with an explicit Stopping state
// transition first.
func (p *Player) Stop() error {
	p.setState(StateStopping)
	return p.life.Destroy()
}

// Destroy releases this player's resources. Safe to call more than once;
// only the first call does work.
func (p *Player) Destroy() error { return p.life.Destroy() }

func (p *Player) teardown() error {
	p.bus.RemoveAllListeners()
	if err := p.conduit.Stop(); err != nil {
		p.log.Warn("stop command failed during teardown", "error", err)
	}
	if err := p.conduit.Destroy(); err != nil {
		p.log.Warn("conduit destroy failed during teardown", "error", err)
	}
	p.video.DetachSource()
	p.setState(StateDead)
	return nil
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Player) handleConnected(any) {
	p.mu.Lock()
	if p.state == StateConnecting {
		p.state = StateSubscribed
	}
	p.mu.Unlock()

	if err := p.conduit.Play(); err != nil {
		p.log.Error("failed to publish play command", "error", err)
	}
}

func (p *Player) handleDisconnected(payload any) {
	p.log.Info("conduit disconnected", "cause", payload)
}

func (p *Player) handleReconnectNeeded(any) {
	p.log.Warn("conduit requested reconnect; relying on transport auto-reconnect")
}

func (p *Player) onFrameRendered() {
	p.mu.Lock()
	if p.firstFrameEmitted {
		p.mu.Unlock()
		return
	}
	p.firstFrameEmitted = true
	p.mu.Unlock()
	p.bus.Emit(EventFirstFrameShown, p.id)
}

func (p *Player) onHostRemoved() {
	p.bus.Emit(EventIframeDestroyedExternally, p.id)
}

func (p *Player) handleInitSegment(payload any) {
	data, ok := payload.([]byte)
	if !ok {
		return
	}

	p.mu.Lock()
	if p.state != StateSubscribed {
		p.mu.Unlock()
		return
	}
	p.state = StateReceivingInit
	p.mu.Unlock()

	buf := p.pool.Get(len(data))
	copy(buf, data)

	if err := p.buffer.AppendInit(buf); err != nil {
		p.handleAppendFailure(clsperrors.NewBufferError("player.handleInitSegment", err))
		return
	}

	videoCodec, audioCodec := detectCodecs(buf)
	p.bus.Emit(EventVideoInfoReceived, CodecInfo{VideoCodec: videoCodec, AudioCodec: audioCodec})

	if err := p.video.AttachSource(mediaSourceURL(p.sessionID, p.id)); err != nil {
		p.log.Error("failed to attach media source", "error", err)
	}

	p.setState(StateStreaming)
}

func (p *Player) handleMediaSegment(payload any) {
	data, ok := payload.([]byte)
	if !ok {
		return
	}

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != StateStreaming && state != StateStalled {
		return
	}

	buf := p.pool.Get(len(data))
	copy(buf, data)

	p.bus.Emit(EventVideoReceived, len(buf))

	if err := p.appendWithRetry(buf); err != nil {
		p.handleAppendFailure(err)
		return
	}

	p.mu.Lock()
	if p.state == StateStalled {
		p.state = StateStreaming
		p.retries = 0
	}
	p.mu.Unlock()
}

// appendWithRetry implements the two distinct buffer-failure policies (spec
// §4.5/§4.4). Quota-exceeded: evict the oldest buffered range of at least
// minEvictDuration, then retry the append exactly once. Buffer overrun: the
// bounded append queue is full, so the segment at its head is dropped
// outright and a resync is requested instead of retried.
func (p *Player) appendWithRetry(buf []byte) error {
	err := p.buffer.AppendMedia(buf)
	if err == nil {
		p.pool.Put(buf)
		return nil
	}

	if errors.Is(err, surface.ErrBufferOverrun) {
		p.handleBufferOverrun(buf, err)
		return nil
	}

	if !errors.Is(err, surface.ErrQuotaExceeded) {
		return clsperrors.NewBufferError("player.appendWithRetry", err)
	}

	if _, evictErr := p.buffer.EvictOldest(minEvictDuration); evictErr != nil {
		return clsperrors.NewBufferError("player.appendWithRetry", evictErr)
	}
	if err := p.buffer.AppendMedia(buf); err != nil {
		return clsperrors.NewBufferError("player.appendWithRetry", err)
	}
	p.pool.Put(buf)
	return nil
}

// handleBufferOverrun drops the offending segment from the head of the
// bounded append queue rather than retrying it, and asks the conduit for a
// fresh init segment. It does not count against the retry budget: an
// overrun is the feeder discarding stale data to keep up, not a failed
// append.
func (p *Player) handleBufferOverrun(buf []byte, cause error) {
	if _, err := p.buffer.EvictOldest(0); err != nil {
		p.log.Warn("evict during buffer overrun failed", "error", err)
	}
	p.pool.Put(buf)
	p.log.Warn("buffer overrun, dropping from head and requesting resync", "error", cause)
	if err := p.conduit.Resync(); err != nil {
		p.log.Error("failed to publish resync after buffer overrun", "error", err)
	}
}

// handleAppendFailure implements Streaming -> Stalled -> Dead: it emits
// REINITIALZE_ERROR on every failure, publishes a resync on the Stalled
// transition (spec §4.4), and once the retry budget is exhausted emits
// RETRY_ERROR and moves to Dead.
func (p *Player) handleAppendFailure(cause error) {
	p.mu.Lock()
	p.retries++
	retries := p.retries
	p.mu.Unlock()

	p.bus.Emit(EventReinitializeError, cause)

	if retries > maxAppendRetries {
		p.setState(StateDead)
		p.bus.Emit(EventRetryError, cause)
		p.log.Error("player exhausted append retries, moving to dead", "retries", retries, "error", cause)
		return
	}

	p.setState(StateStalled)
	if err := p.conduit.Resync(); err != nil {
		p.log.Error("failed to publish resync on buffer stall", "error", err)
	}
	p.log.Warn("player stalled on append failure", "retries", retries, "error", cause)
}

func mediaSourceURL(sessionID, playerID uint64) string {
	return "clsp-media-source:" + strconv.FormatUint(sessionID, 10) + ":" + strconv.FormatUint(playerID, 10)
}
