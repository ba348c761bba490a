// Package surface declares the DOM/video-surface collaborators the
// session core depends on but does not implement (spec §6: the
// rendering surface itself is explicitly out of scope). Every interface
// here is the contract a real browser binding (syscall/js or otherwise)
// must satisfy; this module ships only the contract plus Fake
// implementations used by tests.
package surface

import (
	"errors"
	"time"
)

// ErrQuotaExceeded is returned by MediaBuffer.Append* when the buffer is
// full and must evict before more data can be appended, standing in for
// the browser's QuotaExceededError.
var ErrQuotaExceeded = errors.New("media buffer quota exceeded")

// ErrBufferOverrun is returned by MediaBuffer.AppendMedia when the
// feeder's bounded append queue is full. Unlike ErrQuotaExceeded this is
// not retried: the caller drops the segment from the head of the queue
// and requests a resync instead.
var ErrBufferOverrun = errors.New("media buffer append queue overrun")

// MediaBuffer is the media-source buffer a Player appends fMP4 segments
// to, standing in for a browser SourceBuffer/MediaSource pair.
type MediaBuffer interface {
	AppendInit(data []byte) error
	AppendMedia(data []byte) error

	// EvictOldest discards at least minDuration of the oldest buffered
	// data (at least one buffered range when minDuration is zero),
	// reporting how much buffered duration was actually evicted.
	EvictOldest(minDuration time.Duration) (evicted time.Duration, err error)
}

// ContainerSurface is the element hosting a player's video surface.
type ContainerSurface interface {
	AddClass(name string)
	RemoveClass(name string)
	HasClass(name string) bool
	RequestFullscreen() error
	ExitFullscreen() error
}

// VideoSurface is the element a Player attaches its media source to.
type VideoSurface interface {
	AddClass(name string)
	RemoveClass(name string)
	HasClass(name string) bool
	SetMuted(muted bool)
	SetPlaysInline(inline bool)

	// AttachSource binds a media source (e.g. a MediaSource object URL)
	// to the surface. DetachSource releases it; both are no-ops if
	// called when already in the target state.
	AttachSource(mediaSourceURL string) error
	DetachSource()

	// OnFrameRendered registers a callback invoked the first time (and
	// only the first time, per the host binding's own contract) a frame
	// is actually painted to the surface. The Player uses this to emit
	// FIRST_FRAME_SHOWN.
	OnFrameRendered(cb func())

	// OnHostRemoved registers a callback invoked if the surface's host
	// DOM node is detached out-of-band (e.g. an embedding page replaced
	// it). The Player uses this to emit IFRAME_DESTROYED_EXTERNALLY.
	OnHostRemoved(cb func())
}

// ElementResolver resolves the ids/elements a session's initializeElements
// call may be given, and creates a session-owned VideoSurface when the
// caller supplied only a container.
type ElementResolver interface {
	ResolveContainer(id string) (ContainerSurface, bool)
	ResolveVideo(id string) (VideoSurface, bool)

	// CreateVideoIn creates a new video surface as a child of container.
	// The returned surface is owned by the caller (the Session), which
	// must call Remove on destroy unless the surface was externally
	// supplied.
	CreateVideoIn(container ContainerSurface) (VideoSurface, error)

	// Remove detaches and discards a session-owned video surface created
	// via CreateVideoIn. Calling Remove on a caller-supplied surface is
	// the session's bug, not this method's to guard against.
	Remove(v VideoSurface)
}

// EnvironmentWatcher reports document visibility and network connectivity
// changes. Both subscriptions return an unsubscribe func the Session
// calls during its own teardown.
type EnvironmentWatcher interface {
	OnVisibilityChange(cb func(hidden bool)) (unsubscribe func())
	OnConnectionChange(cb func(online bool)) (unsubscribe func())
}
