package surface

import "time"

// FakeContainerSurface is an in-memory ContainerSurface for tests.
type FakeContainerSurface struct {
	classes       map[string]struct{}
	Fullscreen    bool
	FullscreenErr error
}

// NewFakeContainerSurface creates an empty FakeContainerSurface.
func NewFakeContainerSurface() *FakeContainerSurface {
	return &FakeContainerSurface{classes: make(map[string]struct{})}
}

func (f *FakeContainerSurface) AddClass(name string)    { f.classes[name] = struct{}{} }
func (f *FakeContainerSurface) RemoveClass(name string) { delete(f.classes, name) }
func (f *FakeContainerSurface) HasClass(name string) bool {
	_, ok := f.classes[name]
	return ok
}
func (f *FakeContainerSurface) RequestFullscreen() error {
	if f.FullscreenErr != nil {
		return f.FullscreenErr
	}
	f.Fullscreen = true
	return nil
}
func (f *FakeContainerSurface) ExitFullscreen() error {
	f.Fullscreen = false
	return nil
}

// FakeVideoSurface is an in-memory VideoSurface for tests.
type FakeVideoSurface struct {
	classes       map[string]struct{}
	Muted         bool
	PlaysInline   bool
	AttachedURL   string
	Attached      bool
	frameCbs      []func()
	hostRemoveCbs []func()
}

// NewFakeVideoSurface creates an empty FakeVideoSurface.
func NewFakeVideoSurface() *FakeVideoSurface {
	return &FakeVideoSurface{classes: make(map[string]struct{})}
}

func (f *FakeVideoSurface) AddClass(name string)    { f.classes[name] = struct{}{} }
func (f *FakeVideoSurface) RemoveClass(name string) { delete(f.classes, name) }
func (f *FakeVideoSurface) HasClass(name string) bool {
	_, ok := f.classes[name]
	return ok
}
func (f *FakeVideoSurface) SetMuted(muted bool)       { f.Muted = muted }
func (f *FakeVideoSurface) SetPlaysInline(inline bool) { f.PlaysInline = inline }

func (f *FakeVideoSurface) AttachSource(mediaSourceURL string) error {
	f.AttachedURL = mediaSourceURL
	f.Attached = true
	return nil
}

func (f *FakeVideoSurface) DetachSource() {
	f.AttachedURL = ""
	f.Attached = false
}

func (f *FakeVideoSurface) OnFrameRendered(cb func()) { f.frameCbs = append(f.frameCbs, cb) }
func (f *FakeVideoSurface) OnHostRemoved(cb func())   { f.hostRemoveCbs = append(f.hostRemoveCbs, cb) }

// FireFrameRendered invokes every registered frame-rendered callback, for
// tests driving a Player toward FIRST_FRAME_SHOWN.
func (f *FakeVideoSurface) FireFrameRendered() {
	for _, cb := range f.frameCbs {
		cb()
	}
}

// FireHostRemoved invokes every registered host-removed callback.
func (f *FakeVideoSurface) FireHostRemoved() {
	for _, cb := range f.hostRemoveCbs {
		cb()
	}
}

// FakeMediaBuffer is an in-memory MediaBuffer for tests. Each buffered
// segment is assigned a synthetic 1-second duration so eviction math
// stays simple and deterministic.
type FakeMediaBuffer struct {
	Init             []byte
	Segments         [][]byte
	FailNextAppends  int
	FailNextOverruns int
	segmentDuration  time.Duration
	EvictErr         error
}

// NewFakeMediaBuffer creates an empty FakeMediaBuffer.
func NewFakeMediaBuffer() *FakeMediaBuffer {
	return &FakeMediaBuffer{segmentDuration: time.Second}
}

func (f *FakeMediaBuffer) AppendInit(data []byte) error {
	if f.FailNextAppends > 0 {
		f.FailNextAppends--
		return ErrQuotaExceeded
	}
	f.Init = data
	return nil
}

func (f *FakeMediaBuffer) AppendMedia(data []byte) error {
	if f.FailNextOverruns > 0 {
		f.FailNextOverruns--
		return ErrBufferOverrun
	}
	if f.FailNextAppends > 0 {
		f.FailNextAppends--
		return ErrQuotaExceeded
	}
	f.Segments = append(f.Segments, data)
	return nil
}

func (f *FakeMediaBuffer) EvictOldest(minDuration time.Duration) (time.Duration, error) {
	if f.EvictErr != nil {
		return 0, f.EvictErr
	}
	var evicted time.Duration
	for (evicted < minDuration || evicted == 0) && len(f.Segments) > 0 {
		f.Segments = f.Segments[1:]
		evicted += f.segmentDuration
	}
	return evicted, nil
}

// FakeElementResolver is an in-memory ElementResolver for tests.
type FakeElementResolver struct {
	containers map[string]ContainerSurface
	videos     map[string]VideoSurface
	created    map[VideoSurface]struct{}
	CreateErr  error
}

// NewFakeElementResolver creates a resolver with the given pre-registered
// containers and videos (either map may be nil).
func NewFakeElementResolver(containers map[string]ContainerSurface, videos map[string]VideoSurface) *FakeElementResolver {
	if containers == nil {
		containers = make(map[string]ContainerSurface)
	}
	if videos == nil {
		videos = make(map[string]VideoSurface)
	}
	return &FakeElementResolver{containers: containers, videos: videos, created: make(map[VideoSurface]struct{})}
}

func (f *FakeElementResolver) ResolveContainer(id string) (ContainerSurface, bool) {
	c, ok := f.containers[id]
	return c, ok
}

func (f *FakeElementResolver) ResolveVideo(id string) (VideoSurface, bool) {
	v, ok := f.videos[id]
	return v, ok
}

func (f *FakeElementResolver) CreateVideoIn(container ContainerSurface) (VideoSurface, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	v := NewFakeVideoSurface()
	f.created[v] = struct{}{}
	return v, nil
}

func (f *FakeElementResolver) Remove(v VideoSurface) {
	delete(f.created, v)
}

// IsSessionOwned reports whether v was created by this resolver (as
// opposed to externally supplied), for test assertions.
func (f *FakeElementResolver) IsSessionOwned(v VideoSurface) bool {
	_, ok := f.created[v]
	return ok
}

// FakeEnvironmentWatcher is an in-memory EnvironmentWatcher for tests,
// allowing a test to directly fire visibility/connectivity changes.
type FakeEnvironmentWatcher struct {
	visCbs  []func(hidden bool)
	connCbs []func(online bool)
}

// NewFakeEnvironmentWatcher creates a watcher with no subscribers yet.
func NewFakeEnvironmentWatcher() *FakeEnvironmentWatcher {
	return &FakeEnvironmentWatcher{}
}

func (f *FakeEnvironmentWatcher) OnVisibilityChange(cb func(hidden bool)) func() {
	f.visCbs = append(f.visCbs, cb)
	idx := len(f.visCbs) - 1
	return func() { f.visCbs[idx] = nil }
}

func (f *FakeEnvironmentWatcher) OnConnectionChange(cb func(online bool)) func() {
	f.connCbs = append(f.connCbs, cb)
	idx := len(f.connCbs) - 1
	return func() { f.connCbs[idx] = nil }
}

// FireVisibilityChange invokes every live visibility subscriber.
func (f *FakeEnvironmentWatcher) FireVisibilityChange(hidden bool) {
	for _, cb := range f.visCbs {
		if cb != nil {
			cb(hidden)
		}
	}
}

// FireConnectionChange invokes every live connectivity subscriber.
func (f *FakeEnvironmentWatcher) FireConnectionChange(online bool) {
	for _, cb := range f.connCbs {
		if cb != nil {
			cb(online)
		}
	}
}
