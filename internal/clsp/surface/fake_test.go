package surface

import (
	"errors"
	"testing"
	"time"
)

var (
	_ ContainerSurface   = (*FakeContainerSurface)(nil)
	_ VideoSurface       = (*FakeVideoSurface)(nil)
	_ ElementResolver    = (*FakeElementResolver)(nil)
	_ EnvironmentWatcher = (*FakeEnvironmentWatcher)(nil)
	_ MediaBuffer        = (*FakeMediaBuffer)(nil)
)

func TestFakeContainerSurfaceClassList(t *testing.T) {
	c := NewFakeContainerSurface()
	c.AddClass("clsp-player-container")
	if !c.HasClass("clsp-player-container") {
		t.Fatalf("expected class present after AddClass")
	}
	c.RemoveClass("clsp-player-container")
	if c.HasClass("clsp-player-container") {
		t.Fatalf("expected class removed after RemoveClass")
	}
}

func TestFakeVideoSurfaceAttachDetach(t *testing.T) {
	v := NewFakeVideoSurface()
	if err := v.AttachSource("blob:abc"); err != nil {
		t.Fatalf("AttachSource: %v", err)
	}
	if !v.Attached || v.AttachedURL != "blob:abc" {
		t.Fatalf("expected attached source blob:abc, got attached=%v url=%q", v.Attached, v.AttachedURL)
	}
	v.DetachSource()
	if v.Attached {
		t.Fatalf("expected detached after DetachSource")
	}
}

func TestFakeVideoSurfaceFrameRenderedCallback(t *testing.T) {
	v := NewFakeVideoSurface()
	calls := 0
	v.OnFrameRendered(func() { calls++ })
	v.OnFrameRendered(func() { calls++ })
	v.FireFrameRendered()
	if calls != 2 {
		t.Fatalf("expected both callbacks invoked, got %d calls", calls)
	}
}

func TestFakeVideoSurfaceHostRemovedCallback(t *testing.T) {
	v := NewFakeVideoSurface()
	fired := false
	v.OnHostRemoved(func() { fired = true })
	v.FireHostRemoved()
	if !fired {
		t.Fatalf("expected host-removed callback invoked")
	}
}

func TestFakeElementResolverCreatesOwnedVideo(t *testing.T) {
	r := NewFakeElementResolver(nil, nil)
	container := NewFakeContainerSurface()
	v, err := r.CreateVideoIn(container)
	if err != nil {
		t.Fatalf("CreateVideoIn: %v", err)
	}
	if !r.IsSessionOwned(v) {
		t.Fatalf("expected created video to be session-owned")
	}
	r.Remove(v)
	if r.IsSessionOwned(v) {
		t.Fatalf("expected video no longer owned after Remove")
	}
}

func TestFakeElementResolverResolvesPreRegistered(t *testing.T) {
	c := NewFakeContainerSurface()
	v := NewFakeVideoSurface()
	r := NewFakeElementResolver(
		map[string]ContainerSurface{"c": c},
		map[string]VideoSurface{"v": v},
	)
	if got, ok := r.ResolveContainer("c"); !ok || got != c {
		t.Fatalf("expected to resolve pre-registered container")
	}
	if got, ok := r.ResolveVideo("v"); !ok || got != v {
		t.Fatalf("expected to resolve pre-registered video")
	}
	if _, ok := r.ResolveContainer("missing"); ok {
		t.Fatalf("expected missing id to resolve false")
	}
}

func TestFakeEnvironmentWatcherFiresAndUnsubscribes(t *testing.T) {
	w := NewFakeEnvironmentWatcher()
	var hiddenSeen []bool
	unsub := w.OnVisibilityChange(func(hidden bool) { hiddenSeen = append(hiddenSeen, hidden) })

	w.FireVisibilityChange(true)
	unsub()
	w.FireVisibilityChange(false)

	if len(hiddenSeen) != 1 || hiddenSeen[0] != true {
		t.Fatalf("expected exactly one callback before unsubscribe, got %v", hiddenSeen)
	}
}

func TestFakeMediaBufferAppendAndEvict(t *testing.T) {
	b := NewFakeMediaBuffer()
	if err := b.AppendInit([]byte("init")); err != nil {
		t.Fatalf("AppendInit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := b.AppendMedia([]byte{byte(i)}); err != nil {
			t.Fatalf("AppendMedia: %v", err)
		}
	}
	if len(b.Segments) != 3 {
		t.Fatalf("expected 3 buffered segments, got %d", len(b.Segments))
	}

	evicted, err := b.EvictOldest(2 * time.Second)
	if err != nil {
		t.Fatalf("EvictOldest: %v", err)
	}
	if evicted != 2*time.Second {
		t.Fatalf("expected 2s evicted, got %v", evicted)
	}
	if len(b.Segments) != 1 {
		t.Fatalf("expected 1 segment remaining, got %d", len(b.Segments))
	}
}

func TestFakeMediaBufferFailNextAppends(t *testing.T) {
	b := NewFakeMediaBuffer()
	b.FailNextAppends = 1
	if err := b.AppendMedia([]byte("x")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if err := b.AppendMedia([]byte("x")); err != nil {
		t.Fatalf("expected second append to succeed, got %v", err)
	}
}

func TestFakeEnvironmentWatcherConnectionChange(t *testing.T) {
	w := NewFakeEnvironmentWatcher()
	var onlineSeen []bool
	w.OnConnectionChange(func(online bool) { onlineSeen = append(onlineSeen, online) })
	w.FireConnectionChange(false)
	w.FireConnectionChange(true)
	if len(onlineSeen) != 2 || onlineSeen[0] != false || onlineSeen[1] != true {
		t.Fatalf("expected [false true], got %v", onlineSeen)
	}
}
