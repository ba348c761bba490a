package player

import (
	"testing"

	"github.com/clspio/clsp-go/internal/bufpool"
	"github.com/clspio/clsp-go/internal/clsp/conduit"
	"github.com/clspio/clsp-go/internal/clsp/streamconfig"
	"github.com/clspio/clsp-go/internal/clsp/surface"
	clsperrors "github.com/clspio/clsp-go/internal/errors"
)

func newTestPlayer(t *testing.T) (*Player, *surface.FakeMediaBuffer, *surface.FakeVideoSurface) {
	t.Helper()
	cfg, err := streamconfig.FromURL("clsps://sfs/stream-a")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	cd := conduit.New(cfg, nil)
	buf := surface.NewFakeMediaBuffer()
	video := surface.NewFakeVideoSurface()
	p := New(1, 1, cfg, cd, buf, video, bufpool.New(), nil)
	return p, buf, video
}

func TestNewPlayerStartsCreated(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	if p.State() != StateCreated {
		t.Fatalf("expected StateCreated, got %v", p.State())
	}
}

func TestHandleInitSegmentTransitionsToStreaming(t *testing.T) {
	p, buf, video := newTestPlayer(t)
	p.setState(StateSubscribed)

	var info CodecInfo
	if err := p.On(EventVideoInfoReceived, func(payload any) { info, _ = payload.(CodecInfo) }); err != nil {
		t.Fatalf("On: %v", err)
	}

	p.handleInitSegment(buildInitSegmentWithTrack("avc1"))

	if p.State() != StateStreaming {
		t.Fatalf("expected StateStreaming, got %v", p.State())
	}
	if info.VideoCodec != "avc1" {
		t.Fatalf("expected VIDEO_INFO_RECEIVED with avc1, got %+v", info)
	}
	if buf.Init == nil {
		t.Fatalf("expected init segment appended to buffer")
	}
	if !video.Attached {
		t.Fatalf("expected media source attached to video surface")
	}
}

func TestHandleInitSegmentIgnoredWhenNotSubscribed(t *testing.T) {
	p, buf, _ := newTestPlayer(t)
	// state starts Created, not Subscribed
	p.handleInitSegment(buildInitSegmentWithTrack("avc1"))
	if p.State() != StateCreated {
		t.Fatalf("expected state unchanged, got %v", p.State())
	}
	if buf.Init != nil {
		t.Fatalf("expected init segment not appended")
	}
}

func TestHandleMediaSegmentEmitsVideoReceivedAndAppends(t *testing.T) {
	p, buf, _ := newTestPlayer(t)
	p.setState(StateStreaming)

	received := false
	if err := p.On(EventVideoReceived, func(any) { received = true }); err != nil {
		t.Fatalf("On: %v", err)
	}

	p.handleMediaSegment([]byte("segment-data"))

	if !received {
		t.Fatalf("expected VIDEO_RECEIVED to be emitted")
	}
	if len(buf.Segments) != 1 {
		t.Fatalf("expected 1 buffered segment, got %d", len(buf.Segments))
	}
}

func TestFrameRenderedEmitsFirstFrameShownExactlyOnce(t *testing.T) {
	p, _, video := newTestPlayer(t)

	var count int
	var gotID uint64
	if err := p.On(EventFirstFrameShown, func(payload any) {
		count++
		gotID, _ = payload.(uint64)
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	video.FireFrameRendered()
	video.FireFrameRendered()

	if count != 1 {
		t.Fatalf("expected FIRST_FRAME_SHOWN exactly once, got %d", count)
	}
	if gotID != p.ID() {
		t.Fatalf("expected payload to carry player id %d, got %d", p.ID(), gotID)
	}
}

func TestHostRemovedEmitsIframeDestroyedExternally(t *testing.T) {
	p, _, video := newTestPlayer(t)

	fired := false
	if err := p.On(EventIframeDestroyedExternally, func(any) { fired = true }); err != nil {
		t.Fatalf("On: %v", err)
	}

	video.FireHostRemoved()

	if !fired {
		t.Fatalf("expected IFRAME_DESTROYED_EXTERNALLY to be emitted")
	}
}

func TestAppendFailureStallsThenMovesToDeadAfterRetryBudget(t *testing.T) {
	p, buf, _ := newTestPlayer(t)
	p.setState(StateStreaming)
	buf.FailNextAppends = 100 // exhaust every retry

	var retryErrFired bool
	if err := p.On(EventRetryError, func(any) { retryErrFired = true }); err != nil {
		t.Fatalf("On: %v", err)
	}

	for i := 0; i < maxAppendRetries+1; i++ {
		p.handleMediaSegment([]byte("segment"))
	}

	if p.State() != StateDead {
		t.Fatalf("expected StateDead after exhausting retry budget, got %v", p.State())
	}
	if !retryErrFired {
		t.Fatalf("expected RETRY_ERROR to be emitted once retries are exhausted")
	}
}

func TestAppendFailureEvictsAndRetriesOnceOnQuotaExceeded(t *testing.T) {
	p, buf, _ := newTestPlayer(t)
	p.setState(StateStreaming)
	for i := 0; i < 3; i++ {
		_ = buf.AppendMedia([]byte{byte(i)})
	}
	buf.FailNextAppends = 1 // first append fails, eviction then retry succeeds

	p.handleMediaSegment([]byte("segment"))

	if p.State() != StateStreaming {
		t.Fatalf("expected player to remain Streaming after successful eviction-retry, got %v", p.State())
	}
}

func TestBufferOverrunDropsFromHeadAndDoesNotStall(t *testing.T) {
	p, buf, _ := newTestPlayer(t)
	p.setState(StateStreaming)
	for i := 0; i < 3; i++ {
		_ = buf.AppendMedia([]byte{byte(i)})
	}
	buf.FailNextOverruns = 1

	p.handleMediaSegment([]byte("segment"))

	if p.State() != StateStreaming {
		t.Fatalf("expected player to remain Streaming after a buffer overrun, got %v", p.State())
	}
	if len(buf.Segments) != 2 {
		t.Fatalf("expected the oldest segment dropped from the head, got %d segments", len(buf.Segments))
	}
	if p.retries != 0 {
		t.Fatalf("expected a buffer overrun not to count against the retry budget, got %d", p.retries)
	}
}

func TestStopDetachesSourceAndMovesToDead(t *testing.T) {
	p, _, video := newTestPlayer(t)
	video.Attached = true

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !p.IsDestroyed() {
		t.Fatalf("expected player destroyed after Stop")
	}
	if video.Attached {
		t.Fatalf("expected video source detached after Stop")
	}
	if p.State() != StateDead {
		t.Fatalf("expected StateDead after Stop, got %v", p.State())
	}
}

func TestPlayAfterDestroyFailsWithAlreadyDestroyed(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := p.Play(nil); !clsperrors.IsAlreadyDestroyed(err) {
		t.Fatalf("expected AlreadyDestroyed, got %v", err)
	}
}
