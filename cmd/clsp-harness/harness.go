package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clspio/clsp-go/internal/clsp/registry"
	"github.com/clspio/clsp-go/internal/clsp/session"
	"github.com/clspio/clsp-go/internal/clsp/surface"
	"github.com/clspio/clsp-go/internal/metrics"
)

// harness runs one Session per stream URL outside of a browser host. It has
// no real DOM to bind to, so each session gets an in-memory surface
// (surface.Fake*) instead — the same stand-in the package's own tests use,
// and the honest choice here too: a CLI harness has nothing else to offer a
// Session as its "container element".
type harness struct {
	reg           *registry.Registry
	log           *slog.Logger
	enableMetrics bool
	connDelay     time.Duration

	mu    sync.Mutex
	byURL map[string]uint64
}

func newHarness(reg *registry.Registry, log *slog.Logger, enableMetrics bool, connDelay time.Duration) *harness {
	return &harness{
		reg:           reg,
		log:           log,
		enableMetrics: enableMetrics,
		connDelay:     connDelay,
		byURL:         make(map[string]uint64),
	}
}

// addStream creates a session for rawURL if one isn't already running.
func (h *harness) addStream(rawURL string) error {
	h.mu.Lock()
	if _, ok := h.byURL[rawURL]; ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	container := surface.NewFakeContainerSurface()
	resolver := surface.NewFakeElementResolver(nil, nil)
	watcher := surface.NewFakeEnvironmentWatcher()

	cfg := registry.SurfaceConfig{
		SessionConfig: session.Config{
			ContainerElement:          container,
			MediaBufferFactory:        func() surface.MediaBuffer { return surface.NewFakeMediaBuffer() },
			EnableMetrics:             h.enableMetrics,
			ConnectionChangePlayDelay: h.connDelay,
		},
		Resolver: resolver,
		Watcher:  watcher,
	}

	s, id, err := h.reg.Create(cfg)
	if err != nil {
		return err
	}

	if h.enableMetrics {
		if err := metrics.Observe(s, h.log); err != nil {
			h.log.Warn("failed to observe session metrics", "session_id", id, "error", err)
		}
	}

	if err := s.ChangeSrc(context.Background(), rawURL); err != nil {
		_ = h.reg.Remove(id)
		return err
	}

	h.mu.Lock()
	h.byURL[rawURL] = id
	h.mu.Unlock()
	h.log.Info("stream added", "url", rawURL, "session_id", id)
	return nil
}

// removeStream tears down the session for rawURL, if any.
func (h *harness) removeStream(rawURL string) {
	h.mu.Lock()
	id, ok := h.byURL[rawURL]
	delete(h.byURL, rawURL)
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := h.reg.Remove(id); err != nil {
		h.log.Warn("failed to remove stream", "url", rawURL, "session_id", id, "error", err)
	}
	h.log.Info("stream removed", "url", rawURL, "session_id", id)
}

// reconcile brings the running set of streams to exactly wantURLs: streams
// no longer present are removed, new ones are added. Existing streams are
// left untouched rather than restarted, so an edit that reorders the list
// without changing its contents is a no-op.
func (h *harness) reconcile(wantURLs []string) {
	want := make(map[string]struct{}, len(wantURLs))
	for _, u := range wantURLs {
		want[u] = struct{}{}
	}

	h.mu.Lock()
	var toRemove []string
	for u := range h.byURL {
		if _, ok := want[u]; !ok {
			toRemove = append(toRemove, u)
		}
	}
	h.mu.Unlock()

	for _, u := range toRemove {
		h.removeStream(u)
	}
	for _, u := range wantURLs {
		if err := h.addStream(u); err != nil {
			h.log.Error("failed to add stream during reconcile", "url", u, "error", err)
		}
	}
}

// streamCount reports how many sessions are currently running.
func (h *harness) streamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byURL)
}
