// Package eventbus implements the bounded-name pub/sub used by every
// stateful CLSP component (spec §4.2). Each Bus declares a closed set of
// event names at construction; subscribing to a name outside that set, or
// with a nil handler, fails immediately rather than silently accepting
// garbage. Delivery is synchronous and in registration order, matching the
// single-threaded cooperative model spec §5 requires — there is no worker
// pool here, unlike the teacher's hook manager, because the spec calls for
// handlers to observe state at the moment of delivery on the same
// goroutine that emitted the event.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	clsperrors "github.com/clspio/clsp-go/internal/errors"
)

// Name identifies one event in a Bus's closed set.
type Name string

// Handler receives the payload emitted with an event. A handler that panics
// is recovered by the bus, logged, and does not prevent delivery to the
// remaining handlers for that event.
type Handler func(payload any)

// Bus is a named-event pub/sub with a fixed, validated set of event names.
type Bus struct {
	mu       sync.Mutex
	allowed  map[Name]struct{}
	handlers map[Name][]Handler
	log      *slog.Logger
	removed  bool
}

// New creates a Bus whose only valid event names are the ones supplied.
// log may be nil, in which case slog.Default() is used.
func New(names []Name, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	allowed := make(map[Name]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &Bus{
		allowed:  allowed,
		handlers: make(map[Name][]Handler),
		log:      log,
	}
}

// On registers handler for name, in registration order relative to any
// other handler already registered for the same name. It fails with
// UnknownEventError if name is not in the bus's declared set, or with
// MissingHandlerError if handler is nil.
func (b *Bus) On(name Name, handler Handler) error {
	if _, ok := b.allowed[name]; !ok {
		return clsperrors.NewUnknownEvent(string(name))
	}
	if handler == nil {
		return clsperrors.NewMissingHandler(string(name))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
	return nil
}

// Emit delivers payload to every handler registered for name, in
// registration order, on the calling goroutine. Unknown names are a
// programmer error within this module and panic rather than silently
// dropping the event — every Emit call site names an event from the same
// closed set validated at On time.
func (b *Bus) Emit(name Name, payload any) {
	if _, ok := b.allowed[name]; !ok {
		panic(fmt.Sprintf("eventbus: emit of undeclared event %q", name))
	}
	b.mu.Lock()
	hs := make([]Handler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.Unlock()

	for _, h := range hs {
		b.invoke(name, h, payload)
	}
}

func (b *Bus) invoke(name Name, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus handler panicked", "event", name, "recovered", r)
		}
	}()
	h(payload)
}

// RemoveAllListeners drops every registered handler. It is idempotent and
// is expected to be called exactly once, from the owning component's
// Destroyable teardown.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed {
		return
	}
	b.handlers = make(map[Name][]Handler)
	b.removed = true
}

// HandlerCount returns the number of handlers currently registered for
// name. Primarily useful in tests.
func (b *Bus) HandlerCount(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[name])
}
