// Package errors defines the closed set of CLSP core error kinds (spec §7)
// as distinct, wrapping error types so callers can classify failures with
// errors.Is/errors.As instead of string matching.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// kindMarker is implemented by every error kind below so callers can test
// "is this any CLSP core error" without enumerating every concrete type.
type kindMarker interface {
	error
	isClspError()
}

// InvalidURLError indicates StreamConfiguration.FromURL was given a URL
// with an unrecognized scheme or an empty host/stream name.
type InvalidURLError struct {
	Op  string
	Err error
}

func (e *InvalidURLError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid url: %s", e.Op)
	}
	return fmt.Sprintf("invalid url: %s: %v", e.Op, e.Err)
}
func (e *InvalidURLError) Unwrap() error { return e.Err }
func (e *InvalidURLError) isClspError()  {}

// MissingURLError indicates changeSrc was called with no url/config argument.
type MissingURLError struct{ Op string }

func (e *MissingURLError) Error() string { return fmt.Sprintf("missing url: %s", e.Op) }
func (e *MissingURLError) isClspError()  {}

// NoSurfaceError indicates initializeElements could not resolve a container
// or video surface from the supplied configuration.
type NoSurfaceError struct{ Op string }

func (e *NoSurfaceError) Error() string { return fmt.Sprintf("no surface available: %s", e.Op) }
func (e *NoSurfaceError) isClspError()  {}

// UnsupportedEnvironmentError indicates a required environment collaborator
// (document visibility, connectivity, fullscreen) was not supplied.
type UnsupportedEnvironmentError struct{ Op string }

func (e *UnsupportedEnvironmentError) Error() string {
	return fmt.Sprintf("unsupported environment: %s", e.Op)
}
func (e *UnsupportedEnvironmentError) isClspError() {}

// AlreadyDestroyedError indicates a state-mutating call was made after
// destruction began (spec I4).
type AlreadyDestroyedError struct{ Op string }

func (e *AlreadyDestroyedError) Error() string {
	return fmt.Sprintf("already destroyed: %s", e.Op)
}
func (e *AlreadyDestroyedError) isClspError() {}

// ChangeSrcFailedError wraps a failure during changeSrc (player construction
// error or first-frame timeout).
type ChangeSrcFailedError struct {
	Op  string
	Err error
}

func (e *ChangeSrcFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("changeSrc failed: %s", e.Op)
	}
	return fmt.Sprintf("changeSrc failed: %s: %v", e.Op, e.Err)
}
func (e *ChangeSrcFailedError) Unwrap() error { return e.Err }
func (e *ChangeSrcFailedError) isClspError()  {}

// TransportError wraps a Conduit/MQTT-layer failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error: %s", e.Op)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) isClspError()  {}

// BufferError wraps a media-buffer append/quota failure in the Player.
type BufferError struct {
	Op  string
	Err error
}

func (e *BufferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("buffer error: %s", e.Op)
	}
	return fmt.Sprintf("buffer error: %s: %v", e.Op, e.Err)
}
func (e *BufferError) Unwrap() error { return e.Err }
func (e *BufferError) isClspError()  {}

// UnknownEventError indicates a subscribe call named an event outside the
// bus's declared closed set.
type UnknownEventError struct{ Name string }

func (e *UnknownEventError) Error() string { return fmt.Sprintf("unknown event: %s", e.Name) }
func (e *UnknownEventError) isClspError()  {}

// MissingHandlerError indicates a subscribe call supplied a nil handler.
type MissingHandlerError struct{ Name string }

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("missing handler for event: %s", e.Name)
}
func (e *MissingHandlerError) isClspError() {}

// TimeoutError indicates an operation exceeded a deadline.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error type exposing Timeout() bool == true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// Constructors. Callers are expected to keep layering context with
// fmt.Errorf("...: %w", err) as it accumulates, the same way the teacher's
// error package is used.
func NewInvalidURL(op string, cause error) error     { return &InvalidURLError{Op: op, Err: cause} }
func NewMissingURL(op string) error                  { return &MissingURLError{Op: op} }
func NewNoSurface(op string) error                   { return &NoSurfaceError{Op: op} }
func NewUnsupportedEnvironment(op string) error       { return &UnsupportedEnvironmentError{Op: op} }
func NewAlreadyDestroyed(op string) error            { return &AlreadyDestroyedError{Op: op} }
func NewChangeSrcFailed(op string, cause error) error { return &ChangeSrcFailedError{Op: op, Err: cause} }
func NewTransportError(op string, cause error) error  { return &TransportError{Op: op, Err: cause} }
func NewBufferError(op string, cause error) error     { return &BufferError{Op: op, Err: cause} }
func NewUnknownEvent(name string) error               { return &UnknownEventError{Name: name} }
func NewMissingHandler(name string) error             { return &MissingHandlerError{Name: name} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}

// IsAlreadyDestroyed reports whether err is (or wraps) an AlreadyDestroyedError.
func IsAlreadyDestroyed(err error) bool {
	var e *AlreadyDestroyedError
	return stdErrors.As(err, &e)
}

// IsInvalidURL reports whether err is (or wraps) an InvalidURLError.
func IsInvalidURL(err error) bool {
	var e *InvalidURLError
	return stdErrors.As(err, &e)
}

// IsChangeSrcFailed reports whether err is (or wraps) a ChangeSrcFailedError.
func IsChangeSrcFailed(err error) bool {
	var e *ChangeSrcFailedError
	return stdErrors.As(err, &e)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var e *TransportError
	return stdErrors.As(err, &e)
}

// IsBufferError reports whether err is (or wraps) a BufferError.
func IsBufferError(err error) bool {
	var e *BufferError
	return stdErrors.As(err, &e)
}

// IsClspError reports whether err is any of the kinds declared in this package.
func IsClspError(err error) bool {
	if err == nil {
		return false
	}
	var km kindMarker
	return stdErrors.As(err, &km)
}
