// Package fault defines the error taxonomy shared by both wire planes and
// the rules deciding which failures end a connection.
package fault

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/marmos91/dittostore/internal/protocol/frame"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is an unexpected failure. It is reported to the client as a
	// generic message and logged in full.
	Internal Kind = iota

	// Framing covers malformed prefixes and premature closes.
	Framing

	// Authorization means no live operation key or no permission.
	Authorization

	// NotFound covers missing directories, files and sessions.
	NotFound

	// Timeout means no bytes arrived within the deadline.
	Timeout

	// Serialization means a payload could not be decoded.
	Serialization

	// Store means a metadata mutation failed.
	Store
)

func (k Kind) String() string {
	switch k {
	case Framing:
		return "FramingError"
	case Authorization:
		return "AuthorizationError"
	case NotFound:
		return "NotFoundError"
	case Timeout:
		return "TimeoutError"
	case Serialization:
		return "SerializationError"
	case Store:
		return "StoreError"
	default:
		return "InternalError"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithPath attaches the path the failure concerns.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// KindOf classifies any error. Unclassified errors are sorted by their
// concrete type: framing errors, deadlines and resets are recognized.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var framing *frame.FramingError
	if errors.As(err, &framing) {
		if framing.Timeout() && framing.Read == 0 {
			return Timeout
		}
		return Framing
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return Framing
	}

	return Internal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Plane identifies which listener observed an error.
type Plane int

const (
	ControlPlane Plane = iota
	StoragePlane
)

// IsConnectionFatal reports whether err must close the connection. Framing
// failures always do. Timeouts do on the storage plane, where a stream
// cannot be resumed, but only cost one request on the control plane.
func IsConnectionFatal(err error, plane Plane) bool {
	switch KindOf(err) {
	case Framing:
		return true
	case Timeout:
		return plane == StoragePlane
	default:
		return false
	}
}

// Message is the client-facing text for err. Internal failures are reduced
// to a generic message so no detail leaks onto the wire.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var fe *Error
	if !errors.As(err, &fe) {
		if KindOf(err) == Internal {
			return "internal error"
		}
		return err.Error()
	}
	if fe.Kind == Internal {
		return "internal error"
	}
	if fe.Err == nil {
		return fe.Kind.String()
	}
	return fe.Err.Error()
}
