// Package tcperr defines the error taxonomy of the protocol engine.
//
// Every kind is a sentinel error. The stack returns and latches the
// sentinels themselves, unwrapped, through the socket API, ConnState.error
// latching, and epoll's Error event, so both == and errors.Is classify them.
package tcperr

import "errors"

// Resource exhaustion.
var (
	ErrOutOfMemory  = errors.New("out of memory")
	ErrTooManyFiles = errors.New("too many open files")
	ErrPortInUse    = errors.New("address already in use")
)

// Protocol-level errors, latched on ConnState.error or returned directly.
var (
	ErrConnRefused = errors.New("connection refused")
	ErrConnReset   = errors.New("connection reset by peer")
	ErrTimedOut    = errors.New("connection timed out")
	ErrConnAborted = errors.New("connection aborted")
)

// Usage errors.
var (
	ErrBadFd           = errors.New("bad file descriptor")
	ErrNotConnected    = errors.New("transport endpoint is not connected")
	ErrAlreadyConn     = errors.New("transport endpoint is already connected")
	ErrInProgress      = errors.New("operation now in progress")
	ErrWouldBlock      = errors.New("resource temporarily unavailable")
	ErrInvalid         = errors.New("invalid argument")
	ErrMsgTooBig       = errors.New("message too long")
	ErrAddrNotAvail    = errors.New("cannot assign requested address")
	ErrNoSupport       = errors.New("operation not supported")
	ErrFlowExists      = errors.New("flow already exists")
	ErrPortTaken       = errors.New("port already allocated")
)

// Peer-initiated errors.
var (
	ErrBrokenPipe  = errors.New("broken pipe")
	ErrConnClosing = errors.New("connection is closing")
)

// Latched reports whether err represents a condition that should be latched
// onto a ConnState and surfaced asynchronously to blocked/epolled waiters,
// as opposed to an immediate usage error returned synchronously to the
// call that triggered it.
func Latched(err error) bool {
	switch {
	case errors.Is(err, ErrConnReset),
		errors.Is(err, ErrTimedOut),
		errors.Is(err, ErrConnAborted),
		errors.Is(err, ErrConnRefused):
		return true
	default:
		return false
	}
}
