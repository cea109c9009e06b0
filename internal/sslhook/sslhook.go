// Package sslhook defines the opaque bidirectional byte-stream hook an SSL
// wrapper sits behind (§9.1, grounded on original_source/elements/app/
// sslclient.cc): the stack only ever sees plaintext bytes in and
// ciphertext-or-plaintext bytes out through this interface, never a TLS
// implementation itself. Mirrors the teacher's io.ReadWriteCloser-shaped
// wrapping of tcpConn in internal/netstack, generalized to an explicit
// interface so a caller can interpose an encrypting layer without the core
// package depending on any TLS library.
package sslhook

import (
	"errors"
	"io"

	"github.com/tinyrange/tcpstack/internal/core"
)

// ErrNotHooked is returned by Conn methods once the underlying socket has
// been closed or was never connected.
var ErrNotHooked = errors.New("sslhook: connection not established")

// Hook transforms bytes flowing between the application and the wire. A
// passthrough Hook is the zero value of Passthrough; a TLS wrapper would
// implement this interface around crypto/tls's record layer without this
// package ever importing crypto/tls itself.
type Hook interface {
	// WrapOutbound transforms application bytes into wire bytes (e.g.
	// TLS record encryption) before Core.Send.
	WrapOutbound(plaintext []byte) ([]byte, error)
	// WrapInbound transforms wire bytes received from Core.Recv back into
	// application bytes (e.g. TLS record decryption).
	WrapInbound(ciphertext []byte) ([]byte, error)
}

// Passthrough is the identity Hook: bytes cross unmodified, matching the
// distilled spec's socket API directly.
type Passthrough struct{}

func (Passthrough) WrapOutbound(b []byte) ([]byte, error) { return b, nil }
func (Passthrough) WrapInbound(b []byte) ([]byte, error)  { return b, nil }

// Conn adapts a core.Core-managed ConnState plus a Hook into an
// io.ReadWriteCloser, the shape a caller-supplied SSL wrapper (or any other
// byte-stream middleware) is expected to sit behind.
type Conn struct {
	c      *core.Core
	fd     int
	waiter core.Waiter
	hook   Hook
}

// New wraps an already-connected or already-accepted socket fd with hook.
// A nil hook installs Passthrough.
func New(c *core.Core, fd int, waiter core.Waiter, hook Hook) *Conn {
	if hook == nil {
		hook = Passthrough{}
	}
	return &Conn{c: c, fd: fd, waiter: waiter, hook: hook}
}

// Read implements io.Reader, decrypting (or passing through) one Recv's
// worth of bytes at a time. When Recv reports the peer's FIN (a nil slice
// with a nil error), Read returns 0, io.EOF, per io.Reader's contract.
func (s *Conn) Read(p []byte) (int, error) {
	conn, ok := s.c.ConnByFD(s.fd)
	if !ok {
		return 0, ErrNotHooked
	}
	raw, err := s.c.Recv(conn, s.waiter, false)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, io.EOF
	}
	plain, err := s.hook.WrapInbound(raw)
	if err != nil {
		return 0, err
	}
	n := copy(p, plain)
	return n, nil
}

// Write implements io.Writer, encrypting (or passing through) before
// handing bytes to Core.Send.
func (s *Conn) Write(p []byte) (int, error) {
	conn, ok := s.c.ConnByFD(s.fd)
	if !ok {
		return 0, ErrNotHooked
	}
	wire, err := s.hook.WrapOutbound(p)
	if err != nil {
		return 0, err
	}
	if _, err := s.c.Send(conn, wire); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer, tearing down the underlying socket.
func (s *Conn) Close() error {
	conn, ok := s.c.ConnByFD(s.fd)
	if !ok {
		return ErrNotHooked
	}
	return s.c.Close(conn)
}
