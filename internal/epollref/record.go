// Package epollref defines the event-record type that ConnState carries a
// pointer to when registered with an epoll instance (§4.10). It is split out
// from internal/epoll itself so internal/tcpcb can reference a record without
// importing the full epoll package, which in turn imports tcpcb to look up
// the ConnState behind a socket.
package epollref

import "github.com/tinyrange/tcpstack/internal/waitbits"

// Record is one per-socket entry in an epoll instance's event queue: at most
// one record per socket, with its mask ORed in as conditions fire (§4.10).
type Record struct {
	EPFD   int
	SockFD int
	Mask   waitbits.Mask // registered interest mask (EPOLLIN-equivalent bits)
	Ready  waitbits.Mask // conditions currently satisfied

	// Nudge is the owning Instance's wake channel, set by epoll.Ctl at
	// registration time so Signal can unblock a parked Wait without
	// internal/tcpcb importing internal/epoll.
	Nudge chan struct{}
}

// Signal ORs the fired condition bits into Ready and nudges any Wait
// blocked on the owning instance.
func (r *Record) Signal(ev waitbits.Mask) {
	if r == nil {
		return
	}
	r.Ready |= ev & r.Mask
	if r.Ready == 0 {
		return
	}
	select {
	case r.Nudge <- struct{}{}:
	default:
	}
}

// Clear ANDs out bits that no longer hold (e.g. recv() draining RxqNonEmpty).
func (r *Record) Clear(ev waitbits.Mask) {
	if r == nil {
		return
	}
	r.Ready &^= ev
}
