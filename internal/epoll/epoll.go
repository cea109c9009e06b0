// Package epoll implements the epoll-style event registry of §4.10:
// per-(pid, epfd) event queues, at most one record per socket, mask ORed in
// as conditions fire. Grounded on the teacher's use of buffered channels for
// event delivery (tcpListener.incoming, internal/netstack/netstack.go),
// generalized from "one channel per listener" to an explicit registry
// supporting ADD/MOD/DEL and a multi-socket Wait.
package epoll

import (
	"context"
	"sync"

	"github.com/tinyrange/tcpstack/internal/epollref"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/tcperr"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

// Instance is one epoll_create'd registry.
type Instance struct {
	mu      sync.Mutex
	epfd    int
	records map[int]*epollref.Record // keyed by sockfd
	ready   chan struct{}
}

// New returns an Instance identified by epfd (an fd allocated from the same
// sockfd.Table as ordinary sockets, per §4.10).
func New(epfd int) *Instance {
	return &Instance{epfd: epfd, records: make(map[int]*epollref.Record), ready: make(chan struct{}, 1)}
}

// Op mirrors epoll_ctl's op argument.
type Op int

const (
	Add Op = iota
	Mod
	Del
)

// Ctl implements epoll_ctl: Add/Mod install or replace the interest mask for
// sockfd and set the ConnState's EPFD/Event fields; Del removes the record
// and clears them (§4.10 "epoll_ctl(DEL) removes it and clears the state's
// epfd").
func (inst *Instance) Ctl(op Op, c *tcpcb.ConnState, mask waitbits.Mask) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch op {
	case Add, Mod:
		rec := &epollref.Record{EPFD: inst.epfd, SockFD: c.SockFD, Mask: mask, Nudge: inst.ready}
		inst.records[c.SockFD] = rec
		c.EPFD = inst.epfd
		c.Event = rec
		return nil
	case Del:
		delete(inst.records, c.SockFD)
		c.EPFD = 0
		c.Event = nil
		return nil
	default:
		return tcperr.ErrInvalid
	}
}

// Notify is called by ConnState.Wake's epoll-aware counterpart when ev
// fires on a registered socket: it ORs ev into that socket's ready mask and
// nudges any blocked Wait.
func (inst *Instance) Notify(sockfd int, ev waitbits.Mask) {
	inst.mu.Lock()
	rec, ok := inst.records[sockfd]
	if ok {
		rec.Signal(ev)
		if rec.Mask&ev != 0 && rec.Ready == 0 {
			delete(inst.records, sockfd) // mask reached zero: remove (shouldn't happen right after Signal, but guards a race)
		}
	}
	inst.mu.Unlock()
	select {
	case inst.ready <- struct{}{}:
	default:
	}
}

// Event is one epoll_wait result: the socket fd and its fired condition
// bits.
type Event struct {
	SockFD int
	Ready  waitbits.Mask
}

// Wait implements epoll_wait: returns all currently-ready records, blocking
// (subject to ctx) until at least one exists.
func (inst *Instance) Wait(ctx context.Context) ([]Event, error) {
	for {
		inst.mu.Lock()
		var out []Event
		for fd, rec := range inst.records {
			if rec.Ready != 0 {
				out = append(out, Event{SockFD: fd, Ready: rec.Ready})
			}
		}
		inst.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-inst.ready:
			continue
		case <-ctx.Done():
			return nil, tcperr.ErrTimedOut
		}
	}
}

// Close removes every record from this instance. It only drops this
// instance's bookkeeping: the registered ConnStates' EPFD and Event fields
// are left as they were.
func (inst *Instance) Close() {
	inst.mu.Lock()
	inst.records = make(map[int]*epollref.Record)
	inst.mu.Unlock()
}
