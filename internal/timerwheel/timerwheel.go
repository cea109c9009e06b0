// Package timerwheel implements the per-core timer facility of §4.9: RTX
// (overloaded as 2MSL in TimeWait), delayed-ACK, keepalive, and BBR pacing
// timers. The teacher has no connection-timer wheel (its guest-facing TCP
// never retransmits — see internal/netstack/tcp.go's package doc), so this
// is new code grounded on the teacher's use of time.Timer/time.AfterFunc for
// VM lifecycle timeouts (internal/vm), generalized to a min-heap wheel keyed
// by deadline so one core can service many connections' timers with a
// single underlying OS timer rather than one goroutine per timer.
package timerwheel

import (
	"container/heap"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

// Kind identifies which of a ConnState's timers an entry represents.
type Kind int

const (
	RTX Kind = iota
	DelayedACK
	Keepalive
	Pacing
)

// Callback is invoked when a timer fires; it receives the owning ConnState
// so the core's pipeline can dispatch per §4.9's per-kind fire logic.
type Callback func(c *tcpcb.ConnState, kind Kind)

type entry struct {
	deadline time.Time
	conn     *tcpcb.ConnState
	kind     Kind
	index    int
	seq      uint64 // cancellation token: a re-armed timer bumps seq, staling old entries
}

// Wheel is a single core's timer heap. Not safe for concurrent use from
// multiple goroutines — one Wheel is driven by exactly one core's event
// loop (§5).
type Wheel struct {
	h    entryHeap
	seqs map[*tcpcb.ConnState][4]uint64
	cb   Callback
}

// New returns an empty wheel that invokes cb on every fired timer.
func New(cb Callback) *Wheel {
	return &Wheel{seqs: make(map[*tcpcb.ConnState][4]uint64), cb: cb}
}

// Arm schedules (or re-arms, canceling any prior pending entry of the same
// kind for c) a timer to fire after d.
func (w *Wheel) Arm(c *tcpcb.ConnState, kind Kind, d time.Duration) {
	seqs := w.seqs[c]
	seqs[kind]++
	w.seqs[c] = seqs
	heap.Push(&w.h, &entry{
		deadline: time.Now().Add(d),
		conn:     c,
		kind:     kind,
		seq:      seqs[kind],
	})
}

// Cancel invalidates any pending timer of kind for c, without removing it
// from the heap immediately (it is discarded lazily when it would fire).
func (w *Wheel) Cancel(c *tcpcb.ConnState, kind Kind) {
	seqs := w.seqs[c]
	seqs[kind]++
	w.seqs[c] = seqs
}

// Forget drops all bookkeeping for c (called on deallocation).
func (w *Wheel) Forget(c *tcpcb.ConnState) {
	delete(w.seqs, c)
}

// NextDeadline returns the wheel's earliest pending deadline, for the core
// event loop to size its poll/select timeout; ok is false if the wheel is
// empty.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if len(w.h) == 0 {
		return time.Time{}, false
	}
	return w.h[0].deadline, true
}

// Tick fires every entry whose deadline has passed and is still current
// (not superseded by a later Arm/Cancel of the same kind).
func (w *Wheel) Tick(now time.Time) {
	for len(w.h) > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*entry)
		if w.seqs[e.conn][e.kind] != e.seq {
			continue // stale: canceled or re-armed since
		}
		if w.cb != nil {
			w.cb(e.conn, e.kind)
		}
	}
}

// entryHeap is a container/heap.Interface min-heap ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// PacingLimiter builds a token-bucket limiter sized from a BBR pacing rate
// (bytes/sec) and a send quantum. No other package calls it; egress does not
// pace transmissions.
func PacingLimiter(pacingRateBps uint64, sendQuantum int) *rate.Limiter {
	if pacingRateBps == 0 {
		return rate.NewLimiter(rate.Inf, sendQuantum)
	}
	segPerSec := float64(pacingRateBps) / float64(sendQuantum)
	return rate.NewLimiter(rate.Limit(segPerSec), sendQuantum)
}
