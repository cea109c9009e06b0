// Package fiber implements the cooperative blocking-task model of §4.11. The
// original design suspends a fiber with its own stack via fire/yield; the Go
// rendition (per Design Note "Cooperative fibers") instead parks a
// goroutine on a buffered wake channel, so fire/yield become goroutine
// scheduling and channel receive/send. Grounded on the teacher's use of
// plain goroutines + channels for guest I/O completion in internal/vm
// (no fiber/ucontext analogue exists there; this package supplies the
// capability the spec names but the teacher never needed).
package fiber

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/tinyrange/tcpstack/internal/tcperr"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

// Task is one blocking-task context: a goroutine parked on wake, identified
// by an opaque ID for logging/debugging.
type Task struct {
	ID   xid.ID
	wake chan struct{}

	mask    waitbits.Mask // condition mask last passed to WaitEvent
	pending waitbits.Mask // bits satisfied since the task last checked
}

// New allocates a Task. Callers store the returned Task on the owning
// ConnState (as a WakeFunc via Signal) so Signal can resume it.
func New() *Task {
	return &Task{ID: xid.New(), wake: make(chan struct{}, 1)}
}

// Wake nudges the wake channel without blocking, coalescing multiple
// wakeups between checks. It records no event bits; Signal, which does, is
// the tcpcb.WakeFunc this Task exposes.
func (t *Task) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Signal records that ev has fired, for WaitEvent to notice on its next
// check, then wakes the task.
func (t *Task) Signal(ev waitbits.Mask) {
	t.pending |= ev
	t.Wake()
}

// WaitEvent implements §4.11 wait_event(mask): if any bit in mask is
// already satisfied, return immediately; if nonBlocking, return EAGAIN;
// otherwise park until Wake is called or the context is done, then
// re-check. errFn is consulted on each wake to support the "on resumption,
// if error is set, return it" rule — callers pass a closure reading the
// owning ConnState's latched error.
func (t *Task) WaitEvent(ctx context.Context, mask waitbits.Mask, nonBlocking bool, errFn func() error) error {
	t.mask = mask
	for {
		if t.pending.Has(mask) {
			t.pending &^= mask
			return nil
		}
		if err := errFn(); err != nil {
			return err
		}
		if nonBlocking {
			return tcperr.ErrWouldBlock
		}
		select {
		case <-t.wake:
			continue
		case <-ctx.Done():
			return tcperr.ErrTimedOut
		}
	}
}

// WaitEventTimeout is WaitEvent bounded by a duration, for blocking calls
// with an explicit deadline (e.g. SO_RCVTIMEO).
func (t *Task) WaitEventTimeout(mask waitbits.Mask, nonBlocking bool, timeout time.Duration, errFn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.WaitEvent(ctx, mask, nonBlocking, errFn)
}
