package timerwheel

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

func TestArmFiresCallbackAfterDeadline(t *testing.T) {
	var fired []Kind
	w := New(func(c *tcpcb.ConnState, kind Kind) { fired = append(fired, kind) })
	c := tcpcb.New(1, 3)

	w.Arm(c, RTX, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	w.Tick(time.Now())

	if len(fired) != 1 || fired[0] != RTX {
		t.Fatalf("fired = %v, want [RTX]", fired)
	}
}

func TestTickIgnoresEntriesBeforeDeadline(t *testing.T) {
	fired := 0
	w := New(func(c *tcpcb.ConnState, kind Kind) { fired++ })
	c := tcpcb.New(1, 3)

	w.Arm(c, RTX, time.Hour)
	w.Tick(time.Now())
	if fired != 0 {
		t.Fatalf("fired = %d before the deadline passed, want 0", fired)
	}
}

func TestCancelSuppressesAStaleEntry(t *testing.T) {
	fired := 0
	w := New(func(c *tcpcb.ConnState, kind Kind) { fired++ })
	c := tcpcb.New(1, 3)

	w.Arm(c, RTX, time.Millisecond)
	w.Cancel(c, RTX)
	time.Sleep(5 * time.Millisecond)
	w.Tick(time.Now())

	if fired != 0 {
		t.Fatalf("fired = %d for a canceled timer, want 0", fired)
	}
}

func TestReArmSupersedesThePriorEntry(t *testing.T) {
	var fired []Kind
	w := New(func(c *tcpcb.ConnState, kind Kind) { fired = append(fired, kind) })
	c := tcpcb.New(1, 3)

	w.Arm(c, RTX, time.Millisecond)
	w.Arm(c, RTX, time.Millisecond) // re-arm before it fires: first entry goes stale
	time.Sleep(5 * time.Millisecond)
	w.Tick(time.Now())

	if len(fired) != 1 {
		t.Fatalf("fired %d times for one re-armed timer, want exactly 1", len(fired))
	}
}

func TestDifferentKindsFireIndependently(t *testing.T) {
	var fired []Kind
	w := New(func(c *tcpcb.ConnState, kind Kind) { fired = append(fired, kind) })
	c := tcpcb.New(1, 3)

	w.Arm(c, RTX, time.Millisecond)
	w.Arm(c, DelayedACK, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	w.Tick(time.Now())

	if len(fired) != 2 {
		t.Fatalf("fired = %v, want both RTX and DelayedACK", fired)
	}
}

func TestNextDeadlineReportsEarliestPending(t *testing.T) {
	w := New(nil)
	c := tcpcb.New(1, 3)

	if _, ok := w.NextDeadline(); ok {
		t.Fatalf("NextDeadline on an empty wheel reported ok=true")
	}

	w.Arm(c, RTX, time.Hour)
	w.Arm(c, DelayedACK, time.Minute)
	d, ok := w.NextDeadline()
	if !ok {
		t.Fatalf("NextDeadline on a non-empty wheel reported ok=false")
	}
	if time.Until(d) > time.Hour {
		t.Fatalf("NextDeadline returned the later entry, not the earliest")
	}
}

func TestPacingLimiterZeroRateIsUnbounded(t *testing.T) {
	l := PacingLimiter(0, 1460)
	if l.Limit() != rate.Inf {
		t.Fatalf("PacingLimiter(0, ...) limit = %v, want Inf", l.Limit())
	}
}
