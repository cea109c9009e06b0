package epoll

import (
	"context"
	"testing"
	"time"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

func TestCtlAddSetsConnStateEventFields(t *testing.T) {
	inst := New(10)
	c := tcpcb.New(1, 3)

	if err := inst.Ctl(Add, c, waitbits.RxqNonEmpty); err != nil {
		t.Fatalf("Ctl(Add): %v", err)
	}
	if c.EPFD != 10 {
		t.Fatalf("EPFD = %d, want 10", c.EPFD)
	}
	if c.Event == nil {
		t.Fatalf("Event is nil after Ctl(Add)")
	}
}

func TestCtlDelClearsConnStateEventFields(t *testing.T) {
	inst := New(10)
	c := tcpcb.New(1, 3)
	_ = inst.Ctl(Add, c, waitbits.RxqNonEmpty)

	if err := inst.Ctl(Del, c, 0); err != nil {
		t.Fatalf("Ctl(Del): %v", err)
	}
	if c.EPFD != 0 || c.Event != nil {
		t.Fatalf("EPFD/Event not cleared after Ctl(Del): epfd=%d event=%v", c.EPFD, c.Event)
	}
}

func TestWaitBlocksUntilWakeFiresAnInterestingBit(t *testing.T) {
	inst := New(10)
	c := tcpcb.New(1, 3)
	c.SockFD = 5
	_ = inst.Ctl(Add, c, waitbits.RxqNonEmpty)

	done := make(chan []Event, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		evs, err := inst.Wait(ctx)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- evs
	}()

	time.Sleep(5 * time.Millisecond) // give Wait time to park
	c.Wake(waitbits.RxqNonEmpty)

	select {
	case evs := <-done:
		if len(evs) != 1 || evs[0].SockFD != 5 {
			t.Fatalf("events = %+v, want one event for fd 5", evs)
		}
		if !evs[0].Ready.Has(waitbits.RxqNonEmpty) {
			t.Fatalf("ready mask %v missing RxqNonEmpty", evs[0].Ready)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait never returned after Wake")
	}
}

func TestWaitIgnoresABitNotInTheInterestMask(t *testing.T) {
	inst := New(10)
	c := tcpcb.New(1, 3)
	c.SockFD = 6
	_ = inst.Ctl(Add, c, waitbits.RxqNonEmpty)

	c.Wake(waitbits.ConEstablished) // not in the registered mask

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := inst.Wait(ctx); err == nil {
		t.Fatalf("Wait returned without error for a bit outside the interest mask")
	}
}

func TestWaitTimesOutWithNoReadyRecords(t *testing.T) {
	inst := New(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := inst.Wait(ctx); err == nil {
		t.Fatalf("Wait returned without error though nothing is ready")
	}
}

func TestCloseDropsAllRecords(t *testing.T) {
	inst := New(10)
	c := tcpcb.New(1, 3)
	c.SockFD = 7
	_ = inst.Ctl(Add, c, waitbits.RxqNonEmpty)

	inst.Close()

	c.Wake(waitbits.RxqNonEmpty) // record is gone; Event on c is stale but Signal tolerates it
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := inst.Wait(ctx); err == nil {
		t.Fatalf("Wait returned ready events after Close")
	}
}
