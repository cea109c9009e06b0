package rttest

import (
	"testing"
	"time"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

func TestUpdateSeedsEstimatorOnFirstSample(t *testing.T) {
	c := tcpcb.New(1, 3)
	c.SndSRTT = 0
	c.SndRTTVar = 0

	Update(c, 100*time.Millisecond)
	if c.SndSRTT != 100*time.Millisecond {
		t.Fatalf("srtt = %v, want 100ms on first sample", c.SndSRTT)
	}
	if c.SndRTTVar != 50*time.Millisecond {
		t.Fatalf("rttvar = %v, want 50ms (r/2) on first sample", c.SndRTTVar)
	}
	if c.SndRTO != 300*time.Millisecond {
		t.Fatalf("rto = %v, want 300ms (3r) on first sample", c.SndRTO)
	}
}

func TestUpdateEWMAConvergesTowardStableSample(t *testing.T) {
	c := tcpcb.New(1, 3)
	Update(c, 100*time.Millisecond)
	for i := 0; i < 50; i++ {
		Update(c, 100*time.Millisecond)
	}
	if c.SndSRTT < 99*time.Millisecond || c.SndSRTT > 101*time.Millisecond {
		t.Fatalf("srtt = %v, want to converge near 100ms for a stable sample stream", c.SndSRTT)
	}
	if c.SndRTTVar > time.Millisecond {
		t.Fatalf("rttvar = %v, want to shrink toward 0 for a stable sample stream", c.SndRTTVar)
	}
}

func TestRTOClampedToBounds(t *testing.T) {
	c := tcpcb.New(1, 3)
	Update(c, time.Microsecond) // would compute a tiny rto
	if c.SndRTO < tcpcb.MinRTO {
		t.Fatalf("rto = %v below MinRTO %v", c.SndRTO, tcpcb.MinRTO)
	}

	c2 := tcpcb.New(1, 3)
	Update(c2, time.Hour) // would compute a huge rto
	if c2.SndRTO > tcpcb.MaxRTO {
		t.Fatalf("rto = %v above MaxRTO %v", c2.SndRTO, tcpcb.MaxRTO)
	}
}

func TestBackoffDoublesRTOUpToMax(t *testing.T) {
	c := tcpcb.New(1, 3)
	Update(c, 200*time.Millisecond)
	before := c.SndRTO
	Backoff(c)
	if c.SndRTO != before*2 {
		t.Fatalf("rto after backoff = %v, want %v", c.SndRTO, before*2)
	}
	for i := 0; i < 20; i++ {
		Backoff(c)
	}
	if c.SndRTO > tcpcb.MaxRTO {
		t.Fatalf("rto after repeated backoff = %v, exceeds MaxRTO %v", c.SndRTO, tcpcb.MaxRTO)
	}
}

func TestIgnoresNonPositiveSample(t *testing.T) {
	c := tcpcb.New(1, 3)
	Update(c, 100*time.Millisecond)
	before := c.SndSRTT
	Update(c, 0)
	Update(c, -5*time.Millisecond)
	if c.SndSRTT != before {
		t.Fatalf("srtt changed on a non-positive sample: %v -> %v", before, c.SndSRTT)
	}
}
