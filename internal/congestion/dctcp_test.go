package congestion

import "testing"

func TestDCTCPUnmarkedWindowDecaysAlphaByEWMA(t *testing.T) {
	d := NewDCTCP()
	s := &State{}
	d.OnSyn(s, 65535, 1460)
	s.Cwnd = 10 * 1460

	d.OnECN(s, false, s.Cwnd) // one full window, no CE marks
	if want := 1.0 - dctcpG; d.alpha != want {
		t.Fatalf("alpha = %v after an unmarked window, want %v (frac=0 pulls alpha from 1.0 down by the EWMA factor)", d.alpha, want)
	}
}

func TestDCTCPFullyMarkedWindowHalvesCwnd(t *testing.T) {
	d := NewDCTCP()
	s := &State{}
	d.OnSyn(s, 65535, 1460)
	s.Cwnd = 10 * 1460
	startCwnd := s.Cwnd

	d.OnECN(s, true, s.Cwnd) // entire window marked: frac=1
	// alpha after one EWMA step from 1.0 with frac=1 stays 1.0.
	if d.alpha != 1.0 {
		t.Fatalf("alpha = %v, want 1.0 (EWMA of 1.0 and 1.0)", d.alpha)
	}
	wantCwnd := uint32(float64(startCwnd) * 0.5)
	if s.Cwnd != wantCwnd {
		t.Fatalf("cwnd = %d, want %d (halved at alpha=1)", s.Cwnd, wantCwnd)
	}
	if s.Ssthresh != s.Cwnd {
		t.Fatalf("ssthresh = %d, want equal to new cwnd %d", s.Ssthresh, s.Cwnd)
	}
}

func TestDCTCPCwndNeverDropsBelowOneMSS(t *testing.T) {
	d := NewDCTCP()
	s := &State{}
	d.OnSyn(s, 65535, 1460)
	s.Cwnd = s.MSS // already at the floor
	d.OnECN(s, true, s.Cwnd)
	if s.Cwnd < s.MSS {
		t.Fatalf("cwnd = %d dropped below 1 MSS (%d)", s.Cwnd, s.MSS)
	}
}

func TestDCTCPAccumulatesAcrossPartialWindows(t *testing.T) {
	d := NewDCTCP()
	s := &State{}
	d.OnSyn(s, 65535, 1460)
	s.Cwnd = 10 * 1460

	d.OnECN(s, true, 5*1460) // half the window, all marked
	if s.Cwnd != 10*1460 {
		t.Fatalf("cwnd changed before a full window of data was acked: %d", s.Cwnd)
	}
	d.OnECN(s, true, 5*1460) // completes the window
	if s.Cwnd == 10*1460 {
		t.Fatalf("cwnd unchanged after a full marked window completed")
	}
}
