package congestion

import "time"

// dctcpG is the DCTCP alpha EWMA gain from RFC 8257 §3.3.
const dctcpG = 0.0625 // 1/16

// DCTCP implements RFC 8257: NewReno's window dynamics, but instead of
// halving cwnd on a congestion signal it scales cwnd by (1 - alpha/2), where
// alpha tracks the fraction of bytes acked this window that carried the ECN
// CE bit. Grounded on original_source/elements/tcp/dctcp/*.cc.
type DCTCP struct {
	reno *NewReno

	alpha        float64 // [0,1], starts at 1 per RFC 8257 §3.2
	windowMarked uint32
	windowTotal  uint32
}

// NewDCTCP constructs a DCTCP controller with alpha initialized to 1 (treat
// the path as congested until proven otherwise, per RFC 8257).
func NewDCTCP() *DCTCP {
	return &DCTCP{reno: NewNewReno(), alpha: 1.0}
}

func (*DCTCP) Name() string { return "dctcp" }

func (d *DCTCP) OnSyn(s *State, advertisedWnd, mss uint32) {
	d.reno.OnSyn(s, advertisedWnd, mss)
}

func (d *DCTCP) OnAck(s *State, ackedBytes uint32, dupCount int, rttSample time.Duration, inFlight uint32, endOfLastRTX, ack uint32) {
	d.reno.OnAck(s, ackedBytes, dupCount, rttSample, inFlight, endOfLastRTX, ack)
}

func (*DCTCP) OnOld(s *State) {}

// OnRTX falls back to NewReno's loss response; DCTCP only changes the
// ECN-driven reduction path, not timeout behavior.
func (d *DCTCP) OnRTX(s *State, firstRTX bool) {
	d.reno.OnRTX(s, firstRTX)
}

// OnECN accumulates the marked/total byte counts for the current window and,
// once a full window of data has been acknowledged, updates alpha and (if
// alpha indicates congestion) scales cwnd down per RFC 8257 §3.3:
//
//	cwnd = cwnd * (1 - alpha/2)
func (d *DCTCP) OnECN(s *State, marked bool, bytesThisAck uint32) {
	d.windowTotal += bytesThisAck
	if marked {
		d.windowMarked += bytesThisAck
	}
	// A full RTT's worth of data (approximated here by snd_cwnd bytes, per
	// the reference's use of cwnd as the observation-window size) has been
	// acknowledged: fold this window's marking fraction into alpha.
	if d.windowTotal < s.Cwnd {
		return
	}
	frac := 0.0
	if d.windowTotal > 0 {
		frac = float64(d.windowMarked) / float64(d.windowTotal)
	}
	d.alpha = (1-dctcpG)*d.alpha + dctcpG*frac
	if d.windowMarked > 0 {
		s.Cwnd = uint32(float64(s.Cwnd) * (1 - d.alpha/2))
		if s.Cwnd < s.MSS {
			s.Cwnd = s.MSS
		}
		s.Ssthresh = s.Cwnd
	}
	d.windowMarked = 0
	d.windowTotal = 0
}

func (*DCTCP) OnRateSample(s *State, rs RateSample) {}

func (*DCTCP) PacingRate(s *State) uint64 { return 0 }
