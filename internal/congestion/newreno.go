package congestion

import "time"

// NewReno implements RFC 5681/6582 fast-retransmit/fast-recovery, per
// original_source/elements/tcp/tcpnewrenosyn.cc (initial window),
// tcpnewrenortx.cc (RTO handling), and the duplicate-ACK counting in
// tcpcongestioncontrol.cc.
type NewReno struct{}

// NewNewReno constructs a NewReno controller. NewReno carries no
// variant-specific private state beyond the common State, unlike DCTCP/BBR.
func NewNewReno() *NewReno { return &NewReno{} }

func (*NewReno) Name() string { return "newreno" }

func (*NewReno) OnSyn(s *State, advertisedWnd, mss uint32) {
	s.MSS = mss
	s.Cwnd = InitialWindow(mss)
	s.Ssthresh = advertisedWnd
}

func (n *NewReno) OnAck(s *State, ackedBytes uint32, dupCount int, rttSample time.Duration, inFlight uint32, endOfLastRTX, ack uint32) {
	if ackedBytes == 0 {
		// Pure duplicate ACK: count it and act on the third.
		s.DupAck = dupCount
		if dupCount == 3 && !s.InRecovery {
			s.Ssthresh = max32(inFlight/2, 2*s.MSS)
			s.Cwnd = s.Ssthresh + 3*s.MSS
			s.Recover = endOfLastRTX
			s.InRecovery = true
		} else if s.InRecovery && dupCount > 3 {
			// Each additional duplicate ACK inflates cwnd by one MSS
			// (RFC 5681 step 4) while recovery is in progress.
			s.Cwnd += s.MSS
		}
		return
	}

	if s.InRecovery {
		if endOfLastRTX != 0 && !before(s.Recover, ack) {
			// Partial ACK: ack has not yet passed snd_recover, so more
			// loss remains outstanding. Retransmit is handled by the RTX
			// path; just deflate cwnd by the amount acked.
			if s.Cwnd > ackedBytes+s.MSS {
				s.Cwnd -= ackedBytes
			} else {
				s.Cwnd = s.MSS
			}
			s.ParAck = ack
			return
		}
		// Full acknowledgement of the recovery window: exit recovery.
		flight := inFlight
		recovered := min32(s.Ssthresh, max32(flight, s.MSS)+s.MSS)
		s.Cwnd = recovered
		s.InRecovery = false
		s.DupAck = 0
		return
	}

	s.DupAck = 0
	s.BytesAcked += ackedBytes
	if s.Cwnd < s.Ssthresh {
		// Slow start: one MSS of growth per MSS acked.
		grow := ackedBytes
		if grow > s.MSS {
			grow = s.MSS
		}
		s.Cwnd += grow
	} else {
		// Congestion avoidance: roughly one MSS per RTT.
		s.Cwnd += max32(1, s.MSS*s.MSS/max32(s.Cwnd, 1))
	}
}

func (*NewReno) OnOld(s *State) {}

func (*NewReno) OnRTX(s *State, firstRTX bool) {
	if firstRTX {
		inFlight := s.Cwnd
		s.Ssthresh = max32(inFlight/2, 2*s.MSS)
	}
	s.Cwnd = s.MSS
	s.InRecovery = false
	s.DupAck = 0
}

func (*NewReno) OnECN(s *State, marked bool, bytesThisAck uint32) {}

func (*NewReno) OnRateSample(s *State, rs RateSample) {}

func (*NewReno) PacingRate(s *State) uint64 { return 0 }

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// before reports whether sequence a precedes sequence b, accounting for
// 32-bit wraparound (RFC 1323 serial-number arithmetic).
func before(a, b uint32) bool {
	return int32(a-b) < 0
}
