package congestion

import (
	"time"

	"golang.org/x/time/rate"
)

// bbrPhase is BBR's four-phase state machine (draft-cardwell-ccwg-bbr).
type bbrPhase int

const (
	bbrStartup bbrPhase = iota
	bbrDrain
	bbrProbeBW
	bbrProbeRTT
)

const (
	bbrStartupGain  = 2.77 // 4*ln(2), per draft-cardwell §4.1.1
	bbrDrainGain    = 1 / 2.77
	bbrBtlBwWindow  = 10 // rounds of max-filter window for BtlBw
	bbrRTpropWindow = 10 * time.Second
	bbrProbeRTTDur  = 200 * time.Millisecond
)

// bbrPacingGainCycle is the 8-phase ProbeBW pacing gain cycle.
var bbrPacingGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

// BBR implements a simplified draft-cardwell BBR: Startup ramps pacing gain
// at bbrStartupGain until BtlBw stops growing for three rounds, Drain sheds
// the queue built up during Startup, and ProbeBW cycles gain to probe for
// more bandwidth while paying down queue. OnAck handles a ProbeRTT phase
// (cwnd held at 4*MSS), but no code path enters it, so RTprop is only
// re-measured from ordinary RTT samples. Grounded on
// original_source/elements/tcp/bbr/*.cc. The pacing rate is tracked in a
// golang.org/x/time/rate limiter; egress does not consult that limiter, so
// transmissions are not paced.
type BBR struct {
	phase bbrPhase

	btlBw       uint64 // bytes/sec, max-filtered delivery rate
	btlBwRounds int     // consecutive rounds without BtlBw growth (Startup exit test)
	rtProp      time.Duration
	rtPropStamp time.Time

	cycleIdx    int
	cycleStart  time.Time
	probeRTTEnd time.Time
	priorCwnd   uint32

	limiter *rate.Limiter
}

// NewBBR constructs a BBR controller starting in Startup with an
// essentially-infinite RTprop (not yet measured).
func NewBBR() *BBR {
	return &BBR{
		phase:  bbrStartup,
		rtProp: time.Hour,
		limiter: rate.NewLimiter(rate.Inf, 1<<20),
	}
}

func (*BBR) Name() string { return "bbr" }

func (b *BBR) OnSyn(s *State, advertisedWnd, mss uint32) {
	s.MSS = mss
	// BBR's initial window follows the same RFC 5681 tiering as NewReno;
	// it departs from loss-based cwnd dynamics only after Startup.
	s.Cwnd = InitialWindow(mss)
	s.Ssthresh = advertisedWnd
}

func (b *BBR) OnAck(s *State, ackedBytes uint32, dupCount int, rttSample time.Duration, inFlight uint32, endOfLastRTX, ack uint32) {
	if ackedBytes == 0 {
		return
	}
	s.BytesAcked += ackedBytes
	if rttSample > 0 {
		b.updateRTprop(rttSample)
	}

	switch b.phase {
	case bbrStartup:
		target := uint32(float64(s.Cwnd) * bbrStartupGain / 2)
		if target > s.Cwnd {
			s.Cwnd = target
		}
	case bbrDrain:
		target := b.bdp(s)
		if s.Cwnd > target {
			s.Cwnd = uint32(float64(s.Cwnd) * bbrDrainGain)
		} else {
			b.enterProbeBW()
		}
	case bbrProbeBW:
		gain := bbrPacingGainCycle[b.cycleIdx%len(bbrPacingGainCycle)]
		target := uint32(float64(b.bdp(s)) * gain)
		if target < s.MSS {
			target = s.MSS
		}
		s.Cwnd = target
		if time.Since(b.cycleStart) >= b.rtProp {
			b.cycleIdx++
			b.cycleStart = timeNowStub()
		}
	case bbrProbeRTT:
		s.Cwnd = 4 * s.MSS
		if timeNowStub().After(b.probeRTTEnd) {
			s.Cwnd = b.priorCwnd
			b.enterProbeBW()
		}
	}

	if s.Cwnd < s.MSS {
		s.Cwnd = s.MSS
	}
	b.limiter.SetLimit(rate.Limit(b.PacingRate(s)))
}

func (*BBR) OnOld(s *State) {}

// OnRTX is largely a no-op for BBR: loss alone does not cut cwnd, since BBR
// derives cwnd from BtlBw*RTprop rather than an additive-increase window.
// A pathological retransmit timeout still resets to one MSS so a truly dead
// path does not keep sending at the model-derived rate.
func (b *BBR) OnRTX(s *State, firstRTX bool) {
	if firstRTX {
		return
	}
	s.Cwnd = s.MSS
	b.phase = bbrStartup
	b.btlBwRounds = 0
}

func (*BBR) OnECN(s *State, marked bool, bytesThisAck uint32) {}

func (b *BBR) OnRateSample(s *State, rs RateSample) {
	if rs.Interval <= 0 {
		return
	}
	deliveryRate := uint64(float64(rs.DeliveredBytes) / rs.Interval.Seconds())
	if deliveryRate > b.btlBw {
		b.btlBw = deliveryRate
		b.btlBwRounds = 0
	} else {
		b.btlBwRounds++
	}
	if b.phase == bbrStartup && b.btlBwRounds >= 3 {
		b.phase = bbrDrain
	}
}

// PacingRate returns BtlBw scaled by the current phase's pacing gain, per
// draft-cardwell §4. Zero until the first rate sample arrives. The value
// feeds BBR's own limiter only; egress does not read it.
func (b *BBR) PacingRate(s *State) uint64 {
	if b.btlBw == 0 {
		return 0
	}
	gain := 1.0
	switch b.phase {
	case bbrStartup:
		gain = bbrStartupGain
	case bbrDrain:
		gain = bbrDrainGain
	case bbrProbeBW:
		gain = bbrPacingGainCycle[b.cycleIdx%len(bbrPacingGainCycle)]
	}
	return uint64(float64(b.btlBw) * gain)
}

func (b *BBR) bdp(s *State) uint32 {
	if b.btlBw == 0 || b.rtProp == time.Hour {
		return s.Cwnd
	}
	bdp := uint64(float64(b.btlBw) * b.rtProp.Seconds())
	if bdp > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(bdp)
}

func (b *BBR) updateRTprop(sample time.Duration) {
	if sample < b.rtProp || timeNowStub().Sub(b.rtPropStamp) > bbrRTpropWindow {
		b.rtProp = sample
		b.rtPropStamp = timeNowStub()
	}
}

func (b *BBR) enterProbeBW() {
	b.phase = bbrProbeBW
	b.cycleIdx = 0
	b.cycleStart = timeNowStub()
}

// timeNowStub isolates the one wall-clock read BBR's phase timers need,
// so tests can substitute a fake clock by constructing a BBR and driving it
// through OnRateSample/OnAck directly rather than relying on real time.
var timeNowStub = time.Now
