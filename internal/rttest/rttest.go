// Package rttest implements the RFC 6298 RTT/RTO estimator of §4.7,
// grounded directly on the teacher's tcpRTTEstimator (internal/netstack/
// tcp.go), generalized to accept either a timestamp-derived sample or a
// Karn's-algorithm send-time sample and to expose per-ConnState fields
// (SndSRTT/SndRTTVar/SndRTO) rather than an internal struct.
package rttest

import (
	"time"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

// Update applies one RTT sample to c's estimator per RFC 6298 §2.2/§2.3:
// first sample seeds srtt=r, rttvar=r/2, rto=3r; subsequent samples use the
// standard EWMA update. rto is clamped to [tcpcb.MinRTO, tcpcb.MaxRTO].
func Update(c *tcpcb.ConnState, sample time.Duration) {
	if sample <= 0 {
		return
	}
	if c.SndSRTT == 0 {
		c.SndSRTT = sample
		c.SndRTTVar = sample / 2
		c.SndRTO = clamp(3 * sample)
		return
	}
	delta := c.SndSRTT - sample
	if delta < 0 {
		delta = -delta
	}
	c.SndRTTVar = (3*c.SndRTTVar + delta) / 4
	c.SndSRTT = (7*c.SndSRTT + sample) / 8

	g := time.Microsecond
	k4 := 4 * c.SndRTTVar
	if k4 < g {
		k4 = g
	}
	c.SndRTO = clamp(c.SndSRTT + k4)
}

// Backoff doubles rto up to tcpcb.MaxRTO, per the RTX timer's exponential
// backoff rule (§4.9).
func Backoff(c *tcpcb.ConnState) {
	c.SndRTO = clamp(c.SndRTO * 2)
}

func clamp(d time.Duration) time.Duration {
	if d < tcpcb.MinRTO {
		return tcpcb.MinRTO
	}
	if d > tcpcb.MaxRTO {
		return tcpcb.MaxRTO
	}
	return d
}
