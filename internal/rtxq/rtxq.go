// Package rtxq implements the retransmission queue and ACK-cleaning logic of
// §4.3, grounded on the teacher's tcpSendBuffer.ack (internal/netstack/
// tcp.go), generalized from a flat byte-capacity buffer to the spec's FIFO
// with in-place HOL trimming and RTX-timer rescheduling callbacks.
package rtxq

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/timerwheel"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

// Clean implements clean_rtx_queue(ack): pops every segment whose last
// byte is below ack (exclusive End <= ack), trims a partially-acknowledged
// HOL in place (sequence
// and byte content), and reports the bytes newly acknowledged plus an RTT
// sample drawn from the oldest fully-acked, never-retransmitted segment
// (Karn's algorithm — §4.7). Progress re-arms timers's RTX timer; draining
// the queue cancels it.
func Clean(c *tcpcb.ConnState, ack seqnum.Value, timers *timerwheel.Wheel) (bytesAcked uint32, rttSample time.Duration, hasRTT bool) {
	now := time.Now()
	q := c.RTXQ
	i := 0
	for i < len(q) {
		seg := q[i]
		if ack.LessThan(seg.End) {
			break
		}
		bytesAcked += uint32(seg.Seq.Size(seg.End))
		if seg.RTXCount == 0 && !hasRTT {
			rttSample = now.Sub(seg.SentAt)
			hasRTT = true
		}
		if seg.Data != nil {
			seg.Data.Release()
		}
		i++
	}
	q = q[i:]

	if len(q) > 0 && seg0ContainsAck(q[0], ack) {
		trimmed := int(q[0].Seq.Size(ack))
		bytesAcked += uint32(trimmed)
		if q[0].Data != nil {
			q[0].Data.TrimFront(trimmed)
		}
		q[0].Seq = ack
	}
	c.RTXQ = q

	if len(q) == 0 {
		timers.Cancel(c, timerwheel.RTX)
		c.Wake(waitbits.RtxqEmpty)
	} else if i > 0 {
		timers.Arm(c, timerwheel.RTX, c.SndRTO)
	}
	return bytesAcked, rttSample, hasRTT
}

func seg0ContainsAck(seg tcpcb.RTXSegment, ack seqnum.Value) bool {
	return seg.Seq.LessThan(ack) && ack.LessThan(seg.End)
}

// Push enqueues a newly-sent segment onto the RTX queue in send order,
// arming timers's RTX timer the moment the queue goes from empty to
// non-empty (§4.9 "armed on first unacknowledged send"); a queue that is
// already non-empty leaves the existing deadline alone.
func Push(c *tcpcb.ConnState, seg tcpcb.RTXSegment, timers *timerwheel.Wheel) {
	wasEmpty := len(c.RTXQ) == 0
	c.RTXQ = append(c.RTXQ, seg)
	if wasEmpty {
		timers.Arm(c, timerwheel.RTX, c.SndRTO)
	}
}
