// Package egress builds outbound TCP segments (§4.8): SYN/SYN-ACK option
// attachment, data-ACK option attachment (Timestamp + SACK blocks), and the
// transmit-gating arithmetic that decides how much of txq a Send call may
// emit. Grounded on the teacher's sendSynAck/sendAck/sendFin (internal/
// netstack/tcp.go), generalized from fixed-flag helpers to one parameterized
// Send plus the window-accounting helpers §4.8 names.
package egress

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/pktbuf"
	"github.com/tinyrange/tcpstack/internal/rtxq"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/tcperr"
	"github.com/tinyrange/tcpstack/internal/timerwheel"
	"github.com/tinyrange/tcpstack/internal/waitbits"
	"github.com/tinyrange/tcpstack/internal/wire"
)

// Send builds and transmits one TCP segment for c with the given flags and
// payload, attaching options per §4.8, and — if the segment carries SYN, FIN
// or payload (i.e. consumes sequence space) — pushes an RTX queue entry, arming
// timers's RTX timer on the first unacknowledged send (§4.9).
func Send(drv nic.Driver, c *tcpcb.ConnState, flags uint8, payload []byte, timers *timerwheel.Wheel) {
	var opts []byte
	switch {
	case flags&wire.FlagSYN != 0 && flags&wire.FlagACK != 0:
		opts = tcpcb.EncodeSynAck(uint16(c.RcvMSS), c.Opts.RcvWScale,
			c.Opts.WScaleOk, c.Opts.SACKPermitted, c.Opts.TSOk,
			tsNow(c), uint32(c.Opts.TSRecent))
	case flags&wire.FlagSYN != 0:
		opts = tcpcb.EncodeSyn(uint16(c.RcvMSS), c.Opts.RcvWScale,
			c.Opts.SACKPermitted, c.Opts.TSOk, tsNow(c), 0)
	default:
		var blocks []tcpcb.SACKBlock
		if c.RXB != nil {
			for _, b := range c.RXB.Sack(4) {
				blocks = append(blocks, tcpcb.SACKBlock{Left: b.Left, Right: b.Right})
			}
		}
		opts = tcpcb.EncodeAck(c.Opts.TSOk, tsNow(c), uint32(c.Opts.TSRecent), blocks)
	}

	seq := c.SndNxt
	buf := pktbuf.New(len(payload) + len(opts))
	seg := wire.BuildTCPInto(buf.Bytes(), c.Flow.DstAddr, c.Flow.SrcAddr,
		c.Flow.DstPort, c.Flow.SrcPort, uint32(seq), uint32(c.RcvNxt),
		flags, uint16(c.RcvWnd), opts, payload)
	buf = pktbuf.FromWire(seg)

	frameBuf := pktbuf.New(len(seg))
	frame := wire.BuildIPv4Into(frameBuf.Bytes(), c.Flow.DstAddr, c.Flow.SrcAddr, wire.TCPProtoNumber, seg)
	out := pktbuf.FromWire(frame)

	consumesSeq := len(payload) > 0 || flags&wire.FlagSYN != 0 || flags&wire.FlagFIN != 0
	if consumesSeq {
		end := seq.Add(seqnum.Size(len(payload)))
		if flags&(wire.FlagSYN|wire.FlagFIN) != 0 {
			end = end.Add(1)
		}
		rtxq.Push(c, tcpcb.RTXSegment{Seq: seq, End: end, Data: buf, SentAt: time.Now()}, timers)
		c.SndNxt = end
	}

	drv.TxBatch([]*pktbuf.Buffer{out})
}

// SendKeepalive sends a bare keepalive probe (§4.9): a zero-payload segment
// one byte before snd_una, which elicits a duplicate ACK from a live peer
// without consuming new sequence space or entering the RTX queue.
func SendKeepalive(drv nic.Driver, c *tcpcb.ConnState) {
	probeSeq := c.SndUna.Add(^seqnum.Size(0)) // snd_una - 1, mod 2^32
	opts := tcpcb.EncodeAck(c.Opts.TSOk, tsNow(c), uint32(c.Opts.TSRecent), nil)
	buf := pktbuf.New(len(opts))
	seg := wire.BuildTCPInto(buf.Bytes(), c.Flow.DstAddr, c.Flow.SrcAddr,
		c.Flow.DstPort, c.Flow.SrcPort, uint32(probeSeq), uint32(c.RcvNxt),
		wire.FlagACK, uint16(c.RcvWnd), opts, nil)
	frameBuf := pktbuf.New(len(seg))
	frame := wire.BuildIPv4Into(frameBuf.Bytes(), c.Flow.DstAddr, c.Flow.SrcAddr, wire.TCPProtoNumber, seg)
	drv.TxBatch([]*pktbuf.Buffer{pktbuf.FromWire(frame)})
}

// Retransmit implements the RTX timer's fire action on a data-carrying
// connection (§4.9): resend the head-of-line segment verbatim, double
// snd_rto up to MaxRTO, inform congestion control before resending, clear
// any SACK flags a loss event invalidates (RFC 2018), and latch ETIMEDOUT
// once MaxRTXCount retransmissions have been spent.
func Retransmit(drv nic.Driver, c *tcpcb.ConnState, timers *timerwheel.Wheel) {
	if len(c.RTXQ) == 0 {
		return
	}
	hol := &c.RTXQ[0]
	firstRTX := c.Cong.RtxCount == 0
	for i := range c.RTXQ {
		c.RTXQ[i].SACKed = false
	}
	hol.RTXCount++
	c.Cong.RtxCount++
	c.CongCtl.OnRTX(&c.Cong, firstRTX)

	if c.Cong.RtxCount > tcpcb.MaxRTXCount {
		c.Err = tcperr.ErrTimedOut
		c.Wake(waitbits.Error)
		return
	}

	c.SndRTO *= 2
	if c.SndRTO > tcpcb.MaxRTO {
		c.SndRTO = tcpcb.MaxRTO
	}

	if hol.Data != nil {
		tcpBytes := hol.Data.Bytes()
		frameBuf := pktbuf.New(len(tcpBytes))
		frame := wire.BuildIPv4Into(frameBuf.Bytes(), c.Flow.DstAddr, c.Flow.SrcAddr, wire.TCPProtoNumber, tcpBytes)
		drv.TxBatch([]*pktbuf.Buffer{pktbuf.FromWire(frame)})
	}
	timers.Arm(c, timerwheel.RTX, c.SndRTO)
}

func tsNow(c *tcpcb.ConnState) uint32 {
	if !c.Opts.TSOk {
		return 0
	}
	return uint32(time.Now().UnixMilli()) + c.Opts.TSOffset
}

// SendRST builds a bare RST (no ConnState available, e.g. for an unmatched
// segment), per the teacher's sendRST-equivalent unmatched-connection path.
func SendRST(drv nic.Driver, srcAddr, dstAddr [4]byte, srcPort, dstPort uint16, seq, ack uint32, ackSet bool) {
	flags := wire.FlagRST
	if ackSet {
		flags |= wire.FlagACK
	}
	buf := pktbuf.New(0)
	seg := wire.BuildTCPInto(buf.Bytes(), dstAddr, srcAddr, dstPort, srcPort, seq, ack, flags, 0, nil, nil)
	frameBuf := pktbuf.New(len(seg))
	frame := wire.BuildIPv4Into(frameBuf.Bytes(), dstAddr, srcAddr, wire.TCPProtoNumber, seg)
	drv.TxBatch([]*pktbuf.Buffer{pktbuf.FromWire(frame)})
}

// EffectiveWindow implements §4.8's transmit-gating formula:
//
//	W = max(min(cwnd, snd_wnd) - inflight, 0)
//
// plus the fast-recovery inflation of snd_dupack*MSS while snd_dupack <= 2.
func EffectiveWindow(c *tcpcb.ConnState) uint32 {
	cwnd := c.Cong.Cwnd
	wnd := uint32(c.EffectiveSndWnd())
	base := cwnd
	if wnd < base {
		base = wnd
	}
	inflight := c.InFlight()
	var w uint32
	if base > inflight {
		w = base - inflight
	}
	if c.Cong.DupAck > 0 && c.Cong.DupAck <= 2 {
		w += uint32(c.Cong.DupAck) * c.SndMSS
	}
	return w
}

// Flush emits full-MSS segments from txq until the effective window is
// exhausted or txq is empty (§4.8 "the sender emits full-MSS segments until
// W is exhausted"; Nagle is unspecified and not implemented).
func Flush(drv nic.Driver, c *tcpcb.ConnState, timers *timerwheel.Wheel) {
	for len(c.TXQ) > 0 {
		w := EffectiveWindow(c)
		if w == 0 {
			return
		}
		chunk := c.TXQ[0]
		n := len(chunk)
		if uint32(n) > w {
			n = int(w)
		}
		if uint32(n) > c.SndMSS {
			n = int(c.SndMSS)
		}
		flags := wire.FlagACK
		Send(drv, c, flags, chunk[:n], timers)
		if n == len(chunk) {
			c.TXQ = c.TXQ[1:]
		} else {
			c.TXQ[0] = chunk[n:]
		}
	}
}
