// Package ingress implements the inbound segment pipeline of §4.4 and the
// per-state ACK processor of §4.5, grounded on the teacher's
// handleTCP/handleSegment (internal/netstack/tcp.go and netstack.go),
// generalized from the teacher's four-state SYN/ACK/FIN-only subset to the
// full eleven-state machine, RFC 793 acceptability/trim, RST/FIN handling,
// SACK/timestamp option processing, and the pluggable congestion-control
// hooks.
package ingress

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/congestion"
	"github.com/tinyrange/tcpstack/internal/egress"
	"github.com/tinyrange/tcpstack/internal/flowtable"
	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/pktbuf"
	"github.com/tinyrange/tcpstack/internal/reorder"
	"github.com/tinyrange/tcpstack/internal/rttest"
	"github.com/tinyrange/tcpstack/internal/rtxq"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/tcperr"
	"github.com/tinyrange/tcpstack/internal/timerwheel"
	"github.com/tinyrange/tcpstack/internal/waitbits"
	"github.com/tinyrange/tcpstack/internal/wire"
)

// Config bundles the per-listener defaults the pipeline negotiates into new
// ConnStates, standing in for what the teacher hardcodes (fixed MSS, no
// options at all).
type Config struct {
	MSS           uint32
	RcvWnd        uint32
	RcvWScale     uint8
	EnableWScale  bool
	EnableSACK    bool
	EnableTS      bool
	CongVariant   string
	Backlog       int
}

// Pipeline ties one core's flow table, timer wheel, and NIC driver together
// to process inbound segments. One Pipeline is owned by exactly one core
// (§5 shared-nothing model).
type Pipeline struct {
	Flows  *flowtable.Table
	Timers *timerwheel.Wheel
	Drv    nic.Driver
	Cfg    Config
}

// New returns a Pipeline over an already-constructed flow table and timer
// wheel.
func New(flows *flowtable.Table, timers *timerwheel.Wheel, drv nic.Driver, cfg Config) *Pipeline {
	return &Pipeline{Flows: flows, Timers: timers, Drv: drv, Cfg: cfg}
}

// HandleFrame implements §4.4 steps 1-11 for one inbound IPv4 frame carrying
// a TCP segment.
func (p *Pipeline) HandleFrame(frame []byte) {
	ipHdr, err := wire.ParseIPv4(frame)
	if err != nil || ipHdr.Protocol != wire.TCPProtoNumber {
		return
	}
	tcpHdr, err := wire.ParseTCP(ipHdr.Payload)
	if err != nil {
		return
	}

	f := tcpcb.Flow{SrcAddr: ipHdr.Src, SrcPort: tcpHdr.SrcPort, DstAddr: ipHdr.Dst, DstPort: tcpHdr.DstPort}

	// Step 1: flow lookup.
	c, ok := p.Flows.Lookup(f)
	if !ok {
		p.handleUnmatched(f, tcpHdr)
		return
	}

	// Step 2: demux by state.
	switch c.State {
	case tcpcb.Listen:
		p.handleListenSyn(c, f, tcpHdr)
	case tcpcb.SynSent:
		p.handleSynSent(c, tcpHdr)
	default:
		p.handleOther(c, tcpHdr)
	}
}

func (p *Pipeline) handleUnmatched(f tcpcb.Flow, hdr wire.TCPHeader) {
	if hdr.Flags&wire.FlagRST != 0 {
		return
	}
	ack := hdr.Seq + uint32(len(hdr.Payload))
	if hdr.Flags&wire.FlagSYN != 0 {
		ack++
	}
	ackSet := hdr.Flags&wire.FlagACK != 0
	if ackSet {
		egress.SendRST(p.Drv, f.SrcAddr, f.DstAddr, f.SrcPort, f.DstPort, hdr.Ack, 0, false)
	} else {
		egress.SendRST(p.Drv, f.SrcAddr, f.DstAddr, f.SrcPort, f.DstPort, 0, ack, true)
	}
}

// handleListenSyn implements the Listen-state branch of §4.4 step 2/3: a
// SYN against a listening row spawns a SynRecv child.
func (p *Pipeline) handleListenSyn(parent *tcpcb.ConnState, f tcpcb.Flow, hdr wire.TCPHeader) {
	if hdr.Flags&wire.FlagSYN == 0 || hdr.Flags&wire.FlagACK != 0 {
		return
	}
	if parent.Accept != nil && parent.Accept.Len() >= parent.Accept.Backlog {
		return // backlog full: silently drop, peer will retransmit the SYN
	}

	opts := tcpcb.ParseOptions(hdr.Options)
	child := tcpcb.New(parent.PID, -1)
	child.Flow = f
	child.Parent = parent
	child.IsPassive = true
	child.State = tcpcb.SynRecv
	child.RcvNxt = seqnum.Value(hdr.Seq).Add(1)
	child.RcvWnd = seqnum.Size(p.Cfg.RcvWnd)
	child.RcvMSS = p.Cfg.MSS
	child.SndMSS = p.Cfg.MSS
	child.SndISN = seqnum.Value(uint32(time.Now().UnixNano()))
	child.SndNxt = child.SndISN
	child.SndUna = child.SndISN
	child.SndWnd = seqnum.Size(hdr.Window)
	child.RXB = reorder.New()
	child.CongCtl = congestion.New(p.Cfg.CongVariant)
	child.Opts.SACKPermitted = opts.SACKPermitted && p.Cfg.EnableSACK
	if opts.HasWScale && p.Cfg.EnableWScale {
		child.Opts.WScaleOk = true
		child.Opts.SndWScale = opts.WScale
		child.Opts.RcvWScale = p.Cfg.RcvWScale
	}
	if opts.HasMSS {
		child.SndMSS = min(uint32(opts.MSS), p.Cfg.MSS)
	}
	if opts.HasTS && p.Cfg.EnableTS {
		child.Opts.TSOk = true
		child.Opts.TSOffset = uint32(time.Now().UnixNano())
		child.Opts.TSRecent = opts.TSVal
		child.Opts.TSRecentUpdate = time.Now()
	}
	child.CongCtl.OnSyn(&child.Cong, uint32(child.SndWnd), child.SndMSS)

	if !p.Flows.Insert(child) {
		return // 4-tuple collision: internal bug, drop rather than corrupt state
	}
	egress.Send(p.Drv, child, wire.FlagSYN|wire.FlagACK, nil, p.Timers)
}

func (p *Pipeline) handleSynSent(c *tcpcb.ConnState, hdr wire.TCPHeader) {
	if hdr.Flags&wire.FlagRST != 0 {
		if hdr.Flags&wire.FlagACK != 0 {
			p.reset(c)
		}
		return
	}
	if hdr.Flags&wire.FlagSYN == 0 {
		return
	}
	opts := tcpcb.ParseOptions(hdr.Options)
	c.RcvNxt = seqnum.Value(hdr.Seq).Add(1)
	c.SndWnd = seqnum.Size(hdr.Window)
	c.SndWL1 = seqnum.Value(hdr.Seq)
	c.SndWL2 = seqnum.Value(hdr.Ack)
	if opts.HasMSS {
		c.SndMSS = min(uint32(opts.MSS), c.SndMSS)
	}
	if opts.HasWScale && c.Opts.WScaleOk {
		c.Opts.SndWScale = opts.WScale
	} else {
		c.Opts.WScaleOk = false
	}
	c.Opts.SACKPermitted = c.Opts.SACKPermitted && opts.SACKPermitted
	if opts.HasTS && c.Opts.TSOk {
		c.Opts.TSRecent = opts.TSVal
		c.Opts.TSRecentUpdate = time.Now()
		rttest.Update(c, time.Duration(uint32(time.Now().UnixMilli())-opts.TSEcr+c.Opts.TSOffset)*time.Millisecond)
	} else {
		c.Opts.TSOk = false
	}

	if hdr.Flags&wire.FlagACK != 0 {
		if seqnum.Value(hdr.Ack) != c.SndNxt {
			return // unacceptable ACK on SYN-ACK: drop (a real stack would RST)
		}
		c.SndUna = seqnum.Value(hdr.Ack)
		c.State = tcpcb.Established
		c.CongCtl.OnSyn(&c.Cong, uint32(c.SndWnd), c.SndMSS)
		egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers)
		c.KeepaliveCount = 0
		p.Timers.Arm(c, timerwheel.Keepalive, tcpcb.KeepaliveIdle)
		c.Wake(waitbits.ConEstablished)
	} else {
		c.State = tcpcb.SynRecv
		egress.Send(p.Drv, c, wire.FlagSYN|wire.FlagACK, nil, p.Timers)
	}
}

// handleOther implements §4.4 steps 4-11 for every state besides
// Listen/SynSent (Closed rows never reach here: a Closed ConnState is never
// flow-table-resident).
func (p *Pipeline) handleOther(c *tcpcb.ConnState, hdr wire.TCPHeader) {
	seq := seqnum.Value(hdr.Seq)
	segLen := seqnum.Size(len(hdr.Payload))
	if hdr.Flags&wire.FlagSYN != 0 {
		segLen++
	}
	if hdr.Flags&wire.FlagFIN != 0 {
		segLen++
	}

	// Step 4: segment acceptability (RFC 793).
	if !acceptable(c, seq, segLen) {
		if hdr.Flags&wire.FlagRST != 0 {
			return
		}
		if c.State == tcpcb.SynRecv && hdr.Flags&wire.FlagSYN != 0 {
			p.Timers.Arm(c, timerwheel.RTX, c.SndRTO)
			return
		}
		egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers)
		return
	}

	// Step 5: trim to window.
	trimmedSeq, trimmedLen, dropSYN, dropFIN, payload := trimToWindow(c, seq, segLen, hdr)

	// Step 6: RST handling.
	if hdr.Flags&wire.FlagRST != 0 {
		p.handleRST(c)
		return
	}

	// Step 7: SYN inside the window outside Listen/SynRecv-handshake is an
	// error.
	if hdr.Flags&wire.FlagSYN != 0 && !dropSYN {
		egress.SendRST(p.Drv, c.Flow.SrcAddr, c.Flow.DstAddr, c.Flow.SrcPort, c.Flow.DstPort, uint32(c.SndNxt), 0, false)
		p.Deallocate(c)
		return
	}

	// Step 8/9: ACK handling + options.
	if hdr.Flags&wire.FlagACK != 0 {
		p.processACK(c, hdr)
	}

	_ = trimmedLen

	// Step 11: text delivery.
	if len(payload) > 0 && isDataAcceptingState(c.State) {
		p.deliverText(c, trimmedSeq, payload)
	}

	// Step 10: FIN handling, only once its sequence position (immediately
	// after any payload this segment carried) has been reached by rcv_nxt —
	// a FIN riding on a segment with a preceding gap is not processed: the
	// reorder buffer keeps only its payload, and the FIN takes effect only
	// when the peer retransmits it after the gap is ACKed.
	if hdr.Flags&wire.FlagFIN != 0 && !dropFIN && trimmedSeq.Add(seqnum.Size(len(payload))) == c.RcvNxt {
		p.handleFIN(c)
	}
}

func isDataAcceptingState(s tcpcb.State) bool {
	return s == tcpcb.Established || s == tcpcb.FinWait1 || s == tcpcb.FinWait2
}

// acceptable implements the RFC 793 segment-acceptability test (§4.4 step 4).
func acceptable(c *tcpcb.ConnState, seq seqnum.Value, segLen seqnum.Size) bool {
	wnd := c.RcvWnd
	switch {
	case segLen == 0 && wnd == 0:
		return seq == c.RcvNxt
	case segLen == 0 && wnd > 0:
		return seq.InWindow(c.RcvNxt, wnd)
	case segLen > 0 && wnd == 0:
		return false
	default:
		end := seq.Add(segLen - 1)
		return seq.InWindow(c.RcvNxt, wnd) || end.InWindow(c.RcvNxt, wnd)
	}
}

// trimToWindow implements §4.4 step 5: a segment straddling the window is
// trimmed on both ends, clearing SYN/FIN when they fall outside the kept
// range.
func trimToWindow(c *tcpcb.ConnState, seq seqnum.Value, segLen seqnum.Size, hdr wire.TCPHeader) (trimmedSeq seqnum.Value, trimmedLen seqnum.Size, dropSYN, dropFIN bool, payload []byte) {
	payload = hdr.Payload
	trimmedSeq = seq
	end := seq.Add(seqnum.Size(len(payload)))

	if trimmedSeq.LessThan(c.RcvNxt) {
		skip := int(trimmedSeq.Size(c.RcvNxt))
		if skip > len(payload) {
			skip = len(payload)
		}
		payload = payload[skip:]
		trimmedSeq = c.RcvNxt
		dropSYN = true
	}
	windowEnd := c.RcvNxt.Add(c.RcvWnd)
	if end.LessThan(windowEnd) {
		// within window, nothing to trim at the tail
	} else if windowEnd.LessThan(end) {
		keep := int(trimmedSeq.Size(windowEnd))
		if keep < 0 {
			keep = 0
		}
		if keep < len(payload) {
			payload = payload[:keep]
		}
		dropFIN = true
	}
	trimmedLen = seqnum.Size(len(payload))
	return
}

func (p *Pipeline) handleRST(c *tcpcb.ConnState) {
	switch c.State {
	case tcpcb.SynRecv:
		if c.IsPassive && c.Parent != nil {
			// detach from the parent's accept queue (it was never pushed
			// there yet, since promotion only happens on ACK — nothing to
			// remove, just deallocate).
		}
		p.Deallocate(c)
	case tcpcb.Established, tcpcb.CloseWait:
		c.TXQ = nil
		c.RTXQ = nil
		if c.RXB != nil {
			c.RXB.Clear()
		}
		c.Err = tcperr.ErrConnReset
		c.Wake(waitbits.Error)
	default:
		p.Deallocate(c)
	}
}

func (p *Pipeline) reset(c *tcpcb.ConnState) {
	c.Err = tcperr.ErrConnRefused
	c.Wake(waitbits.Error)
	p.Deallocate(c)
}

// Deallocate implements the final teardown step shared by the RST path, the
// LastAck ACK processor, and the 2MSL timer fire (internal/core's
// timerwheel.Callback): remove c from the flow table, forget its timers,
// drop any buffered out-of-order data, and mark it Closed so no flow-table
// lookup can reach it again (§8).
func (p *Pipeline) Deallocate(c *tcpcb.ConnState) {
	p.Flows.Remove(c.Flow)
	p.Timers.Forget(c)
	if c.RXB != nil {
		c.RXB.Clear()
	}
	c.State = tcpcb.Closed
	c.Wake(waitbits.Closed)
}

func (p *Pipeline) deliverText(c *tcpcb.ConnState, seq seqnum.Value, payload []byte) {
	if seq != c.RcvNxt {
		// Out of order: hand to the reorder buffer rather than rxq.
		admitted := c.RXB.Insert(seq, pktbuf.FromWire(payload))
		if admitted > 0 {
			p.Timers.Arm(c, timerwheel.DelayedACK, minDuration(250*time.Millisecond, c.SndRTO/2))
		}
		return
	}
	c.RXQ = append(c.RXQ, payload)
	c.RcvNxt = c.RcvNxt.Add(seqnum.Size(len(payload)))
	c.RcvWnd -= seqnum.Size(len(payload))

	// Drain any now-contiguous reorder-buffer segments.
	hadGap := !c.RXB.Empty()
	for {
		data, ok := c.RXB.Remove(c.RcvNxt)
		if !ok {
			break
		}
		b := data.Bytes()
		c.RXQ = append(c.RXQ, b)
		c.RcvNxt = c.RcvNxt.Add(seqnum.Size(len(b)))
		c.RcvWnd -= seqnum.Size(len(b))
	}
	c.Wake(waitbits.RxqNonEmpty)

	if hadGap {
		egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers) // gap-filling segment: ACK immediately
		return
	}
	p.Timers.Arm(c, timerwheel.DelayedACK, minDuration(200*time.Millisecond, c.SndRTO/2))
}

// processACK implements §4.5's per-state ACK processor.
func (p *Pipeline) processACK(c *tcpcb.ConnState, hdr wire.TCPHeader) {
	ack := seqnum.Value(hdr.Ack)
	seq := seqnum.Value(hdr.Seq)

	opts := tcpcb.ParseOptions(hdr.Options)
	if opts.HasTS {
		p.applyTimestamp(c, seq, opts)
	}
	for _, blk := range opts.SACKBlocks {
		markSacked(c, blk)
	}

	switch c.State {
	case tcpcb.SynRecv:
		if !(c.SndUna.LessThanEq(ack) && ack.LessThanEq(c.SndNxt)) {
			egress.SendRST(p.Drv, c.Flow.SrcAddr, c.Flow.DstAddr, c.Flow.SrcPort, c.Flow.DstPort, uint32(ack), 0, false)
			return
		}
		c.SndUna = ack
		c.State = tcpcb.Established
		c.SndWnd = seqnum.Size(hdr.Window)
		c.SndWL1, c.SndWL2 = seq, ack
		if c.IsPassive && c.Parent != nil {
			if c.Parent.Accept == nil {
				c.Parent.Accept = &tcpcb.AcceptQueue{Backlog: 128}
			}
			c.Parent.Accept.Push(c)
			c.Parent.Wake(waitbits.AcqNonEmpty)
		}
		c.KeepaliveCount = 0
		p.Timers.Arm(c, timerwheel.Keepalive, tcpcb.KeepaliveIdle)
		c.Wake(waitbits.ConEstablished)
		return

	case tcpcb.LastAck:
		if ack == c.SndNxt {
			p.Timers.Cancel(c, timerwheel.RTX)
			p.Deallocate(c)
		}
		return

	case tcpcb.TimeWait:
		if hdr.Flags&wire.FlagFIN != 0 {
			egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers)
			p.Timers.Arm(c, timerwheel.RTX, 2*60*time.Second)
		}
		return
	}

	// Established / FinWait1 / FinWait2 / CloseWait / Closing.
	if ack.LessThan(c.SndUna) {
		return // old ACK, ignore
	}
	if c.SndNxt.LessThan(ack) {
		egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers) // ACK of unsent data
		return
	}

	// endOfLastRTX is the highest sequence number already transmitted
	// (§3/scenario 2: "records snd_recover=5000" when snd_nxt=5001), fed to
	// the congestion controller so NewReno's RFC 6582 partial-ACK branch can
	// seed snd_recover; ack itself (not snd_nxt) is what's compared against
	// the recorded snd_recover on every later ACK to tell a partial recovery
	// ACK from a full one.
	endOfLastRTX := uint32(c.SndNxt.Add(^seqnum.Size(0)))

	ackedBytes, rttSample, hasRTT := rtxq.Clean(c, ack, p.Timers)
	if ackedBytes == 0 && ack == c.SndUna {
		c.CongCtl.OnAck(&c.Cong, 0, c.Cong.DupAck+1, 0, c.InFlight(), endOfLastRTX, uint32(ack))
	} else {
		if c.SndWL1.LessThan(seq) || (c.SndWL1 == seq && c.SndWL2.LessThanEq(ack)) {
			c.SndWnd = seqnum.Size(hdr.Window)
			c.SndWL1, c.SndWL2 = seq, ack
		}
		c.SndUna = ack
		c.Cong.RtxCount = 0
		if hasRTT && !c.Opts.TSOk {
			rttest.Update(c, rttSample)
		}
		c.CongCtl.OnAck(&c.Cong, ackedBytes, 0, rttSample, c.InFlight(), endOfLastRTX, uint32(ack))

		if c.State == tcpcb.Established || c.State == tcpcb.CloseWait {
			c.KeepaliveCount = 0
			p.Timers.Arm(c, timerwheel.Keepalive, tcpcb.KeepaliveIdle)
		}
	}

	switch c.State {
	case tcpcb.FinWait1:
		if c.SndUna == c.SndNxt {
			c.State = tcpcb.FinWait2
		}
	case tcpcb.Closing:
		if c.SndUna == c.SndNxt {
			c.State = tcpcb.TimeWait
			p.Timers.Arm(c, timerwheel.RTX, 2*60*time.Second)
		}
	}
}

// markSacked flags every RTXQ entry wholly covered by a reported SACK block
// (§4.4 step 9), so a future RTX timer fire (§4.9) can skip already-sacked
// ranges per RFC 2018.
func markSacked(c *tcpcb.ConnState, blk tcpcb.SACKBlock) {
	for i := range c.RTXQ {
		seg := &c.RTXQ[i]
		if blk.Left.LessThanEq(seg.Seq) && seg.End.LessThanEq(blk.Right) {
			seg.SACKed = true
		}
	}
}

func (p *Pipeline) applyTimestamp(c *tcpcb.ConnState, seq seqnum.Value, opts tcpcb.ParsedOptions) {
	if !c.Opts.TSOk {
		return
	}
	if opts.TSVal < c.Opts.TSRecent {
		if time.Since(c.Opts.TSRecentUpdate) > 24*time.Hour*24 {
			c.Opts.TSRecent = opts.TSVal
			c.Opts.TSRecentUpdate = time.Now()
		}
		return
	}
	if opts.TSVal >= c.Opts.TSRecent && seq.LessThanEq(c.Opts.TSLastACKSent) {
		c.Opts.TSRecent = opts.TSVal
		c.Opts.TSRecentUpdate = time.Now()
	}
	if c.State == tcpcb.Established || c.State == tcpcb.SynRecv || c.State == tcpcb.CloseWait {
		now := uint32(time.Now().UnixMilli())
		sample := time.Duration(now-opts.TSEcr+c.Opts.TSOffset) * time.Millisecond
		rttest.Update(c, sample)
	}
}

// handleFIN implements §4.4 step 10.
func (p *Pipeline) handleFIN(c *tcpcb.ConnState) {
	c.RcvNxt = c.RcvNxt.Add(1)
	switch c.State {
	case tcpcb.SynRecv, tcpcb.Established:
		c.State = tcpcb.CloseWait
	case tcpcb.FinWait1:
		if c.SndUna != c.SndNxt {
			c.State = tcpcb.Closing
		} else {
			c.State = tcpcb.TimeWait
			p.Timers.Arm(c, timerwheel.RTX, 2*60*time.Second)
		}
	case tcpcb.FinWait2:
		c.State = tcpcb.TimeWait
		p.Timers.Arm(c, timerwheel.RTX, 2*60*time.Second)
	case tcpcb.TimeWait:
		p.Timers.Arm(c, timerwheel.RTX, 2*60*time.Second)
	}
	egress.Send(p.Drv, c, wire.FlagACK, nil, p.Timers)
	c.Wake(waitbits.FinReceived)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func min(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
