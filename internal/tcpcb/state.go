// Package tcpcb defines ConnState, the per-connection control block, and the
// protocol state enumeration that the ingress/egress pipelines (internal/
// ingress, internal/egress) operate on. Grounded on the teacher's tcpConn
// struct and the tcpSendBuffer/tcpRecvBuffer/tcpRTTEstimator/
// tcpCongestionControl types in internal/netstack/tcp.go, generalized from a
// single embedded Reno block to the pluggable internal/congestion.Controller
// and from raw uint32 sequence arithmetic to gvisor.dev/gvisor/pkg/tcpip/
// seqnum's wraparound-safe Value/Size types.
package tcpcb

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/congestion"
	"github.com/tinyrange/tcpstack/internal/epollref"
	"github.com/tinyrange/tcpstack/internal/pktbuf"
	"github.com/tinyrange/tcpstack/internal/reorder"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

// State is the connection's position in the TCP state machine (§3).
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynRecv
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynRecv:
		return "SYN_RECV"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case Closing:
		return "CLOSING"
	case TimeWait:
		return "TIME_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// Defaults mirrored from the teacher's tcp.go constants, kept as
// package-level consts shared by every connection; New seeds ConnState.SndRTO
// from DefaultRTOInit.
const (
	DefaultRTOInit = 1 * time.Second
	MinRTO         = 200 * time.Millisecond
	MaxRTO         = 60 * time.Second
	MaxRTXCount    = 12
	DelayedACKMax  = 200 * time.Millisecond
	KeepaliveMax   = 9
	KeepaliveIdle     = 2 * time.Hour
	KeepaliveInterval = 75 * time.Second
)

// Options holds the negotiated TCP option state (§3 "Options negotiated").
type Options struct {
	TSOk            bool
	SACKPermitted   bool
	WScaleOk        bool
	SndWScale       uint8
	RcvWScale       uint8
	TSOffset        uint32
	TSRecent        uint32
	TSRecentUpdate  time.Time
	TSLastACKSent   seqnum.Value
}

// AcceptQueue holds passively-opened children that have completed the
// handshake, for a Listen-state ConnState.
type AcceptQueue struct {
	children []*ConnState
	Backlog  int
}

func (q *AcceptQueue) Push(c *ConnState) { q.children = append(q.children, c) }

func (q *AcceptQueue) Len() int { return len(q.children) }

func (q *AcceptQueue) Pop() *ConnState {
	if len(q.children) == 0 {
		return nil
	}
	c := q.children[0]
	q.children = q.children[1:]
	return c
}

// ConnState is the per-connection control block of §3. All four of its
// timers (RTX — overloaded as the 2MSL linger timer in TimeWait —,
// DelayedACK, Keepalive, and Pacing) are armed/canceled/fired through the
// single per-core internal/timerwheel.Wheel named in §4.9; ConnState itself
// carries no armed/deadline bookkeeping for them, only the KeepaliveCount
// below, which the wheel has no notion of. ConnState is held behind a plain
// *ConnState pointer by internal/core, never copied and never referenced by
// a (index, generation) pair: each core's pipeline is the sole goroutine
// that ever touches a given ConnState (§5 shared-nothing model), so there is
// no concurrent-reuse hazard for a generation counter to guard against, and
// ConnState itself holds no mutex.
type ConnState struct {
	// Identity
	Flow      Flow
	PID       int
	SockFD    int
	EPFD      int // 0 if not registered with an epoll instance
	Parent    *ConnState
	IsPassive bool

	State State

	// Send sequence space
	SndUna    seqnum.Value
	SndNxt    seqnum.Value
	SndISN    seqnum.Value
	SndWnd    seqnum.Size
	SndWL1    seqnum.Value
	SndWL2    seqnum.Value
	SndWndMax seqnum.Size
	SndMSS    uint32

	// Receive sequence space
	RcvNxt   seqnum.Value
	RcvWnd   seqnum.Size
	RcvMSS   uint32

	Opts Options

	// RTT/RTO
	SndSRTT time.Duration
	SndRTTVar time.Duration
	SndRTO  time.Duration

	// Congestion (variant-specific block is Cong, behind congestion.Controller)
	Cong     congestion.State
	CongCtl  congestion.Controller

	// Queues
	TXQ  [][]byte      // unsent application bytes, in order
	RTXQ []RTXSegment  // in-flight, ordered by sequence
	RXQ  [][]byte      // in-order received bytes ready for recv()
	RXB  *reorder.Buffer

	Accept *AcceptQueue // non-nil only for Listen states

	// Blocking/event
	Wait  waitbits.Mask
	Event *epollref.Record
	Task  WakeFunc
	Err   error

	// KeepaliveCount tracks unanswered keepalive probes (§4.9); reset to 0
	// whenever the keepalive timer is (re)armed, incremented on each fire.
	KeepaliveCount int

	createdAt time.Time
}

// RTXSegment is one unacknowledged outbound TCP segment (§4.3), grounded on
// the teacher's tcpSendSegment.
type RTXSegment struct {
	Seq       seqnum.Value
	End       seqnum.Value
	Data      *pktbuf.Buffer
	SentAt    time.Time
	RTXCount  int
	SACKed    bool
}

// WakeFunc resumes the goroutine parked on behalf of this connection's
// owning task, telling it which condition bits just fired (§4.11);
// internal/fiber supplies the concrete implementation via Task.Signal.
type WakeFunc func(ev waitbits.Mask)

// New constructs a freshly allocated ConnState in Closed state with default
// timers and an unset congestion controller (callers set CongCtl after
// option negotiation determines the configured variant).
func New(pid, sockfd int) *ConnState {
	return &ConnState{
		PID:       pid,
		SockFD:    sockfd,
		State:     Closed,
		SndRTO:    DefaultRTOInit,
		createdAt: time.Now(),
	}
}

// Age reports how long this ConnState has existed. No sweep in the stack
// calls it; TimeWait entries are reaped by the 2MSL timer instead.
func (c *ConnState) Age() time.Duration { return time.Since(c.createdAt) }

// EffectiveSndWnd returns the peer's advertised window left-shifted by the
// negotiated send scale factor (§4.5 SynRecv "snapshot the effective send
// window").
func (c *ConnState) EffectiveSndWnd() seqnum.Size {
	return c.SndWnd << c.Opts.SndWScale
}

// InFlight returns the number of bytes currently unacknowledged in RTXQ.
func (c *ConnState) InFlight() uint32 {
	var n uint32
	for _, seg := range c.RTXQ {
		n += uint32(seg.Seq.Size(seg.End))
	}
	return n
}

// Wake delivers ev (§4.11 wake_up): it signals the registered epoll record,
// if any, and passes ev to Task, if set. c.Wait is not consulted; the
// receiver decides whether ev matches what it waits for.
func (c *ConnState) Wake(ev waitbits.Mask) {
	if c.Event != nil {
		c.Event.Signal(ev)
	}
	if c.Task != nil {
		c.Task(ev)
	}
}
