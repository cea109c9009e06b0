// Package core implements the per-core context of §5: a shared-nothing
// flow/port/socket-table triad driving one RSS-homed slice of traffic, and
// the POSIX-like socket API surface of §4.10 built on top of it. Grounded
// on the teacher's tcpListener/tcpConn Read/Write/Close/Accept (internal/
// netstack/netstack.go), generalized from one global stack to N independent
// per-core contexts selected by tcpcb.Flow.Core, and from net.Conn's
// blocking-by-default semantics to the explicit non-blocking/EAGAIN and
// wait-bitmask model of §4.10/§4.11.
package core

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/egress"
	"github.com/tinyrange/tcpstack/internal/epoll"
	"github.com/tinyrange/tcpstack/internal/flowtable"
	"github.com/tinyrange/tcpstack/internal/ingress"
	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/porttable"
	"github.com/tinyrange/tcpstack/internal/reorder"
	"github.com/tinyrange/tcpstack/internal/sockfd"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/tcperr"
	"github.com/tinyrange/tcpstack/internal/timerwheel"
	"github.com/tinyrange/tcpstack/internal/waitbits"
	"github.com/tinyrange/tcpstack/internal/wire"
)

// Core is one RSS-homed shard of the stack: its own flow table, port table,
// socket-fd table, timer wheel, and ingress/egress pipeline, driven by one
// goroutine (pinned to an OS thread in production via runtime.LockOSThread;
// not pinned here since the reference nic.MemDriver has no thread affinity
// requirement).
type Core struct {
	Index  int
	Flows  *flowtable.Table
	Ports  *porttable.Table
	Socks  *sockfd.Table
	Timers *timerwheel.Wheel
	Drv    nic.Driver
	Pipe   *ingress.Pipeline
	Epolls map[int]*epoll.Instance

	sockToConn map[int]*tcpcb.ConnState
	log        *slog.Logger

	numCores int
}

// New constructs a Core. localAddr is this core's IPv4 address for outbound
// connect()s; numCores is the total core count, needed for RSS-homing
// decisions in connect()'s ephemeral port search.
func New(index, numCores int, localAddr [4]byte, drv nic.Driver, sys *sockfd.SysCounter, cfg ingress.Config, log *slog.Logger) *Core {
	flows := flowtable.New()
	c := &Core{
		Index:      index,
		Flows:      flows,
		Ports:      porttable.New(localAddr),
		Socks:      sockfd.New(0, 65536, sys),
		Drv:        drv,
		Epolls:     make(map[int]*epoll.Instance),
		sockToConn: make(map[int]*tcpcb.ConnState),
		log:        log,
		numCores:   numCores,
	}
	timers := timerwheel.New(c.fireTimer)
	c.Timers = timers
	c.Pipe = ingress.New(flows, timers, drv, cfg)
	return c
}

// fireTimer is the per-core timerwheel.Callback (§4.9): it dispatches each
// fired (conn, kind) pair to the fire logic the kind names. RTX is
// overloaded (ingress.go arms it both for data retransmission and the 2MSL
// linger timer), disambiguated here by conn.State.
func (c *Core) fireTimer(conn *tcpcb.ConnState, kind timerwheel.Kind) {
	switch kind {
	case timerwheel.RTX:
		if conn.State == tcpcb.TimeWait {
			// §8: a Closed ConnState must not remain flow-table-reachable
			// after this tick. Close() already released conn's port/sockfd
			// when the application called it (TimeWait is only reached via
			// the active closer's own Close), so only flow/timer teardown
			// remains.
			c.Pipe.Deallocate(conn)
			return
		}
		egress.Retransmit(c.Drv, conn, c.Timers)
	case timerwheel.DelayedACK:
		egress.Send(c.Drv, conn, wire.FlagACK, nil, c.Timers)
	case timerwheel.Keepalive:
		c.fireKeepalive(conn)
	case timerwheel.Pacing:
		// No-op: nothing arms this timer, and egress sends up to
		// egress.EffectiveWindow without any rate limiting, so BBR's
		// pacing rate does not gate transmission.
	}
}

// fireKeepalive implements the keepalive timer's fire action (§4.9): send a
// probe, and after KeepaliveMax unanswered probes latch ETIMEDOUT.
func (c *Core) fireKeepalive(conn *tcpcb.ConnState) {
	if conn.State != tcpcb.Established && conn.State != tcpcb.CloseWait {
		return
	}
	conn.KeepaliveCount++
	if conn.KeepaliveCount > tcpcb.KeepaliveMax {
		conn.Err = tcperr.ErrTimedOut
		conn.Wake(waitbits.Error)
		return
	}
	egress.SendKeepalive(c.Drv, conn)
	c.Timers.Arm(conn, timerwheel.Keepalive, tcpcb.KeepaliveInterval)
}

// Run drives the core's rx poll / timer-fire loop until ctx is canceled,
// grounded on the teacher's single-goroutine-per-NetworkInterface model but
// generalized to a select-free poll loop (no blocking syscall to wait on,
// since nic.Driver is non-blocking) paced by a short ticker, coordinated
// alongside sibling cores via golang.org/x/sync/errgroup (§2 DOMAIN STACK).
func (c *Core) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Core) poll() {
	for _, frame := range c.Drv.RxBatch(64) {
		c.Pipe.HandleFrame(frame.Bytes())
		frame.Release()
	}
	c.Timers.Tick(time.Now())
}

// RunGroup launches n Cores under one errgroup, returning once any Core's
// Run returns an error or ctx is canceled (whichever first cancels the
// group).
func RunGroup(ctx context.Context, cores []*Core) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cores {
		c := c
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}

// Socket implements socket(): allocates an fd and a detached ConnState not
// yet in any flow table (§3 Lifecycle).
func (c *Core) Socket(pid int) (int, *tcpcb.ConnState, error) {
	fd, err := c.Socks.Get()
	if err != nil {
		return -1, nil, err
	}
	conn := tcpcb.New(pid, fd)
	conn.RXB = reorder.New()
	c.sockToConn[fd] = conn
	return fd, conn, nil
}

// Bind implements bind(): reserves addr:port in this core's port table and
// records it on conn's flow (remote side left zero until connect/accept).
func (c *Core) Bind(conn *tcpcb.ConnState, addr [4]byte, port uint16) error {
	if port == 0 {
		p, err := c.Ports.Get(c.Index, nil)
		if err != nil {
			return err
		}
		port = p
	} else if err := c.Ports.Reserve(port); err != nil {
		return err
	}
	conn.Flow.DstAddr = addr
	conn.Flow.DstPort = port
	return nil
}

// Listen implements listen(): transitions conn to Listen and inserts it
// into the flow table under its listen key.
func (c *Core) Listen(conn *tcpcb.ConnState, backlog int) error {
	conn.State = tcpcb.Listen
	conn.Accept = &tcpcb.AcceptQueue{Backlog: backlog}
	if !c.Flows.Insert(conn) {
		return tcperr.ErrFlowExists
	}
	return nil
}

// Accept implements accept(): pops a completed child from conn's accept
// queue, blocking (subject to task/nonBlocking) until one is ready.
func (c *Core) Accept(conn *tcpcb.ConnState, task Waiter, nonBlocking bool) (*tcpcb.ConnState, error) {
	for {
		if conn.Accept != nil && conn.Accept.Len() > 0 {
			child := conn.Accept.Pop()
			fd, err := c.Socks.Get()
			if err != nil {
				return nil, err
			}
			child.SockFD = fd
			c.sockToConn[fd] = child
			return child, nil
		}
		if nonBlocking {
			return nil, tcperr.ErrWouldBlock
		}
		if err := task.WaitEvent(context.Background(), waitbits.AcqNonEmpty, false, func() error { return conn.Err }); err != nil {
			return nil, err
		}
	}
}

// Waiter is the subset of *fiber.Task the socket API needs, kept as an
// interface here to avoid internal/core depending on internal/fiber for
// more than this one capability.
type Waiter interface {
	WaitEvent(ctx context.Context, mask waitbits.Mask, nonBlocking bool, errFn func() error) error
}

// Connect implements connect(): allocates an RSS-homed ephemeral port,
// transitions to SynSent, and emits the initial SYN.
func (c *Core) Connect(conn *tcpcb.ConnState, remoteAddr [4]byte, remotePort uint16, cfg ingress.Config) error {
	conn.Flow.SrcAddr = remoteAddr
	conn.Flow.SrcPort = remotePort
	home := func(candidate uint16) int {
		f := conn.Flow
		f.DstPort = candidate
		return f.Core(c.numCores)
	}
	port, err := c.Ports.Get(c.Index, home)
	if err != nil {
		return err
	}
	conn.Flow.DstPort = port
	conn.State = tcpcb.SynSent
	conn.SndISN = seqnum.Value(uint32(time.Now().UnixNano()))
	conn.SndNxt = conn.SndISN
	conn.SndUna = conn.SndISN
	conn.RcvWnd = seqnum.Size(cfg.RcvWnd)
	conn.RcvMSS = cfg.MSS
	conn.SndMSS = cfg.MSS
	conn.Opts.WScaleOk = cfg.EnableWScale
	conn.Opts.RcvWScale = cfg.RcvWScale
	conn.Opts.SACKPermitted = cfg.EnableSACK
	conn.Opts.TSOk = cfg.EnableTS
	if cfg.EnableTS {
		conn.Opts.TSOffset = uint32(time.Now().UnixNano())
	}
	if !c.Flows.Insert(conn) {
		return tcperr.ErrFlowExists
	}
	egress.Send(c.Drv, conn, 0x02 /* SYN */, nil, c.Timers)
	return nil
}

// Send implements send(): appends to txq and flushes what the current
// window allows.
func (c *Core) Send(conn *tcpcb.ConnState, data []byte) (int, error) {
	switch conn.State {
	case tcpcb.Established, tcpcb.CloseWait:
	default:
		return 0, tcperr.ErrNotConnected
	}
	conn.TXQ = append(conn.TXQ, append([]byte(nil), data...))
	egress.Flush(c.Drv, conn, c.Timers)
	return len(data), nil
}

// Recv implements recv(): pops from rxq, blocking unless nonBlocking.
func (c *Core) Recv(conn *tcpcb.ConnState, task Waiter, nonBlocking bool) ([]byte, error) {
	for {
		if len(conn.RXQ) > 0 {
			b := conn.RXQ[0]
			conn.RXQ = conn.RXQ[1:]
			return b, nil
		}
		if conn.State == tcpcb.CloseWait || conn.State == tcpcb.Closing || conn.State == tcpcb.LastAck {
			return nil, nil // EOF: peer's FIN already seen
		}
		if nonBlocking {
			return nil, tcperr.ErrWouldBlock
		}
		if err := task.WaitEvent(context.Background(), waitbits.RxqNonEmpty|waitbits.FinReceived, false, func() error { return conn.Err }); err != nil {
			return nil, err
		}
	}
}

// Close implements close(): from Established it sends FIN and transitions
// to FinWait1, and from CloseWait it sends FIN and transitions to LastAck;
// from Listen, SynSent or SynRecv it removes the flow and moves to Closed;
// in any other state the connection state is left unchanged. The bound port
// and the socket fd are always returned to their pools.
func (c *Core) Close(conn *tcpcb.ConnState) error {
	switch conn.State {
	case tcpcb.Established:
		conn.State = tcpcb.FinWait1
		egress.Send(c.Drv, conn, 0x01|0x10 /* FIN|ACK */, nil, c.Timers)
	case tcpcb.CloseWait:
		conn.State = tcpcb.LastAck
		egress.Send(c.Drv, conn, 0x01|0x10, nil, c.Timers)
	case tcpcb.Listen, tcpcb.SynSent, tcpcb.SynRecv:
		c.Flows.Remove(conn.Flow)
		conn.State = tcpcb.Closed
	}
	if conn.Flow.DstPort != 0 {
		c.Ports.Put(conn.Flow.DstPort)
	}
	c.Socks.Put(conn.SockFD)
	delete(c.sockToConn, conn.SockFD)
	return nil
}

// ConnByFD looks up the ConnState behind a socket fd, used by syscall-level
// wrappers (cmd/*) that only carry an int.
func (c *Core) ConnByFD(fd int) (*tcpcb.ConnState, bool) {
	conn, ok := c.sockToConn[fd]
	return conn, ok
}

// EpollCreate implements epoll_create(): allocates an fd and an Instance.
func (c *Core) EpollCreate() (int, *epoll.Instance, error) {
	fd, err := c.Socks.Get()
	if err != nil {
		return -1, nil, err
	}
	inst := epoll.New(fd)
	c.Epolls[fd] = inst
	return fd, inst, nil
}

// EpollClose implements epoll_close().
func (c *Core) EpollClose(epfd int) {
	if inst, ok := c.Epolls[epfd]; ok {
		inst.Close()
	}
	delete(c.Epolls, epfd)
	c.Socks.Put(epfd)
}
