package egress

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/timerwheel"
	"github.com/tinyrange/tcpstack/internal/wire"
)

func newTimers() *timerwheel.Wheel { return timerwheel.New(nil) }

func newConn() *tcpcb.ConnState {
	c := tcpcb.New(1, 3)
	c.Flow = tcpcb.Flow{SrcAddr: [4]byte{10, 0, 0, 2}, SrcPort: 4000, DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	c.SndMSS = 1460
	c.SndWnd = 65535
	c.Cong.Cwnd = 65535
	return c
}

func recvSegment(t *testing.T, drv *nic.MemDriver) wire.TCPHeader {
	t.Helper()
	frames := drv.RxBatch(1)
	if len(frames) != 1 {
		t.Fatalf("RxBatch = %d frames, want 1", len(frames))
	}
	ip, err := wire.ParseIPv4(frames[0].Bytes())
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	tcp, err := wire.ParseTCP(ip.Payload)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	return tcp
}

func TestSendSynAdvancesSndNxtByOneAndQueuesRTX(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)
	c := newConn()
	c.SndNxt = seqnum.Value(1000)

	Send(a, c, wire.FlagSYN, nil, newTimers())

	if c.SndNxt != seqnum.Value(1001) {
		t.Fatalf("SndNxt = %v, want 1001 after a SYN", c.SndNxt)
	}
	if len(c.RTXQ) != 1 {
		t.Fatalf("RTXQ len = %d after a SYN, want 1", len(c.RTXQ))
	}

	tcp := recvSegment(t, b)
	if tcp.Flags&wire.FlagSYN == 0 {
		t.Fatalf("transmitted segment missing SYN flag")
	}
	if tcp.Seq != 1000 {
		t.Fatalf("transmitted seq = %d, want 1000", tcp.Seq)
	}
}

func TestSendPureAckDoesNotAdvanceSndNxt(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)
	c := newConn()
	c.SndNxt = seqnum.Value(2000)

	Send(a, c, wire.FlagACK, nil, newTimers())

	if c.SndNxt != seqnum.Value(2000) {
		t.Fatalf("SndNxt = %v after a pure ACK, want unchanged at 2000", c.SndNxt)
	}
	if len(c.RTXQ) != 0 {
		t.Fatalf("RTXQ len = %d after a pure ACK, want 0 (it consumes no sequence space)", len(c.RTXQ))
	}

	tcp := recvSegment(t, b)
	if tcp.Flags&wire.FlagACK == 0 {
		t.Fatalf("transmitted segment missing ACK flag")
	}
}

func TestSendDataAdvancesSndNxtByPayloadLength(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)
	c := newConn()
	c.SndNxt = seqnum.Value(3000)
	payload := []byte("hello")

	Send(a, c, wire.FlagACK, payload, newTimers())

	if c.SndNxt != seqnum.Value(3005) {
		t.Fatalf("SndNxt = %v, want 3005 after 5 bytes of payload", c.SndNxt)
	}
	tcp := recvSegment(t, b)
	if string(tcp.Payload) != "hello" {
		t.Fatalf("transmitted payload = %q, want %q", tcp.Payload, "hello")
	}
}

func TestEffectiveWindowIsZeroWhenFullyInFlight(t *testing.T) {
	c := newConn()
	c.Cong.Cwnd = 1000
	c.SndWnd = 1000
	c.SndNxt = seqnum.Value(5000)
	c.SndUna = seqnum.Value(4000) // 1000 bytes already in flight
	c.RTXQ = []tcpcb.RTXSegment{{Seq: 4000, End: 5000}}

	if w := EffectiveWindow(c); w != 0 {
		t.Fatalf("EffectiveWindow = %d, want 0 when cwnd is fully consumed", w)
	}
}

func TestEffectiveWindowInflatesDuringEarlyFastRecovery(t *testing.T) {
	c := newConn()
	c.Cong.Cwnd = 1000
	c.SndWnd = 1000
	c.Cong.DupAck = 2
	base := EffectiveWindow(c)

	c.Cong.DupAck = 0
	without := EffectiveWindow(c)
	if base <= without {
		t.Fatalf("EffectiveWindow with 2 dup-acks (%d) should exceed the baseline (%d)", base, without)
	}
}

func TestFlushDrainsTxqWithinTheWindow(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)
	c := newConn()
	c.SndNxt = seqnum.Value(1)
	c.TXQ = [][]byte{[]byte("abc"), []byte("def")}

	Flush(a, c, newTimers())

	if len(c.TXQ) != 0 {
		t.Fatalf("TXQ len = %d after Flush with ample window, want 0", len(c.TXQ))
	}
	if len(c.RTXQ) != 2 {
		t.Fatalf("RTXQ len = %d after Flush, want one entry per chunk (2)", len(c.RTXQ))
	}
}

func TestFlushStopsWhenWindowIsExhausted(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)
	c := newConn()
	c.Cong.Cwnd = 3
	c.SndWnd = 3
	c.SndNxt = seqnum.Value(1)
	c.TXQ = [][]byte{[]byte("abcdef")}

	Flush(a, c, newTimers())

	if len(c.TXQ) == 0 {
		t.Fatalf("TXQ drained fully despite a 3-byte window against 6 bytes queued")
	}
}

func TestSendRSTSetsRSTAndMirrorsAck(t *testing.T) {
	a, b := nic.NewMemDriver(), nic.NewMemDriver()
	nic.Connect(a, b)

	SendRST(a, [4]byte{10, 0, 0, 2}, [4]byte{10, 0, 0, 1}, 4000, 80, 0, 12345, true)

	tcp := recvSegment(t, b)
	if tcp.Flags&wire.FlagRST == 0 {
		t.Fatalf("SendRST output missing RST flag")
	}
	if tcp.Flags&wire.FlagACK == 0 {
		t.Fatalf("SendRST with ackSet=true should also set ACK")
	}
	if tcp.Ack != 12345 {
		t.Fatalf("ack = %d, want 12345", tcp.Ack)
	}
}
