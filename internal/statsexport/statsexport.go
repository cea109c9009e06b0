// Package statsexport exports a CSV snapshot of every connection's
// instrumentation fields, using github.com/gocarina/gocsv (grounded on the
// m-lab-tcp-info example repo's CSV-snapshot pattern for tcp_info rows,
// generalized from polling a kernel socket to polling ConnState directly).
package statsexport

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

// Row is one CSV record: a flattened, string/number-friendly view of a
// ConnState's instrumentation fields, mirroring the teacher pack's
// tcpConnSnapshot debug struct but serialized as CSV instead of JSON.
type Row struct {
	Flow      string  `csv:"flow"`
	State     string  `csv:"state"`
	SndUna    uint32  `csv:"snd_una"`
	SndNxt    uint32  `csv:"snd_nxt"`
	RcvNxt    uint32  `csv:"rcv_nxt"`
	Cwnd      uint32  `csv:"cwnd"`
	Ssthresh  uint32  `csv:"ssthresh"`
	InFlight  uint32  `csv:"inflight"`
	SRTTMicro int64   `csv:"srtt_us"`
	RTOMicro  int64   `csv:"rto_us"`
	DupAck    int     `csv:"dupack"`
	RTXCount  int     `csv:"rtx_count"`
	CongCtl   string  `csv:"congctl"`
}

// Snapshot converts a slice of ConnState into CSV rows.
func Snapshot(conns []*tcpcb.ConnState) []Row {
	rows := make([]Row, 0, len(conns))
	for _, c := range conns {
		name := ""
		if c.CongCtl != nil {
			name = c.CongCtl.Name()
		}
		rows = append(rows, Row{
			Flow:      c.Flow.String(),
			State:     c.State.String(),
			SndUna:    uint32(c.SndUna),
			SndNxt:    uint32(c.SndNxt),
			RcvNxt:    uint32(c.RcvNxt),
			Cwnd:      c.Cong.Cwnd,
			Ssthresh:  c.Cong.Ssthresh,
			InFlight:  c.InFlight(),
			SRTTMicro: c.SndSRTT.Microseconds(),
			RTOMicro:  c.SndRTO.Microseconds(),
			DupAck:    c.Cong.DupAck,
			RTXCount:  c.Cong.RtxCount,
			CongCtl:   name,
		})
	}
	return rows
}

// Write marshals the current connection set as CSV to w.
func Write(w io.Writer, conns []*tcpcb.ConnState) error {
	return gocsv.Marshal(Snapshot(conns), w)
}

// WriteTicker periodically writes a snapshot to w until stop is closed. An
// interval below 100ms is raised to 100ms to avoid a runaway export loop.
func WriteTicker(w io.Writer, interval time.Duration, conns func() []*tcpcb.ConnState, stop <-chan struct{}) {
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = Write(w, conns())
		case <-stop:
			return
		}
	}
}
