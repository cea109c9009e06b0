// Package waitbits defines the wait/wake condition bitmask shared by
// ConnState, the blocking-task scheduler (internal/fiber), and the epoll
// registry (internal/epoll). Keeping it in its own tiny package avoids an
// import cycle between tcpcb and epoll, both of which need the bit names.
package waitbits

// Mask is a bitmask over the wait conditions of §4.10/§4.11.
type Mask uint32

const (
	AcqNonEmpty     Mask = 1 << iota // accept queue non-empty
	ConEstablished                  // state reached Established
	FinReceived                     // state is CloseWait/LastAck/Closing/TimeWait
	TxqEmpty                        // bytes queued == 0
	TxqHalfEmpty                    // bytes queued < wmem/2
	RxqNonEmpty                     // rxq non-empty
	RtxqEmpty                       // rtxq empty
	Closed                          // state entered Closed
	Error                           // ConnState.error latched non-zero
)

// String renders the set bits for logging.
func (m Mask) String() string {
	names := []struct {
		bit  Mask
		name string
	}{
		{AcqNonEmpty, "AcqNonEmpty"},
		{ConEstablished, "ConEstablished"},
		{FinReceived, "FinReceived"},
		{TxqEmpty, "TxqEmpty"},
		{TxqHalfEmpty, "TxqHalfEmpty"},
		{RxqNonEmpty, "RxqNonEmpty"},
		{RtxqEmpty, "RtxqEmpty"},
		{Closed, "Closed"},
		{Error, "Error"},
	}
	out := ""
	for _, n := range names {
		if m&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Has reports whether any bit in want is set in m.
func (m Mask) Has(want Mask) bool { return m&want != 0 }
