package tcpcb

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"
)

// TCP option kinds (RFC 793, RFC 1323, RFC 2018), extended from the
// teacher's tcpOptEnd/tcpOptNOP/tcpOptMSS/tcpOptWndScale/tcpOptSACKOK set
// (internal/netstack/tcp.go) to add SACK and Timestamp, both named but
// unimplemented by the teacher.
const (
	OptEnd       = 0
	OptNOP       = 1
	OptMSS       = 2
	OptWScale    = 3
	OptSACKOK    = 4
	OptSACK      = 5
	OptTimestamp = 8
)

// ParsedOptions is the result of parsing a segment's option bytes (§4.4
// step 3).
type ParsedOptions struct {
	MSS           uint16
	HasMSS        bool
	WScale        uint8
	HasWScale     bool
	SACKPermitted bool
	TSVal         uint32
	TSEcr         uint32
	HasTS         bool
	SACKBlocks    []SACKBlock
}

// SACKBlock is one [Left, Right) range reported by the peer's SACK option.
type SACKBlock struct {
	Left, Right seqnum.Value
}

// ParseOptions parses a segment's TCP options area, extending the teacher's
// parseTCPOptions (MSS/WScale only) with SACK-permitted, SACK, and
// Timestamp, per §4.4/§4.8.
func ParseOptions(b []byte) ParsedOptions {
	var p ParsedOptions
	i := 0
	for i < len(b) {
		kind := b[i]
		switch kind {
		case OptEnd:
			return p
		case OptNOP:
			i++
			continue
		case OptMSS:
			if i+4 <= len(b) && b[i+1] == 4 {
				p.MSS = binary.BigEndian.Uint16(b[i+2 : i+4])
				p.HasMSS = true
			}
			i = advance(b, i)
		case OptWScale:
			if i+3 <= len(b) && b[i+1] == 3 {
				p.WScale = b[i+2]
				p.HasWScale = true
			}
			i = advance(b, i)
		case OptSACKOK:
			if i+2 <= len(b) && b[i+1] == 2 {
				p.SACKPermitted = true
			}
			i = advance(b, i)
		case OptTimestamp:
			if i+10 <= len(b) && b[i+1] == 10 {
				p.TSVal = binary.BigEndian.Uint32(b[i+2 : i+6])
				p.TSEcr = binary.BigEndian.Uint32(b[i+6 : i+10])
				p.HasTS = true
			}
			i = advance(b, i)
		case OptSACK:
			if i+1 < len(b) {
				length := int(b[i+1])
				n := (length - 2) / 8
				for j := 0; j < n; j++ {
					off := i + 2 + j*8
					if off+8 > len(b) {
						break
					}
					left := binary.BigEndian.Uint32(b[off : off+4])
					right := binary.BigEndian.Uint32(b[off+4 : off+8])
					p.SACKBlocks = append(p.SACKBlocks, SACKBlock{
						Left:  seqnum.Value(left),
						Right: seqnum.Value(right),
					})
				}
			}
			i = advance(b, i)
		default:
			i = advance(b, i)
		}
	}
	return p
}

func advance(b []byte, i int) int {
	if i+1 >= len(b) {
		return len(b)
	}
	length := int(b[i+1])
	if length < 2 {
		return len(b)
	}
	return i + length
}

// EncodeSyn builds the options area for an outbound SYN: MSS always, plus
// WScale (when wscale is non-zero), SACK-permitted and Timestamp (when their
// flags are set), i.e. when the caller has enabled them locally (mirroring
// only happens on the SYN-ACK side, in EncodeSynAck).
func EncodeSyn(mss uint16, wscale uint8, sackPermitted, ts bool, tsVal, tsEcr uint32) []byte {
	var out []byte
	out = appendMSS(out, mss)
	if wscale > 0 {
		out = appendNOP(out)
		out = appendWScale(out, wscale)
	}
	if sackPermitted {
		out = appendNOP(out)
		out = appendNOP(out)
		out = appendSACKOK(out)
	}
	if ts {
		out = appendTimestamp(out, tsVal, tsEcr)
	}
	return padToAlign(out)
}

// EncodeSynAck mirrors WScale/Timestamp/SACK-permitted only if the peer
// offered them on the SYN (§4.8), attaching MSS unconditionally.
func EncodeSynAck(mss uint16, wscale uint8, peerWScale, peerSACK, peerTS bool, tsVal, tsEcr uint32) []byte {
	var out []byte
	out = appendMSS(out, mss)
	if peerWScale {
		out = appendNOP(out)
		out = appendWScale(out, wscale)
	}
	if peerSACK {
		out = appendNOP(out)
		out = appendNOP(out)
		out = appendSACKOK(out)
	}
	if peerTS {
		out = appendTimestamp(out, tsVal, tsEcr)
	}
	return padToAlign(out)
}

// EncodeAck builds the options area for a data/ACK segment: Timestamp (if
// negotiated) followed by up to maxBlocks SACK blocks (3 with TS present, 4
// without, per §4.8).
func EncodeAck(ts bool, tsVal, tsEcr uint32, blocks []SACKBlock) []byte {
	var out []byte
	maxBlocks := 4
	if ts {
		out = appendTimestamp(out, tsVal, tsEcr)
		maxBlocks = 3
	}
	if len(blocks) > maxBlocks {
		blocks = blocks[:maxBlocks]
	}
	if len(blocks) > 0 {
		out = appendNOP(out)
		out = appendNOP(out)
		out = appendSACK(out, blocks)
	}
	return padToAlign(out)
}

func appendMSS(out []byte, mss uint16) []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = OptMSS, 4
	binary.BigEndian.PutUint16(buf[2:4], mss)
	return append(out, buf...)
}

func appendWScale(out []byte, scale uint8) []byte {
	return append(out, OptWScale, 3, scale)
}

func appendSACKOK(out []byte) []byte {
	return append(out, OptSACKOK, 2)
}

func appendNOP(out []byte) []byte { return append(out, OptNOP) }

func appendTimestamp(out []byte, val, ecr uint32) []byte {
	buf := make([]byte, 10)
	buf[0], buf[1] = OptTimestamp, 10
	binary.BigEndian.PutUint32(buf[2:6], val)
	binary.BigEndian.PutUint32(buf[6:10], ecr)
	return append(out, buf...)
}

func appendSACK(out []byte, blocks []SACKBlock) []byte {
	length := 2 + 8*len(blocks)
	buf := make([]byte, length)
	buf[0], buf[1] = OptSACK, byte(length)
	for i, blk := range blocks {
		off := 2 + i*8
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(blk.Left))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(blk.Right))
	}
	return append(out, buf...)
}

// padToAlign pads the options area to a 4-byte boundary with NOP bytes, per
// RFC 793 §3.1.
func padToAlign(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, OptNOP)
	}
	return b
}
