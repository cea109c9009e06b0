// Package wire implements IPv4/TCP header parsing, building, and checksum
// computation, grounded nearly verbatim on the teacher's parseIPv4Header/
// buildIPv4HeaderInto/ipv4Checksum/parseTCPHeader (internal/netstack/
// netstack.go), extended with a TCP checksum (the teacher's tiny TCP
// subset never validates or emits one — see its package doc "no
// retransmits, no congestion control... "; this stack's TCP segments
// always carry one, as RFC 793 requires) and TCP flag constants.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	IPv4HeaderLen  = 20
	TCPHeaderLen   = 20
	TCPProtoNumber = 6
)

// TCP control bits (RFC 793 §3.1).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
	FlagECE uint8 = 1 << 6
	FlagCWR uint8 = 1 << 7
)

// IPv4Header is the subset of the IPv4 header the TCP engine consumes.
type IPv4Header struct {
	TotalLen uint16
	Protocol uint8
	Src      [4]byte
	Dst      [4]byte
	Options  []byte
	Payload  []byte
}

// ParseIPv4 decodes a minimal IPv4 header, per the teacher's
// parseIPv4Header.
func ParseIPv4(data []byte) (IPv4Header, error) {
	if len(data) < IPv4HeaderLen {
		return IPv4Header{}, fmt.Errorf("ipv4 header too short: %d", len(data))
	}
	verIHL := data[0]
	if verIHL>>4 != 4 {
		return IPv4Header{}, fmt.Errorf("unsupported ipv4 version: %d", verIHL>>4)
	}
	headerLen := int(verIHL&0x0f) * 4
	if len(data) < headerLen {
		return IPv4Header{}, fmt.Errorf("ipv4 header length mismatch: %d", headerLen)
	}
	var h IPv4Header
	h.TotalLen = binary.BigEndian.Uint16(data[2:4])
	h.Protocol = data[9]
	copy(h.Src[:], data[12:16])
	copy(h.Dst[:], data[16:20])
	if headerLen > IPv4HeaderLen {
		h.Options = data[IPv4HeaderLen:headerLen]
	}
	h.Payload = data[headerLen:]
	return h, nil
}

// BuildIPv4Into writes an IPv4 header + payload into buf, computing the
// header checksum, per buildIPv4HeaderInto/buildIPv4PacketInto.
func BuildIPv4Into(buf []byte, src, dst [4]byte, protocol uint8, payload []byte) []byte {
	totalLen := IPv4HeaderLen + len(payload)
	if cap(buf) < totalLen {
		buf = make([]byte, totalLen)
	}
	packet := buf[:totalLen]
	packet[0] = byte((4 << 4) | (IPv4HeaderLen / 4))
	packet[1] = 0
	binary.BigEndian.PutUint16(packet[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(packet[4:6], 0)
	binary.BigEndian.PutUint16(packet[6:8], 0x4000) // don't fragment
	packet[8] = 64
	packet[9] = protocol
	binary.BigEndian.PutUint16(packet[10:12], 0)
	copy(packet[12:16], src[:])
	copy(packet[16:20], dst[:])
	check := IPv4Checksum(packet[:IPv4HeaderLen])
	binary.BigEndian.PutUint16(packet[10:12], check)
	copy(packet[IPv4HeaderLen:], payload)
	return packet
}

// IPv4Checksum computes the RFC 791 ones'-complement header checksum.
func IPv4Checksum(data []byte) uint16 {
	return onesComplementSum(data)
}

func onesComplementSum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// TCPHeader is the parsed form of a TCP segment header plus its options and
// payload slices (views into the original buffer).
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	DataOff  uint8
	Flags    uint8
	Window   uint16
	Checksum uint16
	Urgent   uint16
	Options  []byte
	Payload  []byte
}

// ParseTCP decodes a TCP segment header, per the teacher's parseTCPHeader,
// extended to split out the flags byte (the teacher keeps flags as part of
// a wider uint16 that also held reserved bits; TCP flags are one byte).
func ParseTCP(data []byte) (TCPHeader, error) {
	if len(data) < TCPHeaderLen {
		return TCPHeader{}, fmt.Errorf("tcp header too short: %d", len(data))
	}
	hdrLen := int(data[12]>>4) * 4
	if len(data) < hdrLen {
		return TCPHeader{}, fmt.Errorf("tcp header length mismatch: %d", hdrLen)
	}
	h := TCPHeader{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Seq:      binary.BigEndian.Uint32(data[4:8]),
		Ack:      binary.BigEndian.Uint32(data[8:12]),
		DataOff:  data[12] >> 4,
		Flags:    data[13],
		Window:   binary.BigEndian.Uint16(data[14:16]),
		Checksum: binary.BigEndian.Uint16(data[16:18]),
		Urgent:   binary.BigEndian.Uint16(data[18:20]),
		Payload:  data[hdrLen:],
	}
	if hdrLen > TCPHeaderLen {
		h.Options = data[TCPHeaderLen:hdrLen]
	}
	return h, nil
}

// BuildTCPInto writes a TCP segment (header + options + payload) into buf
// and fixes up the checksum against the IPv4 pseudo-header.
func BuildTCPInto(buf []byte, src, dst [4]byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8, window uint16, options, payload []byte) []byte {
	hdrLen := TCPHeaderLen + len(options)
	for hdrLen%4 != 0 {
		hdrLen++ // pad (callers should already 4-byte-align options)
	}
	total := hdrLen + len(payload)
	if cap(buf) < total {
		buf = make([]byte, total)
	}
	seg := buf[:total]
	binary.BigEndian.PutUint16(seg[0:2], srcPort)
	binary.BigEndian.PutUint16(seg[2:4], dstPort)
	binary.BigEndian.PutUint32(seg[4:8], seq)
	binary.BigEndian.PutUint32(seg[8:12], ack)
	seg[12] = byte(hdrLen/4) << 4
	seg[13] = flags
	binary.BigEndian.PutUint16(seg[14:16], window)
	binary.BigEndian.PutUint16(seg[16:18], 0)
	binary.BigEndian.PutUint16(seg[18:20], 0)
	copy(seg[TCPHeaderLen:hdrLen], options)
	copy(seg[hdrLen:], payload)

	check := TCPChecksum(src, dst, seg)
	binary.BigEndian.PutUint16(seg[16:18], check)
	return seg
}

// TCPChecksum computes the RFC 793 checksum over the IPv4 pseudo-header and
// the TCP segment. The teacher's TCP subset never computes one (see
// package doc); this is new code following the same ones'-complement
// algorithm as ipv4Checksum/udpChecksum.
func TCPChecksum(src, dst [4]byte, segment []byte) uint16 {
	pseudo := make([]byte, 12+len(segment))
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[8] = 0
	pseudo[9] = TCPProtoNumber
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
	copy(pseudo[12:], segment)
	return onesComplementSum(pseudo)
}
