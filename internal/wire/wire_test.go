package wire

import "testing"

func TestBuildTCPIntoRoundTripsThroughParseTCP(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{10, 0, 0, 1}
	buf := make([]byte, 0, 64)
	seg := BuildTCPInto(buf, src, dst, 4000, 80, 1000, 2000, FlagSYN|FlagACK, 65535, nil, []byte("payload"))

	h, err := ParseTCP(seg)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	if h.SrcPort != 4000 || h.DstPort != 80 {
		t.Fatalf("ports = %d/%d, want 4000/80", h.SrcPort, h.DstPort)
	}
	if h.Seq != 1000 || h.Ack != 2000 {
		t.Fatalf("seq/ack = %d/%d, want 1000/2000", h.Seq, h.Ack)
	}
	if h.Flags != FlagSYN|FlagACK {
		t.Fatalf("flags = %#x, want SYN|ACK", h.Flags)
	}
	if string(h.Payload) != "payload" {
		t.Fatalf("payload = %q, want %q", h.Payload, "payload")
	}
}

func TestBuildTCPIntoProducesAValidChecksum(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{10, 0, 0, 1}
	seg := BuildTCPInto(make([]byte, 0, 64), src, dst, 1, 2, 0, 0, FlagACK, 0, nil, []byte("abc"))

	// The ones'-complement sum of a segment over a checksum already set
	// correctly, including the pseudo-header, is always 0xFFFF.
	pseudo := make([]byte, 12+len(seg))
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = TCPProtoNumber
	pseudo[10] = byte(len(seg) >> 8)
	pseudo[11] = byte(len(seg))
	copy(pseudo[12:], seg)
	if onesComplementSum(pseudo) != 0 {
		t.Fatalf("checksum does not self-validate: residual %#x, want 0", onesComplementSum(pseudo))
	}
}

func TestBuildTCPIntoPadsOptionsToFourByteBoundary(t *testing.T) {
	seg := BuildTCPInto(make([]byte, 0, 64), [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2, 0, 0, FlagACK, 0, []byte{1, 2, 3}, nil)
	dataOff := int(seg[12]>>4) * 4
	if dataOff%4 != 0 {
		t.Fatalf("data offset %d not 4-byte aligned", dataOff)
	}
	if dataOff < TCPHeaderLen+3 {
		t.Fatalf("data offset %d too small to hold a 3-byte option", dataOff)
	}
}

func TestParseTCPRejectsShortBuffer(t *testing.T) {
	if _, err := ParseTCP(make([]byte, 10)); err == nil {
		t.Fatalf("ParseTCP accepted a 10-byte buffer, want an error (min header is 20 bytes)")
	}
}

func TestBuildIPv4IntoRoundTripsThroughParseIPv4(t *testing.T) {
	src := [4]byte{10, 0, 0, 2}
	dst := [4]byte{10, 0, 0, 1}
	payload := []byte("tcp segment goes here")
	frame := BuildIPv4Into(make([]byte, 0, 64), src, dst, TCPProtoNumber, payload)

	h, err := ParseIPv4(frame)
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if h.Src != src || h.Dst != dst {
		t.Fatalf("src/dst = %v/%v, want %v/%v", h.Src, h.Dst, src, dst)
	}
	if h.Protocol != TCPProtoNumber {
		t.Fatalf("protocol = %d, want %d", h.Protocol, TCPProtoNumber)
	}
	if string(h.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", h.Payload, payload)
	}
}

func TestParseIPv4RejectsUnsupportedVersion(t *testing.T) {
	frame := BuildIPv4Into(make([]byte, 0, 64), [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, TCPProtoNumber, nil)
	frame[0] = 0x50 // version 5
	if _, err := ParseIPv4(frame); err == nil {
		t.Fatalf("ParseIPv4 accepted an IPv4 header claiming version 5")
	}
}
