package tcpcb

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"
)

func TestEncodeSynRoundTrips(t *testing.T) {
	raw := EncodeSyn(1460, 7, true, true, 0x1111, 0)
	if len(raw)%4 != 0 {
		t.Fatalf("options length %d not 4-byte aligned", len(raw))
	}
	p := ParseOptions(raw)
	if !p.HasMSS || p.MSS != 1460 {
		t.Fatalf("MSS = %v/%v, want 1460/true", p.MSS, p.HasMSS)
	}
	if !p.HasWScale || p.WScale != 7 {
		t.Fatalf("WScale = %v/%v, want 7/true", p.WScale, p.HasWScale)
	}
	if !p.SACKPermitted {
		t.Fatalf("SACKPermitted = false, want true")
	}
	if !p.HasTS || p.TSVal != 0x1111 {
		t.Fatalf("TS = %v/%v, want 0x1111/true", p.TSVal, p.HasTS)
	}
}

func TestEncodeSynAckOnlyMirrorsOfferedOptions(t *testing.T) {
	raw := EncodeSynAck(1460, 7, false /* peer didn't offer WScale */, true, false, 0, 0)
	p := ParseOptions(raw)
	if p.HasWScale {
		t.Fatalf("WScale present though the peer never offered it")
	}
	if !p.SACKPermitted {
		t.Fatalf("SACKPermitted missing though the peer did offer it")
	}
	if p.HasTS {
		t.Fatalf("TS present though the peer never offered it")
	}
}

func TestEncodeAckCarriesTimestampAndSACKBlocks(t *testing.T) {
	blocks := []SACKBlock{
		{Left: seqnum.Value(100), Right: seqnum.Value(200)},
		{Left: seqnum.Value(300), Right: seqnum.Value(350)},
	}
	raw := EncodeAck(true, 42, 43, blocks)
	p := ParseOptions(raw)
	if !p.HasTS || p.TSVal != 42 || p.TSEcr != 43 {
		t.Fatalf("TS = %+v, want val=42 ecr=43", p)
	}
	if len(p.SACKBlocks) != 2 {
		t.Fatalf("got %d SACK blocks, want 2", len(p.SACKBlocks))
	}
	if p.SACKBlocks[0] != blocks[0] || p.SACKBlocks[1] != blocks[1] {
		t.Fatalf("SACK blocks = %+v, want %+v", p.SACKBlocks, blocks)
	}
}

func TestEncodeAckLimitsBlocksWhenTimestampPresent(t *testing.T) {
	blocks := make([]SACKBlock, 4)
	for i := range blocks {
		blocks[i] = SACKBlock{Left: seqnum.Value(i * 100), Right: seqnum.Value(i*100 + 50)}
	}
	raw := EncodeAck(true, 1, 2, blocks)
	p := ParseOptions(raw)
	if len(p.SACKBlocks) != 3 {
		t.Fatalf("got %d SACK blocks with TS present, want 3 (RFC 2018 cap)", len(p.SACKBlocks))
	}
}

func TestParseOptionsStopsAtEndOfList(t *testing.T) {
	raw := []byte{OptMSS, 4, 0x05, 0xB4, OptEnd, 0xFF, 0xFF, 0xFF}
	p := ParseOptions(raw)
	if !p.HasMSS || p.MSS != 1460 {
		t.Fatalf("MSS = %v/%v, want 1460/true", p.MSS, p.HasMSS)
	}
}

func TestParseOptionsSkipsUnknownKind(t *testing.T) {
	raw := []byte{0x1E, 4, 0, 0, OptMSS, 4, 0x05, 0xB4}
	p := ParseOptions(raw)
	if !p.HasMSS || p.MSS != 1460 {
		t.Fatalf("MSS = %v/%v after an unknown leading option, want 1460/true", p.MSS, p.HasMSS)
	}
}
