package reorder

import (
	"testing"

	"github.com/go-test/deep"
	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/pktbuf"
)

func seg(s string) *pktbuf.Buffer { return pktbuf.FromWire([]byte(s)) }

func TestInsertDisjointThenInOrderDrain(t *testing.T) {
	b := New()
	if n := b.Insert(seqnum.Value(100), seg("world")); n != 5 {
		t.Fatalf("insert out-of-order got %d bytes, want 5", n)
	}
	if _, ok := b.Remove(seqnum.Value(95)); ok {
		t.Fatalf("Remove should miss: head-of-line is seq 100, not 95")
	}
	if n := b.Insert(seqnum.Value(95), seg("hello")); n != 5 {
		t.Fatalf("insert filling gap got %d bytes, want 5", n)
	}
	data, ok := b.Remove(seqnum.Value(95))
	if !ok || string(data.Bytes()) != "hello" {
		t.Fatalf("Remove(95) = %v, %v; want \"hello\", true", data, ok)
	}
	data, ok = b.Remove(seqnum.Value(100))
	if !ok || string(data.Bytes()) != "world" {
		t.Fatalf("Remove(100) = %v, %v; want \"world\", true", data, ok)
	}
	if !b.Empty() {
		t.Fatalf("buffer should be empty after draining both segments")
	}
}

func TestInsertWhollyDuplicateIsRejected(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(10), seg("abcde"))
	if n := b.Insert(seqnum.Value(11), seg("bcd")); n != 0 {
		t.Fatalf("wholly-covered insert admitted %d bytes, want 0", n)
	}
	if len(b.segs) != 1 {
		t.Fatalf("duplicate insert should not fragment the buffer, got %d segs", len(b.segs))
	}
}

func TestInsertStraddleSplitsAroundExisting(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(10), seg("XXX")) // [10,13)
	n := b.Insert(seqnum.Value(5), seg("aaaaaaaaaaaaa")) // [5,18), straddles [10,13)
	if n != int(13-5-3) {
		t.Fatalf("straddling insert admitted %d new bytes, want %d", n, 13-5-3)
	}
	if len(b.segs) != 3 {
		t.Fatalf("straddle should leave 3 disjoint segments (head, middle, tail), got %d", len(b.segs))
	}
}

func TestInsertIdempotence(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(0), seg("hello"))
	before := len(b.segs)
	if n := b.Insert(seqnum.Value(0), seg("hello")); n != 0 {
		t.Fatalf("re-inserting an identical segment admitted %d bytes, want 0", n)
	}
	if len(b.segs) != before {
		t.Fatalf("idempotent insert changed segment count: %d -> %d", before, len(b.segs))
	}
}

func TestSackPromotesTriggeringBlockToFront(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(100), seg("aaaa")) // [100,104)
	b.Insert(seqnum.Value(200), seg("bbbb")) // [200,204), most recent

	blocks := b.Sack(4)
	if len(blocks) != 2 {
		t.Fatalf("want 2 disjoint SACK blocks, got %d", len(blocks))
	}
	if blocks[0].Left != seqnum.Value(200) {
		t.Fatalf("triggering block (most recent insert) should be first, got Left=%d", blocks[0].Left)
	}
}

func TestSackCoalescesAdjacentSegments(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(10), seg("abc")) // [10,13)
	b.Insert(seqnum.Value(13), seg("def")) // [13,16), adjacent

	blocks := b.Sack(4)
	want := []Block{{Left: seqnum.Value(10), Right: seqnum.Value(16)}}
	if diff := deep.Equal(blocks, want); diff != nil {
		t.Fatalf("Sack(4) diff: %v", diff)
	}
}

func TestSackTruncatesToMaxBlocks(t *testing.T) {
	b := New()
	b.Insert(seqnum.Value(10), seg("a"))
	b.Insert(seqnum.Value(20), seg("a"))
	b.Insert(seqnum.Value(30), seg("a"))
	b.Insert(seqnum.Value(40), seg("a"))

	blocks := b.Sack(2)
	if len(blocks) != 2 {
		t.Fatalf("Sack(2) returned %d blocks, want 2", len(blocks))
	}
}
