package flowtable

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

func newConn(f tcpcb.Flow) *tcpcb.ConnState {
	c := tcpcb.New(1, 3)
	c.Flow = f
	return c
}

func TestInsertRejectsDuplicateFlow(t *testing.T) {
	tbl := New()
	f := tcpcb.Flow{SrcAddr: [4]byte{1, 1, 1, 1}, SrcPort: 1234, DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	if !tbl.Insert(newConn(f)) {
		t.Fatalf("first Insert failed")
	}
	if tbl.Insert(newConn(f)) {
		t.Fatalf("duplicate Insert of an identical 4-tuple should fail")
	}
}

func TestLookupExactMatch(t *testing.T) {
	tbl := New()
	f := tcpcb.Flow{SrcAddr: [4]byte{1, 1, 1, 1}, SrcPort: 1234, DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	conn := newConn(f)
	tbl.Insert(conn)
	got, ok := tbl.Lookup(f)
	if !ok || got != conn {
		t.Fatalf("Lookup(exact) = %v, %v; want the inserted conn, true", got, ok)
	}
}

func TestLookupFallsBackToListenMatch(t *testing.T) {
	tbl := New()
	listenFlow := tcpcb.Flow{DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	listener := newConn(listenFlow)
	tbl.Insert(listener)

	incoming := tcpcb.Flow{SrcAddr: [4]byte{2, 2, 2, 2}, SrcPort: 5555, DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	got, ok := tbl.Lookup(incoming)
	if !ok || got != listener {
		t.Fatalf("Lookup(no exact match) = %v, %v; want fallback to listener, true", got, ok)
	}
}

func TestLookupMissReturnsFalse(t *testing.T) {
	tbl := New()
	f := tcpcb.Flow{DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	if _, ok := tbl.Lookup(f); ok {
		t.Fatalf("Lookup on empty table returned ok=true")
	}
}

func TestRemoveThenLookupMisses(t *testing.T) {
	tbl := New()
	f := tcpcb.Flow{SrcAddr: [4]byte{1, 1, 1, 1}, SrcPort: 1234, DstAddr: [4]byte{10, 0, 0, 1}, DstPort: 80}
	tbl.Insert(newConn(f))
	tbl.Remove(f)
	if _, ok := tbl.Lookup(f); ok {
		t.Fatalf("Lookup succeeded after Remove")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after removing the only entry, want 0", tbl.Len())
	}
}
