package porttable

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/tcperr"
)

func TestGetReturnsPortsInEphemeralRange(t *testing.T) {
	tbl := New([4]byte{10, 0, 0, 1})
	for i := 0; i < 100; i++ {
		port, err := tbl.Get(0, nil)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if port < minEphemeral || port > maxEphemeral {
			t.Fatalf("port %d out of ephemeral range [%d,%d]", port, minEphemeral, maxEphemeral)
		}
	}
}

func TestGetNeverReturnsAnAlreadyTakenPort(t *testing.T) {
	tbl := New([4]byte{10, 0, 0, 1})
	seen := make(map[uint16]bool)
	for i := 0; i < 500; i++ {
		port, err := tbl.Get(0, nil)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if seen[port] {
			t.Fatalf("port %d allocated twice", port)
		}
		seen[port] = true
	}
}

func TestReserveRejectsDuplicate(t *testing.T) {
	tbl := New([4]byte{10, 0, 0, 1})
	if err := tbl.Reserve(8080); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	if err := tbl.Reserve(8080); err != tcperr.ErrPortInUse {
		t.Fatalf("second Reserve err = %v, want ErrPortInUse", err)
	}
}

func TestPutFreesPortForReuse(t *testing.T) {
	tbl := New([4]byte{10, 0, 0, 1})
	if err := tbl.Reserve(9000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tbl.Put(9000)
	if err := tbl.Reserve(9000); err != nil {
		t.Fatalf("Reserve after Put: %v", err)
	}
}

func TestGetHonorsRSSHoming(t *testing.T) {
	tbl := New([4]byte{10, 0, 0, 1})
	// home pins every candidate to core 1; requesting core 0 should never
	// succeed as long as home is consulted for every candidate.
	home := func(candidatePort uint16) int { return 1 }
	if _, err := tbl.Get(0, home); err != tcperr.ErrPortTaken {
		t.Fatalf("Get with unsatisfiable homing = %v, want ErrPortTaken (exhausted)", err)
	}
	port, err := tbl.Get(1, home)
	if err != nil {
		t.Fatalf("Get(1, home) = %v", err)
	}
	if home(port) != 1 {
		t.Fatalf("returned port %d does not satisfy home", port)
	}
}
