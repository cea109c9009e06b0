// Package porttable implements the per-(local-address, core) ephemeral port
// allocator of §4.1. The teacher has no equivalent (its TCP stack serves one
// guest-facing listener per NetworkInterface rather than multiplexing many
// ephemeral connections), so this package is new code in the teacher's
// idiom, grounded on the random-probe allocation pattern the teacher uses
// for DHCP lease assignment (internal/netstack/dhcp.go).
package porttable

import (
	"math/rand"

	"github.com/tinyrange/tcpstack/internal/tcperr"
)

const (
	minEphemeral = 1024
	maxEphemeral = 65535
)

// Table is a per-(local address, core) port allocator.
type Table struct {
	addr [4]byte
	taken map[uint16]bool
}

// New returns an allocator for the given local address.
func New(addr [4]byte) *Table {
	return &Table{addr: addr, taken: make(map[uint16]bool)}
}

// HomeFunc reports which core a candidate 4-tuple (with the given candidate
// local port) would hash to, used by Get's RSS-homing retry.
type HomeFunc func(candidatePort uint16) int

// Get returns a free port in [1024,65535], chosen at random with linear
// probing. If home is non-nil, Get additionally requires the resulting
// 4-tuple hash to the given core, iterating candidates until one matches
// (§4.1 "it iterates candidate source ports and accepts the first whose
// Toeplitz hash maps home").
func (t *Table) Get(wantCore int, home HomeFunc) (uint16, error) {
	span := maxEphemeral - minEphemeral + 1
	start := minEphemeral + rand.Intn(span)
	for i := 0; i < span; i++ {
		port := uint16(minEphemeral + (start-minEphemeral+i)%span)
		if t.taken[port] {
			continue
		}
		if home != nil && home(port) != wantCore {
			continue
		}
		t.taken[port] = true
		return port, nil
	}
	return 0, tcperr.ErrPortTaken
}

// Reserve marks an explicit port (e.g. from bind()) as taken, failing if
// already in use.
func (t *Table) Reserve(port uint16) error {
	if t.taken[port] {
		return tcperr.ErrPortInUse
	}
	t.taken[port] = true
	return nil
}

// Put returns port to the free pool.
func (t *Table) Put(port uint16) {
	delete(t.taken, port)
}
