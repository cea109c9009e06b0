// Package nic defines the NIC poll-mode-driver collaborator contract of §6
// and a reference in-memory driver satisfying it, grounded on the teacher's
// NetworkInterface/AttachVirtioBackend pairing (internal/netstack/
// netstack.go) and the virtio net backend interface (internal/devices/
// virtio/net.go's NetBackend), generalized from a single callback-based
// frame delivery path to explicit rx_batch/tx_batch polling plus link
// up/down notification.
package nic

import (
	"sync"

	"github.com/tinyrange/tcpstack/internal/pktbuf"
)

// Driver is the contract a real DPDK/AF_XDP driver (or, here, the in-memory
// reference) must satisfy for internal/core to drive it.
type Driver interface {
	// RxBatch returns up to max received frames without blocking; an empty
	// slice means no frames are currently available.
	RxBatch(max int) []*pktbuf.Buffer

	// TxBatch transmits frames, returning the number accepted; a driver
	// backed by a bounded ring may accept fewer than len(frames).
	TxBatch(frames []*pktbuf.Buffer) int

	// LinkUp reports whether the link is currently up.
	LinkUp() bool
}

// MemDriver is an in-memory reference Driver connecting two stack instances
// (or a stack and a test harness) back to back, grounded on the teacher's
// NetworkInterface.DeliverGuestPacket/sendFrame pairing.
type MemDriver struct {
	mu      sync.Mutex
	rxQueue []*pktbuf.Buffer
	peer    *MemDriver
	up      bool
}

// NewMemDriver returns an unconnected reference driver; call Connect to wire
// two of them together, mirroring a crossover cable.
func NewMemDriver() *MemDriver {
	return &MemDriver{up: true}
}

// Connect wires a and b so frames transmitted on one arrive as receives on
// the other.
func Connect(a, b *MemDriver) {
	a.peer = b
	b.peer = a
}

func (d *MemDriver) RxBatch(max int) []*pktbuf.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rxQueue) == 0 {
		return nil
	}
	n := max
	if n > len(d.rxQueue) {
		n = len(d.rxQueue)
	}
	out := d.rxQueue[:n]
	d.rxQueue = d.rxQueue[n:]
	return out
}

func (d *MemDriver) TxBatch(frames []*pktbuf.Buffer) int {
	d.mu.Lock()
	peer := d.peer
	up := d.up
	d.mu.Unlock()
	if peer == nil || !up {
		return 0
	}
	peer.mu.Lock()
	peer.rxQueue = append(peer.rxQueue, frames...)
	peer.mu.Unlock()
	return len(frames)
}

func (d *MemDriver) LinkUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.up
}

// SetLinkUp simulates a link state transition, used by tests exercising
// link-down behavior.
func (d *MemDriver) SetLinkUp(up bool) {
	d.mu.Lock()
	d.up = up
	d.mu.Unlock()
}

// Deliver injects a frame as if received from the wire, for tests driving a
// single MemDriver without a peer.
func (d *MemDriver) Deliver(frame *pktbuf.Buffer) {
	d.mu.Lock()
	d.rxQueue = append(d.rxQueue, frame)
	d.mu.Unlock()
}
