package tcpcb

import (
	"encoding/binary"
	"fmt"
)

// Flow is the 4-tuple identity of a TCP connection: (src-ip, src-port,
// dst-ip, dst-port). Field names follow the local-host-centric convention
// used throughout ingress/egress: Src/SrcPort are the remote peer,
// Dst/DstPort are local. Per §4.1, listen rows zero the *remote*
// address/port, i.e. SrcAddr/SrcPort.
type Flow struct {
	SrcAddr [4]byte // remote (peer) address
	SrcPort uint16  // remote (peer) port
	DstAddr [4]byte // local address
	DstPort uint16  // local port
}

// ListenKey returns the flow with the remote address/port zeroed, used for
// the listen-match fallback lookup in the flow table.
func (f Flow) ListenKey() Flow {
	return Flow{DstAddr: f.DstAddr, DstPort: f.DstPort}
}

func (f Flow) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d -> %d.%d.%d.%d:%d",
		f.SrcAddr[0], f.SrcAddr[1], f.SrcAddr[2], f.SrcAddr[3], f.SrcPort,
		f.DstAddr[0], f.DstAddr[1], f.DstAddr[2], f.DstAddr[3], f.DstPort)
}

// Hash computes a symmetric Toeplitz-style RSS hash over the 4-tuple. A real
// symmetric Toeplitz hash sorts the two endpoints before hashing so both
// directions of a flow map to the same value; we do the same here with a
// simple order-independent mix (XOR of both orderings) rather than
// replicating the full 40-byte RSS key, since the spec only requires
// symmetry, not byte-for-byte NIC compatibility.
func (f Flow) Hash() uint32 {
	a := toeplitzMix(f.SrcAddr, f.SrcPort, f.DstAddr, f.DstPort)
	b := toeplitzMix(f.DstAddr, f.DstPort, f.SrcAddr, f.SrcPort)
	return a ^ b
}

func toeplitzMix(ip1 [4]byte, port1 uint16, ip2 [4]byte, port2 uint16) uint32 {
	var buf [12]byte
	copy(buf[0:4], ip1[:])
	binary.BigEndian.PutUint16(buf[4:6], port1)
	copy(buf[6:10], ip2[:2])
	binary.BigEndian.PutUint16(buf[10:12], port2)
	// FNV-1a: not a bitwise Toeplitz key, but RSS-grade for test/reference
	// purposes; real deployments plug in the NIC's own RSS indirection and
	// only need Hash() to agree with it modulo core count.
	h := uint32(2166136261)
	for _, c := range ip1 {
		h = (h ^ uint32(c)) * 16777619
	}
	h = (h ^ uint32(port1>>8)) * 16777619
	h = (h ^ uint32(port1&0xff)) * 16777619
	for _, c := range ip2 {
		h = (h ^ uint32(c)) * 16777619
	}
	h = (h ^ uint32(port2>>8)) * 16777619
	h = (h ^ uint32(port2&0xff)) * 16777619
	return h
}

// Core maps a flow's RSS hash to a core index in [0, numCores).
func (f Flow) Core(numCores int) int {
	if numCores <= 0 {
		return 0
	}
	return int(f.Hash() % uint32(numCores))
}
