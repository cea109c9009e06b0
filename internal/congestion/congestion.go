// Package congestion implements the pluggable congestion-control capability
// of §4.6: NewReno, DCTCP, and BBR behind one Controller interface, chosen
// per connection by config.
//
// Grounded on original_source/elements/tcp/{tcpcongestioncontrol,
// tcpnewrenosyn,tcpnewrenortx}.cc for NewReno, dctcp/*.cc for DCTCP, and
// bbr/*.cc for BBR. The teacher (tinyrange-cc) implements none of this — its
// mini-stack has "no congestion control" by its own doc comment — so this
// package is new code written in the teacher's idiom (small structs, plain
// methods, slog-free — congestion decisions are hot-path and don't log).
package congestion

import "time"

// State holds the congestion-relevant fields of ConnState that are common
// across variants (§3 "Congestion:"). It lives in its own package (rather
// than as tcpcb fields) so Controller implementations can mutate it without
// tcpcb depending on congestion, and congestion need not depend on tcpcb.
type State struct {
	Cwnd        uint32 // snd_cwnd, in bytes
	Ssthresh    uint32 // snd_ssthresh, in bytes
	BytesAcked  uint32 // snd_bytes_acked
	DupAck      int    // snd_dupack
	Recover     uint32 // snd_recover (sequence value, low 32 bits)
	ParAck      uint32 // snd_parack (sequence value of a partial ack)
	RtxCount    int    // snd_rtx_count
	MSS         uint32 // snd_mss, cached for convenience
	InRecovery  bool
}

// RateSample carries the inputs BBR's OnRateSample hook needs; other
// variants ignore it.
type RateSample struct {
	DeliveredBytes uint32
	Interval       time.Duration
	AckedBytes     uint32
	LostBytes      uint32
	PriorInFlight  uint32
}

// Controller is the capability interface of §4.6.
type Controller interface {
	// Name identifies the variant, for metrics labels and logging.
	Name() string

	// OnSyn initializes cwnd/ssthresh at connection-establishment time
	// from the peer's advertised window and the negotiated MSS.
	OnSyn(s *State, advertisedWnd uint32, mss uint32)

	// OnAck is called for every acceptable ACK that advances snd_una (or,
	// during fast recovery, that the spec's duplicate-ACK handling routes
	// here). ackedBytes is 0 for a pure duplicate ACK; dupCount is the
	// running count of consecutive duplicate ACKs; rttSample is zero if no
	// sample was available this round. endOfLastRTX is the highest sequence
	// number already transmitted at the moment fast recovery is entered
	// (low 32 bits), used to seed snd_recover; ack is this segment's
	// cumulative acknowledgment value, used to tell whether it has passed
	// snd_recover (a full ACK of the recovery window) or not (partial).
	OnAck(s *State, ackedBytes uint32, dupCount int, rttSample time.Duration, inFlight uint32, endOfLastRTX, ack uint32)

	// OnOld is called for a duplicate or out-of-window segment that is not
	// a duplicate ACK in the fast-retransmit sense (§4.6 "on_old").
	OnOld(s *State)

	// OnRTX is called when the RTX timer fires, before retransmission.
	// firstRTX is true only the first time this segment is retransmitted.
	OnRTX(s *State, firstRTX bool)

	// OnECN mirrors a CE-bit observation from the ACK processor (§4.6
	// DCTCP paragraph). No-op for variants that don't react to ECN.
	OnECN(s *State, marked bool, bytesThisAck uint32)

	// OnRateSample feeds a BDP/delivery-rate sample (BBR only; no-op
	// elsewhere).
	OnRateSample(s *State, rs RateSample)

	// PacingRate returns a non-zero bytes/sec pacing rate for a variant that
	// models one (BBR); zero means "send immediately up to the window," the
	// non-BBR default. Egress does not call it, so no variant's transmissions
	// are paced.
	PacingRate(s *State) uint64
}

// InitialWindow implements the RFC 5681 tiered initial window by MSS range,
// shared by the OnSyn of all three variants (NewReno, DCTCP and BBR).
func InitialWindow(mss uint32) uint32 {
	switch {
	case mss > 2190:
		return 2 * mss
	case mss > 1095:
		return 3 * mss
	default:
		return 4 * mss
	}
}

// New constructs the Controller named by variant ("newreno", "dctcp",
// "bbr"), defaulting to NewReno for an unrecognized or empty name.
func New(variant string) Controller {
	switch variant {
	case "dctcp":
		return NewDCTCP()
	case "bbr":
		return NewBBR()
	default:
		return NewNewReno()
	}
}
