// Package reorder implements the receive reorder buffer and SACK block
// synthesis of §4.2, grounded on the teacher's tcpRecvBuffer
// (internal/netstack/tcp.go) but generalized from whole-segment
// duplicate/insert-or-reject semantics to the spec's disjoint-range
// insertion algorithm (trim head/tail overlaps, reject wholly-covered
// segments, split a segment that straddles an existing one).
package reorder

import (
	"sort"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"

	"github.com/tinyrange/tcpstack/internal/pktbuf"
)

// segment is one disjoint range held by the buffer.
type segment struct {
	seq  seqnum.Value
	end  seqnum.Value
	data *pktbuf.Buffer
}

// Buffer holds out-of-order segments pending promotion into the in-order
// receive queue, indexed by starting sequence.
type Buffer struct {
	segs []segment

	// lastInserted records the most recently admitted segment's starting
	// sequence, so Sack can promote its containing block to position 0
	// per RFC 2018 ("first SACK block covers the triggering segment").
	lastInserted   seqnum.Value
	haveLastInsert bool
}

// New returns an empty reorder buffer.
func New() *Buffer { return &Buffer{} }

// Insert places p (spanning [seq, seq+len(data))) into the buffer, trimming
// or discarding overlap against existing segments so the buffer holds only
// disjoint ranges. It returns the number of new bytes admitted (0 if p was
// fully duplicate).
func (b *Buffer) Insert(seq seqnum.Value, data *pktbuf.Buffer) int {
	if data.Len() == 0 {
		return 0
	}
	pSeq, pEnd := seq, seq.Add(seqnum.Size(data.Len()))
	admitted := 0

	// Walk existing segments, trimming p against each; collect the
	// (possibly split) pieces that survive.
	pieces := []segment{{seq: pSeq, end: pEnd, data: data}}
	for _, x := range b.segs {
		var next []segment
		for _, p := range pieces {
			next = append(next, trimAgainst(p, x)...)
		}
		pieces = next
	}
	for _, p := range pieces {
		admitted += int(p.seq.Size(p.end))
		b.segs = append(b.segs, p)
	}
	if admitted > 0 {
		sort.Slice(b.segs, func(i, j int) bool { return b.segs[i].seq.LessThan(b.segs[j].seq) })
		b.lastInserted, b.haveLastInsert = pSeq, true
	}
	return admitted
}

// trimAgainst classifies p relative to existing segment x and returns the
// surviving, non-overlapping piece(s) of p: zero pieces if p is wholly
// covered by x, one trimmed piece for a head/tail overlap, or (for a
// straddling p) two pieces with x's range carved out of the middle.
func trimAgainst(p, x segment) []segment {
	switch {
	case p.end.LessThanEq(x.seq) || x.end.LessThanEq(p.seq):
		return []segment{p} // disjoint before/after x

	case x.seq.LessThanEq(p.seq) && p.end.LessThanEq(x.end):
		return nil // wholly covered by x

	case p.seq.LessThan(x.seq) && x.end.LessThan(p.end):
		// p straddles x: split into a head piece before x.seq and a tail
		// piece after x.end.
		headLen := int(p.seq.Size(x.seq))
		tailLen := int(x.end.Size(p.end))
		head := sliceSegment(p, 0, headLen)
		tail := sliceSegment(p, p.data.Len()-tailLen, p.data.Len())
		return []segment{head, tail}

	case p.seq.LessThan(x.seq):
		// tail-overlap: keep [p.seq, x.seq)
		n := int(p.seq.Size(x.seq))
		return []segment{sliceSegment(p, 0, n)}

	default:
		// head-overlap: keep [x.end, p.end)
		n := int(x.end.Size(p.end))
		return []segment{sliceSegment(p, p.data.Len()-n, p.data.Len())}
	}
}

func sliceSegment(p segment, from, to int) segment {
	if from >= to {
		return segment{seq: p.seq.Add(seqnum.Size(from)), end: p.seq.Add(seqnum.Size(from))}
	}
	buf := p.data.Unique().Bytes()
	out := pktbuf.FromWire(append([]byte(nil), buf[from:to]...))
	return segment{seq: p.seq.Add(seqnum.Size(from)), end: p.seq.Add(seqnum.Size(to)), data: out}
}

// Remove returns the head-of-line segment iff its starting sequence equals
// rcvNxt, else (nil, false). On a hit, the segment is popped from the
// buffer.
func (b *Buffer) Remove(rcvNxt seqnum.Value) (*pktbuf.Buffer, bool) {
	if len(b.segs) == 0 || b.segs[0].seq != rcvNxt {
		return nil, false
	}
	seg := b.segs[0]
	b.segs = b.segs[1:]
	return seg.data, true
}

// Block is a contiguous SACK range [Left, Right).
type Block struct {
	Left, Right seqnum.Value
}

// Sack walks the buffer, coalescing adjacent segments into contiguous
// blocks, and returns up to maxBlocks of them with the block containing the
// most recently inserted segment promoted to position 0 (RFC 2018).
func (b *Buffer) Sack(maxBlocks int) []Block {
	if len(b.segs) == 0 {
		return nil
	}
	var blocks []Block
	cur := Block{Left: b.segs[0].seq, Right: b.segs[0].end}
	for _, s := range b.segs[1:] {
		if s.seq == cur.Right {
			cur.Right = s.end
			continue
		}
		blocks = append(blocks, cur)
		cur = Block{Left: s.seq, Right: s.end}
	}
	blocks = append(blocks, cur)

	if b.haveLastInsert {
		for i, blk := range blocks {
			if i == 0 {
				continue
			}
			if blk.Left.LessThanEq(b.lastInserted) && b.lastInserted.LessThan(blk.Right) {
				blocks[0], blocks[i] = blocks[i], blocks[0]
				break
			}
		}
	}
	if maxBlocks > 0 && len(blocks) > maxBlocks {
		blocks = blocks[:maxBlocks]
	}
	return blocks
}

// Empty reports whether the buffer holds no out-of-order data.
func (b *Buffer) Empty() bool { return len(b.segs) == 0 }

// Clear discards all buffered segments, releasing their buffers.
func (b *Buffer) Clear() {
	for _, s := range b.segs {
		if s.data != nil {
			s.data.Release()
		}
	}
	b.segs = nil
	b.haveLastInsert = false
}
