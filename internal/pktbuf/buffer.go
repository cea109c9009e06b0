// Package pktbuf implements the segmented packet buffer utilities the rest
// of the stack is built on: refcounted byte buffers with headroom/tailroom,
// cheap clone/unique, and the per-packet annotation struct (Meta) that
// travels alongside a buffer through the pipeline.
//
// The out-of-scope "packet-buffer memory management" collaborator named by
// the spec is assumed to expose exactly this primitive; this package is the
// concrete implementation used by the reference NIC and all tests.
package pktbuf

import (
	"sync"
)

// Default and maximum pool sizes, mirroring the teacher's tiered buffer
// pools (tcpPacketPool / ipv4PacketPool / ethernetFramePool in netstack.go),
// generalized to one tiered pool keyed by headroom reservation.
const (
	defaultHeadroom = 14 + 20 + 20 + 40 // ethernet + ipv4 + tcp + max options
	defaultCapacity = 64*1024 + defaultHeadroom
	maxPooledSize   = 256*1024 + defaultHeadroom
)

var pool = sync.Pool{
	New: func() any {
		buf := make([]byte, defaultCapacity)
		return &buf
	},
}

// Buffer is a refcounted segmented byte buffer. Unlike the production
// collaborator (which chains multiple physical segments), this
// implementation keeps one contiguous backing array per logical packet and
// tracks a [start,end) window into it plus a refcount for clone/unique
// semantics; this is sufficient for the TCP engine, which never needs
// scatter-gather beyond header/payload splitting (handled by Split/Join).
type Buffer struct {
	mu       sync.Mutex
	backing  *[]byte
	start    int
	end      int
	refs     *int32
	pooled   bool
	Meta     Meta
}

// Meta is the fixed set of per-packet metadata carried alongside buffer
// contents, per Design Note "Packet annotations."
type Meta struct {
	ConnRef     uint64 // opaque reference to the owning ConnState; 0 if none (nothing in the stack sets it)
	SockFD      int
	SignalAdd   bool
	SignalDel   bool
	SignalOut   bool
	AckRequired bool
	MoreSegs    bool
	RTTMicros   int64
	OptionsLen  int
	SrcPort     uint16
	DstPort     uint16
	SrcAddr     [4]byte
	DstAddr     [4]byte
}

// New allocates a buffer with room for payloadLen bytes of payload plus
// defaultHeadroom bytes reserved at the front for header prepends.
func New(payloadLen int) *Buffer {
	total := defaultHeadroom + payloadLen
	var backing *[]byte
	pooled := total <= maxPooledSize
	if pooled {
		backing = pool.Get().(*[]byte)
		if cap(*backing) < total {
			pool.Put(backing)
			b := make([]byte, total)
			backing = &b
			pooled = false
		} else {
			*backing = (*backing)[:total]
		}
	} else {
		b := make([]byte, total)
		backing = &b
	}
	refs := int32(1)
	return &Buffer{
		backing: backing,
		start:   defaultHeadroom,
		end:     total,
		refs:    &refs,
		pooled:  pooled,
	}
}

// FromWire wraps an already-framed wire buffer (e.g. delivered by a NIC)
// with no reserved headroom; Prepend will reallocate as needed.
func FromWire(data []byte) *Buffer {
	b := append([]byte(nil), data...)
	refs := int32(1)
	return &Buffer{backing: &b, start: 0, end: len(b), refs: &refs}
}

// Bytes returns the buffer's current [start,end) window. Callers must not
// retain the slice past the buffer's lifetime (mirrors the teacher's
// "ownership/lifetime" comment on NetworkInterface.sendFrame).
func (b *Buffer) Bytes() []byte {
	return (*b.backing)[b.start:b.end]
}

// Len returns the number of payload bytes currently in the buffer window.
func (b *Buffer) Len() int { return b.end - b.start }

// Headroom returns the number of bytes available for Prepend without
// reallocating.
func (b *Buffer) Headroom() int { return b.start }

// Tailroom returns the number of bytes available for Append without
// reallocating.
func (b *Buffer) Tailroom() int { return cap(*b.backing) - b.end }

// Prepend grows the window backward by n bytes, returning the newly exposed
// region for the caller to fill (e.g. a header). Reallocates if headroom is
// insufficient.
func (b *Buffer) Prepend(n int) []byte {
	if b.start < n {
		b.reserve(n)
	}
	b.start -= n
	return (*b.backing)[b.start : b.start+n]
}

// Append grows the window forward by n bytes, returning the newly exposed
// region. Reallocates if tailroom is insufficient.
func (b *Buffer) Append(n int) []byte {
	if b.Tailroom() < n {
		b.reserve(n)
	}
	old := b.end
	b.end += n
	return (*b.backing)[old:b.end]
}

// TrimFront removes n bytes from the front of the window (used by seq-window
// trimming on ingress).
func (b *Buffer) TrimFront(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.start += n
}

// TrimBack removes n bytes from the back of the window.
func (b *Buffer) TrimBack(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.end -= n
}

func (b *Buffer) reserve(extra int) {
	need := b.Len() + extra + defaultHeadroom
	nb := make([]byte, need)
	copy(nb[defaultHeadroom:], b.Bytes())
	if b.pooled {
		pool.Put(b.backing)
	}
	b.backing = &nb
	b.end = defaultHeadroom + b.Len()
	b.start = defaultHeadroom
	b.pooled = false
}

// Clone returns a new Buffer sharing the same backing array (refcounted);
// mutating one's window bounds does not affect the other, but mutating
// shared bytes does. Callers that need to mutate independently must call
// Unique first.
func (b *Buffer) Clone() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	*b.refs++
	return &Buffer{
		backing: b.backing,
		start:   b.start,
		end:     b.end,
		refs:    b.refs,
		pooled:  b.pooled,
		Meta:    b.Meta,
	}
}

// Unique returns a Buffer guaranteed not to share its backing array with any
// other live clone, copying if necessary.
func (b *Buffer) Unique() *Buffer {
	b.mu.Lock()
	shared := *b.refs > 1
	b.mu.Unlock()
	if !shared {
		return b
	}
	nb := append([]byte(nil), b.Bytes()...)
	refs := int32(1)
	return &Buffer{backing: &nb, start: 0, end: len(nb), refs: &refs, Meta: b.Meta}
}

// Release decrements the refcount, returning the backing array to the pool
// once the last reference is gone.
func (b *Buffer) Release() {
	b.mu.Lock()
	*b.refs--
	n := *b.refs
	pooled := b.pooled
	backing := b.backing
	b.mu.Unlock()
	if n <= 0 && pooled {
		pool.Put(backing)
	}
}

// Split divides the buffer at offset n into (head, tail), each an
// independent Buffer sharing no further mutation with the original. Used to
// carve an MSS-sized segment out of a larger send buffer.
func (b *Buffer) Split(n int) (head, tail *Buffer) {
	if n > b.Len() {
		n = b.Len()
	}
	data := b.Bytes()
	head = FromWire(data[:n])
	tail = FromWire(data[n:])
	head.Meta = b.Meta
	tail.Meta = b.Meta
	return head, tail
}

// Join concatenates a and b's payload bytes into a single new Buffer with
// default headroom, used when coalescing adjacent reorder-buffer segments.
func Join(a, b *Buffer) *Buffer {
	out := New(a.Len() + b.Len())
	buf := out.Bytes()
	copy(buf, a.Bytes())
	copy(buf[a.Len():], b.Bytes())
	out.Meta = a.Meta
	return out
}
