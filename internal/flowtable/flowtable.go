// Package flowtable implements the per-core flow table of §4.1: a hash map
// keyed on the 4-tuple with a listen-match fallback on miss. Grounded on the
// teacher's connection map in internal/netstack/netstack.go (a plain
// map[string]*tcpConn keyed by a formatted 4-tuple string), generalized to a
// typed key (tcpcb.Flow) and an explicit two-phase lookup.
package flowtable

import (
	"github.com/tinyrange/tcpstack/internal/tcpcb"
)

// Table is a single core's flow table. Not safe for concurrent use from
// multiple goroutines: each core owns and drives exactly one Table (§5
// shared-nothing model).
type Table struct {
	m map[tcpcb.Flow]*tcpcb.ConnState
}

// New returns an empty flow table.
func New() *Table {
	return &Table{m: make(map[tcpcb.Flow]*tcpcb.ConnState)}
}

// Insert adds c under its own Flow key. It fails (returns false) if that
// exact 4-tuple already exists, which per §4.1 indicates an internal bug
// (the caller should treat this as fatal-path, not a user-facing error).
func (t *Table) Insert(c *tcpcb.ConnState) bool {
	if _, exists := t.m[c.Flow]; exists {
		return false
	}
	t.m[c.Flow] = c
	return true
}

// Remove deletes the entry for f, if any.
func (t *Table) Remove(f tcpcb.Flow) {
	delete(t.m, f)
}

// Lookup implements the §4.1 ingress policy: try the full 4-tuple first; on
// miss, retry with the remote address/port zeroed (listen match).
func (t *Table) Lookup(f tcpcb.Flow) (*tcpcb.ConnState, bool) {
	if c, ok := t.m[f]; ok {
		return c, true
	}
	if c, ok := t.m[f.ListenKey()]; ok {
		return c, true
	}
	return nil, false
}

// Len returns the number of flows currently tracked. There is no
// rehash-threshold check (§4.1 "rehashing triggers when load imbalance
// exceeds a threshold" — in Go's native map this is handled by the runtime,
// so Len exists only for metrics/diagnostics).
func (t *Table) Len() int { return len(t.m) }

// All returns every tracked ConnState, for diagnostics/export paths
// (internal/statsexport, metrics gauges) that need a full snapshot rather
// than a single lookup.
func (t *Table) All() []*tcpcb.ConnState {
	out := make([]*tcpcb.ConnState, 0, len(t.m))
	for _, c := range t.m {
		out = append(out, c)
	}
	return out
}
