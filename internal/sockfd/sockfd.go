// Package sockfd implements the per-(pid, core) socket-fd allocator of
// §4.1: a preallocated free list of usr_capacity fds, [3, 3+usr_capacity), with system- and
// user-wide counters enforcing sys_capacity and per-pid caps. Grounded on
// the teacher's free-list allocation pattern for guest file descriptors in
// internal/vm (fd table backing the 9P/virtio-fs surface), generalized to
// TCP sockets with two-tier capacity accounting.
package sockfd

import (
	"github.com/tinyrange/tcpstack/internal/tcperr"
)

const firstFD = 3

// Table is one pid's socket-fd table on one core.
type Table struct {
	pid         int
	usrCapacity int
	free        []int
	inUse       map[int]bool
	sys         *SysCounter
}

// SysCounter is shared across every pid's Table on a core, enforcing a
// system-wide open-file cap.
type SysCounter struct {
	capacity int
	used     int
}

// NewSysCounter returns a shared counter for sys_capacity sockets across all
// pids on one core.
func NewSysCounter(capacity int) *SysCounter {
	return &SysCounter{capacity: capacity}
}

// New returns a per-pid table with usrCapacity slots in [3, 3+usrCapacity),
// backed by the given (possibly shared) system counter.
func New(pid, usrCapacity int, sys *SysCounter) *Table {
	free := make([]int, 0, usrCapacity)
	for fd := usrCapacity + firstFD - 1; fd >= firstFD; fd-- {
		free = append(free, fd)
	}
	return &Table{
		pid:         pid,
		usrCapacity: usrCapacity,
		free:        free,
		inUse:       make(map[int]bool),
		sys:         sys,
	}
}

// Get pops a free fd, enforcing both the per-pid and system-wide caps.
// Returns -1 and ErrTooManyFiles if either is exhausted (§4.1 "sock_get
// returns −1 if the pid is at cap").
func (t *Table) Get() (int, error) {
	if len(t.free) == 0 {
		return -1, tcperr.ErrTooManyFiles
	}
	if t.sys.used >= t.sys.capacity {
		return -1, tcperr.ErrTooManyFiles
	}
	fd := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.inUse[fd] = true
	t.sys.used++
	return fd, nil
}

// Put returns fd to the free list.
func (t *Table) Put(fd int) {
	if !t.inUse[fd] {
		return
	}
	delete(t.inUse, fd)
	t.free = append(t.free, fd)
	t.sys.used--
}

// Valid reports whether fd is currently allocated to this table.
func (t *Table) Valid(fd int) bool { return t.inUse[fd] }
