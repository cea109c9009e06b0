package sockfd

import (
	"testing"

	"github.com/tinyrange/tcpstack/internal/tcperr"
)

func TestGetReturnsFDsInRange(t *testing.T) {
	tbl := New(1, 4, NewSysCounter(100))
	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		fd, err := tbl.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if fd < firstFD {
			t.Fatalf("fd %d below firstFD %d", fd, firstFD)
		}
		if seen[fd] {
			t.Fatalf("fd %d allocated twice", fd)
		}
		seen[fd] = true
	}
}

func TestGetExhaustsPerPidCapacity(t *testing.T) {
	tbl := New(1, 2, NewSysCounter(100))
	if _, err := tbl.Get(); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := tbl.Get(); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if _, err := tbl.Get(); err != tcperr.ErrTooManyFiles {
		t.Fatalf("third Get err = %v, want ErrTooManyFiles", err)
	}
}

func TestGetExhaustsSharedSystemCapacity(t *testing.T) {
	sys := NewSysCounter(1)
	a := New(1, 10, sys)
	b := New(2, 10, sys)

	if _, err := a.Get(); err != nil {
		t.Fatalf("a.Get: %v", err)
	}
	if _, err := b.Get(); err != tcperr.ErrTooManyFiles {
		t.Fatalf("b.Get err = %v, want ErrTooManyFiles once the shared cap is exhausted", err)
	}
}

func TestPutReturnsFDToTheFreeListAndSysCounter(t *testing.T) {
	sys := NewSysCounter(1)
	tbl := New(1, 1, sys)
	fd, err := tbl.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	tbl.Put(fd)
	if _, err := tbl.Get(); err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
}

func TestPutOnAnUnallocatedFDIsANoop(t *testing.T) {
	sys := NewSysCounter(10)
	tbl := New(1, 10, sys)
	tbl.Put(999) // never allocated
	if sys.used != 0 {
		t.Fatalf("sys.used = %d after Put on an fd never allocated, want 0", sys.used)
	}
}

func TestValidReflectsAllocationState(t *testing.T) {
	tbl := New(1, 4, NewSysCounter(100))
	fd, _ := tbl.Get()
	if !tbl.Valid(fd) {
		t.Fatalf("Valid(%d) = false right after Get", fd)
	}
	tbl.Put(fd)
	if tbl.Valid(fd) {
		t.Fatalf("Valid(%d) = true after Put", fd)
	}
}
