package mmu

import "testing"

func TestLoadSegmentPermissions(t *testing.T) {
	m := New(64 * 1024)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}
	seg := Segment{
		VirtAddr: 0x1000,
		FileSize: 16,
		MemSize:  32,
		FileData: data,
		Perms:    PermRead | PermExecute,
	}
	if err := m.LoadSegment(seg); err != nil {
		t.Fatalf("LoadSegment: %v", err)
	}
	for i := uint(0); i < 32; i++ {
		got := m.permissions[0x1000+i]
		if got != PermRead|PermExecute {
			t.Fatalf("byte %d: perm = %#x, want %#x", i, got, PermRead|PermExecute)
		}
	}
	out := make([]byte, 16)
	if err := m.Read(0x1000, out, 16); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, out[i], data[i])
		}
	}
	// BSS tail must be zero.
	tail := make([]byte, 16)
	if err := m.ReadExec(0x1010, tail, 16); err == nil {
		// ReadExec succeeds (exec perm set); verify zero fill via direct Read.
	}
	if err := m.Read(0x1010, tail, 16); err != nil {
		t.Fatalf("Read tail: %v", err)
	}
	for i, b := range tail {
		if b != 0 {
			t.Fatalf("bss tail byte %d = %#x, want 0", i, b)
		}
	}
}

func TestAllocateReadWriteBounds(t *testing.T) {
	m := New(1 << 20)
	base, err := m.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0x41
	}
	if err := m.Write(base, buf, 16); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 16)
	if err := m.Read(base, out, 16); err != nil {
		t.Fatalf("Read: %v", err)
	}
	// Reading one byte before the allocation must fault: it belongs to the
	// inlined size header, not to the READ|WRITE body.
	one := make([]byte, 1)
	if err := m.Read(base-1, one, 1); err == nil {
		t.Fatalf("expected fault reading header byte, got none")
	}
}

func TestAllocateZeroIsFreshEachTime(t *testing.T) {
	m := New(1 << 20)
	a, err := m.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}
	b, err := m.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0) second: %v", err)
	}
	if b <= a {
		t.Fatalf("expected strictly increasing addresses, got %#x then %#x", a, b)
	}
}

func TestDoubleFreeFails(t *testing.T) {
	m := New(1 << 20)
	base, _ := m.Allocate(32)
	if err := m.Free(base); err != nil {
		t.Fatalf("first free: %v", err)
	}
	if err := m.Free(base); err == nil {
		t.Fatalf("expected double-free to fail")
	}
}

func TestFreeOfNeverAllocatedFails(t *testing.T) {
	m := New(64 * 1024)
	if err := m.Free(0x2000); err == nil {
		t.Fatalf("expected free of non-heap address to fail")
	}
}

func TestFreePastEndOfAllocationFails(t *testing.T) {
	m := New(1 << 20)
	base, _ := m.Allocate(32)
	if err := m.Free(base + 8); err == nil {
		t.Fatalf("expected free 8 bytes past allocation to fail")
	}
}

func TestForkAndReset(t *testing.T) {
	parent := New(1 << 20)
	base, _ := parent.Allocate(64)

	child := parent.Fork()
	buf := []byte("AAAA")
	if err := child.Write(base, buf, 4); err != nil {
		t.Fatalf("child write: %v", err)
	}
	child.Reset(parent)

	out := make([]byte, 4)
	if err := child.Read(base, out, 4); err != nil {
		t.Fatalf("child read after reset: %v", err)
	}
	for _, b := range out {
		if b != 0 {
			t.Fatalf("expected reset to restore pre-write zeros, got %v", out)
		}
	}
}

func TestNoAllocationOverlap(t *testing.T) {
	m := New(1 << 20)
	seen := map[VirtAddr]bool{}
	for i := 0; i < 100; i++ {
		base, err := m.Allocate(uint(i%40 + 1))
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[base] {
			t.Fatalf("address %#x reused", base)
		}
		seen[base] = true
	}
}
