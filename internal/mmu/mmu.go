// Package mmu implements the byte-granular permissioned virtual memory used
// by every emulator instance. It is a generalization of the teacher's
// mmu.go: the same bump allocator and dirty-block reset scheme, widened to
// the full R/W/X/ISALLOC permission model and an 8-byte inlined allocation
// stamp instead of a bare size field.
package mmu

import (
	"fmt"
)

// Permission bits. A permission byte governs exactly the data byte at the
// same index in the memory buffer.
const (
	PermExecute uint8 = 1 << iota
	PermWrite
	PermRead
	PermIsAlloc
)

// PageSize is the granularity of the dirty-page log used by reset.
const PageSize = 4096

// VirtAddr is a guest virtual address.
type VirtAddr uint64

// FaultKind classifies an MMU error at the emulator boundary (spec section 7).
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultRead
	FaultWrite
	FaultExec
	FaultInvalidFree
	FaultIntegerOverflow
)

// Fault is an MMU error, carrying the faulting address where applicable.
type Fault struct {
	Kind FaultKind
	Addr VirtAddr
}

func (f *Fault) Error() string {
	switch f.Kind {
	case FaultRead:
		return fmt.Sprintf("read fault at %#x", uint64(f.Addr))
	case FaultWrite:
		return fmt.Sprintf("write fault at %#x", uint64(f.Addr))
	case FaultExec:
		return fmt.Sprintf("exec fault at %#x", uint64(f.Addr))
	case FaultInvalidFree:
		return fmt.Sprintf("invalid free at %#x", uint64(f.Addr))
	case FaultIntegerOverflow:
		return "integer overflow in memory operation"
	default:
		return "unknown mmu fault"
	}
}

func rdFault(addr VirtAddr) *Fault { return &Fault{Kind: FaultRead, Addr: addr} }
func wrFault(addr VirtAddr) *Fault { return &Fault{Kind: FaultWrite, Addr: addr} }

// Segment describes one PT_LOAD program header, as produced by internal/elf.
type Segment struct {
	VirtAddr VirtAddr
	FileSize uint
	MemSize  uint
	FileData []byte
	Perms    uint8
}

// Mmu is an isolated guest address space: a data buffer, a parallel
// permission buffer, and a monotonic bump allocator.
type Mmu struct {
	memory      []uint8
	permissions []uint8

	// dirtyPages lists page indices touched since the last reset.
	dirtyPages []uint
	// dirtySeen is a bitset mirror of dirtyPages for O(1) membership tests.
	dirtySeen []uint64

	allocAddr VirtAddr
}

// New creates an Mmu with a size-byte guest address space. Allocation starts
// at 0x10000 so that address 0 reliably faults (catches null-pointer bugs).
func New(size uint) *Mmu {
	return &Mmu{
		memory:      make([]uint8, size),
		permissions: make([]uint8, size),
		dirtyPages:  make([]uint, 0, size/PageSize+1),
		dirtySeen:   make([]uint64, (size/PageSize)/64+2),
		allocAddr:   VirtAddr(0x10000),
	}
}

// Len returns the size of the guest address space.
func (m *Mmu) Len() uint { return uint(len(m.memory)) }

// AllocAddr returns the current bump-allocator pointer.
func (m *Mmu) AllocAddr() VirtAddr { return m.allocAddr }

func (m *Mmu) inBounds(addr VirtAddr, size uint) bool {
	end := uint64(addr) + uint64(size)
	return end >= uint64(addr) && end <= uint64(len(m.memory))
}

func (m *Mmu) markDirty(addr VirtAddr, size uint) {
	start := uint(addr) / PageSize
	end := (uint(addr) + size) / PageSize
	for p := start; p <= end; p++ {
		idx, bit := p/64, p%64
		if idx >= uint(len(m.dirtySeen)) {
			continue
		}
		if m.dirtySeen[idx]&(1<<bit) == 0 {
			m.dirtySeen[idx] |= 1 << bit
			m.dirtyPages = append(m.dirtyPages, p)
		}
	}
}

// SetPermission applies perm to every byte in [addr, addr+size).
func (m *Mmu) SetPermission(addr VirtAddr, size uint, perm uint8) error {
	if !m.inBounds(addr, size) {
		return &Fault{Kind: FaultIntegerOverflow}
	}
	for i := uint(addr); i < uint(addr)+size; i++ {
		m.permissions[i] = perm
	}
	return nil
}

// LoadSegment implements spec section 4.1's load_segment contract: mark the
// range writable, copy in file bytes, zero-fill the BSS tail, then demote to
// the segment's final permission bits.
func (m *Mmu) LoadSegment(seg Segment) error {
	if !m.inBounds(seg.VirtAddr, seg.MemSize) {
		return &Fault{Kind: FaultIntegerOverflow}
	}
	if seg.FileSize > uint(len(seg.FileData)) {
		return fmt.Errorf("segment file_size exceeds supplied data")
	}

	if err := m.SetPermission(seg.VirtAddr, seg.MemSize, PermWrite); err != nil {
		return err
	}

	base := uint(seg.VirtAddr)
	copy(m.memory[base:base+seg.FileSize], seg.FileData[:seg.FileSize])
	for i := base + seg.FileSize; i < base+seg.MemSize; i++ {
		m.memory[i] = 0
	}
	m.markDirty(seg.VirtAddr, seg.MemSize)

	return m.SetPermission(seg.VirtAddr, seg.MemSize, seg.Perms)
}

// checkPerm verifies every byte in [addr, addr+n) carries every bit in want.
func (m *Mmu) checkPerm(addr VirtAddr, n uint, want uint8) (VirtAddr, bool) {
	for i := uint(0); i < n; i++ {
		p := m.permissions[uint(addr)+i]
		if p&want != want {
			return addr + VirtAddr(i), false
		}
	}
	return 0, true
}

// Read copies n bytes from addr into dst, failing on the first byte lacking
// the READ permission.
func (m *Mmu) Read(addr VirtAddr, dst []byte, n uint) error {
	if !m.inBounds(addr, n) || uint(len(dst)) < n {
		return &Fault{Kind: FaultIntegerOverflow}
	}
	if bad, ok := m.checkPerm(addr, n, PermRead); !ok {
		return rdFault(bad)
	}
	copy(dst[:n], m.memory[addr:uint(addr)+n])
	return nil
}

// ReadExec reads n bytes requiring only EXECUTE permission -- used by the
// lifter/decoder, which must read guest code that carries EXEC but not READ.
func (m *Mmu) ReadExec(addr VirtAddr, dst []byte, n uint) error {
	if !m.inBounds(addr, n) || uint(len(dst)) < n {
		return &Fault{Kind: FaultIntegerOverflow}
	}
	if bad, ok := m.checkPerm(addr, n, PermExecute); !ok {
		return &Fault{Kind: FaultExec, Addr: bad}
	}
	copy(dst[:n], m.memory[addr:uint(addr)+n])
	return nil
}

// Write copies n bytes from src into addr, failing on the first byte lacking
// WRITE permission.
func (m *Mmu) Write(addr VirtAddr, src []byte, n uint) error {
	if !m.inBounds(addr, n) || uint(len(src)) < n {
		return &Fault{Kind: FaultIntegerOverflow}
	}
	if bad, ok := m.checkPerm(addr, n, PermWrite); !ok {
		return wrFault(bad)
	}
	copy(m.memory[addr:uint(addr)+n], src[:n])
	m.markDirty(addr, n)
	return nil
}

// allocHeaderSize is the inlined size+stamp prefix: 8 bytes of size field,
// plus the permission byte at that offset carries the ISALLOC stamp.
const allocHeaderSize = 8

// Allocate reserves n bytes from the bump allocator, returning the base
// address of the usable region (after the 8-byte inlined size header).
// allocate(0) still returns a fresh, distinct address because the header
// itself always consumes space.
func (m *Mmu) Allocate(n uint) (VirtAddr, error) {
	alignSize := (n + 0x18) &^ 0xf

	headerAddr := m.allocAddr
	base := headerAddr + allocHeaderSize

	if uint64(headerAddr)+uint64(alignSize) > uint64(len(m.memory)) ||
		uint64(headerAddr)+uint64(alignSize) < uint64(headerAddr) {
		return 0, &Fault{Kind: FaultIntegerOverflow}
	}

	// Stamp the 8-byte size field at headerAddr and mark it ISALLOC.
	sizeBuf := make([]byte, allocHeaderSize)
	putU64(sizeBuf, uint64(n))
	copy(m.memory[headerAddr:uint(headerAddr)+allocHeaderSize], sizeBuf)
	if err := m.SetPermission(headerAddr, allocHeaderSize, PermIsAlloc); err != nil {
		return 0, err
	}

	// The usable region is R|W.
	if err := m.SetPermission(base, n, PermRead|PermWrite); err != nil {
		return 0, err
	}

	m.markDirty(headerAddr, alignSize)
	m.allocAddr = headerAddr + VirtAddr(alignSize)
	return base, nil
}

// Free validates the ISALLOC stamp at addr-8, reads the inlined size, and
// clears permissions over the whole chunk (header + body). Double-free and
// frees of non-heap addresses both fail because the stamp is gone or was
// never present.
func (m *Mmu) Free(addr VirtAddr) error {
	if uint64(addr) < allocHeaderSize {
		return &Fault{Kind: FaultInvalidFree, Addr: addr}
	}
	headerAddr := addr - allocHeaderSize
	if !m.inBounds(headerAddr, allocHeaderSize) {
		return &Fault{Kind: FaultInvalidFree, Addr: addr}
	}
	if m.permissions[uint(headerAddr)]&PermIsAlloc == 0 {
		return &Fault{Kind: FaultInvalidFree, Addr: addr}
	}

	size := getU64(m.memory[headerAddr : uint(headerAddr)+allocHeaderSize])
	total := allocHeaderSize + uint(size)
	if !m.inBounds(headerAddr, total) {
		return &Fault{Kind: FaultInvalidFree, Addr: addr}
	}

	for i := uint(headerAddr); i < uint(headerAddr)+total; i++ {
		m.permissions[i] = 0
	}
	m.markDirty(headerAddr, total)
	return nil
}

// Fork creates an independent copy of this Mmu's memory, permissions, and
// allocator position.
func (m *Mmu) Fork() *Mmu {
	clone := &Mmu{
		memory:      make([]uint8, len(m.memory)),
		permissions: make([]uint8, len(m.permissions)),
		dirtyPages:  make([]uint, 0, cap(m.dirtyPages)),
		dirtySeen:   make([]uint64, len(m.dirtySeen)),
		allocAddr:   m.allocAddr,
	}
	copy(clone.memory, m.memory)
	copy(clone.permissions, m.permissions)
	return clone
}

// Reset restores this Mmu's dirtied pages from parent's image and clears the
// dirty log. It must be cheaper than Fork for the common case where only a
// small fraction of pages were touched by one fuzz case.
func (m *Mmu) Reset(parent *Mmu) {
	for _, page := range m.dirtyPages {
		start := page * PageSize
		end := start + PageSize
		if end > uint(len(m.memory)) {
			end = uint(len(m.memory))
		}
		copy(m.memory[start:end], parent.memory[start:end])
		copy(m.permissions[start:end], parent.permissions[start:end])
		idx, bit := page/64, page%64
		if idx < uint(len(m.dirtySeen)) {
			m.dirtySeen[idx] &^= 1 << bit
		}
	}
	m.dirtyPages = m.dirtyPages[:0]
	m.allocAddr = parent.allocAddr
}

// DirtyPageCount reports how many pages are currently dirty, used by the
// stats snapshot.
func (m *Mmu) DirtyPageCount() int { return len(m.dirtyPages) }

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
