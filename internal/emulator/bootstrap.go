package emulator

import (
	"fmt"

	"github.com/mellow-hype/rvfuzz/internal/mmu"
)

// spReg is the RISC-V ABI register index for the stack pointer (x2).
const spReg = 2

// stackGuard is how far below the top of the guest address space the
// initial stack pointer is placed, leaving room for the argv/envp/auxv
// block this function writes without touching the heap region the bump
// allocator grows into from the bottom.
const stackGuard = 0x10000

// Bootstrap lays out the initial process stack (argc, argv pointers,
// NUL-terminated argv strings, an empty envp, and an AT_NULL auxv) at the
// top of mem's address space and points e's stack register at it, mirroring
// what a real RISC-V Linux kernel's execve does before transferring control
// to _start. argv[i] containing exactly "@@" is replaced with fuzzInputPath
// (spec section 6's substitution rule) before being written.
func (e *Emulator) Bootstrap(entry uint64, argv []string, fuzzInputPath string) error {
	top := uint64(e.Mem.Len()) - stackGuard
	if top == 0 {
		return fmt.Errorf("bootstrap: guest address space too small for a stack")
	}
	if err := e.Mem.SetPermission(mmu.VirtAddr(top-stackGuard), stackGuard, mmu.PermRead|mmu.PermWrite); err != nil {
		return fmt.Errorf("bootstrap: map stack: %w", err)
	}

	resolved := make([]string, len(argv))
	for i, a := range argv {
		if a == "@@" {
			resolved[i] = fuzzInputPath
		} else {
			resolved[i] = a
		}
	}

	cursor := top
	strAddrs := make([]uint64, len(resolved))
	for i, s := range resolved {
		b := append([]byte(s), 0)
		cursor -= uint64(len(b))
		if err := e.Mem.Write(mmu.VirtAddr(cursor), b, uint(len(b))); err != nil {
			return fmt.Errorf("bootstrap: write argv[%d]: %w", i, err)
		}
		strAddrs[i] = cursor
	}

	// 16-byte align the pointer block per the RISC-V calling convention's
	// stack-alignment requirement at process entry.
	cursor &^= 0xf

	// Layout from SP upward: argc, argv[0..n), NULL, envp NULL, auxv
	// (AT_NULL, 0). SP is computed first from the word count, then the words
	// are written front-to-back starting at SP.
	wordCount := 1 + len(resolved) + 1 + 1 + 2
	cursor -= uint64(wordCount) * 8
	cursor &^= 0xf
	sp := cursor

	putWord := func(off uint64, v uint64) error {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * uint(i)))
		}
		return e.Mem.Write(mmu.VirtAddr(sp+off), b[:], 8)
	}

	if err := putWord(0, uint64(len(resolved))); err != nil {
		return err
	}
	off := uint64(8)
	for _, a := range strAddrs {
		if err := putWord(off, a); err != nil {
			return err
		}
		off += 8
	}
	if err := putWord(off, 0); err != nil { // argv NULL terminator
		return err
	}
	off += 8
	if err := putWord(off, 0); err != nil { // envp: empty, NULL terminator
		return err
	}
	off += 8
	if err := putWord(off, 0); err != nil { // auxv AT_NULL type
		return err
	}
	off += 8
	if err := putWord(off, 0); err != nil { // auxv AT_NULL value
		return err
	}

	e.Regs[spReg] = sp
	e.Regs[PCReg] = entry
	return nil
}
