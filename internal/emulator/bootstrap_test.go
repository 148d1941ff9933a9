package emulator

import (
	"testing"

	"github.com/mellow-hype/rvfuzz/internal/mmu"
)

func TestBootstrapPointsSpBelowTopOfMemory(t *testing.T) {
	mem := mmu.New(1 << 20)
	e := New(mem)
	if err := e.Bootstrap(0x1000, []string{"target", "@@"}, "fuzz_input"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if e.Regs[PCReg] != 0x1000 {
		t.Fatalf("PC = %#x, want 0x1000", e.Regs[PCReg])
	}
	sp := e.Regs[spReg]
	if sp == 0 || sp >= uint64(mem.Len()) {
		t.Fatalf("sp = %#x, out of range", sp)
	}
	if sp%16 != 0 {
		t.Fatalf("sp = %#x is not 16-byte aligned", sp)
	}
}

func TestBootstrapSubstitutesAtAtForFuzzInputPath(t *testing.T) {
	mem := mmu.New(1 << 20)
	e := New(mem)
	if err := e.Bootstrap(0x1000, []string{"target", "@@"}, "fuzz_input.bin"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	sp := e.Regs[spReg]
	var argcBuf [8]byte
	if err := e.Mem.Read(mmu.VirtAddr(sp), argcBuf[:], 8); err != nil {
		t.Fatalf("read argc: %v", err)
	}
	argc := uint64(0)
	for i := 0; i < 8; i++ {
		argc |= uint64(argcBuf[i]) << (8 * uint(i))
	}
	if argc != 2 {
		t.Fatalf("argc = %d, want 2", argc)
	}
}
