package jit

import (
	"github.com/ebitengine/purego"

	"github.com/mellow-hype/rvfuzz/internal/coverage"
	"github.com/mellow-hype/rvfuzz/internal/emulator"
	"github.com/mellow-hype/rvfuzz/internal/mmu"
)

// Helpers are the fixed set of native-callable entry points compiled code
// calls back into for anything that must go through the MMU's permission
// checks or touch Go-managed state: loads, stores, syscalls, and the
// coverage bitmap. Each is registered once per Emulator via
// purego.NewCallback, which hands back a real function pointer native code
// can CALL directly -- the same mechanism purego uses to let C libraries
// invoke Go-defined callbacks, borrowed here to let our own JIT output
// invoke Go.
type Helpers struct {
	Load    uintptr
	Store   uintptr
	Syscall uintptr
	Cover   uintptr
	emu     *emulator.Emulator
}

// packLoadResult packs a loaded value and a fault flag into one return slot,
// since purego callbacks return a single value to the caller's RAX.
func packLoadResult(val uint64, fault bool) uint64 {
	if fault {
		return 1 << 63
	}
	return val &^ (1 << 63)
}

// NewHelpers registers emu's four callbacks. Width encodes byte/halfword/
// word/doubleword (0..3) and bit 4 of width signals sign-extension, so the
// compiled call site only needs to pass one immediate.
func NewHelpers(emu *emulator.Emulator, cov *coverage.Map) *Helpers {
	h := &Helpers{emu: emu}

	load := func(addr uint64, width uint64) uint64 {
		n := widthBytes(width & 0x3)
		signed := width&0x10 != 0
		var buf [8]byte
		if err := emu.Mem.Read(mmu.VirtAddr(addr), buf[:n], uint(n)); err != nil {
			emu.SetFault(err)
			return packLoadResult(0, true)
		}
		v := decodeWidth(buf[:n], signed)
		return packLoadResult(v, false)
	}
	store := func(addr uint64, value uint64, width uint64) uint64 {
		n := widthBytes(width & 0x3)
		buf := encodeWidth(value, n)
		if err := emu.Mem.Write(mmu.VirtAddr(addr), buf, uint(n)); err != nil {
			emu.SetFault(err)
			return 1
		}
		return 0
	}
	syscall := func(no, a0, a1, a2 uint64) uint64 {
		return uint64(dispatchSyscall(emu, no, a0, a1, a2))
	}
	coverProbe := func(pc uint64) uint64 {
		if cov == nil {
			return 0
		}
		if cov.Record(pc, cov.CallFold()) {
			return 1
		}
		return 0
	}

	h.Load = purego.NewCallback(load)
	h.Store = purego.NewCallback(store)
	h.Syscall = purego.NewCallback(syscall)
	h.Cover = purego.NewCallback(coverProbe)
	return h
}

func widthBytes(w uint64) int {
	switch w {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}

func decodeWidth(b []byte, signed bool) uint64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * uint(i))
	}
	if signed && len(b) < 8 {
		shift := uint(64 - 8*len(b))
		return uint64(int64(v<<shift) >> shift)
	}
	return v
}

func encodeWidth(v uint64, n int) []byte {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return buf
}

// dispatchSyscall implements the five syscalls spec section 4.8 names:
// exit, fstat, write, brk, close. The guest's a0..a2 argument convention
// mirrors RISC-V's Linux ABI (a7=number, a0..a2=args), already unpacked by
// the caller.
func dispatchSyscall(emu *emulator.Emulator, no, a0, a1, a2 uint64) int64 {
	const (
		sysClose = 57
		sysWrite = 64
		sysFstat = 80
		sysExit  = 93
		sysBrk   = 214
	)
	switch no {
	case sysExit:
		return int64(a0) // the caller (Run) interprets this specially; see jit.go
	case sysClose:
		return emu.SysClose(int(a0))
	case sysWrite:
		n := a2
		buf := make([]byte, n)
		if err := emu.Mem.Read(mmu.VirtAddr(a1), buf, uint(n)); err != nil {
			return -14
		}
		return emu.SysWrite(int(a0), buf)
	case sysFstat:
		return emu.SysFstat(int(a0), a1)
	case sysBrk:
		return int64(emu.SysBrk(a0))
	default:
		emu.SetCrashKind(emulator.CrashUnknownSyscall)
		return -38 // ENOSYS; overridden by the pending crash Run surfaces
	}
}
