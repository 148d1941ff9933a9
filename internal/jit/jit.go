// Package jit compiles lifted, SSA-formed, register-allocated guest
// functions to native x86-64 and drives their execution, per spec section
// 4.7. It owns the RWX code pool, the guest-PC-to-host-address lookup
// table, and the native-callback trampolines (via purego) that compiled
// code uses for memory access, syscalls, and coverage.
package jit

import (
	"fmt"

	"github.com/ebitengine/purego"

	"github.com/mellow-hype/rvfuzz/internal/coverage"
	"github.com/mellow-hype/rvfuzz/internal/elf"
	"github.com/mellow-hype/rvfuzz/internal/emulator"
	"github.com/mellow-hype/rvfuzz/internal/lifter"
	"github.com/mellow-hype/rvfuzz/internal/mmu"
	"github.com/mellow-hype/rvfuzz/internal/regalloc"
	"github.com/mellow-hype/rvfuzz/internal/ssa"
)

// JIT ties the compiler, code pool, and lookup table to one Emulator.
type JIT struct {
	emu     *emulator.Emulator
	pool    *Pool
	lookup  *LookupTable
	helpers *Helpers
	cov     *coverage.Map
	cmpCov  bool
	info    *elf.Info
	funcs   map[uint64]*CompiledFunc
	// fullTrace selects the "-f" Intel-syntax disassembly log of every
	// function this JIT compiles, spec section 6.
	fullTrace bool
}

// New prepares a JIT over emu. info supplies the symbol table used to
// bound a freshly seen PC's containing function for lazy compilation.
// fullTrace logs every freshly compiled function's native code as it is
// emitted.
func New(emu *emulator.Emulator, info *elf.Info, cov *coverage.Map, cmpCov bool, fullTrace bool) (*JIT, error) {
	pool, err := NewPool()
	if err != nil {
		return nil, err
	}
	return &JIT{
		emu:       emu,
		pool:      pool,
		lookup:    NewLookupTable(),
		helpers:   NewHelpers(emu, cov),
		cov:       cov,
		cmpCov:    cmpCov,
		info:      info,
		funcs:     map[uint64]*CompiledFunc{},
		fullTrace: fullTrace,
	}, nil
}

// Close releases the code pool's RWX mapping.
func (j *JIT) Close() error { return j.pool.Close() }

// ensureCompiled returns the host address for pc's containing function,
// lifting, SSA-forming, register-allocating, and compiling it on first
// use, then publishing the result in the lookup table.
func (j *JIT) ensureCompiled(pc uint64) (uintptr, error) {
	if addr, ok := j.lookup.Get(pc); ok {
		return addr, nil
	}
	fn, ok := j.info.FuncContaining(pc)
	if !ok {
		return 0, fmt.Errorf("jit: no symbol covers pc %#x", pc)
	}

	irFn, err := lifter.Lift(j.emu.Mem, fn.Name, fn.Addr, fn.Size)
	if err != nil {
		return 0, err
	}
	res := ssa.BuildFunction(irFn)
	ra := regalloc.Allocate(res.CFG, res.Dom)
	compiled, err := Compile(irFn, res, ra, j.helpers, j.cov, j.cmpCov)
	if err != nil {
		return 0, err
	}

	addr, err := j.pool.Alloc(compiled.Code)
	if err != nil {
		return 0, err
	}
	if j.fullTrace {
		traceCompiled(fn.Addr, compiled.Code)
	}
	j.funcs[fn.Addr] = compiled
	j.lookup.Install(fn.Addr, addr)
	return addr, nil
}

// frame is the per-call scratch array: guest registers, spill slots, and
// the exit record. Run allocates a fresh one for every call, sized to the
// called function's FrameSize.
type frame struct {
	buf []uint64
}

func (j *JIT) newFrame(size int) *frame {
	return &frame{buf: make([]uint64, size)}
}

// Run executes starting at pc, looping internally across the compiled
// code's call, jump and return exits. It returns an ExitReason only for the
// exit syscall, a hook address, a crash, a timeout, or a transfer to a PC
// outside every known function. Other syscalls are serviced by the helper
// callback inside compiled code and produce no ExitReason.
func (j *JIT) Run(pc uint64) (emulator.ExitReason, error) {
	for {
		addr, err := j.ensureCompiled(pc)
		if err != nil {
			return emulator.ExitReason{}, err
		}
		fn, _ := j.info.FuncContaining(pc)
		compiled := j.funcs[fn.Addr]

		fr := j.newFrame(compiled.FrameSize)
		for i := 0; i < emulator.NumRegs; i++ {
			fr.buf[i] = j.emu.Regs[i]
		}

		ret := invoke(addr, &fr.buf[0])
		_ = ret

		for i := 0; i < emulator.NumRegs; i++ {
			j.emu.Regs[i] = fr.buf[i]
		}

		if fault := j.emu.TakeFault(); fault != nil {
			return emulator.ExitReason{Kind: emulator.ExitCrash, PC: pc, Crash: crashKindFor(fault.Kind)}, nil
		}
		if crash := j.emu.TakeCrashKind(); crash != emulator.CrashNone {
			return emulator.ExitReason{Kind: emulator.ExitCrash, PC: pc, Crash: crash}, nil
		}

		if j.emu.AddInstrs(compiled.NumInstrs) {
			return emulator.ExitReason{Kind: emulator.ExitTimeout, PC: pc}, nil
		}

		exitBase := compiled.ExitBase / 8
		kind := fr.buf[exitBase]
		nextPC := fr.buf[exitBase+1]

		if j.cov != nil {
			switch int64(fr.buf[exitBase+6]) {
			case xferCall:
				j.cov.PushCall(nextPC)
			case xferRet:
				j.cov.PopCall()
			}
		}

		if kind == 1 { // ExitSyscallExit
			return emulator.ExitReason{Kind: emulator.ExitSyscallExit, PC: nextPC, ExitCode: int(j.emu.Regs[10])}, nil
		}

		if hookID, isHook := j.emu.HookIDAt(nextPC); isHook {
			return emulator.ExitReason{Kind: emulator.ExitHook, PC: nextPC, HookID: hookID}, nil
		}
		if _, withinKnownFunc := j.info.FuncContaining(nextPC); !withinKnownFunc {
			return emulator.ExitReason{Kind: emulator.ExitNormal, PC: nextPC}, nil
		}
		pc = nextPC
	}
}

// crashKindFor maps an MMU fault kind to the emulator's crash taxonomy.
func crashKindFor(k mmu.FaultKind) emulator.CrashKind {
	switch k {
	case mmu.FaultRead:
		return emulator.CrashReadFault
	case mmu.FaultWrite:
		return emulator.CrashWriteFault
	case mmu.FaultExec:
		return emulator.CrashExecFault
	case mmu.FaultInvalidFree:
		return emulator.CrashInvalidFree
	default:
		return emulator.CrashReadFault
	}
}

// invoke calls into compiled native code at addr, passing regsPtr in RDI
// per the System V AMD64 calling convention, via purego's generic native
// call path rather than a hand-written assembly trampoline.
func invoke(addr uintptr, regsPtr *uint64) uintptr {
	r1, _, _ := purego.SyscallN(addr, ptrOf(regsPtr))
	return r1
}
