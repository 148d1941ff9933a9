// Package emulator drives one guest thread's execution: register file,
// file descriptor table, symbol hooks, and the syscalls the JIT-compiled
// code calls back into, per spec section 4.8.
package emulator

import (
	"fmt"

	"github.com/mellow-hype/rvfuzz/internal/mmu"
)

// NumRegs is the guest register-file size: 32 integer registers plus PC.
const NumRegs = 33

// PCReg is the register-file slot that holds the program counter.
const PCReg = 32

// ExitKind classifies why jit.JIT.Run returned control to the fuzz loop.
type ExitKind int

const (
	ExitNormal ExitKind = iota
	ExitSyscallExit
	ExitCrash
	ExitHook
	ExitTimeout
)

// CrashKind further classifies an ExitCrash reason.
type CrashKind int

const (
	CrashNone CrashKind = iota
	CrashReadFault
	CrashWriteFault
	CrashExecFault
	CrashInvalidFree
	CrashDivByZero
	// CrashUnknownSyscall marks a syscall number dispatchSyscall does not
	// implement (spec section 4.8/7: "Unknown syscalls become
	// Crash(UnknownSyscall, pc)").
	CrashUnknownSyscall
	// CrashUnalignedPc marks control transferring to a guest PC that isn't
	// 2-byte instruction-aligned (spec section 7).
	CrashUnalignedPc
	// CrashBrkFault marks a brk request that isn't a query (base 0 or the
	// current break): the bump allocator can't service a real heap move.
	CrashBrkFault
)

// ExitReason is the result of one jit.JIT.Run call.
type ExitReason struct {
	Kind      ExitKind
	PC        uint64
	Crash     CrashKind
	HookID    int
	ExitCode  int
	Syscallno uint64
}

// Emulator is one guest execution context: its memory, registers, open
// files, and symbol-keyed hooks. Fork/Reset (via Mem.Fork/Reset) give the
// fuzzer's per-case clone cheaply, matching spec section 4.1's page-bitset
// reset rather than a full memory copy.
type Emulator struct {
	Mem  *mmu.Mmu
	Regs [NumRegs]uint64

	fds    map[int]*fileDesc
	nextFD int

	// Hooks maps a guest symbol name to the PC the fuzzer wants to stop at
	// (spec section 9: hooks are keyed by symbol name, not a raw address,
	// so the same harness config works across re-links of the target).
	Hooks    map[string]uint64
	hookAddr map[uint64]int
	hookByID []string

	instrCount   uint64
	timeoutAfter uint64 // 0 = unbounded, set once calibration derives a budget

	// pendingFault is set by a load/store helper the instant an MMU
	// permission check fails, so jit.JIT.Run can surface it as ExitCrash once
	// compiled code returns control rather than needing a call back into
	// Go on every memory access.
	pendingFault *mmu.Fault

	// pendingCrashKind is set by a syscall or other non-MMU guest action
	// that is itself the crash (spec section 4.8's unknown-syscall rule),
	// surfaced the same way as pendingFault.
	pendingCrashKind CrashKind
}

// SetFault records the first MMU fault seen since the last TakeFault. A
// fault already pending is never overwritten: the first byte to go wrong
// is the one a crash signature should point at.
func (e *Emulator) SetFault(err error) {
	if e.pendingFault != nil {
		return
	}
	if f, ok := err.(*mmu.Fault); ok {
		e.pendingFault = f
	}
}

// TakeFault returns and clears the pending fault, if any.
func (e *Emulator) TakeFault() *mmu.Fault {
	f := e.pendingFault
	e.pendingFault = nil
	return f
}

// SetCrashKind records the first non-MMU crash seen since the last
// TakeCrashKind, mirroring SetFault's first-wins rule.
func (e *Emulator) SetCrashKind(k CrashKind) {
	if e.pendingCrashKind != CrashNone {
		return
	}
	e.pendingCrashKind = k
}

// TakeCrashKind returns and clears the pending non-MMU crash kind, if any.
func (e *Emulator) TakeCrashKind() CrashKind {
	k := e.pendingCrashKind
	e.pendingCrashKind = CrashNone
	return k
}

type fileDesc struct {
	closed bool
}

// New builds an emulator over mem with stdin/stdout/stderr pre-populated,
// matching a freshly exec'd process's file-descriptor table.
func New(mem *mmu.Mmu) *Emulator {
	e := &Emulator{
		Mem:      mem,
		fds:      map[int]*fileDesc{0: {}, 1: {}, 2: {}},
		nextFD:   3,
		Hooks:    map[string]uint64{},
		hookAddr: map[uint64]int{},
	}
	return e
}

// SetHooks installs every entry of the symbol->address table resolved by
// the caller (typically internal/elf's symbol table) as a hook; it does not
// filter the table.
func (e *Emulator) SetHooks(resolved map[string]uint64) {
	for name, addr := range resolved {
		id := len(e.hookByID)
		e.Hooks[name] = addr
		e.hookAddr[addr] = id
		e.hookByID = append(e.hookByID, name)
	}
}

// HookIDAt reports whether addr is a registered hook, and its id.
func (e *Emulator) HookIDAt(addr uint64) (int, bool) {
	id, ok := e.hookAddr[addr]
	return id, ok
}

// SetTimeout configures the instruction budget jit.JIT.Run enforces; 0 disables
// it (used during the calibration phase, spec section 4.9).
func (e *Emulator) SetTimeout(instrs uint64) { e.timeoutAfter = instrs }

// InstrCount is the number of guest instructions retired this run.
func (e *Emulator) InstrCount() uint64 { return e.instrCount }

// ResetCounters zeroes the per-run instruction counter; called by the
// fuzzer between cases, after Mem.Reset.
func (e *Emulator) ResetCounters() { e.instrCount = 0 }

// AddInstrs lets the JIT-compiled code's coverage/budget prologue report
// how many guest instructions a block represented, without a call back
// into Go per instruction.
func (e *Emulator) AddInstrs(n uint64) bool {
	e.instrCount += n
	return e.timeoutAfter != 0 && e.instrCount >= e.timeoutAfter
}

var errBadFD = fmt.Errorf("bad file descriptor")

// SysClose implements the close syscall.
func (e *Emulator) SysClose(fd int) int64 {
	f, ok := e.fds[fd]
	if !ok || f.closed || fd < 3 {
		return -9 // EBADF
	}
	f.closed = true
	delete(e.fds, fd)
	return 0
}

// SysWrite implements the write syscall against the guest's FD table. A
// write to stdout/stderr reports every byte as written; the bytes are not
// forwarded to the host's stdout/stderr. Writing to
// any other FD is a crash, not a silent success: no guest-visible file
// system is modeled (spec section 7's Non-goals), so a write there is
// assumed to be the guest having corrupted its own FD bookkeeping.
func (e *Emulator) SysWrite(fd int, data []byte) int64 {
	f, ok := e.fds[fd]
	if !ok || f.closed {
		return -9
	}
	if fd != 1 && fd != 2 {
		e.SetCrashKind(CrashWriteFault)
		return -1
	}
	return int64(len(data))
}

// SysBrk implements brk as a query-only syscall: a request of 0, or one that
// names the current break, returns the break unchanged. Any other request
// asks the bump allocator to move backwards or to actually grow the heap,
// neither of which this monotonic, append-only allocator can service, so it
// faults rather than silently granting or ignoring the request (spec
// section 9).
func (e *Emulator) SysBrk(newBrk uint64) uint64 {
	cur := uint64(e.Mem.AllocAddr())
	if newBrk == 0 || newBrk == cur {
		return cur
	}
	e.SetCrashKind(CrashBrkFault)
	return cur
}

// statSize is the subset of struct stat the guest's fstat(2) shim fills
// in: a handful of fields sufficient for libc's own sanity checks on a
// pre-opened descriptor, not a full stat emulation (spec section 9).
const statSize = 128

// SysFstat implements fstat, writing a minimal, mostly-zeroed stat buffer
// that reports a character device for fd 0-2 and a regular file otherwise.
func (e *Emulator) SysFstat(fd int, buf uint64) int64 {
	if _, ok := e.fds[fd]; !ok {
		return -9
	}
	var b [statSize]byte
	mode := uint32(0o100644) // S_IFREG
	if fd <= 2 {
		mode = 0o020644 // S_IFCHR
	}
	putU32(b[24:], mode) // st_mode offset matches glibc's x86-64 struct stat layout
	if err := e.Mem.Write(mmu.VirtAddr(buf), b[:], statSize); err != nil {
		return -14 // EFAULT
	}
	return 0
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
