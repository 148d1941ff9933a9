// Package ir defines the linear mid-level intermediate representation that
// the lifter emits and the SSA builder, register allocator, and JIT all
// operate on. Field shapes follow spec section 4.3.
package ir

import "fmt"

// Op identifies an IR operation.
type Op int

const (
	OpLoadi Op = iota
	OpJmp
	OpCall
	OpBranch
	OpCallReg
	OpJmpReg
	OpRet
	OpSyscall
	OpLabel
	OpPhi
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
	OpSlt
	OpMov
	OpMul
	OpDiv
	OpRem
)

func (o Op) String() string {
	names := [...]string{
		"loadi", "jmp", "call", "branch", "callreg", "jmpreg", "ret",
		"syscall", "label", "phi", "load", "store", "add", "sub", "and",
		"or", "xor", "shl", "shr", "sar", "slt", "mov", "mul", "div", "rem",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "unknown"
}

// Width is the memory/ALU operand width for Load/Store and arithmetic ops.
type Width int

const (
	Byte Width = iota
	Word
	Dword
	Qword
)

// CmpKind identifies a comparison kind, used by Slt/Branch flags.
type CmpKind int

const (
	CmpEQ CmpKind = iota
	CmpNE
	CmpLT
	CmpGT
)

// Flags bundles the per-instruction metadata spec section 3 calls out:
// signedness, width, and compare kind.
type Flags struct {
	Signed  bool
	Width   Width
	Cmp     CmpKind
}

// VReg is an SSA-numbered virtual register: a (physical-register-id,
// version) pair. PhysReg 0 is always the hard-wired-zero register.
type VReg struct {
	PhysReg uint16
	Version uint16
}

func (v VReg) String() string {
	return fmt.Sprintf("r%d.%d", v.PhysReg, v.Version)
}

// IsZero reports whether this is the hard-wired-zero physical register,
// regardless of SSA version.
func (v VReg) IsZero() bool { return v.PhysReg == 0 }

// Instruction is one IR instruction: up to two inputs, at most one output,
// a flags word, and an optional source guest PC for diagnostics.
type Instruction struct {
	Op      Op
	In      [2]VReg
	NumIn   int
	Out     VReg
	HasOut  bool
	Flags   Flags
	PC      uint64
	HasPC   bool

	// Imm carries Loadi's constant, Jmp/Call's target PC, and Label's
	// anchored guest PC; Branch's targets are in BranchT/BranchF.
	Imm      int64
	BranchT  uint64 // Branch: taken target
	BranchF  uint64 // Branch: not-taken target

	// PhiIns carries a phi node's per-predecessor input registers, one per
	// incoming control-flow edge, filled in during SSA renaming.
	PhiIns []VReg
}

// Function is the linear vector of instructions produced for one guest
// function, plus the counter used to mint fresh virtual registers.
type Function struct {
	Name       string
	EntryPC    uint64
	Instrs     []Instruction
	nextVReg   uint16
	nextVRegOK bool
}

// NewFunction starts a fresh IR function. Physical register numbering is
// shared with the guest's 33 register slots (0..32); virtual-register
// allocation for SSA purposes begins after that range so every IR-defined
// temporary gets a unique PhysReg id distinct from a real guest register.
func NewFunction(name string, entry uint64) *Function {
	return &Function{Name: name, EntryPC: entry, nextVReg: 33}
}

// ErrVRegExhausted is returned when more than 2^16 virtual registers would
// be required to compile one function (spec section 4.3).
var ErrVRegExhausted = fmt.Errorf("virtual register space exhausted")

// AllocVReg mints a fresh SSA virtual register for a producing operation.
func (f *Function) AllocVReg() (VReg, error) {
	if f.nextVReg == 0 && f.nextVRegOK {
		return VReg{}, ErrVRegExhausted
	}
	id := f.nextVReg
	f.nextVReg++
	if f.nextVReg == 0 {
		f.nextVRegOK = true // wrapped past 65535; next call fails
	}
	return VReg{PhysReg: id, Version: 0}, nil
}

// Emit appends an instruction and returns its index.
func (f *Function) Emit(i Instruction) int {
	f.Instrs = append(f.Instrs, i)
	return len(f.Instrs) - 1
}

// Uses returns the input registers actually read by instr (honoring NumIn).
func (i *Instruction) Uses() []VReg {
	return i.In[:i.NumIn]
}
