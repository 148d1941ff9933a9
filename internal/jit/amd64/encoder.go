// Package amd64 is a minimal byte-level x86-64 encoder used by internal/jit
// to emit compiled guest code directly into an RWX page, grounded on the
// byte-oriented machine-code emitters found across the retrieval pack's
// other_examples/ JIT snippets (lcox74-bfcc, SeleniaProject-Orizon,
// tetratelabs-wazero). It only covers the operand shapes internal/jit
// actually needs: 64-bit register-to-register ALU, immediate loads,
// relative/absolute control transfer, and the few instructions the
// coverage and cmpcov prologues require.
package amd64

// Reg is a logical host register index. The first NumRegs-2 registers are
// handed to internal/regalloc; the last two are Base and Scratch.
type Reg uint8

const NumRegs = 14

// regInfo holds, for each logical Reg, whether REX.B/REX.R must be set and
// the 3-bit ModRM/opcode-extension field value.
var regInfo = [NumRegs]struct {
	rex   bool
	field uint8
}{
	{false, 0}, // RAX
	{false, 1}, // RCX
	{false, 2}, // RDX
	{false, 3}, // RBX
	{false, 6}, // RSI
	{false, 7}, // RDI
	{true, 0},  // R8
	{true, 1},  // R9
	{true, 2},  // R10
	{true, 3},  // R11
	{true, 4},  // R12
	{true, 5},  // R13
	{true, 6},  // R14
	{true, 7},  // R15 -- scratch
}

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RSI Reg = 4
	RDI Reg = 5

	// Base holds the pointer to the guest register/spill-slot array for a
	// compiled function's whole body; Scratch is the cycle-breaking/spill
	// temp. Neither is ever handed to internal/regalloc's linear scan.
	Base    Reg = NumRegs - 2
	Scratch Reg = NumRegs - 1
)

// Encoder accumulates emitted bytes and the fixups that must be patched
// once every basic block's host offset is known.
type Encoder struct {
	Buf    []byte
	Labels map[uint64]int // guest PC -> byte offset, filled as blocks are emitted
	fixups []fixup
}

type fixupKind int

const (
	fixupRel32 fixupKind = iota
)

type fixup struct {
	pos    int // offset of the 4-byte rel32 field
	target uint64
	kind   fixupKind
}

func New() *Encoder {
	return &Encoder{Labels: make(map[uint64]int)}
}

func (e *Encoder) emit(b ...byte) { e.Buf = append(e.Buf, b...) }

func (e *Encoder) pos() int { return len(e.Buf) }

// MarkLabel records the current offset as guest pc's host entry point.
func (e *Encoder) MarkLabel(pc uint64) { e.Labels[pc] = e.pos() }

func rex(w bool, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrmReg(mod, reg, rm uint8) byte { return mod<<6 | reg<<3 | rm }

// MovImm64 emits `mov dst, imm64`.
func (e *Encoder) MovImm64(dst Reg, imm int64) {
	di := regInfo[dst]
	e.emit(rex(true, false, false, di.rex), 0xB8+di.field)
	var buf [8]byte
	u := uint64(imm)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * uint(i)))
	}
	e.emit(buf[:]...)
}

// MovRegReg emits `mov dst, src` (dst <- src).
func (e *Encoder) MovRegReg(dst, src Reg) {
	di, si := regInfo[dst], regInfo[src]
	e.emit(rex(true, si.rex, false, di.rex), 0x89, modrmReg(0b11, si.field, di.field))
}

// AluOp identifies a register-register ALU opcode this encoder can emit.
type AluOp int

const (
	Add AluOp = iota
	Sub
	And
	Or
	Xor
	Cmp
)

var aluOpcode = map[AluOp]byte{Add: 0x01, Sub: 0x29, And: 0x21, Or: 0x09, Xor: 0x31, Cmp: 0x39}

// Alu emits `op dst, src` for the register-register ALU family (dst <- dst
// op src, except Cmp which only sets flags).
func (e *Encoder) Alu(op AluOp, dst, src Reg) {
	di, si := regInfo[dst], regInfo[src]
	e.emit(rex(true, si.rex, false, di.rex), aluOpcode[op], modrmReg(0b11, si.field, di.field))
}

// Shift identifies which of SHL/SHR/SAR to emit.
type Shift int

const (
	Shl Shift = 4
	Shr Shift = 5
	Sar Shift = 7
)

// ShiftByCL emits `op dst, cl` -- the shift amount must already be in CL
// (the low byte of RCX); callers are responsible for getting it there,
// saving off whatever previously lived in RCX if it was live.
func (e *Encoder) ShiftByCL(op Shift, dst Reg) {
	di := regInfo[dst]
	e.emit(rex(true, false, false, di.rex), 0xD3, modrmReg(0b11, uint8(op), di.field))
}

// IMul emits `imul dst, src` (dst <- dst * src, low 64 bits).
func (e *Encoder) IMul(dst, src Reg) {
	di, si := regInfo[dst], regInfo[src]
	e.emit(rex(true, di.rex, false, si.rex), 0x0F, 0xAF, modrmReg(0b11, di.field, si.field))
}

// Cqo emits `cqo`, sign-extending RAX into RDX:RAX ahead of a signed idiv.
func (e *Encoder) Cqo() { e.emit(0x48, 0x99) }

// XorSelf zeroes RDX ahead of an unsigned div.
func (e *Encoder) XorSelf(r Reg) { e.Alu(Xor, r, r) }

// IDiv emits `idiv divisor` (signed) or (unsigned via div) against
// RDX:RAX, leaving the quotient in RAX and remainder in RDX.
func (e *Encoder) IDiv(divisor Reg, signed bool) {
	di := regInfo[divisor]
	ext := uint8(7)
	if !signed {
		ext = 6
	}
	e.emit(rex(true, false, false, di.rex), 0xF7, modrmReg(0b11, ext, di.field))
}

// SetCond identifies a SETcc condition code.
type SetCond byte

const (
	SetL  SetCond = 0x9C
	SetB  SetCond = 0x92
	SetG  SetCond = 0x9F
	SetA  SetCond = 0x97
	SetE  SetCond = 0x94
	SetNE SetCond = 0x95
)

// SetCC emits `setcc dst8` then zero-extends dst8 into the full 64-bit dst.
func (e *Encoder) SetCC(cond SetCond, dst Reg) {
	di := regInfo[dst]
	e.emit(rexByte(false, di.rex), 0x0F, byte(cond), modrmReg(0b11, 0, di.field))
	// movzx dst, dst8
	e.emit(rex(true, di.rex, false, di.rex), 0x0F, 0xB6, modrmReg(0b11, di.field, di.field))
}

func rexByte(w, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if b {
		v |= 0x01
	}
	return v
}

func disp32Bytes(d int32) []byte {
	return []byte{byte(d), byte(d >> 8), byte(d >> 16), byte(d >> 24)}
}

// LoadMem emits `mov dst, [base+disp32]`. base's ModRM field must not be 4
// (RSP/R12) since that would require a SIB byte this encoder doesn't emit;
// internal/jit only ever addresses through Base (R14, field 6), which is safe.
func (e *Encoder) LoadMem(dst, base Reg, disp int32) {
	di, bi := regInfo[dst], regInfo[base]
	e.emit(rex(true, di.rex, false, bi.rex), 0x8B, modrmReg(0b10, di.field, bi.field))
	e.emit(disp32Bytes(disp)...)
}

// StoreMem emits `mov [base+disp32], src`.
func (e *Encoder) StoreMem(base, src Reg, disp int32) {
	bi, si := regInfo[base], regInfo[src]
	e.emit(rex(true, si.rex, false, bi.rex), 0x89, modrmReg(0b10, si.field, bi.field))
	e.emit(disp32Bytes(disp)...)
}

// Ret emits `ret`.
func (e *Encoder) Ret() { e.emit(0xC3) }

// CallAbs emits `mov scratch, target; call scratch`, the idiom used for
// both guest->guest calls through the lookup table and calls into the
// purego-registered memory/syscall helper stubs.
func (e *Encoder) CallAbs(target uintptr) {
	e.MovImm64(Scratch, int64(target))
	si := regInfo[Scratch]
	e.emit(rex(true, false, false, si.rex), 0xFF, modrmReg(0b11, 2, si.field))
}

// JmpRel32 reserves a 4-byte relative jump to guest pc, patched by Patch.
func (e *Encoder) JmpRel32(pc uint64) {
	e.emit(0xE9)
	e.fixups = append(e.fixups, fixup{pos: e.pos(), target: pc, kind: fixupRel32})
	e.emit(0, 0, 0, 0)
}

// Jcc identifies which conditional-jump opcode JccRel32 reserves.
type Jcc byte

const (
	JE  Jcc = 0x84
	JNE Jcc = 0x85
	JL  Jcc = 0x8C
	JGE Jcc = 0x8D
	JB  Jcc = 0x82
	JAE Jcc = 0x83
)

func (e *Encoder) JccRel32(cc Jcc, pc uint64) {
	e.emit(0x0F, byte(cc))
	e.fixups = append(e.fixups, fixup{pos: e.pos(), target: pc, kind: fixupRel32})
	e.emit(0, 0, 0, 0)
}

// Patch resolves every pending fixup against Labels. Call once every label
// in the function has been emitted; a target pc missing from Labels means
// the lifter/SSA pipeline produced a dangling branch, a bug upstream of
// the JIT rather than something this package can repair.
func (e *Encoder) Patch() error {
	for _, f := range e.fixups {
		target, ok := e.Labels[f.target]
		if !ok {
			return errDanglingTarget(f.target)
		}
		rel := int32(target - (f.pos + 4))
		e.Buf[f.pos] = byte(rel)
		e.Buf[f.pos+1] = byte(rel >> 8)
		e.Buf[f.pos+2] = byte(rel >> 16)
		e.Buf[f.pos+3] = byte(rel >> 24)
	}
	return nil
}

type errDanglingTarget uint64

func (e errDanglingTarget) Error() string {
	return "jit: branch target has no emitted label"
}
