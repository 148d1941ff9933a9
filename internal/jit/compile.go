package jit

import (
	"fmt"

	"github.com/mellow-hype/rvfuzz/internal/coverage"
	"github.com/mellow-hype/rvfuzz/internal/ir"
	amd64 "github.com/mellow-hype/rvfuzz/internal/jit/amd64"
	"github.com/mellow-hype/rvfuzz/internal/regalloc"
	"github.com/mellow-hype/rvfuzz/internal/ssa"
)

// guestRegSlots is the guest register file's footprint at the front of the
// array the compiled function receives a pointer to in RDI (32 integer
// registers plus PC), mirroring internal/emulator.NumRegs without an
// import-cycle-inducing dependency on that package.
const guestRegSlots = 33

// exitRecordFields is the (kind, pc, crash, hookID, exitCode, syscallNo,
// xfer) tuple a compiled function writes before returning to the dispatch
// loop. xfer tags a call/return transfer so Run can track call depth for
// MethodCallStack coverage.
const exitRecordFields = 7

// xfer tags on the exit record's last field, read by JIT.Run to maintain
// the coverage call-stack signal (spec section 3).
const (
	xferNone int64 = iota
	xferCall
	xferRet
)

// CompiledFunc is one guest function's compiled native code plus the
// frame-layout metadata Run needs to set up and read back its call.
type CompiledFunc struct {
	Code      []byte
	NumSlots  int
	FrameSize int // total 8-byte slots: registers + spills + exit record
	ExitBase  int32
	// NumInstrs is the guest instruction count this function lifted to,
	// used by the dispatch loop's per-call timeout budget check (spec
	// section 4.10/5: "periodic instruction-count checks").
	NumInstrs uint64
}

func regSlotOffset(physReg uint16) int32 { return int32(physReg) * 8 }
func spillSlotOffset(slot int) int32     { return int32(guestRegSlots+slot) * 8 }

// Compile lowers fn (already SSA-formed and register-allocated) to a
// native x86-64 routine. The routine's ABI: it receives one argument, a
// pointer to an array of FrameSize uint64 slots, in RDI (System V's first
// integer argument register); it returns nothing meaningful in RAX and
// instead communicates its exit reason through the exit-record slots at
// the tail of that same array.
func Compile(fn *ir.Function, res *ssa.Result, ra *regalloc.Result, helpers *Helpers, covMap *coverage.Map, cmpCov bool) (*CompiledFunc, error) {
	enc := amd64.New()
	cmpCovSlot := spillSlotOffset(ra.Alloc.NumSlots)
	exitBase := cmpCovSlot + 8

	enc.MovRegReg(amd64.Base, amd64.RDI)

	liveVRegs := collectLiveVRegs(fn)
	loadedPhys := map[uint16]bool{}
	for _, v := range liveVRegs {
		if v.Version != 0 || v.PhysReg == 0 || loadedPhys[v.PhysReg] {
			continue
		}
		loadedPhys[v.PhysReg] = true
		loc := ra.Alloc.Locations[v]
		if loc.IsSpilled() {
			enc.LoadMem(amd64.Scratch, amd64.Base, regSlotOffset(v.PhysReg))
			enc.StoreMem(amd64.Base, amd64.Scratch, spillSlotOffset(loc.Slot))
		} else {
			enc.LoadMem(amd64.Reg(loc.Reg), amd64.Base, regSlotOffset(v.PhysReg))
		}
	}

	c := &compiler{
		enc: enc, fn: fn, res: res, ra: ra, helpers: helpers,
		exitBase: exitBase, cmpCovSlot: cmpCovSlot, cov: covMap, cmpCov: cmpCov,
		constVals: map[ir.VReg]int64{},
	}
	for _, b := range res.CFG.Blocks {
		if !b.Live || !res.Dom.Reachable(b.ID) {
			continue
		}
		c.compileBlock(b)
	}

	if err := enc.Patch(); err != nil {
		return nil, fmt.Errorf("jit compile %s: %w", fn.Name, err)
	}
	return &CompiledFunc{
		Code:      enc.Buf,
		NumSlots:  ra.Alloc.NumSlots,
		FrameSize: guestRegSlots + ra.Alloc.NumSlots + 1 + exitRecordFields,
		ExitBase:  exitBase,
		NumInstrs: uint64(len(fn.Instrs)),
	}, nil
}

// collectLiveVRegs enumerates every VReg mentioned anywhere in fn, in a
// stable order, used to decide what needs an entry-load and (conceptually)
// what might need a final store; store-back happens per Ret/exit site
// instead, from whatever the live SSA value is at that point.
func collectLiveVRegs(fn *ir.Function) []ir.VReg {
	var out []ir.VReg
	seen := map[ir.VReg]bool{}
	add := func(v ir.VReg) {
		if v.PhysReg != 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, instr := range fn.Instrs {
		for k := 0; k < instr.NumIn; k++ {
			add(instr.In[k])
		}
		if instr.HasOut {
			add(instr.Out)
		}
		for _, p := range instr.PhiIns {
			add(p)
		}
	}
	return out
}

type compiler struct {
	enc      *amd64.Encoder
	fn       *ir.Function
	res      *ssa.Result
	ra       *regalloc.Result
	helpers  *Helpers
	exitBase int32
	cov      *coverage.Map
	cmpCov   bool

	// cmpCovSlot is a reserved frame slot (distinct from every spill slot
	// regalloc handed out) compileCmpCovBranch uses to stash the wide value
	// being compared, since it must survive the Cover helper calls the
	// per-byte probe chain makes between extracting each byte.
	cmpCovSlot int32

	// constVals records, per SSA vreg, the immediate value an OpLoadi
	// produced it from -- the only constant-folding this compiler does, and
	// only to recognize the "compare against a wide constant" shape CmpCov
	// decomposes (spec section 4.7). A vreg absent from this map is treated
	// as non-constant, which only costs that branch its CmpCov instrumentation,
	// never correctness.
	constVals map[ir.VReg]int64
}

// operand materializes v into a host register, spilling through Scratch if
// v lives in a memory slot; PhysReg 0 (the hard-wired zero register) is
// materialized by zeroing dst rather than reading memory.
func (c *compiler) operand(v ir.VReg, dst amd64.Reg) amd64.Reg {
	if v.PhysReg == 0 {
		c.enc.Alu(amd64.Xor, dst, dst)
		return dst
	}
	loc := c.ra.Alloc.Locations[v]
	if !loc.IsSpilled() {
		return amd64.Reg(loc.Reg)
	}
	c.enc.LoadMem(dst, amd64.Base, spillSlotOffset(loc.Slot))
	return dst
}

// store writes a freshly computed value in src back to v's Location.
func (c *compiler) store(v ir.VReg, src amd64.Reg) {
	if v.PhysReg == 0 {
		return // writes to the zero register are discarded
	}
	loc := c.ra.Alloc.Locations[v]
	if loc.IsSpilled() {
		c.enc.StoreMem(amd64.Base, src, spillSlotOffset(loc.Slot))
		return
	}
	if amd64.Reg(loc.Reg) != src {
		c.enc.MovRegReg(amd64.Reg(loc.Reg), src)
	}
}

func (c *compiler) dstReg(v ir.VReg) amd64.Reg {
	if v.PhysReg == 0 {
		return amd64.Scratch
	}
	loc := c.ra.Alloc.Locations[v]
	if loc.IsSpilled() {
		return amd64.Scratch
	}
	return amd64.Reg(loc.Reg)
}

func (c *compiler) compileBlock(b *ssa.Block) {
	c.enc.MarkLabel(b.PC)
	if c.cov != nil {
		c.emitCoverageProbe(b.PC)
	}

	for i := b.Lo; i < b.Hi; i++ {
		instr := c.fn.Instrs[i]
		switch instr.Op {
		case ir.OpLabel, ir.OpPhi:
			// handled by MarkLabel / the predecessor-edge move schedule
		case ir.OpLoadi:
			dst := c.dstReg(instr.Out)
			c.enc.MovImm64(dst, instr.Imm)
			c.store(instr.Out, dst)
			c.constVals[instr.Out] = instr.Imm
		case ir.OpMov:
			src := c.operand(instr.In[0], amd64.Scratch)
			c.store(instr.Out, src)
		case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
			c.compileAlu(instr)
		case ir.OpShl, ir.OpShr, ir.OpSar:
			c.compileShift(instr)
		case ir.OpSlt:
			c.compileSlt(instr)
		case ir.OpMul:
			c.compileMul(instr)
		case ir.OpDiv, ir.OpRem:
			c.compileDivRem(instr)
		case ir.OpLoad:
			c.compileLoad(instr)
		case ir.OpStore:
			c.compileStore(instr)
		case ir.OpJmp:
			c.emitEdgeMoves(b.ID, c.res.CFG.Blocks)
			c.enc.JmpRel32(uint64(instr.Imm))
		case ir.OpBranch:
			c.compileBranch(b, instr)
		case ir.OpSyscall:
			c.compileSyscall(instr)
		case ir.OpCall, ir.OpCallReg, ir.OpJmpReg, ir.OpRet:
			c.compileExit(instr)
		}
	}
}

func (c *compiler) emitCoverageProbe(pc uint64) {
	// The coverage bitmap update itself happens in Go (internal/coverage),
	// reached via the same Syscall-style callback path used for memory
	// ops; real JIT designs inline the hash+increment, but routing it
	// through one more helper call keeps this encoder's instruction set
	// small at an acceptable per-block cost.
	c.enc.MovImm64(amd64.RDI, int64(pc))
	c.enc.CallAbs(c.helpers.Cover)
}

func (c *compiler) compileAlu(instr ir.Instruction) {
	lhs := c.operand(instr.In[0], amd64.RAX)
	rhs := c.operand(instr.In[1], amd64.RCX)
	dst := c.dstReg(instr.Out)
	if dst != lhs {
		c.enc.MovRegReg(dst, lhs)
	}
	op := map[ir.Op]amd64.AluOp{ir.OpAdd: amd64.Add, ir.OpSub: amd64.Sub, ir.OpAnd: amd64.And, ir.OpOr: amd64.Or, ir.OpXor: amd64.Xor}[instr.Op]
	c.enc.Alu(op, dst, rhs)
	c.store(instr.Out, dst)
}

func (c *compiler) compileShift(instr ir.Instruction) {
	lhs := c.operand(instr.In[0], amd64.RAX)
	amount := c.operand(instr.In[1], amd64.RCX)
	dst := c.dstReg(instr.Out)
	if dst != lhs {
		c.enc.MovRegReg(dst, lhs)
	}
	if amount != amd64.RCX {
		c.enc.MovRegReg(amd64.RCX, amount)
	}
	op := map[ir.Op]amd64.Shift{ir.OpShl: amd64.Shl, ir.OpShr: amd64.Shr, ir.OpSar: amd64.Sar}[instr.Op]
	c.enc.ShiftByCL(op, dst)
	c.store(instr.Out, dst)
}

func (c *compiler) compileSlt(instr ir.Instruction) {
	lhs := c.operand(instr.In[0], amd64.RAX)
	rhs := c.operand(instr.In[1], amd64.RCX)
	c.enc.Alu(amd64.Cmp, lhs, rhs)
	dst := c.dstReg(instr.Out)
	cond := amd64.SetB
	if instr.Flags.Signed {
		cond = amd64.SetL
	}
	c.enc.SetCC(cond, dst)
	c.store(instr.Out, dst)
}

func (c *compiler) compileMul(instr ir.Instruction) {
	lhs := c.operand(instr.In[0], amd64.RAX)
	rhs := c.operand(instr.In[1], amd64.RCX)
	dst := c.dstReg(instr.Out)
	if dst != lhs {
		c.enc.MovRegReg(dst, lhs)
	}
	c.enc.IMul(dst, rhs)
	c.store(instr.Out, dst)
}

func (c *compiler) compileDivRem(instr ir.Instruction) {
	lhs := c.operand(instr.In[0], amd64.RAX)
	if lhs != amd64.RAX {
		c.enc.MovRegReg(amd64.RAX, lhs)
	}
	rhs := c.operand(instr.In[1], amd64.RCX)
	if rhs == amd64.RAX || rhs == amd64.RDX {
		c.enc.MovRegReg(amd64.Scratch, rhs)
		rhs = amd64.Scratch
	}
	if instr.Flags.Signed {
		c.enc.Cqo()
	} else {
		c.enc.XorSelf(amd64.RDX)
	}
	c.enc.IDiv(rhs, instr.Flags.Signed)
	dst := c.dstReg(instr.Out)
	if instr.Op == ir.OpDiv {
		if dst != amd64.RAX {
			c.enc.MovRegReg(dst, amd64.RAX)
		}
	} else {
		if dst != amd64.RDX {
			c.enc.MovRegReg(dst, amd64.RDX)
		}
	}
	c.store(instr.Out, dst)
}

// widthCode packs ir.Flags.Width and Signed into the Helpers.Load/Store
// calling convention: bits 0-1 select byte/half/word/double, bit 4 signals
// sign-extension on load.
func widthCode(f ir.Flags) int64 {
	w := int64(f.Width)
	if f.Signed {
		w |= 0x10
	}
	return w
}

func (c *compiler) compileLoad(instr ir.Instruction) {
	addr := c.operand(instr.In[0], amd64.RDI)
	if addr != amd64.RDI {
		c.enc.MovRegReg(amd64.RDI, addr)
	}
	if instr.Imm != 0 {
		c.enc.MovImm64(amd64.RSI, instr.Imm)
		c.enc.Alu(amd64.Add, amd64.RDI, amd64.RSI)
	}
	c.enc.MovImm64(amd64.RSI, widthCode(instr.Flags))
	c.enc.CallAbs(c.helpers.Load)
	dst := c.dstReg(instr.Out)
	if dst != amd64.RAX {
		c.enc.MovRegReg(dst, amd64.RAX)
	}
	c.store(instr.Out, dst)
}

func (c *compiler) compileStore(instr ir.Instruction) {
	addr := c.operand(instr.In[0], amd64.RDI)
	if addr != amd64.RDI {
		c.enc.MovRegReg(amd64.RDI, addr)
	}
	if instr.Imm != 0 {
		c.enc.MovImm64(amd64.RSI, instr.Imm)
		c.enc.Alu(amd64.Add, amd64.RDI, amd64.RSI)
	}
	val := c.operand(instr.In[1], amd64.RSI)
	if val != amd64.RSI {
		c.enc.MovRegReg(amd64.RSI, val)
	}
	c.enc.MovImm64(amd64.RDX, widthCode(instr.Flags))
	c.enc.CallAbs(c.helpers.Store)
}

// compileBranch lowers a two-way conditional branch. An equality test
// against a value this compiler can prove constant at a width wider than
// one byte is handed to compileCmpCovBranch instead when CmpCov is enabled,
// per spec section 4.7's per-byte decomposition.
func (c *compiler) compileBranch(b *ssa.Block, instr ir.Instruction) {
	if c.cmpCov && instr.Flags.Cmp == ir.CmpEQ && instr.Flags.Width != ir.Byte {
		if imm, variable, ok := c.constantOperand(instr); ok {
			c.compileCmpCovBranch(b, instr, variable, imm)
			return
		}
	}

	lhs := c.operand(instr.In[0], amd64.RAX)
	rhs := c.operand(instr.In[1], amd64.RCX)
	c.enc.Alu(amd64.Cmp, lhs, rhs)

	var taken amd64.Jcc
	switch instr.Flags.Cmp {
	case ir.CmpEQ:
		taken = amd64.JE
	case ir.CmpNE:
		taken = amd64.JNE
	case ir.CmpLT:
		if instr.Flags.Signed {
			taken = amd64.JL
		} else {
			taken = amd64.JB
		}
	case ir.CmpGT:
		if instr.Flags.Signed {
			taken = amd64.JGE
		} else {
			taken = amd64.JAE
		}
	}
	// Both arms may need distinct phi-resolution moves; emit them on two
	// dedicated trampoline spans rather than before the conditional jump,
	// since the not-taken path falls straight through without one.
	c.emitEdgeMoves(b.ID, c.res.CFG.Blocks)
	c.enc.JccRel32(taken, instr.BranchT)
	c.enc.JmpRel32(instr.BranchF)
}

// constantOperand reports whether exactly one of instr's two operands is a
// value this compiler can prove constant (the zero register counts as the
// constant 0), returning that constant and the other, variable operand.
func (c *compiler) constantOperand(instr ir.Instruction) (imm int64, variable ir.VReg, ok bool) {
	lhsImm, lhsOK := c.constVal(instr.In[0])
	rhsImm, rhsOK := c.constVal(instr.In[1])
	switch {
	case rhsOK && !lhsOK:
		return rhsImm, instr.In[0], true
	case lhsOK && !rhsOK:
		return lhsImm, instr.In[1], true
	default:
		return 0, ir.VReg{}, false
	}
}

func (c *compiler) constVal(v ir.VReg) (int64, bool) {
	if v.PhysReg == 0 {
		return 0, true
	}
	imm, ok := c.constVals[v]
	return imm, ok
}

// cmpCovMismatchPC synthesizes a local branch target for the early-exit arm
// of a CmpCov byte chain, offset well past anything config.MaxGuestAddr
// could ever hand out as a real guest address so it can share the same
// Encoder.Labels space as every real block without colliding.
func cmpCovMismatchPC(branchPC uint64) uint64 {
	return branchPC | (1 << 40)
}

// compileCmpCovBranch lowers `variable == imm` (instr.Flags.Width bytes
// wide) into a chain of single-byte compares, each preceded by its own
// coverage probe (spec section 4.7/8: laf-intel-style comparison splitting
// so the mutator is rewarded for matching the constant one byte at a time
// instead of needing the full-width match in one guess). variable's value
// is stashed in cmpCovSlot rather than kept in a register across the chain,
// since each byte's probe call may clobber any caller-saved register.
func (c *compiler) compileCmpCovBranch(b *ssa.Block, instr ir.Instruction, variable ir.VReg, constVal int64) {
	nbytes := widthBytes(uint64(instr.Flags.Width))

	varReg := c.operand(variable, amd64.RAX)
	if varReg != amd64.RAX {
		c.enc.MovRegReg(amd64.RAX, varReg)
	}
	c.enc.StoreMem(amd64.Base, amd64.RAX, c.cmpCovSlot)

	mismatch := cmpCovMismatchPC(instr.PC)
	for i := 0; i < nbytes; i++ {
		c.emitCmpCovProbe(instr.PC, i)

		c.enc.LoadMem(amd64.RDX, amd64.Base, c.cmpCovSlot)
		if i > 0 {
			c.enc.MovImm64(amd64.RCX, int64(i*8))
			c.enc.ShiftByCL(amd64.Shr, amd64.RDX)
		}
		c.enc.MovImm64(amd64.RCX, 0xff)
		c.enc.Alu(amd64.And, amd64.RDX, amd64.RCX)

		byteConst := (constVal >> uint(i*8)) & 0xff
		c.enc.MovImm64(amd64.RCX, byteConst)
		c.enc.Alu(amd64.Cmp, amd64.RDX, amd64.RCX)
		if i < nbytes-1 {
			c.enc.JccRel32(amd64.JNE, mismatch)
		}
	}

	c.emitEdgeMoves(b.ID, c.res.CFG.Blocks)
	c.enc.JccRel32(amd64.JE, instr.BranchT)
	c.enc.JmpRel32(instr.BranchF)
	c.enc.MarkLabel(mismatch)
	c.enc.JmpRel32(instr.BranchF)
}

// emitCmpCovProbe records a coverage point unique to byteIdx within this
// compare, distinct from every real guest PC (spec section 3/8's "each with
// its own coverage point").
func (c *compiler) emitCmpCovProbe(pc uint64, byteIdx int) {
	point := pc ^ (uint64(byteIdx+1) << 48)
	c.enc.MovImm64(amd64.RDI, int64(point))
	c.enc.CallAbs(c.helpers.Cover)
}

// emitEdgeMoves splices in the parallel-move schedule internal/regalloc
// computed for every edge leaving b, since both Jmp and the fallthrough
// arm of Branch share this path and a successor's phi may read values only
// one of them actually produced.
func (c *compiler) emitEdgeMoves(from ssa.BlockID, blocks []*ssa.Block) {
	for _, succID := range c.res.CFG.Blocks[from].Succs {
		moves, ok := c.ra.EdgeMoves[regalloc.Edge{Pred: from, Succ: succID}]
		if !ok {
			continue
		}
		for _, m := range moves {
			c.emitMove(m)
		}
	}
}

func (c *compiler) emitMove(m regalloc.Move) {
	srcReg := c.locReg(m.Src, amd64.Scratch)
	if m.Dst.IsSpilled() {
		c.enc.StoreMem(amd64.Base, srcReg, spillSlotOffset(m.Dst.Slot))
		return
	}
	dst := amd64.Reg(m.Dst.Reg)
	if dst != srcReg {
		c.enc.MovRegReg(dst, srcReg)
	}
}

func (c *compiler) locReg(loc regalloc.Location, tmp amd64.Reg) amd64.Reg {
	if loc.IsSpilled() {
		c.enc.LoadMem(tmp, amd64.Base, spillSlotOffset(loc.Slot))
		return tmp
	}
	return amd64.Reg(loc.Reg)
}

// compileSyscall lowers ecall: dispatch every syscall, exit included, through
// the Syscall helper inline, then treat exit as an immediate function exit.
func (c *compiler) compileSyscall(instr ir.Instruction) {
	// a7 (x17) carries the syscall number, a0-a2 (x10-x12) its arguments
	// per the RISC-V Linux syscall ABI; physReg numbering mirrors raw
	// register indices, so these are fixed constants rather than operands
	// on the IR instruction itself.
	const (
		regA0 = 10
		regA7 = 17
	)
	c.loadGuestReg(amd64.RDI, regA7)
	c.loadGuestReg(amd64.RSI, regA0)
	c.loadGuestReg(amd64.RDX, regA0+1)
	c.loadGuestReg(amd64.RCX, regA0+2)
	c.enc.CallAbs(c.helpers.Syscall)
	c.storeGuestReg(regA0, amd64.RAX)

	c.enc.LoadMem(amd64.Scratch, amd64.Base, regSlotOffset(regA7))
	c.enc.MovImm64(amd64.RAX, 93) // SYS_exit
	c.enc.Alu(amd64.Cmp, amd64.Scratch, amd64.RAX)
	notExit := instr.PC + 1 // synthetic pc, never a real label; see below
	c.enc.JccRel32(amd64.JNE, notExit)
	c.writeExitRecord(1 /* ExitSyscallExit */, instr.PC, 0, 0, xferNone)
	c.enc.Ret()
	c.enc.MarkLabel(notExit)
}

func (c *compiler) loadGuestReg(dst amd64.Reg, physReg uint16) {
	c.enc.LoadMem(dst, amd64.Base, regSlotOffset(physReg))
}
func (c *compiler) storeGuestReg(physReg uint16, src amd64.Reg) {
	c.enc.StoreMem(amd64.Base, src, regSlotOffset(physReg))
}

// compileExit lowers every instruction that must hand control back to the
// dispatch loop: unresolved indirect jumps/calls and direct calls to
// another lifted function (this compiled body only ever contains
// intra-function Jmp/Branch edges).
func (c *compiler) compileExit(instr ir.Instruction) {
	switch instr.Op {
	case ir.OpJmpReg:
		target := c.operand(instr.In[0], amd64.RAX)
		if instr.Imm != 0 {
			c.enc.MovImm64(amd64.RCX, instr.Imm)
			c.enc.Alu(amd64.Add, target, amd64.RCX)
		}
		c.enc.StoreMem(amd64.Base, target, regSlotOffset(32)) // stash target pc in the PC slot
		c.writeExitRecordDynamicPC(0 /* ExitNormal: dispatch loop reads the PC slot */, xferNone)
	case ir.OpCallReg:
		target := c.operand(instr.In[0], amd64.RAX)
		if instr.Imm != 0 {
			c.enc.MovImm64(amd64.RCX, instr.Imm)
			c.enc.Alu(amd64.Add, target, amd64.RCX)
		}
		c.enc.StoreMem(amd64.Base, target, regSlotOffset(32))
		c.writeExitRecordDynamicPC(0, xferCall)
	case ir.OpCall:
		c.enc.MovImm64(amd64.Scratch, instr.Imm)
		c.enc.StoreMem(amd64.Base, amd64.Scratch, regSlotOffset(32))
		c.writeExitRecordDynamicPC(0, xferCall)
	case ir.OpRet:
		c.writeExitRecord(0, instr.PC, 0, 0, xferRet)
	}
	c.enc.Ret()
}

func (c *compiler) writeExitRecord(kind int64, pc uint64, crash, hookID, xfer int64) {
	c.enc.MovImm64(amd64.Scratch, kind)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase)
	c.enc.MovImm64(amd64.Scratch, int64(pc))
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+8)
	c.enc.MovImm64(amd64.Scratch, crash)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+16)
	c.enc.MovImm64(amd64.Scratch, hookID)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+24)
	c.enc.MovImm64(amd64.Scratch, xfer)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+48)
}

// writeExitRecordDynamicPC is writeExitRecord, except the PC field was
// already stashed in the guest PC register slot by the caller (the target
// of an indirect jump/call is only known at runtime).
func (c *compiler) writeExitRecordDynamicPC(kind, xfer int64) {
	c.enc.MovImm64(amd64.Scratch, kind)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase)
	c.enc.LoadMem(amd64.Scratch, amd64.Base, regSlotOffset(32))
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+8)
	c.enc.MovImm64(amd64.Scratch, xfer)
	c.enc.StoreMem(amd64.Base, amd64.Scratch, c.exitBase+48)
}
