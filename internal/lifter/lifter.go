// Package lifter translates one guest function's instruction bytes into the
// linear ir.Function representation, per spec section 4.4. It is the bridge
// between the byte-level riscv decoder and the SSA builder: it resolves
// branch/jump targets into ir.Label anchors, classifies loads/stores by
// width and signedness, and lowers ecall to OpSyscall.
package lifter

import (
	"fmt"
	"sort"

	"github.com/mellow-hype/rvfuzz/internal/ir"
	"github.com/mellow-hype/rvfuzz/internal/mmu"
	"github.com/mellow-hype/rvfuzz/internal/riscv"
)

// CodeReader is the minimal guest-memory view the lifter needs to fetch
// instruction words; internal/mmu.Mmu satisfies it.
type CodeReader interface {
	ReadExec(addr mmu.VirtAddr, dst []byte, n uint) error
}

// regVReg returns the current-version VReg naming physical guest register r.
// The lifter emits every instruction pre-SSA, so every reference uses
// Version 0; internal/ssa renumbers versions during construction.
func regVReg(r uint8) ir.VReg { return ir.VReg{PhysReg: uint16(r), Version: 0} }

// Lift decodes the instruction words in [start, start+size) and produces an
// ir.Function with Label instructions anchored at every basic-block leader
// found within range (see collectLeaders), including the entry address.
func Lift(mem CodeReader, name string, start, size uint64) (*ir.Function, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("lift %s: size %d not a positive multiple of 4", name, size)
	}

	words := make([]uint32, size/4)
	buf := make([]byte, 4)
	for i := range words {
		addr := mmu.VirtAddr(start + uint64(i)*4)
		if err := mem.ReadExec(addr, buf, 4); err != nil {
			return nil, fmt.Errorf("lift %s: fetch at %#x: %w", name, addr, err)
		}
		words[i] = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	}

	decoded := make([]riscv.Instr, len(words))
	for i, w := range words {
		decoded[i] = riscv.Decode(w)
	}

	leaders := collectLeaders(decoded, start)

	fn := ir.NewFunction(name, start)
	for i, instr := range decoded {
		pc := start + uint64(i)*4
		if leaders[pc] {
			fn.Emit(ir.Instruction{Op: ir.OpLabel, PC: pc, HasPC: true, Imm: int64(pc)})
		}
		emitOne(fn, instr, pc, start, size)
	}
	return fn, nil
}

// collectLeaders finds every guest address that begins a basic block: the
// entry point, every branch/jump target, the fallthrough after each
// conditional branch, and the return site after each jal call. Targets
// outside this function's address range are recorded too but never get a
// Label, since Lift only emits labels at addresses it decodes.
func collectLeaders(decoded []riscv.Instr, start uint64) map[uint64]bool {
	leaders := map[uint64]bool{start: true}
	for i, instr := range decoded {
		pc := start + uint64(i)*4
		switch instr.Op {
		case riscv.Beq, riscv.Bne, riscv.Blt, riscv.Bge, riscv.Bltu, riscv.Bgeu:
			target := uint64(int64(pc) + int64(instr.Imm))
			leaders[target] = true
			leaders[pc+4] = true
		case riscv.Jal:
			target := uint64(int64(pc) + int64(instr.Imm))
			leaders[target] = true
			if instr.Rd != 0 {
				leaders[pc+4] = true // call: fallthrough is a return site
			}
		}
	}
	return leaders
}

func sortedLeaders(leaders map[uint64]bool) []uint64 {
	out := make([]uint64, 0, len(leaders))
	for pc := range leaders {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func emitOne(fn *ir.Function, instr riscv.Instr, pc, start, size uint64) {
	rd, rs1, rs2 := regVReg(instr.Rd), regVReg(instr.Rs1), regVReg(instr.Rs2)

	switch instr.Op {
	case riscv.Ecall:
		fn.Emit(ir.Instruction{Op: ir.OpSyscall, PC: pc, HasPC: true})
	case riscv.Ebreak, riscv.Undefined:
		// no-op: lowers to a dead mov so block structure is preserved.
		fn.Emit(ir.Instruction{Op: ir.OpMov, In: [2]ir.VReg{regVReg(0)}, NumIn: 1, Out: regVReg(0), HasOut: true, PC: pc, HasPC: true})

	case riscv.Lui:
		fn.Emit(ir.Instruction{Op: ir.OpLoadi, Out: rd, HasOut: true, Imm: int64(instr.Imm), PC: pc, HasPC: true})
	case riscv.Auipc:
		fn.Emit(ir.Instruction{Op: ir.OpLoadi, Out: rd, HasOut: true, Imm: int64(pc) + int64(instr.Imm), PC: pc, HasPC: true})

	case riscv.Jal:
		target := uint64(int64(pc) + int64(instr.Imm))
		if instr.Rd == 0 {
			fn.Emit(ir.Instruction{Op: ir.OpJmp, Imm: int64(target), PC: pc, HasPC: true})
		} else {
			fn.Emit(ir.Instruction{Op: ir.OpCall, Out: rd, HasOut: true, Imm: int64(target), PC: pc, HasPC: true})
		}
	case riscv.Jalr:
		if instr.Rd == 0 {
			fn.Emit(ir.Instruction{Op: ir.OpJmpReg, In: [2]ir.VReg{rs1}, NumIn: 1, Imm: int64(instr.Imm), PC: pc, HasPC: true})
		} else {
			fn.Emit(ir.Instruction{Op: ir.OpCallReg, In: [2]ir.VReg{rs1}, NumIn: 1, Out: rd, HasOut: true, Imm: int64(instr.Imm), PC: pc, HasPC: true})
		}

	case riscv.Beq, riscv.Bne, riscv.Blt, riscv.Bge, riscv.Bltu, riscv.Bgeu:
		target := uint64(int64(pc) + int64(instr.Imm))
		cmp, signed := branchCmp(instr.Op)
		fn.Emit(ir.Instruction{
			Op: ir.OpBranch, In: [2]ir.VReg{rs1, rs2}, NumIn: 2,
			Flags: ir.Flags{Signed: signed, Width: ir.Qword, Cmp: cmp}, PC: pc, HasPC: true,
			BranchT: target, BranchF: pc + 4,
		})

	case riscv.Lb, riscv.Lbu, riscv.Lh, riscv.Lhu, riscv.Lw, riscv.Lwu, riscv.Ld:
		width, signed := loadShape(instr.Op)
		fn.Emit(ir.Instruction{
			Op: ir.OpLoad, In: [2]ir.VReg{rs1}, NumIn: 1, Out: rd, HasOut: true,
			Imm: int64(instr.Imm), Flags: ir.Flags{Width: width, Signed: signed}, PC: pc, HasPC: true,
		})
	case riscv.Sb, riscv.Sh, riscv.Sw, riscv.Sd:
		width := storeWidth(instr.Op)
		fn.Emit(ir.Instruction{
			Op: ir.OpStore, In: [2]ir.VReg{rs1, rs2}, NumIn: 2,
			Imm: int64(instr.Imm), Flags: ir.Flags{Width: width}, PC: pc, HasPC: true,
		})

	case riscv.Addi, riscv.Slti, riscv.Sltiu, riscv.Xori, riscv.Ori, riscv.Andi,
		riscv.Slli, riscv.Srli, riscv.Srai, riscv.Addiw, riscv.Slliw, riscv.Srliw, riscv.Sraiw:
		op, flags := immAluShape(instr.Op)
		fn.Emit(ir.Instruction{
			Op: op, In: [2]ir.VReg{rs1}, NumIn: 1, Out: rd, HasOut: true,
			Imm: int64(instr.Imm), Flags: flags, PC: pc, HasPC: true,
		})

	case riscv.Add, riscv.Sub, riscv.Sll, riscv.Slt, riscv.Sltu, riscv.Xor, riscv.Srl, riscv.Sra, riscv.Or, riscv.And,
		riscv.Addw, riscv.Subw, riscv.Sllw, riscv.Srlw, riscv.Sraw,
		riscv.Mul, riscv.Mulh, riscv.Mulhsu, riscv.Mulhu, riscv.Div, riscv.Divu, riscv.Rem, riscv.Remu,
		riscv.Mulw, riscv.Divw, riscv.Divuw, riscv.Remw, riscv.Remuw:
		op, flags := regAluShape(instr.Op)
		fn.Emit(ir.Instruction{
			Op: op, In: [2]ir.VReg{rs1, rs2}, NumIn: 2, Out: rd, HasOut: true,
			Flags: flags, PC: pc, HasPC: true,
		})

	default:
		fn.Emit(ir.Instruction{Op: ir.OpMov, In: [2]ir.VReg{regVReg(0)}, NumIn: 1, Out: regVReg(0), HasOut: true, PC: pc, HasPC: true})
	}
}

func branchCmp(op riscv.Op) (ir.CmpKind, bool) {
	switch op {
	case riscv.Beq:
		return ir.CmpEQ, false
	case riscv.Bne:
		return ir.CmpNE, false
	case riscv.Blt:
		return ir.CmpLT, true
	case riscv.Bge:
		return ir.CmpGT, true // inverted at emission site by the JIT (>=  ==  not LT)
	case riscv.Bltu:
		return ir.CmpLT, false
	case riscv.Bgeu:
		return ir.CmpGT, false
	}
	return ir.CmpEQ, false
}

func loadShape(op riscv.Op) (ir.Width, bool) {
	switch op {
	case riscv.Lb:
		return ir.Byte, true
	case riscv.Lbu:
		return ir.Byte, false
	case riscv.Lh:
		return ir.Word, true
	case riscv.Lhu:
		return ir.Word, false
	case riscv.Lw:
		return ir.Dword, true
	case riscv.Lwu:
		return ir.Dword, false
	case riscv.Ld:
		return ir.Qword, false
	}
	return ir.Qword, false
}

func storeWidth(op riscv.Op) ir.Width {
	switch op {
	case riscv.Sb:
		return ir.Byte
	case riscv.Sh:
		return ir.Word
	case riscv.Sw:
		return ir.Dword
	case riscv.Sd:
		return ir.Qword
	}
	return ir.Qword
}

func immAluShape(op riscv.Op) (ir.Op, ir.Flags) {
	switch op {
	case riscv.Addi:
		return ir.OpAdd, ir.Flags{Width: ir.Qword}
	case riscv.Slti:
		return ir.OpSlt, ir.Flags{Signed: true, Width: ir.Qword}
	case riscv.Sltiu:
		return ir.OpSlt, ir.Flags{Width: ir.Qword}
	case riscv.Xori:
		return ir.OpXor, ir.Flags{Width: ir.Qword}
	case riscv.Ori:
		return ir.OpOr, ir.Flags{Width: ir.Qword}
	case riscv.Andi:
		return ir.OpAnd, ir.Flags{Width: ir.Qword}
	case riscv.Slli:
		return ir.OpShl, ir.Flags{Width: ir.Qword}
	case riscv.Srli:
		return ir.OpShr, ir.Flags{Width: ir.Qword}
	case riscv.Srai:
		return ir.OpSar, ir.Flags{Signed: true, Width: ir.Qword}
	case riscv.Addiw:
		return ir.OpAdd, ir.Flags{Signed: true, Width: ir.Dword}
	case riscv.Slliw:
		return ir.OpShl, ir.Flags{Width: ir.Dword}
	case riscv.Srliw:
		return ir.OpShr, ir.Flags{Width: ir.Dword}
	case riscv.Sraiw:
		return ir.OpSar, ir.Flags{Signed: true, Width: ir.Dword}
	}
	return ir.OpAdd, ir.Flags{}
}

func regAluShape(op riscv.Op) (ir.Op, ir.Flags) {
	switch op {
	case riscv.Add:
		return ir.OpAdd, ir.Flags{Width: ir.Qword}
	case riscv.Sub:
		return ir.OpSub, ir.Flags{Width: ir.Qword}
	case riscv.Sll:
		return ir.OpShl, ir.Flags{Width: ir.Qword}
	case riscv.Slt:
		return ir.OpSlt, ir.Flags{Signed: true, Width: ir.Qword}
	case riscv.Sltu:
		return ir.OpSlt, ir.Flags{Width: ir.Qword}
	case riscv.Xor:
		return ir.OpXor, ir.Flags{Width: ir.Qword}
	case riscv.Srl:
		return ir.OpShr, ir.Flags{Width: ir.Qword}
	case riscv.Sra:
		return ir.OpSar, ir.Flags{Signed: true, Width: ir.Qword}
	case riscv.Or:
		return ir.OpOr, ir.Flags{Width: ir.Qword}
	case riscv.And:
		return ir.OpAnd, ir.Flags{Width: ir.Qword}
	case riscv.Addw:
		return ir.OpAdd, ir.Flags{Signed: true, Width: ir.Dword}
	case riscv.Subw:
		return ir.OpSub, ir.Flags{Signed: true, Width: ir.Dword}
	case riscv.Sllw:
		return ir.OpShl, ir.Flags{Width: ir.Dword}
	case riscv.Srlw:
		return ir.OpShr, ir.Flags{Width: ir.Dword}
	case riscv.Sraw:
		return ir.OpSar, ir.Flags{Signed: true, Width: ir.Dword}
	case riscv.Mul, riscv.Mulw:
		return ir.OpMul, ir.Flags{Width: mulWidth(op)}
	case riscv.Mulh:
		return ir.OpMul, ir.Flags{Signed: true, Width: ir.Qword, Cmp: CmpHigh}
	case riscv.Mulhsu:
		return ir.OpMul, ir.Flags{Signed: true, Width: ir.Qword, Cmp: CmpHighSU}
	case riscv.Mulhu:
		return ir.OpMul, ir.Flags{Width: ir.Qword, Cmp: CmpHigh}
	case riscv.Div, riscv.Divw:
		return ir.OpDiv, ir.Flags{Signed: true, Width: mulWidth(op)}
	case riscv.Divu, riscv.Divuw:
		return ir.OpDiv, ir.Flags{Width: mulWidth(op)}
	case riscv.Rem, riscv.Remw:
		return ir.OpRem, ir.Flags{Signed: true, Width: mulWidth(op)}
	case riscv.Remu, riscv.Remuw:
		return ir.OpRem, ir.Flags{Width: mulWidth(op)}
	}
	return ir.OpAdd, ir.Flags{}
}

func mulWidth(op riscv.Op) ir.Width {
	switch op {
	case riscv.Mulw, riscv.Divw, riscv.Divuw, riscv.Remw, riscv.Remuw:
		return ir.Dword
	}
	return ir.Qword
}

// CmpHigh/CmpHighSU overload ir.CmpKind's unused high bits to distinguish the
// three M-extension "high half of the product" variants (mulh/mulhu vs.
// mulhsu) without adding a dedicated field to ir.Flags.
const (
	CmpHigh   ir.CmpKind = 10
	CmpHighSU ir.CmpKind = 11
)
