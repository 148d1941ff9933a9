package ssa

import (
	"testing"

	"github.com/mellow-hype/rvfuzz/internal/ir"
)

// buildDiamond constructs:
//
//	L0: branch r1 -> L1, L2
//	L1: r2 = add r1, r1 ; jmp L3
//	L2: r2 = add r1, r0 ; jmp L3
//	L3: ret  (uses r2)
//
// a canonical diamond requiring exactly one phi for r2 at L3.
func buildDiamond() *ir.Function {
	fn := ir.NewFunction("diamond", 0)
	in := func(pc int) ir.Instruction { return ir.Instruction{} }
	_ = in

	reg := func(n uint16) ir.VReg { return ir.VReg{PhysReg: n} }

	fn.Emit(ir.Instruction{Op: ir.OpLabel, PC: 0, HasPC: true, Imm: 0})
	fn.Emit(ir.Instruction{Op: ir.OpBranch, In: [2]ir.VReg{reg(1), reg(1)}, NumIn: 2, PC: 0, HasPC: true, BranchT: 4, BranchF: 8})

	fn.Emit(ir.Instruction{Op: ir.OpLabel, PC: 4, HasPC: true, Imm: 4})
	fn.Emit(ir.Instruction{Op: ir.OpAdd, In: [2]ir.VReg{reg(1), reg(1)}, NumIn: 2, Out: reg(2), HasOut: true, PC: 4, HasPC: true})
	fn.Emit(ir.Instruction{Op: ir.OpJmp, Imm: 12, PC: 4, HasPC: true})

	fn.Emit(ir.Instruction{Op: ir.OpLabel, PC: 8, HasPC: true, Imm: 8})
	fn.Emit(ir.Instruction{Op: ir.OpAdd, In: [2]ir.VReg{reg(1), reg(0)}, NumIn: 2, Out: reg(2), HasOut: true, PC: 8, HasPC: true})
	fn.Emit(ir.Instruction{Op: ir.OpJmp, Imm: 12, PC: 8, HasPC: true})

	fn.Emit(ir.Instruction{Op: ir.OpLabel, PC: 12, HasPC: true, Imm: 12})
	fn.Emit(ir.Instruction{Op: ir.OpRet, In: [2]ir.VReg{reg(2)}, NumIn: 1, PC: 12, HasPC: true})

	return fn
}

func TestBuildCFGEdges(t *testing.T) {
	fn := buildDiamond()
	cfg := Build(fn)
	if len(cfg.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(cfg.Blocks))
	}
	entry := cfg.Blocks[cfg.Entry]
	if len(entry.Succs) != 2 {
		t.Fatalf("entry succs = %v, want 2", entry.Succs)
	}
}

func TestDominatorsDiamond(t *testing.T) {
	fn := buildDiamond()
	cfg := Build(fn)
	dom := Compute(cfg)

	join := cfg.pcToID[12]
	if dom.IDom(join) != cfg.Entry {
		t.Fatalf("idom(join) = %v, want entry %v", dom.IDom(join), cfg.Entry)
	}
	left := cfg.pcToID[4]
	if dom.IDom(left) != cfg.Entry {
		t.Fatalf("idom(left) = %v, want entry", dom.IDom(left))
	}
}

func TestPhiPlacedAtJoin(t *testing.T) {
	fn := buildDiamond()
	cfg := Build(fn)
	dom := Compute(cfg)
	PlacePhis(cfg, dom)

	join := cfg.Blocks[cfg.pcToID[12]]
	if len(join.Phis) != 1 {
		t.Fatalf("join block has %d phis, want 1 (for r2)", len(join.Phis))
	}
	if join.Phis[0].Out.PhysReg != 2 {
		t.Fatalf("phi is for register %d, want 2", join.Phis[0].Out.PhysReg)
	}
}

func TestRenameProducesDistinctVersionsAndPhiInputs(t *testing.T) {
	fn := buildDiamond()
	result := BuildFunction(fn)
	_ = result

	var phi *ir.Instruction
	for i := range fn.Instrs {
		if fn.Instrs[i].Op == ir.OpPhi {
			phi = &fn.Instrs[i]
		}
	}
	if phi == nil {
		t.Fatalf("expected a phi instruction in spliced stream, got none: %+v", fn.Instrs)
	}
	if len(phi.PhiIns) != 2 {
		t.Fatalf("phi has %d inputs, want 2", len(phi.PhiIns))
	}
	if phi.PhiIns[0].Version == 0 || phi.PhiIns[1].Version == 0 {
		t.Fatalf("phi inputs should carry real SSA versions, got %+v", phi.PhiIns)
	}
	if phi.PhiIns[0].Version == phi.PhiIns[1].Version {
		t.Fatalf("expected distinct versions from the two diamond arms, got %+v", phi.PhiIns)
	}

	var ret *ir.Instruction
	for i := range fn.Instrs {
		if fn.Instrs[i].Op == ir.OpRet {
			ret = &fn.Instrs[i]
		}
	}
	if ret.In[0].PhysReg != 2 || ret.In[0].Version != phi.Out.Version {
		t.Fatalf("ret should use the phi's output version, got %+v vs phi %+v", ret.In[0], phi.Out)
	}
}
