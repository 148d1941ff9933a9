// Package regalloc assigns host registers (and spill slots) to the virtual
// registers an ir.Function carries once internal/ssa has put it in SSA
// form, per spec section 4.6: liveness analysis in the style of Brandner et
// al.'s "Computing Liveness Sets for SSA-Form Programs" (phi uses counted
// at the predecessor edge, phi defs counted in the block that hosts them),
// linear-scan interval assignment, and phi-parallel-move lowering with
// cycle detection on critical edges.
package regalloc

import (
	"github.com/mellow-hype/rvfuzz/internal/ir"
	"github.com/mellow-hype/rvfuzz/internal/ssa"
)

// Liveness holds per-block live-in/live-out sets.
type Liveness struct {
	cfg     *ssa.CFG
	liveIn  map[ssa.BlockID]map[ir.VReg]bool
	liveOut map[ssa.BlockID]map[ir.VReg]bool
}

func vregSet() map[ir.VReg]bool { return make(map[ir.VReg]bool) }

// ComputeLiveness runs the fixed-point dataflow pass: live-out[b] folds in
// each successor's live-in, substituting phi uses along that edge for the
// successor's phi defs; live-in[b] is the block's own uses plus whatever
// live-out survives past its own defs.
func ComputeLiveness(cfg *ssa.CFG, dom *ssa.DomInfo) *Liveness {
	l := &Liveness{cfg: cfg, liveIn: map[ssa.BlockID]map[ir.VReg]bool{}, liveOut: map[ssa.BlockID]map[ir.VReg]bool{}}

	order := dom.RPO()
	defs := map[ssa.BlockID]map[ir.VReg]bool{}
	uses := map[ssa.BlockID]map[ir.VReg]bool{}
	for _, id := range order {
		defs[id], uses[id] = blockDefsUses(cfg, id)
		l.liveIn[id] = vregSet()
		l.liveOut[id] = vregSet()
	}

	changed := true
	for changed {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]
			out := vregSet()
			for _, s := range cfg.Blocks[b].Succs {
				succ := cfg.Blocks[s]
				predIdx := succ.PredIndex(b)
				phiDefs := make(map[uint16]bool)
				for _, phi := range succ.Phis {
					phiDefs[phi.Out.PhysReg] = true
					if predIdx >= 0 && predIdx < len(phi.PhiIns) {
						in := phi.PhiIns[predIdx]
						if in.PhysReg != 0 {
							out[in] = true
						}
					}
				}
				for v := range l.liveIn[s] {
					if phiDefs[v.PhysReg] {
						continue // shadowed by the successor's own phi def
					}
					out[v] = true
				}
			}
			if !setEq(out, l.liveOut[b]) {
				l.liveOut[b] = out
				changed = true
			}

			in := vregSet()
			for v := range uses[b] {
				in[v] = true
			}
			for v := range l.liveOut[b] {
				if defs[b][v] {
					continue
				}
				in[v] = true
			}
			if !setEq(in, l.liveIn[b]) {
				l.liveIn[b] = in
				changed = true
			}
		}
	}
	return l
}

func blockDefsUses(cfg *ssa.CFG, id ssa.BlockID) (map[ir.VReg]bool, map[ir.VReg]bool) {
	b := cfg.Blocks[id]
	defs, uses := vregSet(), vregSet()
	for _, phi := range b.Phis {
		defs[phi.Out] = true
	}
	for i := b.Lo; i < b.Hi; i++ {
		instr := cfg.Fn.Instrs[i]
		for k := 0; k < instr.NumIn; k++ {
			if instr.In[k].PhysReg != 0 && !defs[instr.In[k]] {
				uses[instr.In[k]] = true
			}
		}
		if instr.HasOut && instr.Out.PhysReg != 0 {
			defs[instr.Out] = true
		}
	}
	return defs, uses
}

func setEq(a, b map[ir.VReg]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if !b[v] {
			return false
		}
	}
	return true
}
