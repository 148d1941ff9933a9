package regalloc

import (
	"github.com/mellow-hype/rvfuzz/internal/ir"
	"github.com/mellow-hype/rvfuzz/internal/ssa"
)

// Edge identifies one CFG edge by its endpoints, used to key the phi-move
// schedule the JIT backend splices onto that edge (at the end of Pred, or
// on a critical-edge trampoline block when Pred has more than one
// successor and Succ more than one predecessor).
type Edge struct {
	Pred, Succ ssa.BlockID
}

// Result is everything the JIT backend needs to emit code: the register/
// slot assignment and, per CFG edge feeding a block with phis, the ordered
// move list that resolves those phis.
type Result struct {
	Alloc      *Allocation
	EdgeMoves  map[Edge][]Move
	ScratchReg Location
}

// scratchLocation is the JIT backend's cycle-breaking temp register (index
// 13 in internal/jit/amd64's 14-register file); index 12 (the base-pointer
// register) is reserved the same way but never appears in a Move since the
// allocator never assigns it either.
var scratchLocation = Location{Reg: 13}

// Allocate runs liveness, interval construction, linear-scan assignment,
// and phi-edge move scheduling for fn, which must already be in SSA form
// (internal/ssa.BuildFunction).
func Allocate(cfg *ssa.CFG, dom *ssa.DomInfo) *Result {
	live := ComputeLiveness(cfg, dom)
	intervals, _ := BuildIntervals(cfg, dom, live)
	alloc := LinearScan(intervals)

	res := &Result{Alloc: alloc, EdgeMoves: map[Edge][]Move{}, ScratchReg: scratchLocation}
	locOf := func(v ir.VReg) Location {
		if v.PhysReg == 0 {
			return Location{Reg: -2} // the always-zero register; callers special-case Reg==-2
		}
		return alloc.Locations[v]
	}

	for _, b := range cfg.Blocks {
		if !b.Live || len(b.Phis) == 0 {
			continue
		}
		for predIdx, pred := range b.Preds {
			var moves []Move
			for _, phi := range b.Phis {
				src := phi.PhiIns[predIdx]
				moves = append(moves, Move{Src: locOf(src), Dst: locOf(phi.Out)})
			}
			res.EdgeMoves[Edge{Pred: pred, Succ: b.ID}] = SequentializeMoves(moves, scratchLocation)
		}
	}
	return res
}
