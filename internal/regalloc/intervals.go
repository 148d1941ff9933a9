package regalloc

import (
	"sort"

	"github.com/mellow-hype/rvfuzz/internal/ir"
	"github.com/mellow-hype/rvfuzz/internal/ssa"
)

// Interval is one virtual register's live range, expressed over the linear
// program-point numbering assigned by BuildIntervals: Start is its
// earliest def/live-in point, End its last use/live-out point.
type Interval struct {
	VReg  ir.VReg
	Start int
	End   int
}

// PointOf records, for each block, the first and last global program point
// BuildIntervals assigned to it. It has no lookup methods, and Allocate
// discards it.
type PointOf struct {
	blockStart map[ssa.BlockID]int
	blockEnd   map[ssa.BlockID]int
}

// BuildIntervals numbers every reachable block's instructions in RPO order
// and derives one contiguous Interval per live virtual register. A register
// live-through a block (in both live-in and live-out, no local def/use)
// gets its interval conservatively widened to span that whole block --
// simpler than per-block sub-ranges, and correct because linear scan only
// needs start/end, not occupancy gaps.
func BuildIntervals(cfg *ssa.CFG, dom *ssa.DomInfo, live *Liveness) ([]Interval, *PointOf) {
	order := dom.RPO()
	points := &PointOf{blockStart: map[ssa.BlockID]int{}, blockEnd: map[ssa.BlockID]int{}}

	pos := 0
	ranges := map[ir.VReg]*Interval{}
	touch := func(v ir.VReg, p int) {
		if v.PhysReg == 0 {
			return
		}
		iv, ok := ranges[v]
		if !ok {
			ranges[v] = &Interval{VReg: v, Start: p, End: p}
			return
		}
		if p < iv.Start {
			iv.Start = p
		}
		if p > iv.End {
			iv.End = p
		}
	}

	for _, id := range order {
		b := cfg.Blocks[id]
		points.blockStart[id] = pos
		for _, phi := range b.Phis {
			touch(phi.Out, pos)
			pos++
		}
		for i := b.Lo; i < b.Hi; i++ {
			instr := cfg.Fn.Instrs[i]
			for k := 0; k < instr.NumIn; k++ {
				touch(instr.In[k], pos)
			}
			if instr.HasOut {
				touch(instr.Out, pos)
			}
			pos++
		}
		points.blockEnd[id] = pos - 1
		if points.blockEnd[id] < points.blockStart[id] {
			points.blockEnd[id] = points.blockStart[id]
		}
	}

	for _, id := range order {
		for v := range live.liveIn[id] {
			if live.liveOut[id][v] {
				touch(v, points.blockStart[id])
				touch(v, points.blockEnd[id])
			}
		}
	}

	out := make([]Interval, 0, len(ranges))
	for _, iv := range ranges {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].VReg.PhysReg < out[j].VReg.PhysReg
	})
	return out, points
}
