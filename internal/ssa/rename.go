package ssa

import (
	"sort"

	"github.com/mellow-hype/rvfuzz/internal/ir"
)

// PlacePhis inserts the minimal phi set using the iterated dominance
// frontier worklist algorithm (Cytron et al.), one worklist per physical
// register that is assigned in at least one reachable block.
func PlacePhis(cfg *CFG, dom *DomInfo) {
	defsByReg := make(map[uint16]map[BlockID]bool)
	for _, b := range cfg.Blocks {
		if !b.Live || !dom.Reachable(b.ID) {
			continue
		}
		for i := b.Lo; i < b.Hi; i++ {
			instr := cfg.Fn.Instrs[i]
			if instr.HasOut && instr.Out.PhysReg != 0 {
				regs := defsByReg[instr.Out.PhysReg]
				if regs == nil {
					regs = make(map[BlockID]bool)
					defsByReg[instr.Out.PhysReg] = regs
				}
				regs[b.ID] = true
			}
		}
	}

	var regs []uint16
	for r := range defsByReg {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })

	hasPhi := make(map[uint16]map[BlockID]bool)
	for _, reg := range regs {
		hasPhi[reg] = make(map[BlockID]bool)
		worklist := make([]BlockID, 0, len(defsByReg[reg]))
		inWork := make(map[BlockID]bool)
		for b := range defsByReg[reg] {
			worklist = append(worklist, b)
			inWork[b] = true
		}
		for len(worklist) > 0 {
			b := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			inWork[b] = false
			for _, d := range dom.Frontier(b) {
				if hasPhi[reg][d] {
					continue
				}
				hasPhi[reg][d] = true
				numPreds := len(cfg.Blocks[d].Preds)
				phi := &ir.Instruction{Op: ir.OpPhi, Out: ir.VReg{PhysReg: reg}, PhiIns: make([]ir.VReg, numPreds)}
				cfg.Blocks[d].Phis = append(cfg.Blocks[d].Phis, phi)
				if !inWork[d] {
					worklist = append(worklist, d)
					inWork[d] = true
				}
			}
		}
	}

	for _, b := range cfg.Blocks {
		sort.Slice(b.Phis, func(i, j int) bool { return b.Phis[i].Out.PhysReg < b.Phis[j].Out.PhysReg })
	}
}

// renamer carries the per-register version stacks used while walking the
// dominator tree.
type renamer struct {
	cfg     *CFG
	dom     *DomInfo
	stacks  map[uint16][]uint16
	counter map[uint16]uint16
}

func (r *renamer) top(reg uint16) uint16 {
	s := r.stacks[reg]
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

func (r *renamer) push(reg uint16) uint16 {
	r.counter[reg]++
	v := r.counter[reg]
	r.stacks[reg] = append(r.stacks[reg], v)
	return v
}

func (r *renamer) pop(reg uint16) {
	s := r.stacks[reg]
	r.stacks[reg] = s[:len(s)-1]
}

// Rename performs SSA renaming via a DFS over the dominator tree, assigning
// versioned VRegs to every definition and use, and filling in each
// successor's phi input slot for the current block.
func Rename(cfg *CFG, dom *DomInfo) {
	r := &renamer{cfg: cfg, dom: dom, stacks: make(map[uint16][]uint16), counter: make(map[uint16]uint16)}
	r.walk(cfg.Entry)
}

func (r *renamer) walk(id BlockID) {
	b := r.cfg.Blocks[id]
	var pushed []uint16

	for _, phi := range b.Phis {
		v := r.push(phi.Out.PhysReg)
		phi.Out.Version = v
		pushed = append(pushed, phi.Out.PhysReg)
	}

	for i := b.Lo; i < b.Hi; i++ {
		instr := &r.cfg.Fn.Instrs[i]
		if instr.Op == ir.OpLabel {
			continue
		}
		for k := 0; k < instr.NumIn; k++ {
			reg := instr.In[k].PhysReg
			if reg == 0 {
				continue
			}
			instr.In[k].Version = r.top(reg)
		}
		if instr.HasOut && instr.Out.PhysReg != 0 {
			v := r.push(instr.Out.PhysReg)
			instr.Out.Version = v
			pushed = append(pushed, instr.Out.PhysReg)
		}
	}

	for _, s := range b.Succs {
		succ := r.cfg.Blocks[s]
		predIdx := succ.PredIndex(id)
		for _, phi := range succ.Phis {
			phi.PhiIns[predIdx] = ir.VReg{PhysReg: phi.Out.PhysReg, Version: r.top(phi.Out.PhysReg)}
		}
	}

	for _, c := range r.dom.Children(id) {
		r.walk(c)
	}

	for _, reg := range pushed {
		r.pop(reg)
	}
}

// Splice rewrites cfg.Fn.Instrs so each live block's phis appear immediately
// after its Label, in block order, dropping unreachable trailing blocks.
// Call this once after Rename to materialize the final instruction stream.
func Splice(cfg *CFG, dom *DomInfo) {
	var out []ir.Instruction
	for _, b := range cfg.Blocks {
		if !b.Live || !dom.Reachable(b.ID) {
			continue
		}
		out = append(out, cfg.Fn.Instrs[b.Lo]) // Label
		for _, phi := range b.Phis {
			out = append(out, *phi)
		}
		for i := b.Lo + 1; i < b.Hi; i++ {
			out = append(out, cfg.Fn.Instrs[i])
		}
	}
	cfg.Fn.Instrs = out
}
