// Package ssa builds a control-flow graph over an ir.Function's linear
// instruction stream and converts it to SSA form: dominator tree,
// dominance frontiers, phi placement, and renaming, per spec section 4.5.
package ssa

import "github.com/mellow-hype/rvfuzz/internal/ir"

// BlockID indexes CFG.Blocks.
type BlockID int

// Block is a maximal straight-line instruction range with a single entry
// (its Label, for live blocks) and single exit (a terminator or fallthrough).
type Block struct {
	ID   BlockID
	Lo   int // index into Fn.Instrs, inclusive
	Hi   int // exclusive
	PC   uint64
	Live bool // false for unreachable trailing code after an unconditional jump

	Succs []BlockID
	Preds []BlockID

	// Phis are OpPhi instructions synthesized for this block during SSA
	// construction; they are spliced back into Fn.Instrs right after the
	// block's Label once renaming completes.
	Phis []*ir.Instruction
}

// CFG is the control-flow graph extracted from one ir.Function.
type CFG struct {
	Fn     *ir.Function
	Blocks []*Block
	Entry  BlockID
	pcToID map[uint64]BlockID
}

func isTerminator(op ir.Op) bool {
	switch op {
	case ir.OpBranch, ir.OpJmp, ir.OpJmpReg, ir.OpRet:
		return true
	}
	return false
}

// Build extracts the CFG from fn. fn.Instrs must already contain Label
// instructions at every basic-block leader, as produced by internal/lifter.
func Build(fn *ir.Function) *CFG {
	var labelIdx []int
	var labelPC []uint64
	for i, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			labelIdx = append(labelIdx, i)
			labelPC = append(labelPC, uint64(instr.Imm))
		}
	}

	cfg := &CFG{Fn: fn, pcToID: make(map[uint64]BlockID)}
	var liveOrder []BlockID

	for i := range labelIdx {
		start := labelIdx[i]
		end := len(fn.Instrs)
		if i+1 < len(labelIdx) {
			end = labelIdx[i+1]
		}

		termAt := -1
		for j := start; j < end; j++ {
			if isTerminator(fn.Instrs[j].Op) {
				termAt = j
				break
			}
		}
		if termAt == -1 {
			termAt = end - 1
		}

		b := &Block{ID: BlockID(len(cfg.Blocks)), Lo: start, Hi: termAt + 1, PC: labelPC[i], Live: true}
		cfg.Blocks = append(cfg.Blocks, b)
		cfg.pcToID[labelPC[i]] = b.ID
		liveOrder = append(liveOrder, b.ID)

		// Phis already spliced into the stream (a second Build() pass after
		// internal/ssa.Splice) sit immediately after the Label; recognize
		// them here so callers never need to place them twice.
		for j := start + 1; j < b.Hi; j++ {
			if fn.Instrs[j].Op != ir.OpPhi {
				break
			}
			b.Phis = append(b.Phis, &fn.Instrs[j])
		}

		if termAt+1 < end {
			dead := &Block{ID: BlockID(len(cfg.Blocks)), Lo: termAt + 1, Hi: end, Live: false}
			cfg.Blocks = append(cfg.Blocks, dead)
		}
	}

	if len(cfg.Blocks) == 0 {
		return cfg
	}
	cfg.Entry = cfg.pcToID[fn.EntryPC]

	for idx, id := range liveOrder {
		b := cfg.Blocks[id]
		if b.Hi <= b.Lo {
			continue
		}
		last := fn.Instrs[b.Hi-1]
		switch last.Op {
		case ir.OpBranch:
			cfg.addEdge(b.ID, cfg.pcToID[last.BranchT])
			cfg.addEdge(b.ID, cfg.pcToID[last.BranchF])
		case ir.OpJmp:
			if target, ok := cfg.pcToID[uint64(last.Imm)]; ok {
				cfg.addEdge(b.ID, target)
			}
		case ir.OpJmpReg, ir.OpRet:
			// unresolved or function exit: no static successor.
		default:
			if idx+1 < len(liveOrder) {
				cfg.addEdge(b.ID, liveOrder[idx+1])
			}
		}
	}
	return cfg
}

func (c *CFG) addEdge(from, to BlockID) {
	c.Blocks[from].Succs = append(c.Blocks[from].Succs, to)
	c.Blocks[to].Preds = append(c.Blocks[to].Preds, from)
}

// PredIndex returns the index of pred within b's Preds slice, used to place
// a renamed value into the correct phi-input slot.
func (b *Block) PredIndex(pred BlockID) int {
	for i, p := range b.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}
