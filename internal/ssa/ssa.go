package ssa

import "github.com/mellow-hype/rvfuzz/internal/ir"

// Result bundles the CFG and dominator info alongside the now-SSA fn, kept
// around so internal/regalloc can reuse the block structure without
// recomputing it.
type Result struct {
	CFG *CFG
	Dom *DomInfo
}

// BuildFunction runs the full pipeline -- CFG extraction, dominators,
// dominance frontiers, phi placement, and renaming -- converting fn's
// Instrs in place into SSA form.
func BuildFunction(fn *ir.Function) *Result {
	cfg := Build(fn)
	if len(cfg.Blocks) == 0 {
		return &Result{CFG: cfg}
	}
	dom := Compute(cfg)
	PlacePhis(cfg, dom)
	Rename(cfg, dom)
	Splice(cfg, dom)
	// Splice changes instruction indices; rebuild the CFG against the
	// spliced stream so consumers (regalloc) see Lo/Hi that match Fn.Instrs.
	cfg2 := Build(fn)
	dom2 := Compute(cfg2)
	return &Result{CFG: cfg2, Dom: dom2}
}
