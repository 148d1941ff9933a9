package ssa

// DomInfo holds the immediate-dominator relation and the dominance frontier
// of every reachable block in a CFG, computed by the Cooper/Harvey/Kennedy
// iterative algorithm ("A Simple, Fast Dominance Algorithm").
type DomInfo struct {
	cfg       *CFG
	rpo       []BlockID
	rpoNumber map[BlockID]int
	idom      map[BlockID]BlockID
	frontier  map[BlockID]map[BlockID]bool
	children  map[BlockID][]BlockID
}

// IDom returns b's immediate dominator, or b itself for the entry block.
func (d *DomInfo) IDom(b BlockID) BlockID { return d.idom[b] }

// Frontier returns b's dominance frontier as a slice, order unspecified.
func (d *DomInfo) Frontier(b BlockID) []BlockID {
	out := make([]BlockID, 0, len(d.frontier[b]))
	for id := range d.frontier[b] {
		out = append(out, id)
	}
	return out
}

// Children returns the dominator-tree children of b.
func (d *DomInfo) Children(b BlockID) []BlockID { return d.children[b] }

// RPO returns the reverse-postorder block sequence computed during
// Compute, i.e. every reachable block exactly once, predecessors before
// successors for acyclic edges.
func (d *DomInfo) RPO() []BlockID {
	out := make([]BlockID, len(d.rpo))
	copy(out, d.rpo)
	return out
}

// Reachable reports whether b was reached by a DFS from the CFG's entry.
func (d *DomInfo) Reachable(b BlockID) bool {
	_, ok := d.rpoNumber[b]
	return ok
}

// Compute builds dominator and dominance-frontier information for cfg.
func Compute(cfg *CFG) *DomInfo {
	d := &DomInfo{cfg: cfg, idom: make(map[BlockID]BlockID)}
	d.computeRPO()
	d.computeIdom()
	d.computeFrontier()
	d.computeChildren()
	return d
}

func (d *DomInfo) computeRPO() {
	visited := make(map[BlockID]bool)
	var post []BlockID
	var dfs func(BlockID)
	dfs = func(b BlockID) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range d.cfg.Blocks[b].Succs {
			dfs(s)
		}
		post = append(post, b)
	}
	dfs(d.cfg.Entry)

	d.rpo = make([]BlockID, len(post))
	d.rpoNumber = make(map[BlockID]int, len(post))
	for i, b := range post {
		idx := len(post) - 1 - i
		d.rpo[idx] = b
		d.rpoNumber[b] = idx
	}
}

func (d *DomInfo) computeIdom() {
	entry := d.cfg.Entry
	d.idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range d.rpo {
			if b == entry {
				continue
			}
			var newIdom BlockID
			haveFirst := false
			for _, p := range d.cfg.Blocks[b].Preds {
				if _, ok := d.idom[p]; !ok {
					continue // predecessor not processed yet this pass
				}
				if !haveFirst {
					newIdom = p
					haveFirst = true
					continue
				}
				newIdom = d.intersect(newIdom, p)
			}
			if !haveFirst {
				continue
			}
			if cur, ok := d.idom[b]; !ok || cur != newIdom {
				d.idom[b] = newIdom
				changed = true
			}
		}
	}
}

func (d *DomInfo) intersect(a, b BlockID) BlockID {
	for a != b {
		for d.rpoNumber[a] > d.rpoNumber[b] {
			a = d.idom[a]
		}
		for d.rpoNumber[b] > d.rpoNumber[a] {
			b = d.idom[b]
		}
	}
	return a
}

func (d *DomInfo) computeFrontier() {
	d.frontier = make(map[BlockID]map[BlockID]bool)
	for _, b := range d.rpo {
		d.frontier[b] = make(map[BlockID]bool)
	}
	for _, b := range d.rpo {
		preds := d.cfg.Blocks[b].Preds
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			if _, ok := d.idom[p]; !ok {
				continue
			}
			runner := p
			for runner != d.idom[b] {
				d.frontier[runner][b] = true
				runner = d.idom[runner]
			}
		}
	}
}

func (d *DomInfo) computeChildren() {
	d.children = make(map[BlockID][]BlockID)
	for _, b := range d.rpo {
		if b == d.cfg.Entry {
			continue
		}
		p := d.idom[b]
		d.children[p] = append(d.children[p], b)
	}
}
