package regalloc

// Move is one parallel-move edge: copy Src into Dst. Both are Locations
// (register or spill slot) rather than VRegs, since by the time phis are
// lowered every virtual register has already been assigned one.
type Move struct {
	Src, Dst Location
}

func locKey(l Location) Location { return Location{Reg: l.Reg, Slot: l.Slot} }

// SequentializeMoves takes a set of moves that must all appear to happen
// simultaneously (the phi-resolution moves feeding one CFG edge) and
// produces an ordered list of moves that can be emitted one at a time,
// inserting scratch as a temporary to break any cycles. This is the classic
// algorithm for resolving parallel copies in the presence of register
// reuse: repeatedly emit any move whose destination is not read by another
// pending move, and when only cycles remain, break one edge through the
// scratch location.
func SequentializeMoves(moves []Move, scratch Location) []Move {
	pending := make([]Move, len(moves))
	copy(pending, moves)

	// Drop no-op self-moves up front.
	filtered := pending[:0]
	for _, m := range pending {
		if m.Src != m.Dst {
			filtered = append(filtered, m)
		}
	}
	pending = filtered

	var out []Move
	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			if !isReadBy(pending, m.Dst, i) {
				out = append(out, m)
				pending = append(pending[:i], pending[i+1:]...)
				progressed = true
				break
			}
		}
		if progressed {
			continue
		}
		// Only cycles remain: break the first one via scratch.
		m := pending[0]
		out = append(out, Move{Src: m.Src, Dst: scratch})
		pending[0] = Move{Src: scratch, Dst: m.Dst}
	}
	return out
}

func isReadBy(moves []Move, loc Location, exceptIdx int) bool {
	for i, m := range moves {
		if i == exceptIdx {
			continue
		}
		if locKey(m.Src) == locKey(loc) {
			return true
		}
	}
	return false
}
