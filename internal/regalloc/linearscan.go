package regalloc

import (
	"sort"

	"github.com/mellow-hype/rvfuzz/internal/ir"
)

// NumGPRegs is the size of the allocatable host register pool. Two further
// host registers are reserved by the JIT backend -- one holds the pointer
// to the guest register/spill-slot array for the lifetime of a compiled
// function, the other is a scratch register for spill reload/store
// sequences and parallel-move cycle breaking -- so neither ever appears
// here.
const NumGPRegs = 12

// Location is where a virtual register lives after allocation: either a
// host register (Reg, 0..NumGPRegs-1) or a spill slot (Slot, a frame
// offset index, when Reg < 0).
type Location struct {
	Reg  int
	Slot int
}

func (l Location) IsSpilled() bool { return l.Reg < 0 }

// Allocation is the final virtual-register-to-Location map for a function.
type Allocation struct {
	Locations map[ir.VReg]Location
	NumSlots  int
}

type active struct {
	iv  Interval
	reg int
}

// LinearScan assigns intervals to host registers using the classic
// Poletto/Sarkar policy: process intervals sorted by start point, keep a
// free-register pool, evict the currently active interval with the
// farthest end point when none is free (spilling it instead of the new
// one only when that farthest interval outlives the new one).
func LinearScan(intervals []Interval) *Allocation {
	alloc := &Allocation{Locations: make(map[ir.VReg]Location)}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var activeList []active
	freePool := make([]int, NumGPRegs)
	for i := range freePool {
		freePool[i] = NumGPRegs - 1 - i
	}
	nextSlot := 0

	expireOld := func(cur Interval) {
		var still []active
		for _, a := range activeList {
			if a.iv.End < cur.Start {
				freePool = append(freePool, a.reg)
			} else {
				still = append(still, a)
			}
		}
		activeList = still
	}

	for _, iv := range sorted {
		expireOld(iv)

		if len(freePool) > 0 {
			reg := freePool[len(freePool)-1]
			freePool = freePool[:len(freePool)-1]
			alloc.Locations[iv.VReg] = Location{Reg: reg}
			activeList = append(activeList, active{iv: iv, reg: reg})
			sort.Slice(activeList, func(i, j int) bool { return activeList[i].iv.End < activeList[j].iv.End })
			continue
		}

		// No free register: spill whichever of the current interval or the
		// active set's longest-surviving interval ends furthest out.
		farthest := activeList[len(activeList)-1]
		if farthest.iv.End > iv.End {
			alloc.Locations[farthest.iv.VReg] = Location{Reg: -1, Slot: nextSlot}
			nextSlot++
			alloc.Locations[iv.VReg] = Location{Reg: farthest.reg}
			activeList[len(activeList)-1] = active{iv: iv, reg: farthest.reg}
			sort.Slice(activeList, func(i, j int) bool { return activeList[i].iv.End < activeList[j].iv.End })
		} else {
			alloc.Locations[iv.VReg] = Location{Reg: -1, Slot: nextSlot}
			nextSlot++
		}
	}
	alloc.NumSlots = nextSlot
	return alloc
}
