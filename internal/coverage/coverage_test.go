package coverage

import "testing"

func TestRecordReportsNewOnFirstHitOnly(t *testing.T) {
	m := NewMap(MethodBlock)
	if !m.Record(0x1000, 0) {
		t.Fatalf("first hit at a pc should report new coverage")
	}
	if m.Record(0x1000, 0) {
		t.Fatalf("second hit at the same pc should not report new coverage")
	}
}

func TestEdgeModeDistinguishesDirection(t *testing.T) {
	a := NewMap(MethodEdge)
	a.Record(0x1000, 0)
	snapAB := func() [MapSize]byte {
		m := NewMap(MethodEdge)
		m.Record(0x1000, 0)
		m.Record(0x2000, 0)
		return m.Snapshot()
	}()
	snapBA := func() [MapSize]byte {
		m := NewMap(MethodEdge)
		m.Record(0x2000, 0)
		m.Record(0x1000, 0)
		return m.Snapshot()
	}()
	if snapAB == snapBA {
		t.Fatalf("A->B and B->A should hash to different edges")
	}
}

func TestMergeCountsOnlyNewBits(t *testing.T) {
	var dst [MapSize]byte
	a := NewMap(MethodBlock)
	a.Record(0x1000, 0)
	snapA := a.Snapshot()
	if n := Merge(&dst, &snapA); n != 1 {
		t.Fatalf("first merge should report 1 new bit, got %d", n)
	}
	if n := Merge(&dst, &snapA); n != 0 {
		t.Fatalf("re-merging the same snapshot should report 0 new bits, got %d", n)
	}
}

func TestResetClearsBitmapAndRollingState(t *testing.T) {
	m := NewMap(MethodEdge)
	m.Record(0x1000, 0)
	m.Reset()
	if !m.Record(0x1000, 0) {
		t.Fatalf("after Reset, the same pc should again report new coverage")
	}
}
