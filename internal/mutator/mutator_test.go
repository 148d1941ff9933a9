package mutator

import "testing"

func TestMutateNeverShrinksBelowMinimum(t *testing.T) {
	m := New(1, nil)
	input := make([]byte, 64)
	for i := range input {
		input[i] = byte(i)
	}
	for i := 0; i < 2000; i++ {
		input = m.Mutate(input)
		if len(input) < minInputLen {
			t.Fatalf("iteration %d: input shrank to %d bytes, below floor %d", i, len(input), minInputLen)
		}
	}
}

func TestMutateIsDeterministicForAFixedSeed(t *testing.T) {
	m1 := New(42, nil)
	m2 := New(42, nil)
	in1 := []byte("0123456789abcdef0123456789abcdef")
	in2 := append([]byte(nil), in1...)
	for i := 0; i < 50; i++ {
		in1 = m1.Mutate(in1)
		in2 = m2.Mutate(in2)
	}
	if string(in1) != string(in2) {
		t.Fatalf("same-seeded mutators diverged")
	}
}

func TestHavocQueuesMultipleMutationsEvery100Cases(t *testing.T) {
	m := New(7, nil)
	input := make([]byte, 256)
	for i := 0; i < 99; i++ {
		input = m.Mutate(input)
	}
	if m.havocCounter != 99 {
		t.Fatalf("havocCounter = %d, want 99 before the 100th case", m.havocCounter)
	}
	input = m.Mutate(input)
	if m.havocCounter != 0 {
		t.Fatalf("havocCounter = %d, want reset to 0 after the 100th case", m.havocCounter)
	}
}

func TestMagicNumRefusesShortInput(t *testing.T) {
	m := New(3, nil)
	short := make([]byte, minInputLen-1)
	if _, ok := m.magicNum(short); ok {
		t.Fatalf("magicNum accepted an input shorter than the minimum length")
	}
}

func TestMagicNumDrawsFromDictionaryTokens(t *testing.T) {
	dict := &Dictionary{Tokens: [][]byte{[]byte("DEADBEEF")}}
	m := New(5, dict)
	input := make([]byte, 64)
	found := false
	for i := 0; i < 200; i++ {
		out, ok := m.magicNum(input)
		if ok && len(out) >= len("DEADBEEF") {
			tail := out[len(out)-len("DEADBEEF"):]
			if string(tail) == "DEADBEEF" {
				found = true
				break
			}
		}
	}
	if !found {
		t.Fatalf("magicNum never spliced in a dictionary token over 200 draws")
	}
}

func TestRemoveBlockNeverCrossesMinimum(t *testing.T) {
	m := New(9, nil)
	input := make([]byte, minInputLen)
	if out, ok := m.removeBlock(input); ok && len(out) < minInputLen {
		t.Fatalf("removeBlock produced %d bytes, below the floor", len(out))
	}
}

func TestXoroshiro64StarProducesVariedOutput(t *testing.T) {
	x := NewXoroshiro64Star(0)
	seen := map[uint32]bool{}
	for i := 0; i < 64; i++ {
		seen[x.Next32()] = true
	}
	if len(seen) < 60 {
		t.Fatalf("xoroshiro64* produced only %d distinct values in 64 draws", len(seen))
	}
}
