// Package mutator implements the corpus input mutation strategies of spec
// section 4.9: a weighted strategy menu, havoc mode, and the 13 canonical
// magic-number patterns. It is a field-for-field Go port of
// original_source/src/mutator.rs's Mutator, with a per-thread RNG in place
// of the Rust rand_xoshiro crate (see Xoroshiro below).
package mutator

import "math/bits"

// Strategy identifies one mutation kind.
type Strategy int

const (
	ByteReplace Strategy = iota
	BitFlip
	SimpleArithmetic
	MagicNum
	RemoveBlock
	DupBlock
	Resize
)

func (s Strategy) String() string {
	switch s {
	case ByteReplace:
		return "byte_replace"
	case BitFlip:
		return "bit_flip"
	case SimpleArithmetic:
		return "simple_arithmetic"
	case MagicNum:
		return "magic_num"
	case RemoveBlock:
		return "remove_block"
	case DupBlock:
		return "dup_block"
	case Resize:
		return "resize"
	default:
		return "unknown"
	}
}

// weight is a (strategy, count) pair; the flattened menu spec section 4.9
// requires is built from exactly these weights at construction time.
type weight struct {
	strat Strategy
	count int
}

var weights = []weight{
	{ByteReplace, 1000},
	{BitFlip, 1000},
	{SimpleArithmetic, 500},
	{MagicNum, 200},
	{RemoveBlock, 30},
	{DupBlock, 30},
	{Resize, 10},
}

// minInputLen is the floor a length-shrinking mutation must respect (spec
// section 4.9).
const minInputLen = 32

// magicNums are the 13 canonical bit patterns spliced in by MagicNum:
// all-zero and all-ones at each width, the signed-max boundary at each
// width, plus a 3-byte "1, 0, 0" pattern the original carries for a
// specific off-by-one class of bug.
var magicNums = [][]byte{
	{0x00},
	{0x00, 0x00},
	{0x00, 0x00, 0x00, 0x00},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0xff},
	{0xff, 0xff},
	{0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0x7f},
	{0x7f, 0xff},
	{0x7f, 0xff, 0xff, 0xff},
	{0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0x01, 0x00, 0x00},
}

// Xoroshiro64Star is a fast, non-cryptographic PRNG matching the original's
// rand_xoshiro choice (there is no portable Go equivalent of the Rust
// crate, nor of the cycle-counter seed it uses, so this is a from-scratch
// xoroshiro64* expressed directly in terms of two uint32 state words --
// the one deliberate divergence from original_source/src/mutator.rs noted
// in SPEC_FULL.md).
type Xoroshiro64Star struct {
	s0, s1 uint32
}

// NewXoroshiro64Star seeds the generator from a 64-bit seed, splitting it
// across the two state words and discarding the first 16 outputs as a
// warmup, so that low-entropy seeds (e.g. a thread index) are stirred
// before use.
func NewXoroshiro64Star(seed uint64) *Xoroshiro64Star {
	x := &Xoroshiro64Star{s0: uint32(seed), s1: uint32(seed >> 32)}
	if x.s0 == 0 && x.s1 == 0 {
		x.s0 = 0x9e3779b9
	}
	for i := 0; i < 16; i++ {
		x.Next32()
	}
	return x
}

// Next32 advances the generator and returns the next pseudo-random word.
func (x *Xoroshiro64Star) Next32() uint32 {
	s0, s1 := x.s0, x.s1
	result := s0 * 0x9E3779BB

	s1 ^= s0
	x.s0 = bits.RotateLeft32(s0, 26) ^ s1 ^ (s1 << 9)
	x.s1 = bits.RotateLeft32(s1, 13)
	return result
}

// Next64 packs two Next32 draws into one uint64, matching the original's
// get2_rand helper which treats one u64 draw as two independent u32s.
func (x *Xoroshiro64Star) Next64() uint64 {
	lo := uint64(x.Next32())
	hi := uint64(x.Next32())
	return lo | hi<<32
}

// two returns two pseudo-random values sized for modulo indexing, mirroring
// Mutator::get2_rand in the original.
func (x *Xoroshiro64Star) two() (uint64, uint64) {
	tmp := x.Next64()
	return tmp & 0xffffffff, tmp >> 32
}

// Mutator applies weighted random mutations to one worker's scratch input,
// with havoc mode queuing several mutations onto a single case.
type Mutator struct {
	rng          *Xoroshiro64Star
	menu         []Strategy
	havocCounter int
	dict         *Dictionary
}

// New builds a Mutator with a freshly seeded RNG. Per spec section 4.9 each
// worker owns an independent stream, so callers pass a per-thread seed
// (e.g. derived from the thread index and a host timestamp) rather than
// sharing one Mutator across goroutines. dict may be nil, in which case
// MagicNum draws only from the built-in pattern table.
func New(seed uint64, dict *Dictionary) *Mutator {
	menu := make([]Strategy, 0, 2770)
	for _, w := range weights {
		for i := 0; i < w.count; i++ {
			menu = append(menu, w.strat)
		}
	}
	if dict == nil {
		dict = &Dictionary{}
	}
	return &Mutator{rng: NewXoroshiro64Star(seed), menu: menu, dict: dict}
}

func (m *Mutator) choose() Strategy {
	idx := int(m.rng.Next32()) % len(m.menu)
	if idx < 0 {
		idx += len(m.menu)
	}
	return m.menu[idx]
}

// Mutate applies one mutation round to input, returning the mutated bytes.
// Every HavocInterval-th call (spec section 4.9) queues 1-7 strategies onto
// the same case instead of one. A strategy that refuses (input too small)
// is replaced by a freshly chosen one and retried, matching the original's
// inner retry loop.
func (m *Mutator) Mutate(input []byte) []byte {
	out := append([]byte(nil), input...)

	m.havocCounter++
	var queue []Strategy
	if m.havocCounter >= 100 {
		m.havocCounter = 0
		n := int(m.rng.Next32()%7) + 1
		for i := 0; i < n; i++ {
			queue = append(queue, m.choose())
		}
	} else {
		queue = append(queue, m.choose())
	}

	for _, strat := range queue {
		for {
			var ok bool
			out, ok = m.apply(strat, out)
			if ok {
				break
			}
			strat = m.choose()
		}
	}
	return out
}

// apply runs one strategy, returning the (possibly resized) buffer and
// whether the strategy accepted the input.
func (m *Mutator) apply(s Strategy, input []byte) ([]byte, bool) {
	switch s {
	case ByteReplace:
		return m.byteReplace(input)
	case BitFlip:
		return m.bitFlip(input)
	case SimpleArithmetic:
		return m.simpleArithmetic(input)
	case MagicNum:
		return m.magicNum(input)
	case RemoveBlock:
		return m.removeBlock(input)
	case DupBlock:
		return m.dupBlock(input)
	case Resize:
		return m.resize(input)
	default:
		return input, false
	}
}

func (m *Mutator) byteReplace(input []byte) ([]byte, bool) {
	n := len(input)
	if n == 0 {
		return input, false
	}
	r1, r2 := m.two()
	if r1%1000 < 950 {
		for i := uint64(1); i < r2%32; i++ {
			a, b := m.two()
			input[a%uint64(n)] = byte(b)
		}
	} else {
		for i := uint64(64); i < 64+r2%64; i++ {
			a, b := m.two()
			_ = i
			input[a%uint64(n)] = byte(b)
		}
	}
	return input, true
}

func (m *Mutator) bitFlip(input []byte) ([]byte, bool) {
	n := len(input)
	if n == 0 {
		return input, false
	}
	r1, r2 := m.two()
	if r1%1000 < 950 {
		for i := uint64(1); i < r2%32; i++ {
			a, b := m.two()
			bitIdx := a % 8
			input[b%uint64(n)] ^= 1 << bitIdx
		}
	} else {
		for i := uint64(64); i < 64+r2%64; i++ {
			_ = i
			a, b := m.two()
			bitIdx := a % 8
			input[b%uint64(n)] ^= 1 << bitIdx
		}
	}
	return input, true
}

func (m *Mutator) simpleArithmetic(input []byte) ([]byte, bool) {
	n := len(input)
	if n == 0 {
		return input, false
	}
	r1, r2 := m.two()
	run := func(lo, hi uint64) {
		for i := lo; i < hi; i++ {
			a, b := m.two()
			idx := a % uint64(n)
			if i&1 == 0 {
				input[idx] += byte(b % 32)
			} else {
				input[idx] -= byte(b % 32)
			}
		}
	}
	if r1%1000 < 950 {
		run(1, r2%32)
	} else {
		run(64, 64+r2%64)
	}
	return input, true
}

func (m *Mutator) magicNum(input []byte) ([]byte, bool) {
	if len(input) < minInputLen {
		return input, false
	}
	r1, r2 := m.two()
	start := r1 % uint64(len(input)-8)

	pool := magicNums
	if len(m.dict.Tokens) > 0 && r2%2 == 0 {
		pool = m.dict.Tokens
	}
	pattern := pool[r2%uint64(len(pool))]
	if int(start)+len(pattern) < minInputLen {
		return input, false
	}

	out := make([]byte, 0, int(start)+len(pattern))
	out = append(out, input[:start]...)
	out = append(out, pattern...)
	return out, true
}

func (m *Mutator) removeBlock(input []byte) ([]byte, bool) {
	n := len(input)
	if n < minInputLen {
		return input, false
	}
	r1, r2 := m.two()
	start := int(r1 % uint64(n))
	span := n - start
	if v := int(r2 % 512); v < span {
		span = v
	}
	end := start + span
	if n-(end-start) < minInputLen {
		return input, false
	}
	out := make([]byte, 0, n-(end-start))
	out = append(out, input[:start]...)
	out = append(out, input[end:]...)
	return out, true
}

func (m *Mutator) dupBlock(input []byte) ([]byte, bool) {
	n := len(input)
	if n < minInputLen {
		return input, false
	}
	r1, r2 := m.two()
	start := int(r1 % uint64(n))
	span := n - start
	if v := int(r2 % 128); v < span {
		span = v
	}
	end := start + span
	idx := int(m.rng.Next32()) % n
	if idx < 0 {
		idx += n
	}

	block := append([]byte(nil), input[start:end]...)
	head := append([]byte(nil), input[:idx]...)
	tail := append([]byte(nil), input[idx:]...)

	out := make([]byte, 0, n+len(block))
	out = append(out, head...)
	out = append(out, block...)
	out = append(out, tail...)
	return out, true
}

func (m *Mutator) resize(input []byte) ([]byte, bool) {
	n := len(input)
	r1, r2 := m.two()

	if r1&1 == 0 {
		if n < minInputLen {
			return input, false
		}
		truncVal := int(r2%uint64(n/2)) % 512
		if truncVal < minInputLen {
			return input, false
		}
		if truncVal > n {
			truncVal = n
		}
		return input[:truncVal], true
	}

	size := 32
	if n >= minInputLen {
		size = int(r2%uint64(n/2)) % 512
	}
	extra := make([]byte, size)
	for i := 0; i < size; i += 4 {
		w := m.rng.Next32()
		for j := 0; j < 4 && i+j < size; j++ {
			extra[i+j] = byte(w >> (8 * uint(j)))
		}
	}
	out := append(append([]byte(nil), input...), extra...)
	return out, true
}
