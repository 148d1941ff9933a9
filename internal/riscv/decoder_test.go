package riscv

import "testing"

// encR builds a raw R-type word.
func encR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encI(imm uint32, rs1, funct3, rd, opcode uint32) uint32 {
	return imm<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func TestDecodeAddAndSub(t *testing.T) {
	w := encR(0, 3, 2, 0b000, 1, 0b0110011)
	instr := Decode(w)
	if instr.Op != Add || instr.Rd != 1 || instr.Rs1 != 2 || instr.Rs2 != 3 {
		t.Fatalf("got %+v", instr)
	}

	w = encR(0b0100000, 3, 2, 0b000, 1, 0b0110011)
	instr = Decode(w)
	if instr.Op != Sub {
		t.Fatalf("expected Sub, got %+v", instr)
	}
}

func TestDecodeAddiSignExtension(t *testing.T) {
	// addi x1, x2, -1  (imm = 0xfff, 12-bit all-ones)
	w := encI(0xfff, 2, 0b000, 1, 0b0010011)
	instr := Decode(w)
	if instr.Op != Addi || instr.Imm != -1 {
		t.Fatalf("got %+v, want imm=-1", instr)
	}

	w = encI(0x001, 2, 0b000, 1, 0b0010011)
	instr = Decode(w)
	if instr.Imm != 1 {
		t.Fatalf("got imm=%d, want 1", instr.Imm)
	}
}

func TestDecodeJalImmSignAndShape(t *testing.T) {
	// jal x1, -4 : imm bits encode offset -4 (multiple of 2)
	// imm[20|10:1|11|19:12] with value -4 -> binary ...11111111111111111100
	imm := int32(-4)
	u := uint32(imm)
	imm20 := (u >> 20) & 1
	imm19_12 := (u >> 12) & 0xff
	imm11 := (u >> 11) & 1
	imm10_1 := (u >> 1) & 0x3ff
	w := imm20<<31 | imm10_1<<21 | imm11<<20 | imm19_12<<12 | 1<<7 | 0b1101111
	instr := Decode(w)
	if instr.Op != Jal || instr.Rd != 1 || instr.Imm != -4 {
		t.Fatalf("got %+v, want Jal rd=1 imm=-4", instr)
	}
}

func TestDecodeLoadsAndStores(t *testing.T) {
	w := encI(8, 2, 0b010, 1, 0b0000011) // lw x1, 8(x2)
	instr := Decode(w)
	if instr.Op != Lw || instr.Imm != 8 || instr.Rs1 != 2 || instr.Rd != 1 {
		t.Fatalf("got %+v", instr)
	}

	// sw x3, 4(x2): imm=4 split across imm[11:5]=0, imm[4:0]=4
	w = (0 << 25) | (3 << 20) | (2 << 15) | (0b010 << 12) | (4 << 7) | 0b0100011
	instr = Decode(w)
	if instr.Op != Sw || instr.Imm != 4 || instr.Rs1 != 2 || instr.Rs2 != 3 {
		t.Fatalf("got %+v", instr)
	}
}

func TestDecodeBranch(t *testing.T) {
	// beq x1, x2, 0 (imm=0)
	w := encR(0, 2, 1, 0b000, 0, 0b1100011)
	instr := Decode(w)
	if instr.Op != Beq || instr.Rs1 != 1 || instr.Rs2 != 2 {
		t.Fatalf("got %+v", instr)
	}
}

func TestDecodeMExtension(t *testing.T) {
	w := encR(0b0000001, 3, 2, 0b000, 1, 0b0110011)
	instr := Decode(w)
	if instr.Op != Mul {
		t.Fatalf("got %+v, want Mul", instr)
	}

	w = encR(0b0000001, 3, 2, 0b110, 1, 0b0111011)
	instr = Decode(w)
	if instr.Op != Remw {
		t.Fatalf("got %+v, want Remw", instr)
	}
}

func TestDecodeEcallEbreak(t *testing.T) {
	if Decode(0b1110011).Op != Ecall {
		t.Fatalf("expected Ecall")
	}
	if Decode(0b000000000001_00000_000_00000_1110011).Op != Ebreak {
		t.Fatalf("expected Ebreak")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	// opcode 0b1111111 is not a valid RV64IM opcode.
	instr := Decode(0b1111111)
	if instr.Op != Undefined {
		t.Fatalf("expected Undefined, got %+v", instr)
	}
}

func TestDecodeShiftsExtractShamt(t *testing.T) {
	// slli x1, x2, 5
	w := uint32((0 << 26) | (5 << 20) | (2 << 15) | (0b001 << 12) | (1 << 7) | 0b0010011)
	instr := Decode(w)
	if instr.Op != Slli || instr.Imm != 5 {
		t.Fatalf("got %+v", instr)
	}

	// srai x1, x2, 5
	w = (0b010000 << 26) | (5 << 20) | (2 << 15) | (0b101 << 12) | (1 << 7) | 0b0010011
	instr = Decode(w)
	if instr.Op != Srai || instr.Imm != 5 {
		t.Fatalf("got %+v, want Srai imm=5", instr)
	}
}
