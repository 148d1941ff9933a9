// Package elf parses the guest ELF64 RISC-V binary into the segment
// descriptors and symbol table the emulator's MMU and lifter consume.
// Spec section 6 treats ELF decoding as an external pure-function
// collaborator; this package is that function, grounded on
// zboralski-galago's internal/emulator/elf.go (same debug/elf-based
// PT_LOAD walk and symbol enumeration, retargeted from ARM64 to RISC-V).
package elf

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/mellow-hype/rvfuzz/internal/mmu"
)

// EM_RISCV is the ELF machine constant for RISC-V (0xF3), per spec section 6.
const EM_RISCV = 0xF3

// Segment is a loadable program header, ready to be fed to mmu.LoadSegment.
type Segment struct {
	VirtAddr mmu.VirtAddr
	FileSize uint
	MemSize  uint
	Data     []byte
	Perms    uint8
}

// Function describes one symbol-table entry with a nonzero size, treated as
// a guest function's address range by the lifter.
type Function struct {
	Name string
	Addr uint64
	Size uint64
}

// Info is the parsed result: loadable segments and a symbol table sorted by
// address, plus the entry point.
type Info struct {
	Entry    uint64
	Segments []Segment
	Funcs    []Function
	// SymAddr maps every non-zero-value symbol (not just sized functions) to
	// its address, used to resolve hook targets by name (spec section 9's
	// design note on keying hooks by symbol name).
	SymAddr map[string]uint64
}

// Load reads path, verifies it is a little-endian ELF64 RISC-V executable,
// and returns its segments and symbol table.
func Load(path string) (*Info, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("expected ELF64, got %v", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("expected little-endian, got %v", f.Data)
	}
	if uint32(f.Machine) != EM_RISCV {
		return nil, fmt.Errorf("expected RISC-V (machine 0xF3), got %#x", uint32(f.Machine))
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("expected an executable ELF type, got %v", f.Type)
	}

	info := &Info{
		Entry:   f.Entry,
		SymAddr: make(map[string]uint64),
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("read segment at %#x: %w", prog.Vaddr, err)
			}
		}
		info.Segments = append(info.Segments, Segment{
			VirtAddr: mmu.VirtAddr(prog.Vaddr),
			FileSize: uint(prog.Filesz),
			MemSize:  uint(prog.Memsz),
			Data:     data,
			Perms:    progFlagsToPerm(prog.Flags),
		})
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("read symtab: %w", err)
	}
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		info.SymAddr[s.Name] = s.Value
		if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Size > 0 {
			info.Funcs = append(info.Funcs, Function{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}
	sort.Slice(info.Funcs, func(i, j int) bool { return info.Funcs[i].Addr < info.Funcs[j].Addr })

	return info, nil
}

func progFlagsToPerm(flags elf.ProgFlag) uint8 {
	var p uint8
	if flags&elf.PF_R != 0 {
		p |= mmu.PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= mmu.PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= mmu.PermExecute
	}
	return p
}

// FuncContaining returns the Function whose [Addr, Addr+Size) range contains
// pc, if any -- used by the lifter to bound one function's lift.
func (info *Info) FuncContaining(pc uint64) (Function, bool) {
	for _, fn := range info.Funcs {
		if pc >= fn.Addr && pc < fn.Addr+fn.Size {
			return fn, true
		}
	}
	return Function{}, false
}
