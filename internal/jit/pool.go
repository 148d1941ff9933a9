package jit

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Pool is an RWX-mapped arena that compiled function bodies are appended
// into. Real JITs separate write and execute phases (W^X); this pool is a
// single fixed-size RWX mapping that is never grown or remapped.
type Pool struct {
	mu   sync.Mutex
	mem  []byte
	used int
}

const poolChunkSize = 16 * 1024 * 1024

// NewPool mmaps one RWX chunk up front.
func NewPool() (*Pool, error) {
	mem, err := unix.Mmap(-1, 0, poolChunkSize, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap jit pool: %w", err)
	}
	return &Pool{mem: mem}, nil
}

// Alloc copies code into the pool and returns its base address. Growing
// past the initial chunk is out of scope: a function whose compiled body
// does not fit returns an error rather than silently truncating.
func (p *Pool) Alloc(code []byte) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used+len(code) > len(p.mem) {
		return 0, fmt.Errorf("jit pool exhausted: %d bytes requested, %d remaining", len(code), len(p.mem)-p.used)
	}
	base := p.used
	copy(p.mem[base:], code)
	p.used += len(code)
	return uintptr(unsafeAddr(p.mem)) + uintptr(base), nil
}

// Close unmaps the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
