// Package corpus holds the shared pool of interesting inputs the fuzz loop
// mutates from and admits into, per spec section 4.9/4.10. A single Corpus
// is shared by every worker behind a reader-writer lock: workers take the
// read lock to pick and clone an input before mutating (so the lock is
// released before the emulator runs), and the write lock only to admit a
// newly-covering input.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Entry is one corpus member: its raw bytes and, if it was admitted for
// coverage reasons rather than seeded at startup, the signature that
// justified the admission.
type Entry struct {
	Data []byte
	// CoverageSig is a short description of the coverage that caused this
	// entry to be admitted, e.g. "new coverage bytes: 3" -- kept for
	// diagnostics, not used for de-dup (the coverage bitmap itself is).
	CoverageSig string
}

// Corpus is the process-wide input pool.
type Corpus struct {
	mu      sync.RWMutex
	entries []Entry
}

// New builds an empty Corpus.
func New() *Corpus {
	return &Corpus{}
}

// LoadSeeds populates the corpus from every regular file in dir whose name
// matches ext (ext == "" matches any file), per the -i/-e CLI flags.
func LoadSeeds(dir, ext string) (*Corpus, error) {
	c := New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if ext != "" && filepath.Ext(de.Name()) != "."+ext {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", de.Name(), err)
		}
		c.entries = append(c.entries, Entry{Data: data})
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("no seed inputs found in %s", dir)
	}
	return c, nil
}

// Len reports the current corpus size.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pick returns a copy of one corpus entry's bytes, selected by the caller's
// index modulo the current size; the copy is made under the read lock so
// the caller can mutate it freely afterward without holding the lock across
// the (potentially slow) emulator run.
func (c *Corpus) Pick(idx uint64) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[idx%uint64(len(c.entries))]
	return append([]byte(nil), e.Data...)
}

// Admit inserts a newly-covering input under the write lock.
func (c *Corpus) Admit(data []byte, sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Data: append([]byte(nil), data...), CoverageSig: sig})
}
