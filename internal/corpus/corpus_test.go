package corpus

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedsReadsAllFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("seed-"+name), 0o644); err != nil {
			t.Fatalf("write seed: %v", err)
		}
	}
	c, err := LoadSeeds(dir, "")
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestLoadSeedsFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.bin"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644)
	c, err := LoadSeeds(dir, "bin")
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestLoadSeedsFailsOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSeeds(dir, ""); err == nil {
		t.Fatalf("expected an error loading seeds from an empty directory")
	}
}

func TestPickReturnsAnIndependentCopy(t *testing.T) {
	c := New()
	c.entries = append(c.entries, Entry{Data: []byte("hello")})
	got := c.Pick(0)
	got[0] = 'X'
	if string(c.entries[0].Data) != "hello" {
		t.Fatalf("Pick's caller mutated the corpus's own backing array")
	}
}

func TestAdmitGrowsTheCorpus(t *testing.T) {
	c := New()
	c.entries = append(c.entries, Entry{Data: []byte("seed")})
	c.Admit([]byte("new-cov"), "edge 0x1000")
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after Admit", c.Len())
	}
}
