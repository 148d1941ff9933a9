package mutator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDictionaryEmptyPathYieldsNoTokens(t *testing.T) {
	d, err := LoadDictionary("")
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if len(d.Tokens) != 0 {
		t.Fatalf("got %d tokens, want 0 for an empty path", len(d.Tokens))
	}
}

func TestLoadDictionaryParsesTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dict.yaml")
	body := "tokens:\n  - \"GET \"\n  - \"POST\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	d, err := LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if len(d.Tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(d.Tokens))
	}
	if string(d.Tokens[0]) != "GET " || string(d.Tokens[1]) != "POST" {
		t.Fatalf("unexpected tokens: %q", d.Tokens)
	}
}

func TestLoadDictionaryMissingFileErrors(t *testing.T) {
	if _, err := LoadDictionary("/nonexistent/dict.yaml"); err == nil {
		t.Fatalf("expected an error loading a missing dictionary file")
	}
}
