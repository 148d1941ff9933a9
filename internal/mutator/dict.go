package mutator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dictionary is an optional on-disk supplement to the built-in magic-number
// table, letting a user hand the fuzzer protocol-specific tokens (magic
// bytes, known-good keywords) it has no way to infer from the corpus alone.
// Spec section 6 names a "-d/--dict" flag without fixing a format; YAML is
// used here rather than a bespoke line format since it is already the
// teacher's configuration-file library of choice.
type Dictionary struct {
	Tokens [][]byte
}

type dictFile struct {
	Tokens []string `yaml:"tokens"`
}

// LoadDictionary reads a dictionary file of the form:
//
//	tokens:
//	  - "\xde\xad\xbe\xef"
//	  - "GET "
//
// An empty path is not an error; it yields a Dictionary with no tokens, so
// MagicNum falls back to its built-in pattern table alone.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return &Dictionary{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mutator: read dictionary %s: %w", path, err)
	}
	var doc dictFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mutator: parse dictionary %s: %w", path, err)
	}
	d := &Dictionary{Tokens: make([][]byte, len(doc.Tokens))}
	for i, s := range doc.Tokens {
		d.Tokens[i] = []byte(s)
	}
	return d, nil
}
