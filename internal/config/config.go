// Package config holds the immutable, process-wide configuration for a
// rvfuzz run. A single *Config is built once at startup from parsed CLI
// flags and passed by pointer to every worker thereafter -- it replaces the
// scattered OnceLock globals of the system this was distilled from.
package config

import "fmt"

// CovMethod selects how a guest PC (and, for edge/call-stack modes, the
// preceding PC or return-address stack) is folded into a coverage bitmap
// index.
type CovMethod int

const (
	CovNone CovMethod = iota
	CovBlock
	CovEdge
	CovCallStack
)

func ParseCovMethod(s string) (CovMethod, error) {
	switch s {
	case "block":
		return CovBlock, nil
	case "edge":
		return CovEdge, nil
	case "call-stack":
		return CovCallStack, nil
	default:
		return CovNone, fmt.Errorf("unknown coverage mode %q", s)
	}
}

func (c CovMethod) String() string {
	switch c {
	case CovBlock:
		return "block"
	case CovEdge:
		return "edge"
	case CovCallStack:
		return "call-stack"
	default:
		return "none"
	}
}

// MaxGuestAddr is the default size of the guest virtual address space handed
// to every worker's MMU.
const MaxGuestAddr = 32 * 1024 * 1024

// CalibrationCases is the number of cases run with no mutation at startup to
// learn a median instruction count, from which the timeout is derived.
const CalibrationCases = 100

// HavocInterval is how often (in cases) the mutator enters havoc mode.
const HavocInterval = 100

// MinInputLen is the minimum length an input must retain after
// length-shrinking mutations (RemoveBlock, Resize).
const MinInputLen = 32

// Config is the single, immutable, shared-by-reference configuration for a
// run. Every field is set once during flag parsing in cmd/rvfuzz and never
// mutated afterward.
type Config struct {
	InputDir   string
	OutputDir  string
	NumThreads int
	NoPermChecks bool
	NoCmpCov     bool
	Extension    string
	DebugPrint   bool
	RemoteAddr   string
	SnapshotAddr uint64
	HasSnapshot  bool
	OverrideTimeoutMS uint64
	RunCases          uint64
	FullTrace         bool
	DictFile          string
	CovMethod         CovMethod

	// TargetPath and TargetArgv describe the fuzzed binary and the argv it
	// is invoked with; "@@" in TargetArgv marks the fuzz-input path slot.
	TargetPath string
	TargetArgv []string

	GuestAddrSpaceSize uint
}

// FuzzInputName is the path (relative to the guest's simulated cwd) at which
// the mutated input is written before each run, per spec section 6.
func (c *Config) FuzzInputName() string {
	if c.Extension == "" {
		return "fuzz_input"
	}
	return "fuzz_input." + c.Extension
}

// Validate performs the startup checks spec section 7 requires to fail fast
// with a process-exit rather than a mid-run panic.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input directory is required (-i)")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required (-o)")
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("thread count must be >= 1")
	}
	if c.TargetPath == "" {
		return fmt.Errorf("no target binary specified after --")
	}
	foundAt := false
	for _, a := range c.TargetArgv {
		if a == "@@" {
			foundAt = true
			break
		}
	}
	_ = foundAt // "@@" is optional: some targets read from stdin / the fixed path only
	return nil
}
