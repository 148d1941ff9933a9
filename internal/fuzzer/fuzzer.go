// Package fuzzer implements the per-worker run/reset cycle of spec section
// 4.10: clone the root emulator, mutate an input, run it to a terminal
// exit, classify the outcome, and feed new coverage back into the corpus.
package fuzzer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mellow-hype/rvfuzz/internal/config"
	"github.com/mellow-hype/rvfuzz/internal/corpus"
	"github.com/mellow-hype/rvfuzz/internal/coverage"
	"github.com/mellow-hype/rvfuzz/internal/elf"
	"github.com/mellow-hype/rvfuzz/internal/emulator"
	"github.com/mellow-hype/rvfuzz/internal/jit"
	"github.com/mellow-hype/rvfuzz/internal/mutator"
	"github.com/mellow-hype/rvfuzz/internal/rvlog"
	"github.com/mellow-hype/rvfuzz/internal/stats"
)

// Outcome classifies one fuzz case, per spec section 4.10.
type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeNewCoverage
	OutcomeUniqueCrash
	OutcomeDupCrash
	OutcomeTimeout
)

// Fuzzer owns the state shared by every worker: the corpus, the process-
// wide coverage bitmap, crash de-dup, and calibration. Each worker builds
// its own JIT and coverage map in RunWorker.
type Fuzzer struct {
	cfg        *config.Config
	info       *elf.Info
	corpus     *corpus.Corpus
	root       *emulator.Emulator
	covMethod  coverage.Method
	stats      *stats.Stats
	reports    *stats.Reporter

	// globalCov is the shared coverage bitmap every worker's private
	// coverage.Map merges into after each case (spec section 3: the
	// bitmap is shared, but each worker's rolling edge-hash state is not,
	// since that state is only meaningful within one sequential execution
	// stream).
	covMu     sync.Mutex
	globalCov [coverage.MapSize]byte

	crashMu  sync.Mutex
	crashes  map[string]bool
	crashDir string

	casesMu   sync.Mutex
	casesDone uint64

	// calibration state, guarded by calibMu; once timeoutInstrs is
	// nonzero every worker has a derived per-case instruction budget.
	calibMu        sync.Mutex
	calibSamples   []uint64
	timeoutInstrs  uint64
	calibDone      bool
	overrideTimeMS uint64

	// dict supplements the mutator's built-in magic-number table with
	// user-supplied tokens (spec section 6's "-d/--dict" flag).
	dict *mutator.Dictionary
}

// New builds a Fuzzer ready to spawn workers. root is the canonical,
// post-ELF-load emulator image every worker clones from at the top of each
// iteration (spec section 5's resource-lifetime rule).
func New(cfg *config.Config, info *elf.Info, root *emulator.Emulator, c *corpus.Corpus, method coverage.Method, s *stats.Stats) (*Fuzzer, error) {
	crashDir := filepath.Join(cfg.OutputDir, "crashes")
	if err := os.MkdirAll(crashDir, 0o755); err != nil {
		return nil, fmt.Errorf("create crash dir: %w", err)
	}
	dict, err := mutator.LoadDictionary(cfg.DictFile)
	if err != nil {
		return nil, err
	}
	f := &Fuzzer{
		cfg:            cfg,
		info:           info,
		corpus:         c,
		root:           root,
		covMethod:      method,
		stats:          s,
		crashes:        map[string]bool{},
		crashDir:       crashDir,
		overrideTimeMS: cfg.OverrideTimeoutMS,
		dict:           dict,
	}
	if s != nil {
		f.reports = stats.NewReporter(s, cfg.RemoteAddr)
	}
	return f, nil
}

// Reporter exposes the shared stats reporter so the caller can run its
// flush loop alongside the workers.
func (f *Fuzzer) Reporter() *stats.Reporter { return f.reports }

// mergeCoverage folds src's bits into the shared bitmap under the single
// lock spec section 5 calls for, returning the count of genuinely new bytes.
func (f *Fuzzer) mergeCoverage(src [coverage.MapSize]byte) int {
	f.covMu.Lock()
	defer f.covMu.Unlock()
	return coverage.Merge(&f.globalCov, &src)
}

// worker is one OS-thread-equivalent fuzzing goroutine's private state:
// its own emulator clone, JIT, coverage map, and mutator RNG stream (spec
// section 5: workers never share mutable state except through the
// documented locks).
type worker struct {
	id  int
	f   *Fuzzer
	emu *emulator.Emulator
	jit *jit.JIT
	cov *coverage.Map
	mut *mutator.Mutator
}

// RunWorker drives worker id's run/reset loop until the shared RunCases cap
// (if any) is reached. It is meant to be launched once per configured
// thread.
func (f *Fuzzer) RunWorker(id int) error {
	emu := emulator.New(f.root.Mem.Fork())
	emu.Regs = f.root.Regs
	emu.SetHooks(f.root.Hooks)

	cov := coverage.NewMap(f.covMethod)
	j, err := jit.New(emu, f.info, cov, !f.cfg.NoCmpCov, f.cfg.FullTrace)
	if err != nil {
		return fmt.Errorf("worker %d: build jit: %w", id, err)
	}
	defer j.Close()

	w := &worker{
		id:  id,
		f:   f,
		emu: emu,
		jit: j,
		cov: cov,
		mut: mutator.New(seedFor(id), f.dict),
	}
	return w.loop()
}

// seedFor derives a per-thread RNG seed from the worker index and the host
// clock, standing in for the cycle-counter seed original_source/src/
// mutator.rs draws from (Go exposes no portable RDTSC), per SPEC_FULL.md.
func seedFor(id int) uint64 {
	return uint64(time.Now().UnixNano()) ^ (uint64(id) * 0x9E3779B97F4A7C15)
}

func (w *worker) loop() error {
	f := w.f
	var caseIdx uint64
	for {
		if f.cfg.RunCases > 0 {
			f.casesMu.Lock()
			done := f.casesDone
			f.casesMu.Unlock()
			if done >= f.cfg.RunCases {
				return nil
			}
		}

		input := f.corpus.Pick(caseIdx + uint64(w.id))
		calibrating := f.beginCalibrationCase()
		if !calibrating {
			input = w.mut.Mutate(input)
		}

		w.emu.Mem.Reset(f.root.Mem)
		w.emu.Regs = f.root.Regs
		w.emu.ResetCounters()
		w.cov.Reset()
		if t := f.currentTimeout(); t > 0 {
			w.emu.SetTimeout(t)
		}

		reason, runErr := w.jit.Run(w.emu.Regs[emulator.PCReg])

		snap := w.cov.Snapshot()
		newBits := f.mergeCoverage(snap)

		outcome, sig := f.classify(reason, runErr, newBits)
		newCov := 0
		if outcome == OutcomeNewCoverage {
			newCov = newBits
			f.corpus.Admit(input, sig)
		}
		if outcome == OutcomeUniqueCrash {
			f.persistCrash(input, sig)
		}

		if f.stats != nil {
			f.stats.AddCase(w.emu.InstrCount(), outcome == OutcomeUniqueCrash || outcome == OutcomeDupCrash, outcome == OutcomeUniqueCrash, outcome == OutcomeTimeout, newCov, 0)
		}
		if calibrating {
			f.endCalibrationCase(w.emu.InstrCount())
		}

		f.casesMu.Lock()
		f.casesDone++
		f.casesMu.Unlock()
		caseIdx++
	}
}

// classify turns one run's exit reason into an Outcome and, for crashes, a
// stable (kind, pc) signature string used both for de-dup and the crash
// file name.
func (f *Fuzzer) classify(reason emulator.ExitReason, runErr error, newBits int) (Outcome, string) {
	if runErr != nil {
		return OutcomeClean, ""
	}
	switch reason.Kind {
	case emulator.ExitTimeout:
		return OutcomeTimeout, ""
	case emulator.ExitCrash:
		sig := fmt.Sprintf("%s_%#x", crashKindName(reason.Crash), reason.PC)
		f.crashMu.Lock()
		defer f.crashMu.Unlock()
		if f.crashes[sig] {
			return OutcomeDupCrash, sig
		}
		f.crashes[sig] = true
		return OutcomeUniqueCrash, sig
	default:
		if newBits > 0 {
			return OutcomeNewCoverage, fmt.Sprintf("new coverage bytes: %d", newBits)
		}
		return OutcomeClean, ""
	}
}

// crashKindName mirrors emulator.CrashKind's String-equivalent, kept local
// to the package so crash file names don't depend on emulator exporting a
// stringer.
func crashKindName(k emulator.CrashKind) string {
	switch k {
	case emulator.CrashReadFault:
		return "read_fault"
	case emulator.CrashWriteFault:
		return "write_fault"
	case emulator.CrashExecFault:
		return "exec_fault"
	case emulator.CrashInvalidFree:
		return "invalid_free"
	case emulator.CrashDivByZero:
		return "div_by_zero"
	case emulator.CrashUnknownSyscall:
		return "unknown_syscall"
	case emulator.CrashUnalignedPc:
		return "unaligned_pc"
	case emulator.CrashBrkFault:
		return "brk_fault"
	default:
		return "crash"
	}
}

// persistCrash writes one crash file under crashes/, named by
// classification and the hash of the input bytes, per spec section 6.
func (f *Fuzzer) persistCrash(input []byte, sig string) {
	sum := sha256.Sum256(input)
	name := fmt.Sprintf("%s_%s", sig, hex.EncodeToString(sum[:8]))
	path := filepath.Join(f.crashDir, name)
	if err := os.WriteFile(path, input, 0o644); err != nil {
		rvlog.L.Sugar().Warnw("failed to persist crash", "path", path, "err", err)
	}
}

// beginCalibrationCase reports whether the caller's case should run
// unmutated as part of the first CalibrationCases samples (spec section
// 4.10).
func (f *Fuzzer) beginCalibrationCase() bool {
	f.calibMu.Lock()
	defer f.calibMu.Unlock()
	return !f.calibDone && len(f.calibSamples) < config.CalibrationCases
}

// endCalibrationCase records one calibration sample's instruction count; once
// enough samples are in, it derives the per-case timeout from their median,
// unless the user passed -t.
func (f *Fuzzer) endCalibrationCase(instrs uint64) {
	f.calibMu.Lock()
	defer f.calibMu.Unlock()
	if f.calibDone {
		return
	}
	f.calibSamples = append(f.calibSamples, instrs)
	if len(f.calibSamples) < config.CalibrationCases {
		return
	}
	f.calibDone = true
	if f.overrideTimeMS > 0 {
		return
	}
	sorted := append([]uint64(nil), f.calibSamples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	// A generous multiplier over the observed median keeps legitimately
	// slow-but-clean inputs from being misclassified as timeouts.
	f.timeoutInstrs = median * 100
	if f.timeoutInstrs == 0 {
		f.timeoutInstrs = 1 << 20
	}
}

// currentTimeout returns the per-case instruction budget: the user's -t
// override converted via a nominal instructions-per-millisecond estimate
// if calibration hasn't produced one yet, or the calibrated budget once it
// has. 0 means unbounded (still calibrating, no override).
func (f *Fuzzer) currentTimeout() uint64 {
	f.calibMu.Lock()
	defer f.calibMu.Unlock()
	if f.overrideTimeMS > 0 {
		const nominalInstrsPerMS = 50_000
		return f.overrideTimeMS * nominalInstrsPerMS
	}
	return f.timeoutInstrs
}
