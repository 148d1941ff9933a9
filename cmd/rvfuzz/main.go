// Command rvfuzz is the coverage-guided, emulation-based RISC-V fuzzer's
// entry point: it parses flags, loads the target ELF, builds the canonical
// emulator image, and fans out worker goroutines over internal/fuzzer.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mellow-hype/rvfuzz/internal/config"
	"github.com/mellow-hype/rvfuzz/internal/corpus"
	"github.com/mellow-hype/rvfuzz/internal/coverage"
	"github.com/mellow-hype/rvfuzz/internal/elf"
	"github.com/mellow-hype/rvfuzz/internal/emulator"
	"github.com/mellow-hype/rvfuzz/internal/fuzzer"
	"github.com/mellow-hype/rvfuzz/internal/mmu"
	"github.com/mellow-hype/rvfuzz/internal/rvlog"
	"github.com/mellow-hype/rvfuzz/internal/stats"
)

// version is stamped at release time via -ldflags; "dev" covers local
// builds, matching the teacher's own unstamped default.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rvfuzz:", err)
		os.Exit(1)
	}
}

func run(rawArgs []string) error {
	var (
		inputDir     string
		outputDir    string
		numThreads   int
		noPermChecks bool
		noCmpCov     bool
		ext          string
		debug        bool
		remoteAddr   string
		snapshotAddr string
		timeoutMS    uint64
		runCases     uint64
		fullTrace    bool
		dictFile     string
		covMode      string
		showVersion  bool
	)

	// Split the target binary and its argv off at "--", per spec section 6.
	dashIdx := -1
	for i, a := range rawArgs {
		if a == "--" {
			dashIdx = i
			break
		}
	}
	fuzzerArgs := rawArgs
	var targetArgv []string
	if dashIdx >= 0 {
		fuzzerArgs = rawArgs[:dashIdx]
		targetArgv = rawArgs[dashIdx+1:]
	}

	cmd := &cobra.Command{
		Use:                   "rvfuzz -i DIR -o DIR [flags] -- TARGET [args...]",
		Short:                 "Coverage-guided, emulation-based fuzzer for RISC-V executables",
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println("rvfuzz", version)
				return nil
			}
			if len(targetArgv) == 0 {
				return fmt.Errorf("no target binary given after --")
			}

			cfg := &config.Config{
				InputDir:           inputDir,
				OutputDir:          outputDir,
				NumThreads:         numThreads,
				NoPermChecks:       noPermChecks,
				NoCmpCov:           noCmpCov,
				Extension:          ext,
				DebugPrint:         debug,
				RemoteAddr:         remoteAddr,
				OverrideTimeoutMS:  timeoutMS,
				RunCases:           runCases,
				FullTrace:          fullTrace,
				DictFile:           dictFile,
				TargetPath:         targetArgv[0],
				TargetArgv:         targetArgv,
				GuestAddrSpaceSize: config.MaxGuestAddr,
			}
			method, err := config.ParseCovMethod(orDefault(covMode, "edge"))
			if err != nil {
				return err
			}
			cfg.CovMethod = method
			if snapshotAddr != "" {
				addr, err := parseAddr(snapshotAddr)
				if err != nil {
					return fmt.Errorf("bad -s address: %w", err)
				}
				cfg.SnapshotAddr = addr
				cfg.HasSnapshot = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			rvlog.Init(cfg.DebugPrint)
			defer rvlog.L.Sync() //nolint:errcheck

			return mainRun(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&inputDir, "input", "i", "", "seed input directory (required)")
	flags.StringVarP(&outputDir, "output", "o", "", "output directory (required)")
	flags.IntVarP(&numThreads, "threads", "n", 1, "number of fuzzing worker threads")
	flags.BoolVarP(&noPermChecks, "no-perm-checks", "p", false, "disable MMU permission checks")
	flags.BoolVarP(&noCmpCov, "no-cmpcov", "C", false, "disable CmpCov instrumentation")
	flags.StringVarP(&ext, "ext", "e", "", "optional input file extension filter")
	flags.BoolVarP(&debug, "debug", "D", false, "enable debug-level logging")
	flags.StringVarP(&remoteAddr, "telemetry", "k", "", "HOST:PORT to POST stats to")
	flags.StringVarP(&snapshotAddr, "snapshot", "s", "", "snapshot address (hex or decimal)")
	flags.Uint64VarP(&timeoutMS, "timeout", "t", 0, "override per-case timeout in milliseconds")
	flags.Uint64VarP(&runCases, "run-cases", "r", 0, "stop after N total cases (0 = unbounded)")
	flags.BoolVarP(&fullTrace, "full-trace", "f", false, "log the host disassembly of each JIT-compiled function at debug level, shown only with -D (no register trace)")
	flags.StringVarP(&dictFile, "dict", "d", "", "dictionary file of extra tokens")
	flags.StringVarP(&covMode, "coverage", "c", "edge", "coverage mode: edge|block|call-stack")
	flags.BoolVarP(&showVersion, "version", "V", false, "print version and exit")

	cmd.SetArgs(fuzzerArgs)
	return cmd.Execute()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// mainRun wires the parsed configuration into a running fleet of workers:
// load the ELF, build the canonical (pre-fuzz) emulator image, load seeds,
// then fan out.
func mainRun(cfg *config.Config) error {
	info, err := elf.Load(cfg.TargetPath)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	mem := mmu.New(cfg.GuestAddrSpaceSize)
	for _, seg := range info.Segments {
		if err := mem.LoadSegment(mmu.Segment{
			VirtAddr: seg.VirtAddr,
			FileSize: seg.FileSize,
			MemSize:  seg.MemSize,
			FileData: seg.Data,
			Perms:    seg.Perms,
		}); err != nil {
			return fmt.Errorf("load segment at %#x: %w", seg.VirtAddr, err)
		}
	}

	root := emulator.New(mem)
	entry := info.Entry
	if cfg.HasSnapshot {
		entry = cfg.SnapshotAddr
	}
	if err := root.Bootstrap(entry, cfg.TargetArgv, cfg.FuzzInputName()); err != nil {
		return fmt.Errorf("bootstrap guest stack: %w", err)
	}
	root.SetHooks(info.SymAddr)

	seeds, err := corpus.LoadSeeds(cfg.InputDir, cfg.Extension)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}

	method := toCoverageMethod(cfg.CovMethod)
	st := stats.New()
	f, err := fuzzer.New(cfg, info, root, seeds, method, st)
	if err != nil {
		return fmt.Errorf("init fuzzer: %w", err)
	}

	stop := make(chan struct{})
	go f.Reporter().Run(time.Second, stop)
	defer close(stop)

	rvlog.L.Sugar().Infow("starting fuzzer",
		"target", cfg.TargetPath,
		"threads", cfg.NumThreads,
		"coverage_mode", cfg.CovMethod.String(),
		"seeds", seeds.Len(),
		"run_id", st.RunID,
	)

	var eg errgroup.Group
	for i := 0; i < cfg.NumThreads; i++ {
		id := i
		eg.Go(func() error { return f.RunWorker(id) })
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}

	snap := st.Snapshot()
	rvlog.L.Sugar().Infow("run complete",
		"total_cases", snap.TotalCases,
		"crashes", snap.Crashes,
		"ucrashes", snap.UCrashes,
	)
	return nil
}

func toCoverageMethod(m config.CovMethod) coverage.Method {
	switch m {
	case config.CovBlock:
		return coverage.MethodBlock
	case config.CovCallStack:
		return coverage.MethodCallStack
	default:
		return coverage.MethodEdge
	}
}
