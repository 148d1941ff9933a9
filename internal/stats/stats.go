// Package stats is the fuzzer's shared statistics snapshot and its two
// consumers: the periodic flush to the log (spec
// section 5) and the optional HTTP telemetry POST (spec section 6).
// SPEC_FULL.md gives the data model described inline in spec.md its own
// package so it is independently testable; the TUI renderer that would
// otherwise read these snapshots is an explicit out-of-scope collaborator.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mellow-hype/rvfuzz/internal/rvlog"
)

// Snapshot is the JSON body POSTed to the telemetry endpoint, per spec
// section 6. Field names match the wire contract exactly.
type Snapshot struct {
	TotalCases int64   `json:"total_cases"`
	Crashes    int64   `json:"crashes"`
	UCrashes   int64   `json:"ucrashes"`
	Coverage   int64   `json:"coverage"`
	CmpCov     int64   `json:"cmpcov"`
	InstrCount int64   `json:"instr_count"`
	Timeouts   int64   `json:"timeouts"`
	ExecTime   float64 `json:"exec_time"`
}

// Stats is the shared accumulator of atomic counters. Every worker adds to
// it through AddCase after each case; there is no per-worker batching, and
// no lock is taken.
type Stats struct {
	RunID string

	mu        sync.Mutex
	snap      Snapshot
	totalC    atomic.Int64
	crashes   atomic.Int64
	ucrashes  atomic.Int64
	coverage  atomic.Int64
	cmpcov    atomic.Int64
	instrs    atomic.Int64
	timeouts  atomic.Int64
	startedAt time.Time
}

// New builds a Stats accumulator, stamping it with a fresh run ID that tags
// the periodic stats log lines and the startup log line. The telemetry POST
// body does not carry it.
func New() *Stats {
	return &Stats{RunID: uuid.NewString(), startedAt: time.Now()}
}

// AddCase increments the running totals a worker reports after one fuzz
// case. newCoverage and newCmpCov count newly-set bitmap bytes this case
// contributed.
func (s *Stats) AddCase(instrs uint64, crashed, unique, timedOut bool, newCoverage, newCmpCov int) {
	s.totalC.Add(1)
	s.instrs.Add(int64(instrs))
	if crashed {
		s.crashes.Add(1)
		if unique {
			s.ucrashes.Add(1)
		}
	}
	if timedOut {
		s.timeouts.Add(1)
	}
	s.coverage.Add(int64(newCoverage))
	s.cmpcov.Add(int64(newCmpCov))
}

// Snapshot returns a point-in-time copy of the running totals.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalCases: s.totalC.Load(),
		Crashes:    s.crashes.Load(),
		UCrashes:   s.ucrashes.Load(),
		Coverage:   s.coverage.Load(),
		CmpCov:     s.cmpcov.Load(),
		InstrCount: s.instrs.Load(),
		Timeouts:   s.timeouts.Load(),
		ExecTime:   time.Since(s.startedAt).Seconds(),
	}
}

// Reporter periodically flushes Stats to the log and, if configured, POSTs
// it to a remote telemetry endpoint.
type Reporter struct {
	s          *Stats
	remoteAddr string
	client     *http.Client
}

// NewReporter builds a Reporter. remoteAddr is "host:port" from the -k
// flag; an empty string disables the HTTP POST leg entirely.
func NewReporter(s *Stats, remoteAddr string) *Reporter {
	return &Reporter{s: s, remoteAddr: remoteAddr, client: &http.Client{Timeout: 2 * time.Second}}
}

// Run flushes a snapshot every interval until ctx-like stop channel closes.
// It logs every flush at Info level (visible only with a debug logger, see
// rvlog.New) and, when remoteAddr is set, best-effort POSTs the
// snapshot -- a failed POST is logged and does not stop the run (spec
// section 6 treats telemetry as a non-critical external collaborator).
func (r *Reporter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := r.s.Snapshot()
			rvlog.L.Sugar().Infow("stats",
				"run_id", r.s.RunID,
				"total_cases", snap.TotalCases,
				"crashes", snap.Crashes,
				"ucrashes", snap.UCrashes,
				"coverage", snap.Coverage,
				"cmpcov", snap.CmpCov,
				"timeouts", snap.Timeouts,
				"exec_time", snap.ExecTime,
			)
			if r.remoteAddr != "" {
				if err := r.post(snap); err != nil {
					rvlog.L.Sugar().Warnw("telemetry post failed", "err", err)
				}
			}
		}
	}
}

// post sends one Snapshot as a JSON body to http://remoteAddr/stats, per
// spec section 6's wire contract.
func (r *Reporter) post(snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/stats", r.remoteAddr)
	resp, err := r.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}
	return nil
}
