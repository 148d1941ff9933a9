package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mellow-hype/rvfuzz/internal/rvlog"
)

func TestAddCaseAccumulates(t *testing.T) {
	s := New()
	s.AddCase(100, false, false, false, 2, 1)
	s.AddCase(50, true, true, false, 0, 0)
	s.AddCase(10, true, false, false, 0, 0)

	snap := s.Snapshot()
	if snap.TotalCases != 3 {
		t.Fatalf("TotalCases = %d, want 3", snap.TotalCases)
	}
	if snap.Crashes != 2 {
		t.Fatalf("Crashes = %d, want 2", snap.Crashes)
	}
	if snap.UCrashes != 1 {
		t.Fatalf("UCrashes = %d, want 1", snap.UCrashes)
	}
	if snap.Coverage != 2 || snap.CmpCov != 1 {
		t.Fatalf("Coverage/CmpCov = %d/%d, want 2/1", snap.Coverage, snap.CmpCov)
	}
	if snap.InstrCount != 160 {
		t.Fatalf("InstrCount = %d, want 160", snap.InstrCount)
	}
}

func TestReporterPostsSnapshotJSON(t *testing.T) {
	rvlog.L = rvlog.NewNop()
	var gotBody Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			t.Errorf("path = %s, want /stats", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New()
	s.AddCase(5, false, false, false, 1, 0)
	addr := srv.Listener.Addr().String()
	r := NewReporter(s, addr)

	stop := make(chan struct{})
	go r.Run(20*time.Millisecond, stop)
	time.Sleep(80 * time.Millisecond)
	close(stop)

	if gotBody.TotalCases != 1 {
		t.Fatalf("telemetry body TotalCases = %d, want 1", gotBody.TotalCases)
	}
}
