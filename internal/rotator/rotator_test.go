package rotator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"alkemi.dev/ipveil/internal/pool"
	"alkemi.dev/ipveil/internal/trafficlog"
	"alkemi.dev/ipveil/pkg/ipveil"
)

func seed(t *testing.T, p *pool.Pool, addr string, latency time.Duration) {
	t.Helper()

	c, err := ipveil.ParseCandidate(addr, "test")
	if err != nil {
		t.Fatalf("candidate %s: %s", addr, err)
	}

	p.Upsert(ipveil.ProxyRecord{Candidate: c, Latency: latency, LastCheckedAt: time.Now()})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestStartPromotesInitialUpstream(t *testing.T) {
	p := pool.New(pool.Options{})

	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)
	seed(t, p, "10.0.0.2:8080", 20*time.Millisecond)

	r := New(p, nil, Options{Interval: time.Hour})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	defer r.Stop()

	waitFor(t, "initial promotion", func() bool {
		return p.Active() != nil
	})

	if got := p.Active().Address(); got != "10.0.0.1:8080" {
		t.Errorf("active = %s, want the fastest", got)
	}

	waitFor(t, "stable state", func() bool {
		return r.State() == StateStable
	})

	entries := r.History().Entries()
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}

	if entries[0].Reason != ReasonManual || entries[0].To != "10.0.0.1:8080" {
		t.Errorf("unexpected first rotation: %+v", entries[0])
	}
}

func TestStaleFailureReportDoesNotRotate(t *testing.T) {
	p := pool.New(pool.Options{})

	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)
	seed(t, p, "10.0.0.2:8080", 20*time.Millisecond)

	r := New(p, nil, Options{Interval: time.Hour})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	defer r.Stop()

	waitFor(t, "initial promotion", func() bool {
		return p.Active() != nil
	})

	// A report about an address that was never promoted must be ignored.
	r.ReportUpstreamFailure("10.0.0.2:8080")

	time.Sleep(100 * time.Millisecond)

	if got := p.Active().Address(); got != "10.0.0.1:8080" {
		t.Errorf("stale report moved the pointer to %s", got)
	}

	if got := len(r.History().Entries()); got != 1 {
		t.Errorf("history has %d entries, want 1", got)
	}
}

func TestFailureReportRotatesAway(t *testing.T) {
	p := pool.New(pool.Options{DeadThreshold: 3})

	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)
	seed(t, p, "10.0.0.2:8080", 20*time.Millisecond)

	r := New(p, nil, Options{Interval: time.Hour})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	defer r.Stop()

	waitFor(t, "initial promotion", func() bool {
		a := p.Active()
		return a != nil && a.Address() == "10.0.0.1:8080"
	})

	// One failed session degrades the active upstream, then the reactive
	// report swaps to the remaining healthy one.
	p.ReportFailure("10.0.0.1:8080")
	r.ReportUpstreamFailure("10.0.0.1:8080")

	waitFor(t, "reactive rotation", func() bool {
		a := p.Active()
		return a != nil && a.Address() == "10.0.0.2:8080"
	})

	entries := r.History().Entries()
	last := entries[len(entries)-1]

	if last.Reason != ReasonUpstreamFailure || last.From != "10.0.0.1:8080" || last.To != "10.0.0.2:8080" {
		t.Errorf("unexpected rotation event: %+v", last)
	}
}

func TestExhaustedPoolRetries(t *testing.T) {
	p := pool.New(pool.Options{})

	r := New(p, nil, Options{Interval: time.Hour, Backoff: 30 * time.Millisecond})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	defer r.Stop()

	// Give the initial selection time to fail and arm the backoff.
	time.Sleep(150 * time.Millisecond)

	if r.State() != StateIdle {
		t.Fatalf("state = %s, want %s", r.State(), StateIdle)
	}

	// A candidate arriving between retries gets picked up by the next one.
	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)

	waitFor(t, "retry promotion", func() bool {
		return p.Active() != nil
	})

	entries := r.History().Entries()
	if len(entries) == 0 || entries[len(entries)-1].Reason != ReasonRetry {
		t.Errorf("expected a retry rotation, history: %+v", entries)
	}
}

func TestRepeatSelectionStaysPut(t *testing.T) {
	p := pool.New(pool.Options{})

	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)

	r := New(p, nil, Options{Interval: time.Hour})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	defer r.Stop()

	waitFor(t, "initial promotion", func() bool {
		return p.Active() != nil
	})

	// Re-selecting the same upstream is not a rotation.
	r.Trigger(ReasonManual)

	time.Sleep(100 * time.Millisecond)

	if got := len(r.History().Entries()); got != 1 {
		t.Errorf("history has %d entries, want 1", got)
	}

	if r.State() != StateStable {
		t.Errorf("state = %s, want %s", r.State(), StateStable)
	}
}

func TestRotationEventsReachTrafficLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.log")

	tl := trafficlog.New(path, nil)

	p := pool.New(pool.Options{})
	seed(t, p, "10.0.0.1:8080", 10*time.Millisecond)

	r := New(p, tl, Options{Interval: time.Hour})

	if err := r.Start(); err != nil {
		t.Fatalf("start: %s", err)
	}

	waitFor(t, "initial promotion", func() bool {
		return p.Active() != nil
	})

	r.Stop()
	tl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %s", err)
	}

	if len(data) == 0 {
		t.Error("rotation never reached the traffic log")
	}
}

func TestHistoryTrimAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	h := NewHistory(path, 3)

	for i, id := range []string{"r-1", "r-2", "r-3", "r-4", "r-5"} {
		h.Append(trafficlog.Rotation{ID: id, At: time.Now().Add(time.Duration(i) * time.Second), Reason: ReasonInterval})
	}

	entries := h.Entries()
	if len(entries) != 3 {
		t.Fatalf("kept %d entries, want 3", len(entries))
	}

	if entries[0].ID != "r-3" || entries[2].ID != "r-5" {
		t.Errorf("wrong entries survived the trim: %+v", entries)
	}

	reloaded := NewHistory(path, 3).Entries()
	if len(reloaded) != 3 || reloaded[2].ID != "r-5" {
		t.Errorf("reload lost the trail: %+v", reloaded)
	}
}

func TestHistoryIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %s", err)
	}

	if got := NewHistory(path, 3).Entries(); len(got) != 0 {
		t.Errorf("corrupt file produced entries: %+v", got)
	}
}
