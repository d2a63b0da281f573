package trafficlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mbndr/logo"
)

func TestWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.log")

	l := New(path, nil)

	started := time.Now().Add(-time.Second)

	l.Record(Session{
		ID:             "s-1",
		ClientAddr:     "127.0.0.1:51234",
		Upstream:       "10.0.0.1:8080",
		UpstreamScheme: "http",
		Target:         "example.com:443",
		StartedAt:      started,
		EndedAt:        time.Now(),
		BytesIn:        512,
		BytesOut:       2048,
		Outcome:        OutcomeOK,
	})
	l.RecordRotation(Rotation{
		ID:     "r-1",
		At:     time.Now(),
		Reason: "interval",
		From:   "10.0.0.1:8080",
		To:     "10.0.0.2:8080",
	})

	l.Close()

	if got := l.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %s", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), data)
	}

	var session map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &session); err != nil {
		t.Fatalf("line 1 is not JSON: %s", err)
	}

	if session["schema"] != float64(SchemaVersion) {
		t.Errorf("schema = %v, want %d", session["schema"], SchemaVersion)
	}

	if session["type"] != "session" || session["id"] != "s-1" {
		t.Errorf("unexpected session entry: %v", session)
	}

	if session["bytes_in"] != float64(512) || session["bytes_out"] != float64(2048) {
		t.Errorf("byte counts lost: %v", session)
	}

	if session["outcome"] != string(OutcomeOK) {
		t.Errorf("outcome = %v, want %s", session["outcome"], OutcomeOK)
	}

	var rotation map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rotation); err != nil {
		t.Fatalf("line 2 is not JSON: %s", err)
	}

	if rotation["type"] != "rotation" || rotation["reason"] != "interval" {
		t.Errorf("unexpected rotation entry: %v", rotation)
	}

	if rotation["to"] != "10.0.0.2:8080" {
		t.Errorf("rotation target lost: %v", rotation)
	}
}

func TestUnopenableSinkCountsDrops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "traffic.log")

	l := New(path, nil)

	for i := 0; i < 3; i++ {
		l.Record(Session{ID: "s", Outcome: OutcomeOK})
	}

	l.Close()

	if got := l.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.log")

	l := New(path, nil)
	l.Close()

	l.Record(Session{ID: "late", Outcome: OutcomeClientClosed})

	if got := l.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %s", err)
	}

	if len(data) != 0 {
		t.Errorf("late record reached the sink: %q", data)
	}
}

func TestDisabledLoggerIsInert(t *testing.T) {
	l := New("", nil)

	l.Record(Session{ID: "s", Outcome: OutcomeOK})
	l.Close()

	if got := l.Dropped(); got != 0 {
		t.Errorf("dropped = %d, want 0", got)
	}
}

func TestMirrorSummaryLine(t *testing.T) {
	var buf bytes.Buffer

	rec := logo.NewReceiver(&buf, "test")
	rec.Color = false
	rec.Level = logo.INFO

	l := New("", logo.NewLogger(rec))

	l.Record(Session{
		ID:         "s-9",
		ClientAddr: "127.0.0.1:40000",
		Upstream:   "10.0.0.1:8080",
		BytesIn:    7,
		BytesOut:   9,
		Outcome:    OutcomeOK,
	})

	l.Close()

	out := buf.String()

	for _, want := range []string{"session s-9", "upstream=10.0.0.1:8080", "in=7", "out=9", "outcome=ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("mirror line missing %q:\n%s", want, out)
		}
	}
}
