package rotator

import (
	"encoding/json"
	"os"
	"slices"
	"sync"

	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/internal/trafficlog"
)

// DefaultHistoryMax bounds the persisted rotation trail.
const DefaultHistoryMax = 50

// History keeps the most recent rotation events, persisted as JSON so
// companion tooling can show where traffic has been going.
type History struct {
	mu      sync.Mutex
	path    string
	max     int
	entries []trafficlog.Rotation
}

func NewHistory(path string, max int) *History {
	if max <= 0 {
		max = DefaultHistoryMax
	}

	h := &History{path: path, max: max}
	h.load()

	return h
}

func (h *History) load() {
	if h.path == "" {
		return
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		return
	}

	if err := json.Unmarshal(data, &h.entries); err != nil {
		gologger.Debug().Msgf("history unreadable, starting fresh: %s", err)
		h.entries = nil

		return
	}

	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Append records an event, trims to the cap, and persists. Persistence
// failures are logged and swallowed; the in-memory trail stays usable.
func (h *History) Append(r trafficlog.Rotation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, r)

	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}

	if h.path == "" {
		return
	}

	data, err := json.MarshalIndent(h.entries, "", "  ")
	if err != nil {
		return
	}

	if err := os.WriteFile(h.path, data, 0644); err != nil {
		gologger.Debug().Msgf("history write failed: %s", err)
	}
}

// Entries returns a copy of the trail, oldest first.
func (h *History) Entries() []trafficlog.Rotation {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.entries)
}
