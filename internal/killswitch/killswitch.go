package killswitch

import (
	"sync"
	"time"
)

// State of the gate as shown on status surfaces.
type State string

const (
	Armed   State = "armed"
	Tripped State = "tripped"
)

// KillSwitch gates new sessions on upstream availability. While the active
// pointer is empty it stays optimistic for a grace period, long enough to
// ride out a rotation gap; past that it denies every new session rather
// than let one leak out unproxied. The moment an upstream comes back it
// re-arms, with no cool-down.
type KillSwitch struct {
	mu         sync.Mutex
	grace      time.Duration
	empty      bool
	emptySince time.Time
}

// New starts with the pointer considered empty, since nothing has been
// promoted yet at construction time.
func New(grace time.Duration) *KillSwitch {
	return &KillSwitch{
		grace:      grace,
		empty:      true,
		emptySince: time.Now(),
	}
}

// SetEmpty tracks active pointer transitions. Repeated empty reports keep
// the original outage start so the grace window cannot be extended by
// re-reporting.
func (k *KillSwitch) SetEmpty(empty bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if empty && !k.empty {
		k.empty = true
		k.emptySince = time.Now()
	} else if !empty {
		k.empty = false
	}
}

// Permit reports whether a new session may proceed.
func (k *KillSwitch) Permit() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.empty {
		return true
	}

	return time.Since(k.emptySince) < k.grace
}

// State reports armed or tripped.
func (k *KillSwitch) State() State {
	if k.Permit() {
		return Armed
	}

	return Tripped
}
