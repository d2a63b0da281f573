package ipveil

import "time"

// Status is the pool health state of a record.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDead     Status = "dead"
)

// ProxyRecord is a validated pool member. The pool owns the canonical copy;
// records handed out of the pool are value snapshots.
type ProxyRecord struct {
	Candidate           ProxyCandidate
	Latency             time.Duration
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	Status              Status

	// Exit metadata reported by the echo endpoint.
	ExitIP  string
	Country string
	City    string
}

// Address is the record's pool key.
func (r ProxyRecord) Address() string { return r.Candidate.Address }

// Selectable reports whether the record may carry new sessions. Degraded
// records are held back until re-validated; dead records never qualify.
func (r ProxyRecord) Selectable() bool { return r.Status == StatusHealthy }
