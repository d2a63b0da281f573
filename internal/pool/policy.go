package pool

import (
	"fmt"
	"strings"
)

// Policy selects how SelectBest picks among healthy records.
type Policy string

const (
	PolicyLowestLatency Policy = "lowest-latency"
	PolicyRoundRobin    Policy = "round-robin"
	PolicyRandom        Policy = "random"
)

// ParsePolicy normalizes a policy name from flags or the preferences file.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyLowestLatency, "":
		return PolicyLowestLatency, nil
	case PolicyRoundRobin:
		return PolicyRoundRobin, nil
	case PolicyRandom, "random-among-healthy":
		return PolicyRandom, nil
	}

	return "", fmt.Errorf("unknown rotation policy %q", s)
}
