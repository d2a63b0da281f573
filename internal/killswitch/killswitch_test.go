package killswitch

import (
	"testing"
	"time"
)

func TestPermitWhileUpstreamPresent(t *testing.T) {
	k := New(0)
	k.SetEmpty(false)

	if !k.Permit() {
		t.Error("session denied while an upstream is active")
	}

	if k.State() != Armed {
		t.Errorf("state = %s, want %s", k.State(), Armed)
	}
}

func TestZeroGraceDeniesInstantly(t *testing.T) {
	k := New(0)

	if k.Permit() {
		t.Error("zero grace must deny while empty")
	}

	if k.State() != Tripped {
		t.Errorf("state = %s, want %s", k.State(), Tripped)
	}
}

func TestGraceWindowStaysOptimistic(t *testing.T) {
	k := New(time.Hour)

	// Empty from construction, but the outage is younger than the grace.
	if !k.Permit() {
		t.Error("session denied inside the grace window")
	}
}

func TestTripsAfterGraceElapses(t *testing.T) {
	k := New(20 * time.Millisecond)
	k.SetEmpty(false)
	k.SetEmpty(true)

	if !k.Permit() {
		t.Fatal("denied before the grace elapsed")
	}

	time.Sleep(40 * time.Millisecond)

	if k.Permit() {
		t.Error("still permitting after the grace elapsed")
	}
}

func TestReArmsInstantly(t *testing.T) {
	k := New(0)

	if k.Permit() {
		t.Fatal("expected the tripped state to start from")
	}

	k.SetEmpty(false)

	if !k.Permit() {
		t.Error("no instant re-arm on upstream recovery")
	}
}

func TestRepeatedEmptyReportsKeepOutageStart(t *testing.T) {
	k := New(50 * time.Millisecond)
	k.SetEmpty(false)
	k.SetEmpty(true)

	time.Sleep(30 * time.Millisecond)

	// A second empty report must not restart the window.
	k.SetEmpty(true)

	time.Sleep(30 * time.Millisecond)

	if k.Permit() {
		t.Error("re-reporting empty extended the grace window")
	}
}
