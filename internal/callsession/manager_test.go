package callsession

import (
	"context"
	"testing"

	"golang.org/x/time/rate"

	"github.com/sipaivoice/bridge/internal/events"
)

func testManager(t *testing.T, maxConcurrent int) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Session:            DefaultConfig(),
		MaxConcurrentCalls: maxConcurrent,
		PublicIP:           "198.51.100.1",
		RTPPortMin:         20000,
		RTPPortMax:         20010,
		InviteRate:         rate.Inf,
	}
	return NewManager(context.Background(), cfg, testLogger(), events.NewBus(), nil)
}

func TestAdmitRefusesBeyondMaxConcurrentCalls(t *testing.T) {
	m := testManager(t, 1)
	sess := newSession("existing-call", DefaultConfig(), testLogger(), events.NewBus(), nil)
	m.directory.Register("existing-call", sess)
	m.active["existing-call"] = struct{}{}

	if err := m.admit(); err == nil {
		t.Fatal("expected admission to be refused once at the concurrency ceiling")
	}
}

func TestAdmitAllowsUnderCeiling(t *testing.T) {
	m := testManager(t, 5)
	if err := m.admit(); err != nil {
		t.Fatalf("expected admission to succeed, got %v", err)
	}
}

func TestAllocatePortWrapsAround(t *testing.T) {
	m := testManager(t, 10)
	seen := make(map[int]bool)
	for i := 0; i < 11; i++ {
		seen[m.allocatePort()] = true
	}
	if len(seen) != 11 {
		t.Fatalf("expected 11 distinct ports across the wraparound, got %d", len(seen))
	}
	if p := m.allocatePort(); p != m.cfg.RTPPortMin {
		t.Fatalf("expected port allocation to wrap back to RTPPortMin, got %d", p)
	}
}

func TestOnSessionTerminatedRemovesFromTable(t *testing.T) {
	m := testManager(t, 5)
	sess := newSession("gone", DefaultConfig(), testLogger(), events.NewBus(), nil)
	m.directory.Register("gone", sess)
	m.active["gone"] = struct{}{}

	m.onSessionTerminated("gone")

	if _, ok := m.directory.Lookup("gone"); ok {
		t.Fatal("expected session to be removed from the directory")
	}
	if _, ok := m.active["gone"]; ok {
		t.Fatal("expected session to be removed from the active table")
	}
}
