package processmgr

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSpawnHarvestReturnsOutputAfterExit(t *testing.T) {
	m := New()
	defer m.Close()

	id, err := m.Spawn(context.Background(), "echo", "", "hello")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	stdout, _, exited, exitCode, err := m.Harvest(id, true, 2*time.Second)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if !exited {
		t.Fatalf("expected process to have exited")
	}
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if !strings.Contains(stdout, "hello") {
		t.Fatalf("expected stdout to contain %q, got %q", "hello", stdout)
	}
}

func TestKillUnknownProcessErrors(t *testing.T) {
	m := New()
	defer m.Close()

	if _, err := m.Kill("does-not-exist"); err == nil {
		t.Fatalf("expected error killing unknown process")
	}
}

func TestKillRunningProcessStopsIt(t *testing.T) {
	m := New()
	defer m.Close()

	id, err := m.Spawn(context.Background(), "sleep", "", "30")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if !m.IsRunning(id) {
		t.Fatalf("expected process to be running immediately after spawn")
	}

	res, err := m.Kill(id)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !res.Killed {
		t.Fatalf("expected Killed=true")
	}

	if _, err := m.Kill(id); err == nil {
		t.Fatalf("expected second Kill on already-stopped process to error")
	}
}

func TestListIncludesSpawnedProcess(t *testing.T) {
	m := New()
	defer m.Close()

	id, err := m.Spawn(context.Background(), "echo", "", "x")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	snapshots := m.List()
	found := false
	for _, s := range snapshots {
		if s.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected List to include spawned process %q", id)
	}
}

func TestNonBlockingHarvestOfRunningProcessDoesNotBlock(t *testing.T) {
	m := New()
	defer m.Close()

	id, err := m.Spawn(context.Background(), "sleep", "", "30")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer m.Kill(id)

	start := time.Now()
	_, _, exited, _, err := m.Harvest(id, false, 5*time.Second)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if exited {
		t.Fatalf("expected exited=false for still-running process")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("non-blocking harvest took too long: %v", time.Since(start))
	}
}
