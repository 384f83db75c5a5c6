package main

import (
	"testing"
	"time"
)

func TestCleanupCoordinatorIdempotent(t *testing.T) {
	c := NewCleanupCoordinator()

	c.Cleanup()
	c.Cleanup()
	c.Cleanup()
}

func TestCleanupCoordinatorWithNilResources(t *testing.T) {
	c := NewCleanupCoordinator()

	c.SetServer(nil)
	c.SetLogger(nil)
	c.SetLock(nil)

	c.Cleanup()
}

func TestCleanupCoordinator_StopsRunningServer(t *testing.T) {
	cfg := testServerConfig(t, "sleep 30")
	server, err := StartAppServer(cfg)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	pid := server.Pid()
	if pid <= 0 {
		t.Fatal("expected positive pid")
	}

	c := NewCleanupCoordinator()
	c.SetServer(server)
	c.Cleanup()

	if isProcessAlive(pid) {
		t.Errorf("expected PID %d terminated after cleanup", pid)
	}

	// Second cleanup must not touch the already-released server
	c.Cleanup()
}

func TestCleanupCoordinator_AlreadyExitedServer(t *testing.T) {
	cfg := testServerConfig(t, "true")
	server, err := StartAppServer(cfg)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Let the short-lived process exit on its own; it stays a zombie until
	// Stop reaps it, which Cleanup must handle without hanging.
	time.Sleep(200 * time.Millisecond)

	c := NewCleanupCoordinator()
	c.SetServer(server)
	c.Cleanup()
}
