package main

import (
	"net"
	"os"
	"testing"
)

func TestReapPortZeroIsNoop(t *testing.T) {
	reapPort(0, nil)
	reapPort(-1, nil)
}

func TestListeningPidsFreePort(t *testing.T) {
	if !isCommandAvailable("lsof") {
		t.Skip("lsof not available")
	}

	// Grab a port, then free it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if pids := listeningPids(port); len(pids) != 0 {
		t.Errorf("expected no listeners on freed port %d, got %v", port, pids)
	}
}

func TestListeningPidsFindsOwnListener(t *testing.T) {
	if !isCommandAvailable("lsof") {
		t.Skip("lsof not available")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	pids := listeningPids(port)
	found := false
	for _, pid := range pids {
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Errorf("expected own PID %d among listeners on port %d, got %v", os.Getpid(), port, pids)
	}
}

func TestReapPortSkipsOwnProcess(t *testing.T) {
	if !isCommandAvailable("lsof") {
		t.Skip("lsof not available")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	// The reaper must never signal the test process itself
	reapPort(port, nil)

	if !isProcessAlive(os.Getpid()) {
		t.Fatal("unreachable")
	}
}
