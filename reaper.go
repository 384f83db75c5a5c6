package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// reapPort terminates anything still listening on the target TCP port so the
// fresh server can bind it. This is what makes reruns idempotent after a
// crashed or abandoned pipeline. Entirely best-effort: discovery failures
// and kill errors are swallowed.
func reapPort(port int, logger *RunLogger) {
	if port <= 0 {
		return
	}

	pids := listeningPids(port)
	if len(pids) == 0 {
		return
	}

	for _, pid := range pids {
		if pid == os.Getpid() {
			continue
		}
		if logger != nil {
			logger.PortReaped(port, pid)
			logger.LogPrint("Reaping PID %d on port %d\n", pid, port)
		}
		syscall.Kill(pid, syscall.SIGTERM)
	}

	// Grace window, then force anything still holding the port
	time.Sleep(500 * time.Millisecond)
	for _, pid := range pids {
		if pid != os.Getpid() && isProcessAlive(pid) {
			syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}

// listeningPids finds processes listening on the TCP port via lsof.
func listeningPids(port int) []int {
	out, err := exec.Command("lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port), "-s", "TCP:LISTEN").Output()
	if err != nil {
		// lsof missing or no listeners; either way there is nothing to reap
		return nil
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}
