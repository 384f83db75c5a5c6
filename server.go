package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// serverLogName is the capture file for the launched app's output.
const serverLogName = "app_server.log"

// AppServer owns the launched dashboard server process. The pipeline holds
// exactly one of these and releases it exactly once through Stop.
type AppServer struct {
	cmd     *exec.Cmd
	logFile *os.File
	stopped bool
}

// StartAppServer launches the dashboard server in its own process group with
// stdout and stderr redirected to logs/app_server.log (truncated per run).
func StartAppServer(cfg *RunConfig) (*AppServer, error) {
	logPath := filepath.Join(cfg.LogsDir, serverLogName)
	if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create server log: %w", err)
	}

	cmd := exec.Command("sh", "-c", cfg.serverCommand())
	cmd.Dir = cfg.ProjectRoot
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// Own process group so Stop can take out children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	return &AppServer{cmd: cmd, logFile: logFile}, nil
}

// Pid returns the server's process id.
func (s *AppServer) Pid() int {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited reports whether the server process is already gone.
func (s *AppServer) Exited() bool {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return true
	}
	if s.cmd.ProcessState != nil {
		return true
	}
	return !isProcessAlive(s.cmd.Process.Pid)
}

// LogTail returns the last maxLines lines of the server's capture file.
func (s *AppServer) LogTail(maxLines int) string {
	if s == nil || s.logFile == nil {
		return ""
	}
	data, err := os.ReadFile(s.logFile.Name())
	if err != nil {
		return ""
	}
	return tailLines(string(data), maxLines)
}

// Stop terminates the server's process group. Safe on a nil server, safe to
// call more than once, and checks for an already-exited process first so a
// dead handle never errors.
func (s *AppServer) Stop() {
	if s == nil || s.cmd == nil || s.cmd.Process == nil || s.stopped {
		return
	}
	s.stopped = true
	defer s.logFile.Close()

	pid := s.cmd.Process.Pid
	if s.Exited() {
		s.cmd.Wait() // reap the zombie if we own it
		return
	}

	syscall.Kill(-pid, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case <-done:
		// process exited
	case <-time.After(5 * time.Second):
		syscall.Kill(-pid, syscall.SIGKILL)
		<-done
	}
}
