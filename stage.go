package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Exit codes synthesized when a stage cannot report its own.
const (
	spawnFailureExitCode = 127
	timeoutExitCode      = 124
)

// stageErrorPrefix marks synthesized error lines in stage logs.
const stageErrorPrefix = "STAGE_ERROR:"

// StageResult records the outcome of one external test stage. Immutable
// after the stage finishes; the summary builder only reads it.
type StageResult struct {
	Name     string
	Command  string
	ExitCode int
	Output   string
	Payload  map[string]any
	Duration time.Duration
}

// Passed reports whether the stage exited zero.
func (r *StageResult) Passed() bool {
	return r.ExitCode == 0
}

// runStage executes cmdStr via sh -c with stdout and stderr merged into a
// single stream that goes to both logPath and memory, so the on-disk capture
// and the in-memory copy interleave identically. A failure to even invoke
// the command is downgraded to a sentinel line plus a synthesized exit code:
// one broken stage must never stop the stages after it.
func runStage(name, dir, cmdStr, logPath string, env []string, timeout time.Duration) StageResult {
	start := time.Now()
	result := StageResult{Name: name, Command: cmdStr}

	logFile, err := os.Create(logPath)
	if err != nil {
		result.Output = fmt.Sprintf("%s cannot create log file %s: %v\n", stageErrorPrefix, logPath, err)
		result.ExitCode = spawnFailureExitCode
		result.Duration = time.Since(start)
		return result
	}
	defer logFile.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var buf bytes.Buffer
	sink := io.MultiWriter(&buf, logFile)
	// One writer for both streams keeps the merge chronological
	cmd.Stdout = sink
	cmd.Stderr = sink

	runErr := cmd.Run()
	result.Output = buf.String()
	result.Duration = time.Since(start)

	switch {
	case runErr == nil:
		result.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		line := fmt.Sprintf("%s timed out after %s\n", stageErrorPrefix, timeout)
		fmt.Fprint(logFile, line)
		result.Output += line
		result.ExitCode = timeoutExitCode
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			line := fmt.Sprintf("%s %v\n", stageErrorPrefix, runErr)
			fmt.Fprint(logFile, line)
			result.Output += line
			result.ExitCode = spawnFailureExitCode
		}
	}

	return result
}
