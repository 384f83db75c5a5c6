package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func stageLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "stage.log")
}

func TestRunStage_Success(t *testing.T) {
	logPath := stageLogPath(t)

	result := runStage("test", t.TempDir(), "echo out; echo err >&2", logPath, nil, time.Minute)
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
	if !result.Passed() {
		t.Error("expected Passed()=true")
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "err") {
		t.Errorf("expected merged stdout+stderr, got %q", result.Output)
	}

	// On-disk capture matches the in-memory copy
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if string(data) != result.Output {
		t.Errorf("log file %q differs from output %q", data, result.Output)
	}
}

func TestRunStage_NonZeroExit(t *testing.T) {
	result := runStage("test", t.TempDir(), "exit 3", stageLogPath(t), nil, time.Minute)
	if result.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", result.ExitCode)
	}
	if result.Passed() {
		t.Error("expected Passed()=false")
	}
}

func TestRunStage_CommandNotFound(t *testing.T) {
	result := runStage("test", t.TempDir(), "definitely-not-a-real-command-xyz", stageLogPath(t), nil, time.Minute)
	// The shell reports 127 for an unknown command
	if result.ExitCode != 127 {
		t.Errorf("expected exit 127, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "not found") && !strings.Contains(result.Output, "not-a-real-command") {
		t.Errorf("expected shell error in output, got %q", result.Output)
	}
}

func TestRunStage_SpawnFailure(t *testing.T) {
	logPath := stageLogPath(t)
	badDir := filepath.Join(t.TempDir(), "does", "not", "exist")

	result := runStage("test", badDir, "echo hi", logPath, nil, time.Minute)
	if result.ExitCode != spawnFailureExitCode {
		t.Errorf("expected synthesized exit %d, got %d", spawnFailureExitCode, result.ExitCode)
	}
	if !strings.Contains(result.Output, stageErrorPrefix) {
		t.Errorf("expected sentinel line in output, got %q", result.Output)
	}

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), stageErrorPrefix) {
		t.Errorf("expected sentinel line in log file, got %q", data)
	}
}

func TestRunStage_Timeout(t *testing.T) {
	start := time.Now()
	result := runStage("test", t.TempDir(), "sleep 30", stageLogPath(t), nil, 200*time.Millisecond)
	if result.ExitCode != timeoutExitCode {
		t.Errorf("expected exit %d, got %d", timeoutExitCode, result.ExitCode)
	}
	if !strings.Contains(result.Output, "timed out") {
		t.Errorf("expected timeout sentinel, got %q", result.Output)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout stage took %v", elapsed)
	}
}

func TestRunStage_Environment(t *testing.T) {
	env := []string{"APP_URL=http://localhost:9999", "LEDGER_PATH=/tmp/test.csv"}
	result := runStage("test", t.TempDir(), `echo "$APP_URL $LEDGER_PATH"`, stageLogPath(t), env, time.Minute)
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "http://localhost:9999 /tmp/test.csv") {
		t.Errorf("expected env vars in output, got %q", result.Output)
	}
}

func TestRunStage_LogTruncatedPerRun(t *testing.T) {
	logPath := stageLogPath(t)
	os.WriteFile(logPath, []byte("stale content from a previous run\n"), 0644)

	result := runStage("test", t.TempDir(), "echo fresh", logPath, nil, time.Minute)
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "stale") {
		t.Errorf("expected log truncated, got %q", data)
	}
}

func TestTailLines(t *testing.T) {
	out := tailLines("1\n2\n3\n4\n5", 3)
	if out != "3\n4\n5" {
		t.Errorf("expected last 3 lines, got %q", out)
	}

	short := tailLines("only", 10)
	if short != "only" {
		t.Errorf("expected unchanged short output, got %q", short)
	}
}
