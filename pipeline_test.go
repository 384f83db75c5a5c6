package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// newPipelineConfig builds a RunConfig pointed at a ready test app: the
// launched "server" is an idle placeholder while url answers readiness.
func newPipelineConfig(t *testing.T, url string) *RunConfig {
	t.Helper()
	root := t.TempDir()

	ledger := filepath.Join(root, "qb_export.csv")
	if err := os.WriteFile(ledger, []byte("Date,Account,Amount\n"), 0644); err != nil {
		t.Fatal(err)
	}

	return &RunConfig{
		ProjectRoot:    root,
		Port:           0, // explicit URL, nothing to reap
		URL:            url,
		Ledger:         ledger,
		StartupTimeout: 10 * time.Second,
		Server:         ServerConfig{Start: "sleep 30"},
		Stages: StagesConfig{
			Pytest:  "true",
			UAT:     `echo '{"uat_payload":{"dashboard_metrics":{"revenue":100}}}'`,
			Tabs:    `echo '{"tabs":{"FORECAST":"OK"}}'`,
			Timeout: 30,
		},
		Logging: &LoggingConfig{Enabled: true, MaxRuns: 10},
		LogsDir: filepath.Join(root, "logs"),
	}
}

func readSummary(t *testing.T, cfg *RunConfig) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.LogsDir, summaryFileName))
	if err != nil {
		t.Fatalf("run summary not written: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("run summary not valid JSON: %v", err)
	}
	return summary
}

func TestRunPipelineSuccess(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)
	if code := runPipeline(cfg); code != 0 {
		t.Fatalf("pipeline exit = %d, want 0", code)
	}

	summary := readSummary(t, cfg)
	if summary["overall_success"] != true {
		t.Errorf("overall_success = %v", summary["overall_success"])
	}
	if summary["pytest_status"] != "pass" || summary["uat_status"] != "pass" || summary["tabs_status"] != "pass" {
		t.Errorf("stage statuses = %v / %v / %v",
			summary["pytest_status"], summary["uat_status"], summary["tabs_status"])
	}

	payload, ok := summary["uat_payload"].(map[string]any)
	if !ok {
		t.Fatal("uat_payload missing from summary")
	}
	if _, present := payload["dashboard_metrics"]; !present {
		t.Errorf("extracted payload should be unwrapped, got %v", payload)
	}

	tabs, ok := summary["tabs"].(map[string]any)
	if !ok || tabs["FORECAST"] != "OK" {
		t.Errorf("tabs payload = %v", summary["tabs"])
	}

	// Stage logs land under logs/
	for _, name := range []string{pytestLogName, kpisLogName, tabsLogName} {
		if !fileExists(filepath.Join(cfg.LogsDir, name)) {
			t.Errorf("missing stage log %s", name)
		}
	}

	// Lock released on the way out
	if info, _ := ReadLockStatus(cfg.ProjectRoot); info != nil {
		t.Errorf("lock still held after run: %+v", info)
	}
}

func TestRunPipelineFailingStageRunsRemaining(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)
	cfg.Stages.Pytest = "exit 3"

	if code := runPipeline(cfg); code != 1 {
		t.Fatalf("pipeline exit = %d, want 1", code)
	}

	summary := readSummary(t, cfg)
	if summary["overall_success"] != false {
		t.Error("run with a failed stage must not succeed")
	}
	if summary["pytest_status"] != "fail" {
		t.Errorf("pytest_status = %v", summary["pytest_status"])
	}
	// Later stages still ran
	if summary["uat_status"] != "pass" || summary["tabs_status"] != "pass" {
		t.Errorf("later stages should still run: uat=%v tabs=%v",
			summary["uat_status"], summary["tabs_status"])
	}

	codes, ok := summary["exit_codes"].(map[string]any)
	if !ok {
		t.Fatal("exit_codes missing")
	}
	if codes["pytest"] != 3.0 {
		t.Errorf("pytest exit code = %v, want 3", codes["pytest"])
	}
}

func TestRunPipelineSkipUnitTests(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)
	cfg.SkipUnitTests = true
	cfg.Stages.Pytest = "exit 1" // must never run

	if code := runPipeline(cfg); code != 0 {
		t.Fatalf("pipeline exit = %d, want 0", code)
	}

	summary := readSummary(t, cfg)
	if summary["pytest_status"] != "skipped" {
		t.Errorf("pytest_status = %v, want skipped", summary["pytest_status"])
	}
	if summary["overall_success"] != true {
		t.Error("skipped unit tests must not fail the run")
	}
	if fileExists(filepath.Join(cfg.LogsDir, pytestLogName)) {
		t.Error("skipped stage should leave no log")
	}
}

func TestRunPipelineMissingLedgerStillStopsServer(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)
	os.Remove(cfg.Ledger)

	// The placeholder server records its PID so the test can observe it
	pidFile := filepath.Join(cfg.ProjectRoot, "server.pid")
	cfg.Server.Start = fmt.Sprintf("echo $$ > %s; exec sleep 30", pidFile)

	if code := runPipeline(cfg); code != 1 {
		t.Fatalf("pipeline exit = %d, want 1", code)
	}

	// No stage ran
	if fileExists(filepath.Join(cfg.LogsDir, pytestLogName)) {
		t.Error("no stage should run when the ledger is missing")
	}
	if fileExists(filepath.Join(cfg.LogsDir, summaryFileName)) {
		t.Error("aborted run should write no summary")
	}

	// The launched server must still be terminated
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("server never wrote its pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("bad pid file: %v", err)
	}
	if isProcessAlive(pid) {
		t.Errorf("server PID %d still alive after aborted run", pid)
	}
}

func TestRunPipelineStartupTimeout(t *testing.T) {
	// A server that only ever answers 500 never counts as ready
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)
	cfg.StartupTimeout = 1 * time.Second

	if code := runPipeline(cfg); code != 1 {
		t.Fatalf("pipeline exit = %d, want 1", code)
	}
	if fileExists(filepath.Join(cfg.LogsDir, summaryFileName)) {
		t.Error("startup timeout should write no summary")
	}

	// The event log records the failed run
	runs, err := ListRunLogs(cfg.LogsDir)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run log, got %d (err %v)", len(runs), err)
	}
	if runs[0].Success == nil || *runs[0].Success {
		t.Error("run log should record failure")
	}
}

func TestRunPipelineLockBlocksConcurrentRun(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	cfg := newPipelineConfig(t, app.URL)

	holder := NewLockFile(cfg.ProjectRoot)
	if err := holder.Acquire(8501, "http://localhost:8501"); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	if code := runPipeline(cfg); code != 1 {
		t.Fatalf("pipeline exit = %d, want 1 while lock held", code)
	}
	if fileExists(filepath.Join(cfg.LogsDir, summaryFileName)) {
		t.Error("blocked run should write no summary")
	}
}
