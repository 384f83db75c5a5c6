package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Capture file names for the three stages.
const (
	pytestLogName = "pytest.log"
	kpisLogName   = "uat_kpis.log"
	tabsLogName   = "uat_tabs.log"

	summaryFileName = "run_summary.json"

	logTailLines = 20
)

// runPipeline executes the whole UAT pipeline and returns the process exit
// code. The sequence is strictly linear: reap the port, launch the app, wait
// for readiness, run the three stages, extract payloads, write the summary.
// The cleanup coordinator wraps all of it so the launched server dies on
// every exit path.
func runPipeline(cfg *RunConfig) int {
	cleanup := NewCleanupCoordinator()
	defer cleanup.Cleanup()

	logger, err := NewRunLogger(cfg.LogsDir, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	cleanup.SetLogger(logger)

	lock := NewLockFile(cfg.ProjectRoot)
	if err := lock.Acquire(cfg.Port, cfg.URL); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cleanup.SetLock(lock)

	// Signals go through the same guarantor as normal exits
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\n\nInterrupted. Cleaning up and exiting...")
		cleanup.Cleanup()
		os.Exit(130)
	}()

	start := time.Now()
	git := NewGitInfo(cfg.ProjectRoot)
	revision := git.Revision()

	logger.RunStart(cfg.URL, cfg.Ledger, cfg.Port)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(" uatrun - UAT Pipeline")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf(" URL:     %s\n", cfg.URL)
	fmt.Printf(" Ledger:  %s\n", cfg.Ledger)
	if revision != "" {
		fmt.Printf(" Commit:  %s\n", revision)
	}
	if logger.LogPath() != "" {
		fmt.Printf(" Run:     #%d (events: %s)\n", logger.RunNumber(), logger.LogPath())
	}
	fmt.Println(strings.Repeat("=", 60))

	reapPort(cfg.Port, logger)

	logger.LogPrintln("Launching app server...")
	server, err := StartAppServer(cfg)
	if err != nil {
		logger.Error("failed to launch app server", err)
		fmt.Fprintf(os.Stderr, "Failed to launch app server: %v\n", err)
		logger.RunEnd(false, "server launch failed")
		return 1
	}
	cleanup.SetServer(server)
	logger.ServerStart(cfg.serverCommand(), server.Pid())

	probeURL := readinessURL(cfg.URL)
	logger.LogPrint("Waiting for app at %s (timeout %s)...\n", probeURL, FormatDuration(cfg.StartupTimeout))
	waitStart := time.Now()
	poller := NewReadinessPoller()
	if !poller.Wait(probeURL, cfg.StartupTimeout) {
		logger.Error("app never became reachable", nil)
		fmt.Fprintf(os.Stderr, "App did not become reachable at %s within %s\n", probeURL, cfg.StartupTimeout)
		printLogTail("app server", server.LogTail(logTailLines))
		logger.RunEnd(false, "startup timeout")
		return 1
	}
	logger.ServerReady(probeURL, time.Since(waitStart))
	logger.LogPrint("App ready after %s\n", FormatDuration(time.Since(waitStart)))

	// The ledger is a hard precondition for every stage
	if !fileExists(cfg.Ledger) {
		logger.Error("ledger file missing", fmt.Errorf("not found: %s", cfg.Ledger))
		fmt.Fprintf(os.Stderr, "Ledger file not found: %s\n", cfg.Ledger)
		logger.RunEnd(false, "ledger missing")
		return 1
	}

	// Stages run strictly in order; a failing stage never skips the rest
	var pytest, uat, tabs *StageResult

	if cfg.SkipUnitTests {
		logger.LogPrintln("Skipping unit tests (--skip-unit-tests)")
	} else {
		r := executeStage(cfg, logger, "pytest", cfg.Stages.Pytest, pytestLogName)
		pytest = &r
	}

	kpis := executeStage(cfg, logger, "uat", cfg.Stages.UAT, kpisLogName)
	kpis.Payload = extractPayload(kpis.Output)
	logger.PayloadExtracted("uat", kpis.Payload != nil)
	if kpis.Payload == nil {
		logger.Warning("no JSON payload found in uat stage output")
	}
	uat = &kpis

	smoke := executeStage(cfg, logger, "tabs", cfg.Stages.Tabs, tabsLogName)
	smoke.Payload = extractPayload(smoke.Output)
	logger.PayloadExtracted("tabs", smoke.Payload != nil)
	if smoke.Payload == nil {
		logger.Warning("no JSON payload found in tabs stage output")
	}
	tabs = &smoke

	end := time.Now()
	summary := buildRunSummary(cfg, revision, pytest, uat, tabs, start, end)
	summaryPath := filepath.Join(cfg.LogsDir, summaryFileName)
	if err := AtomicWriteJSON(summaryPath, summary); err != nil {
		logger.Error("failed to write run summary", err)
		fmt.Fprintf(os.Stderr, "Failed to write run summary: %v\n", err)
	} else {
		logger.SummaryWritten(summaryPath, summary.OverallSuccess)
	}

	fmt.Println()
	fmt.Print(FormatRunSummary(summary))

	for _, r := range []*StageResult{pytest, uat, tabs} {
		if r != nil {
			printLogTail(r.Name, tailLines(r.Output, logTailLines))
		}
	}

	logger.RunEnd(summary.OverallSuccess, fmt.Sprintf("summary: %s", summaryPath))

	if !summary.OverallSuccess {
		return 1
	}
	return 0
}

// executeStage runs one stage with the shared environment and logs it.
func executeStage(cfg *RunConfig, logger *RunLogger, name, cmdStr, logName string) StageResult {
	logPath := filepath.Join(cfg.LogsDir, logName)
	timeout := time.Duration(cfg.Stages.Timeout) * time.Second

	logger.StageStart(name, cmdStr)
	logger.LogPrint("Stage %s: %s\n", name, cmdStr)

	result := runStage(name, cfg.ProjectRoot, cmdStr, logPath, cfg.stageEnv(), timeout)

	logger.StageEnd(name, result.ExitCode, logPath)
	if result.Passed() {
		logger.LogPrint("Stage %s passed (%s)\n", name, FormatDuration(result.Duration))
	} else {
		logger.LogPrint("Stage %s FAILED with exit %d (%s)\n", name, result.ExitCode, FormatDuration(result.Duration))
	}

	return result
}

// printLogTail prints the trailing lines of a capture for diagnosability.
func printLogTail(name, tail string) {
	tail = strings.TrimRight(tail, "\n")
	if tail == "" {
		return
	}
	fmt.Printf("\n--- %s (last %d lines) ---\n", name, logTailLines)
	fmt.Println(tail)
}
