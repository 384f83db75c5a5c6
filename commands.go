package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	port := fs.Int("port", 0, "App server port (default 8501)")
	url := fs.String("url", "", "Explicit app URL (derived from port when empty)")
	ledger := fs.String("ledger", "", "Ledger CSV file for the UAT stages (default qb_export.csv)")
	timeout := fs.Int("timeout", 0, "Startup timeout in seconds (default 60)")
	skipUnit := fs.Bool("skip-unit-tests", false, "Skip the pytest stage")
	fs.Parse(args)

	projectRoot := GetProjectRoot()

	fileCfg, err := LoadUATConfig(projectRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := ResolveRunConfig(projectRoot, fileCfg, RunOverrides{
		Port:           *port,
		URL:            *url,
		Ledger:         *ledger,
		StartupTimeout: *timeout,
		SkipUnitTests:  *skipUnit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(runPipeline(cfg))
}

// browserStageConfig resolves the browser settings for a stage subprocess,
// honoring uatrun.config.json when invoked from the project root.
func browserStageConfig() *BrowserConfig {
	projectRoot := GetProjectRoot()
	fileCfg, err := LoadUATConfig(projectRoot)
	if err != nil || fileCfg.Browser == nil {
		return &BrowserConfig{
			Headless:      true,
			ScreenshotDir: filepath.Join(projectRoot, "logs", "screenshots"),
		}
	}
	if fileCfg.Browser.ScreenshotDir == "" {
		fileCfg.Browser.ScreenshotDir = filepath.Join(projectRoot, "logs", "screenshots")
	}
	return fileCfg.Browser
}

// stageTarget reads APP_URL and LEDGER_PATH, the orchestrator-to-stage
// contract, with the same defaults the original UAT scripts used.
func stageTarget() (url, ledger string) {
	url = os.Getenv("APP_URL")
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", defaultPort)
	}
	ledger = os.Getenv("LEDGER_PATH")
	if ledger == "" {
		ledger = defaultLedger
	}
	return url, ledger
}

func cmdKpis(args []string) {
	url, ledger := stageTarget()

	result, ok := runKpisCheck(url, ledger, browserStageConfig())
	printJSON(result)
	if !ok {
		os.Exit(1)
	}
}

func cmdTabs(args []string) {
	url, ledger := stageTarget()

	result, ok := runTabsCheck(url, ledger, browserStageConfig())
	printJSON(result)
	if !ok {
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func cmdReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	input := fs.String("input", "logs/run_summary.json", "Run summary to sanitize")
	output := fs.String("output", "artifacts/uat_summary.json", "Sanitized artifact path")
	fs.Parse(args)

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *input, err)
		os.Exit(1)
	}

	var runSummary map[string]any
	if err := json.Unmarshal(data, &runSummary); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid run summary JSON: %v\n", err)
		os.Exit(1)
	}

	sanitized := buildSanitizedSummary(runSummary)
	if err := AtomicWriteJSON(*output, sanitized); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *output, err)
		os.Exit(1)
	}

	fmt.Printf("Sanitized summary written to %s\n", *output)
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	runNum := fs.Int("run", 0, "Show specific run number (default: latest)")
	listRuns := fs.Bool("list", false, "List all runs with summary")
	tail := fs.Int("tail", 50, "Show last N events")
	eventType := fs.String("type", "", "Filter by event type")
	stage := fs.String("stage", "", "Filter by stage name")
	jsonOut := fs.Bool("json", false, "Print raw JSONL events")
	fs.Parse(args)

	logsDir := filepath.Join(GetProjectRoot(), "logs")

	runs, err := ListRunLogs(logsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs logged yet. Run 'uatrun run' first.")
		return
	}

	if *listRuns {
		fmt.Printf("%-5s %-20s %-8s %s\n", "RUN", "STARTED", "RESULT", "SUMMARY")
		for _, r := range runs {
			result := "?"
			if r.Success != nil {
				if *r.Success {
					result = "pass"
				} else {
					result = "fail"
				}
			}
			started := ""
			if !r.StartTime.IsZero() {
				started = r.StartTime.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-5d %-20s %-8s %s\n", r.RunNumber, started, result, r.Summary)
		}
		return
	}

	// Pick the requested run, defaulting to the most recent
	logPath := runs[0].LogPath
	if *runNum > 0 {
		logPath = ""
		for _, r := range runs {
			if r.RunNumber == *runNum {
				logPath = r.LogPath
				break
			}
		}
		if logPath == "" {
			fmt.Fprintf(os.Stderr, "Run #%d not found\n", *runNum)
			os.Exit(1)
		}
	}

	filter := &EventFilter{EventType: EventType(*eventType), Stage: *stage}
	events, err := ReadEvents(logPath, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read events: %v\n", err)
		os.Exit(1)
	}

	if *tail > 0 && len(events) > *tail {
		events = events[len(events)-*tail:]
	}

	for i := range events {
		if *jsonOut {
			data, _ := json.Marshal(&events[i])
			fmt.Println(string(data))
		} else {
			printEvent(&events[i])
		}
	}
}

// printEvent renders one event for the console.
func printEvent(e *Event) {
	ts := e.Timestamp.Format("15:04:05")

	detail := e.Message
	switch e.Type {
	case EventRunStart:
		detail = fmt.Sprintf("url=%v ledger=%v", e.Data["url"], e.Data["ledger"])
	case EventPortReap:
		detail = fmt.Sprintf("port=%v pid=%v", e.Data["port"], e.Data["pid"])
	case EventServerStart:
		detail = fmt.Sprintf("pid=%v", e.Data["pid"])
	case EventServerReady:
		if e.Duration != nil {
			detail = fmt.Sprintf("after %s", FormatDuration(time.Duration(*e.Duration)))
		}
	case EventStageEnd:
		detail = fmt.Sprintf("exit=%v", e.Data["exit_code"])
		if e.Duration != nil {
			detail += fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
		}
	case EventRunEnd:
		if e.Success != nil {
			if *e.Success {
				detail = "PASS " + e.Message
			} else {
				detail = "FAIL " + e.Message
			}
		}
	}

	if e.Stage != "" {
		fmt.Printf("[%s] %-18s %-8s %s\n", ts, e.Type, e.Stage, detail)
	} else {
		fmt.Printf("[%s] %-18s %s\n", ts, e.Type, detail)
	}
}

func cmdDoctor(args []string) {
	projectRoot := GetProjectRoot()
	issues := 0

	fmt.Println("UAT Environment Check")
	fmt.Println()

	fileCfg, err := LoadUATConfig(projectRoot)
	if err != nil {
		fmt.Printf("✗ uatrun.config.json: %v\n", err)
		issues++
		fileCfg = &UATConfig{}
	} else if fileExists(ConfigPath(projectRoot)) {
		fmt.Printf("✓ uatrun.config.json found\n")
	} else {
		fmt.Printf("○ uatrun.config.json: not found (defaults apply)\n")
	}

	cfg, err := ResolveRunConfig(projectRoot, fileCfg, RunOverrides{})
	if err != nil {
		fmt.Printf("✗ configuration: %v\n", err)
		issues++
	}

	for _, bin := range []string{"sh", "git", "lsof"} {
		if isCommandAvailable(bin) {
			fmt.Printf("✓ %s available\n", bin)
		} else {
			fmt.Printf("✗ %s not found\n", bin)
			issues++
		}
	}

	if isCommandAvailable("streamlit") {
		fmt.Printf("✓ streamlit available\n")
	} else {
		fmt.Printf("✗ streamlit not found (needed to launch the app)\n")
		issues++
	}

	if isCommandAvailable("python3") {
		fmt.Printf("✓ python3 available\n")
	} else {
		fmt.Printf("✗ python3 not found (needed for the pytest stage)\n")
		issues++
	}

	browserFound := ""
	for _, browser := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if isCommandAvailable(browser) {
			browserFound = browser
			break
		}
	}
	if browserFound != "" {
		fmt.Printf("✓ browser available: %s\n", browserFound)
	} else {
		fmt.Printf("✗ no Chrome/Chromium found (needed for the UAT stages)\n")
		issues++
	}

	if cfg != nil {
		if fileExists(cfg.Ledger) {
			fmt.Printf("✓ ledger file: %s\n", cfg.Ledger)
		} else {
			fmt.Printf("✗ ledger file not found: %s\n", cfg.Ledger)
			issues++
		}

		if cfg.Port > 0 {
			if pids := listeningPids(cfg.Port); len(pids) > 0 {
				fmt.Printf("! port %d in use (PIDs %v), 'uatrun run' will reap them\n", cfg.Port, pids)
			} else {
				fmt.Printf("✓ port %d free\n", cfg.Port)
			}
		}
	}

	lock, _ := ReadLockStatus(projectRoot)
	if lock != nil {
		fmt.Println()
		if isProcessAlive(lock.PID) {
			fmt.Printf("! A UAT run is in progress (PID %d, port %d)\n", lock.PID, lock.Port)
		} else {
			fmt.Printf("○ Stale lock found (PID %d no longer running)\n", lock.PID)
		}
	}

	fmt.Println()
	if issues > 0 {
		fmt.Printf("%d issue(s) found.\n", issues)
		os.Exit(1)
	}
	fmt.Println("All checks passed.")
}
