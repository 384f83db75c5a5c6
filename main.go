package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd != "upgrade" {
		startUpdateCheck()
		defer printUpdateNotice()
	}

	switch cmd {
	case "-h", "--help", "help":
		showHelp()
	case "-v", "--version", "version":
		fmt.Printf("uatrun v%s\n", version)
	case "run":
		cmdRun(args)
	case "kpis":
		cmdKpis(args)
	case "tabs":
		cmdTabs(args)
	case "report":
		cmdReport(args)
	case "logs":
		cmdLogs(args)
	case "doctor":
		cmdDoctor(args)
	case "upgrade":
		cmdUpgrade(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'uatrun --help' for usage.")
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`uatrun v%s - UAT pipeline for the ledger dashboard app

Usage: uatrun <command> [options]

Commands:
  run                  Run the full pipeline (reap port, launch app, wait for
                       readiness, run pytest + browser UAT stages, write summary)
  kpis                 Browser check: upload ledger and capture UAT metrics
  tabs                 Browser check: click through every dashboard tab
  report               Build a sanitized summary artifact from the last run
  logs                 View run event logs (--list, --tail, --type, --json)
  doctor               Check the UAT environment
  upgrade              Upgrade uatrun to the latest version

Options:
  -h, --help           Show this help message
  -v, --version        Show version number

Examples:
  uatrun run                              # Default port 8501, qb_export.csv
  uatrun run --port 8502 --ledger my.csv  # Custom port and ledger file
  uatrun run --skip-unit-tests            # Browser stages only
  uatrun report                           # logs/run_summary.json -> artifacts/
  uatrun logs --tail 30                   # Last 30 events of the latest run

File Structure:
  uatrun.config.json            # Optional project configuration
  logs/
    app_server.log              # Launched app stdout/stderr
    pytest.log                  # Unit test stage capture
    uat_kpis.log                # Metrics stage capture
    uat_tabs.log                # Tab smoke stage capture
    run_summary.json            # Single JSON record for the run
    run-001.jsonl               # Structured event log
  artifacts/uat_summary.json    # Sanitized summary ('uatrun report')
`, version)
}
