package main

import (
	"fmt"
	"strings"
	"time"
)

// Stage status labels in the run summary.
const (
	statusPass    = "pass"
	statusFail    = "fail"
	statusSkipped = "skipped"
)

// ExitCodes records the exit code of each pipeline stage. A skipped stage
// reads as zero.
type ExitCodes struct {
	Pytest int `json:"pytest"`
	UAT    int `json:"uat"`
	Tabs   int `json:"tabs"`
}

// RunSummary is the single JSON record describing a pipeline run. Built
// once, written once, never mutated afterwards.
type RunSummary struct {
	StartedAt       string         `json:"started_at"`
	FinishedAt      string         `json:"finished_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	GitCommit       string         `json:"git_commit"`
	URL             string         `json:"url"`
	Ledger          string         `json:"ledger"`
	Port            int            `json:"port"`
	PytestStatus    string         `json:"pytest_status"`
	UATStatus       string         `json:"uat_status"`
	TabsStatus      string         `json:"tabs_status"`
	ExitCodes       ExitCodes      `json:"exit_codes"`
	UATPayload      map[string]any `json:"uat_payload,omitempty"`
	Tabs            map[string]any `json:"tabs,omitempty"`
	OverallSuccess  bool           `json:"overall_success"`
}

// buildRunSummary assembles the run record from the config, the best-effort
// git revision, and the three stage results (nil means skipped). Pure except
// for the timestamps it is handed: identical inputs give an identical record.
func buildRunSummary(cfg *RunConfig, gitCommit string, pytest, uat, tabs *StageResult, start, end time.Time) *RunSummary {
	s := &RunSummary{
		StartedAt:       start.UTC().Format(time.RFC3339),
		FinishedAt:      end.UTC().Format(time.RFC3339),
		DurationSeconds: end.Sub(start).Seconds(),
		GitCommit:       gitCommit,
		URL:             cfg.URL,
		Ledger:          cfg.Ledger,
		Port:            cfg.Port,
		PytestStatus:    stageStatus(pytest),
		UATStatus:       stageStatus(uat),
		TabsStatus:      stageStatus(tabs),
		ExitCodes: ExitCodes{
			Pytest: stageExitCode(pytest),
			UAT:    stageExitCode(uat),
			Tabs:   stageExitCode(tabs),
		},
	}

	if uat != nil {
		s.UATPayload = metricsPayload(uat.Payload)
	}
	if tabs != nil {
		s.Tabs = tabsPayload(tabs.Payload)
	}

	s.OverallSuccess = s.ExitCodes.Pytest == 0 && s.ExitCodes.UAT == 0 && s.ExitCodes.Tabs == 0
	return s
}

func stageStatus(r *StageResult) string {
	if r == nil {
		return statusSkipped
	}
	if r.Passed() {
		return statusPass
	}
	return statusFail
}

func stageExitCode(r *StageResult) int {
	if r == nil {
		return 0
	}
	return r.ExitCode
}

// metricsPayload unwraps the kpis stage output. The stage prints
// {"url":..., "ledger_file":..., "uat_payload": {...}}; the summary keeps
// just the metrics object. Older stage scripts printed the metrics bare, so
// a payload without the wrapper key passes through as-is.
func metricsPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	if inner, ok := p["uat_payload"].(map[string]any); ok {
		return inner
	}
	return p
}

// tabsPayload unwraps the per-tab results from the tabs stage output.
func tabsPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	if inner, ok := p["tabs"].(map[string]any); ok {
		return inner
	}
	return p
}

// FormatRunSummary renders the human-readable summary block printed at the
// end of a run.
func FormatRunSummary(s *RunSummary) string {
	var sb strings.Builder
	bar := strings.Repeat("=", 60)

	sb.WriteString(bar + "\n")
	sb.WriteString(" UAT Run Summary\n")
	sb.WriteString(bar + "\n")
	if s.GitCommit != "" {
		sb.WriteString(fmt.Sprintf(" Commit:   %s\n", s.GitCommit))
	}
	sb.WriteString(fmt.Sprintf(" URL:      %s\n", s.URL))
	sb.WriteString(fmt.Sprintf(" Ledger:   %s\n", s.Ledger))
	sb.WriteString(fmt.Sprintf(" Duration: %s\n", FormatDuration(time.Duration(s.DurationSeconds*float64(time.Second)))))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf(" %s pytest (exit %d)\n", statusGlyph(s.PytestStatus), s.ExitCodes.Pytest))
	sb.WriteString(fmt.Sprintf(" %s uat    (exit %d)\n", statusGlyph(s.UATStatus), s.ExitCodes.UAT))
	sb.WriteString(fmt.Sprintf(" %s tabs   (exit %d)\n", statusGlyph(s.TabsStatus), s.ExitCodes.Tabs))
	sb.WriteString("\n")
	if s.OverallSuccess {
		sb.WriteString(" Overall: PASS\n")
	} else {
		sb.WriteString(" Overall: FAIL\n")
	}
	sb.WriteString(bar + "\n")
	return sb.String()
}

func statusGlyph(status string) string {
	switch status {
	case statusPass:
		return "✓"
	case statusFail:
		return "✗"
	default:
		return "○"
	}
}
