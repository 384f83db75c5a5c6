package main

import (
	"regexp"
	"strings"
)

// Sanitization for shareable summary artifacts. UAT runs happen on developer
// machines, so the raw run summary can carry local paths, upload URLs, and
// widget identifiers that must not leave the machine.

var (
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\s"']+`)
	uncPathPattern     = regexp.MustCompile(`\\\\[A-Za-z0-9_.-]+\\[^\s"']+`)
	urlPattern         = regexp.MustCompile(`https?://[^\s"']+`)
	idMarkerPattern    = regexp.MustCompile(`(?i)\b(file[_-]?id|widget[_-]?id)\b\s*[:=]\s*[^\s,;]+`)
)

// droppedKeyTokens lists substrings that disqualify a key entirely.
var droppedKeyTokens = []string{
	"absolute_path", "upload_url", "file_id", "widget_id",
	"username", "machine", "hostname",
}

// metricGroups are the only uat_payload sections a sanitized summary keeps.
var metricGroups = []string{
	"dashboard_metrics",
	"qb_pnl_metrics_report_window",
	"reconciliation_bridge",
	"run_rates",
}

// scrubString redacts path, URL, and id-like markers from a string.
func scrubString(value string) string {
	value = windowsPathPattern.ReplaceAllString(value, "<REDACTED_PATH>")
	value = uncPathPattern.ReplaceAllString(value, "<REDACTED_PATH>")

	value = urlPattern.ReplaceAllStringFunc(value, func(url string) string {
		lower := strings.ToLower(url)
		if strings.Contains(lower, "streamlit") || strings.Contains(lower, "upload") {
			return "<REDACTED_URL>"
		}
		if strings.Contains(lower, "file_id=") || strings.Contains(lower, "widget") {
			return "<REDACTED_URL>"
		}
		return url
	})

	value = idMarkerPattern.ReplaceAllString(value, "<REDACTED_ID>")
	return value
}

// scrubValue walks a decoded JSON value, redacting strings and dropping
// disqualified keys.
func scrubValue(obj any) any {
	switch v := obj.(type) {
	case string:
		return scrubString(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = scrubValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if isDroppedKey(key) {
				continue
			}
			out[key] = scrubValue(value)
		}
		return out
	default:
		return obj
	}
}

func isDroppedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range droppedKeyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// buildSanitizedSummary produces the shareable artifact from a decoded run
// summary: status fields and timing only, the uat_payload filtered down to
// its metric groups, and url/ledger stripped before scrubbing.
func buildSanitizedSummary(runSummary map[string]any) map[string]any {
	metricsOnly := map[string]any{}
	if payload, ok := runSummary["uat_payload"].(map[string]any); ok {
		for _, group := range metricGroups {
			if value, present := payload[group]; present {
				metricsOnly[group] = value
			}
		}
	}

	summary := map[string]any{
		"git_commit":       runSummary["git_commit"],
		"pytest_status":    runSummary["pytest_status"],
		"tabs_status":      runSummary["tabs_status"],
		"uat_status":       runSummary["uat_status"],
		"exit_codes":       runSummary["exit_codes"],
		"tabs":             runSummary["tabs"],
		"uat_payload":      metricsOnly,
		"overall_success":  runSummary["overall_success"],
		"started_at":       runSummary["started_at"],
		"finished_at":      runSummary["finished_at"],
		"duration_seconds": runSummary["duration_seconds"],
	}

	// url and ledger never belong in the artifact
	delete(summary, "url")
	delete(summary, "ledger")

	scrubbed, _ := scrubValue(summary).(map[string]any)
	return scrubbed
}
