package main

import (
	"encoding/json"
	"strings"
)

// Marker lines the dashboard emits around its UAT metrics block.
const (
	metricsStartMarker = "UAT_METRICS_START"
	metricsEndMarker   = "UAT_METRICS_END"
)

// extractPayload mines a JSON object out of captured stage text. The marker
// block takes precedence; otherwise the span from the first '{' to the last
// '}' is tried. A stage that emitted no payload, or garbage, yields nil;
// extraction failure is never fatal to the pipeline.
func extractPayload(text string) map[string]any {
	if block, ok := markerBlock(text); ok {
		if payload := parseBraceSpan(block); payload != nil {
			return payload
		}
	}
	return parseBraceSpan(text)
}

// markerBlock returns the text between the UAT metrics markers.
func markerBlock(text string) (string, bool) {
	start := strings.Index(text, metricsStartMarker)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(metricsStartMarker):]
	end := strings.Index(rest, metricsEndMarker)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// parseBraceSpan parses the substring from the first '{' to the last '}'.
func parseBraceSpan(text string) map[string]any {
	open := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if open == -1 || last == -1 || last < open {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text[open:last+1]), &payload); err != nil {
		return nil
	}
	return payload
}
