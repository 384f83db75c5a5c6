package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of log event
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventRunEnd      EventType = "run_end"
	EventPortReap    EventType = "port_reap"
	EventServerStart EventType = "server_start"
	EventServerReady EventType = "server_ready"
	EventServerStop  EventType = "server_stop"
	EventStageStart  EventType = "stage_start"
	EventStageEnd    EventType = "stage_end"
	EventPayload     EventType = "payload_extracted"
	EventSummary     EventType = "summary_written"
	EventWarning     EventType = "warning"
	EventError       EventType = "error"
)

// Event represents a single log event
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	Duration  *int64         `json:"duration,omitempty"` // nanoseconds
	Success   *bool          `json:"success,omitempty"`
	Message   string         `json:"msg,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LoggingConfig configures the event log
type LoggingConfig struct {
	Enabled           bool `json:"enabled"`
	MaxRuns           int  `json:"maxRuns"`
	ConsoleTimestamps bool `json:"consoleTimestamps"`
}

// DefaultLoggingConfig returns sensible defaults
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Enabled:           true,
		MaxRuns:           10,
		ConsoleTimestamps: true,
	}
}

// RunLogger writes the structured JSONL event log for one pipeline run.
type RunLogger struct {
	file      *os.File
	encoder   *json.Encoder
	mu        sync.Mutex
	runNumber int
	startTime time.Time
	logsDir   string
	enabled   bool
	ended     bool
	config    *LoggingConfig

	stageStarts map[string]time.Time
}

// NewRunLogger creates a logger writing to logsDir/run-NNN.jsonl.
func NewRunLogger(logsDir string, config *LoggingConfig) (*RunLogger, error) {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	logger := &RunLogger{
		logsDir:     logsDir,
		startTime:   time.Now(),
		enabled:     config.Enabled,
		config:      config,
		stageStarts: make(map[string]time.Time),
	}

	if !config.Enabled {
		return logger, nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	runNumber := nextRunNumber(logsDir)
	logger.runNumber = runNumber

	if config.MaxRuns > 0 {
		rotateOldRuns(logsDir, config.MaxRuns)
	}

	logPath := filepath.Join(logsDir, fmt.Sprintf("run-%03d.jsonl", runNumber))
	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger.file = file
	logger.encoder = json.NewEncoder(file)

	return logger, nil
}

// Close closes the log file
func (l *RunLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// RunNumber returns the current run number
func (l *RunLogger) RunNumber() int {
	return l.runNumber
}

// LogPath returns the path to the current log file
func (l *RunLogger) LogPath() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}

// logEvent writes an event, filling the timestamp if unset
func (l *RunLogger) logEvent(event Event) {
	if !l.enabled || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.encoder.Encode(event)
}

// RunStart logs the start of a pipeline run
func (l *RunLogger) RunStart(url, ledger string, port int) {
	l.logEvent(Event{
		Type: EventRunStart,
		Data: map[string]any{
			"url":        url,
			"ledger":     ledger,
			"port":       port,
			"run_number": l.runNumber,
		},
	})
}

// RunEnd logs the end of a run. Idempotent: the cleanup path calls this as a
// fallback and must not produce a second run_end after a normal finish.
func (l *RunLogger) RunEnd(success bool, summary string) {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	l.mu.Unlock()

	duration := time.Since(l.startTime).Nanoseconds()
	l.logEvent(Event{
		Type:     EventRunEnd,
		Duration: &duration,
		Success:  &success,
		Message:  summary,
	})
}

// PortReaped logs a process killed off the target port
func (l *RunLogger) PortReaped(port, pid int) {
	l.logEvent(Event{
		Type: EventPortReap,
		Data: map[string]any{
			"port": port,
			"pid":  pid,
		},
	})
}

// ServerStart logs the app server launch
func (l *RunLogger) ServerStart(cmd string, pid int) {
	l.logEvent(Event{
		Type: EventServerStart,
		Data: map[string]any{
			"cmd": cmd,
			"pid": pid,
		},
	})
}

// ServerReady logs the app answering its first HTTP request
func (l *RunLogger) ServerReady(url string, waited time.Duration) {
	durationNs := waited.Nanoseconds()
	l.logEvent(Event{
		Type:     EventServerReady,
		Duration: &durationNs,
		Data: map[string]any{
			"url": url,
		},
	})
}

// ServerStop logs the app server termination
func (l *RunLogger) ServerStop(pid int) {
	l.logEvent(Event{
		Type: EventServerStop,
		Data: map[string]any{
			"pid": pid,
		},
	})
}

// StageStart logs the start of a test stage
func (l *RunLogger) StageStart(name, cmd string) {
	l.mu.Lock()
	l.stageStarts[name] = time.Now()
	l.mu.Unlock()

	l.logEvent(Event{
		Type:  EventStageStart,
		Stage: name,
		Data: map[string]any{
			"cmd": cmd,
		},
	})
}

// StageEnd logs the end of a test stage
func (l *RunLogger) StageEnd(name string, exitCode int, logPath string) {
	l.mu.Lock()
	started, ok := l.stageStarts[name]
	l.mu.Unlock()

	var durationNs *int64
	if ok {
		d := time.Since(started).Nanoseconds()
		durationNs = &d
	}

	success := exitCode == 0
	l.logEvent(Event{
		Type:     EventStageEnd,
		Stage:    name,
		Duration: durationNs,
		Success:  &success,
		Data: map[string]any{
			"exit_code": exitCode,
			"log":       logPath,
		},
	})
}

// PayloadExtracted logs a JSON payload mined from stage output
func (l *RunLogger) PayloadExtracted(stage string, found bool) {
	l.logEvent(Event{
		Type:    EventPayload,
		Stage:   stage,
		Success: &found,
	})
}

// SummaryWritten logs the final summary file
func (l *RunLogger) SummaryWritten(path string, overallSuccess bool) {
	l.logEvent(Event{
		Type:    EventSummary,
		Success: &overallSuccess,
		Data: map[string]any{
			"path": path,
		},
	})
}

// Warning logs a warning message
func (l *RunLogger) Warning(msg string) {
	l.logEvent(Event{
		Type:    EventWarning,
		Message: msg,
	})
}

// Error logs an error message
func (l *RunLogger) Error(msg string, err error) {
	data := make(map[string]any)
	if err != nil {
		data["error"] = err.Error()
	}
	l.logEvent(Event{
		Type:    EventError,
		Message: msg,
		Data:    data,
	})
}

// Console output helpers with timestamps

// LogPrint prints a timestamped message to stdout
func (l *RunLogger) LogPrint(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s", timestamp, msg)
	} else {
		fmt.Print(msg)
	}
}

// LogPrintln prints a timestamped message with newline to stdout
func (l *RunLogger) LogPrintln(args ...any) {
	msg := fmt.Sprint(args...)
	if l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s\n", timestamp, msg)
	} else {
		fmt.Println(msg)
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d.Milliseconds()))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// Helper functions

// nextRunNumber determines the next run number based on existing logs
func nextRunNumber(logsDir string) int {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return 1
	}

	maxRun := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		numStr := strings.TrimPrefix(name, "run-")
		numStr = strings.TrimSuffix(numStr, ".jsonl")
		if num, err := strconv.Atoi(numStr); err == nil && num > maxRun {
			maxRun = num
		}
	}

	return maxRun + 1
}

// rotateOldRuns deletes runs beyond maxRuns (keeps most recent)
func rotateOldRuns(logsDir string, maxRuns int) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}

	var runFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "run-") && strings.HasSuffix(name, ".jsonl") {
			runFiles = append(runFiles, name)
		}
	}

	if len(runFiles) <= maxRuns {
		return
	}

	sort.Slice(runFiles, func(i, j int) bool {
		return extractRunNumber(runFiles[i]) < extractRunNumber(runFiles[j])
	})

	toDelete := len(runFiles) - maxRuns
	for i := 0; i < toDelete; i++ {
		os.Remove(filepath.Join(logsDir, runFiles[i]))
	}
}

// extractRunNumber extracts the run number from a filename like "run-001.jsonl"
func extractRunNumber(filename string) int {
	numStr := strings.TrimPrefix(filename, "run-")
	numStr = strings.TrimSuffix(numStr, ".jsonl")
	num, _ := strconv.Atoi(numStr)
	return num
}

// RunLogInfo contains summary info about a logged run
type RunLogInfo struct {
	RunNumber int
	LogPath   string
	FileSize  int64
	ModTime   time.Time
	StartTime time.Time
	EndTime   *time.Time
	Success   *bool
	Summary   string
}

// ListRunLogs returns all run log files in the logs directory, newest first
func ListRunLogs(logsDir string) ([]RunLogInfo, error) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunLogInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		logPath := filepath.Join(logsDir, name)
		run := RunLogInfo{
			RunNumber: extractRunNumber(name),
			LogPath:   logPath,
			FileSize:  info.Size(),
			ModTime:   info.ModTime(),
		}

		if first, last := readFirstLastEvents(logPath); first != nil {
			run.StartTime = first.Timestamp
			if last != nil && last.Type == EventRunEnd {
				run.EndTime = &last.Timestamp
				run.Success = last.Success
				run.Summary = last.Message
			}
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber > runs[j].RunNumber
	})

	return runs, nil
}

// readFirstLastEvents reads the first and last events from a log file
func readFirstLastEvents(logPath string) (*Event, *Event) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	var first, last *Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if first == nil {
			first = &event
		}
		last = &event
	}

	return first, last
}

// ReadEvents reads events from a log file with optional filtering
func ReadEvents(logPath string, filter *EventFilter) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadEventsFromReader(file, filter)
}

// ReadEventsFromReader reads events from an io.Reader with optional filtering
func ReadEventsFromReader(r io.Reader, filter *EventFilter) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if filter != nil && !filter.Match(&event) {
			continue
		}

		events = append(events, event)
	}

	return events, scanner.Err()
}

// EventFilter filters events when reading logs
type EventFilter struct {
	EventType EventType
	Stage     string
}

// Match returns true if the event matches the filter
func (f *EventFilter) Match(event *Event) bool {
	if f.EventType != "" && event.Type != f.EventType {
		return false
	}
	if f.Stage != "" && event.Stage != f.Stage {
		return false
	}
	return true
}
