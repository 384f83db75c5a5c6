package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort           = 8501
	defaultLedger         = "qb_export.csv"
	defaultStartupTimeout = 60 // seconds

	// The app is always launched the same way: bound to localhost on the
	// target port, headless, with debug logging for the UAT markers.
	defaultServerStart = "streamlit run app.py --server.address localhost --server.port {port} --server.headless true --logger.level debug"

	defaultPytestCmd = "python3 -m pytest -q tests"
)

// ServerConfig configures the launched dashboard server process.
type ServerConfig struct {
	Start string `json:"start,omitempty"` // command template, {port} is substituted
}

// StagesConfig configures the three external test stages. Empty UAT/Tabs
// commands mean "re-invoke this binary" ('uatrun kpis' / 'uatrun tabs').
type StagesConfig struct {
	Pytest  string `json:"pytest,omitempty"`
	UAT     string `json:"uat,omitempty"`
	Tabs    string `json:"tabs,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds per stage, default 600
}

// BrowserConfig configures the headless browser used by the UAT stages.
type BrowserConfig struct {
	ExecutablePath string `json:"executablePath,omitempty"`
	Headless       bool   `json:"headless,omitempty"`
	ScreenshotDir  string `json:"screenshotDir,omitempty"`
}

// UATConfig is the optional project configuration loaded from uatrun.config.json.
type UATConfig struct {
	Port           int            `json:"port,omitempty"`
	URL            string         `json:"url,omitempty"`
	Ledger         string         `json:"ledger,omitempty"`
	StartupTimeout int            `json:"startupTimeout,omitempty"` // seconds
	SkipUnitTests  bool           `json:"skipUnitTests,omitempty"`
	Server         ServerConfig   `json:"server,omitempty"`
	Stages         StagesConfig   `json:"stages,omitempty"`
	Browser        *BrowserConfig `json:"browser,omitempty"`
	Logging        *LoggingConfig `json:"logging,omitempty"`
}

// RunConfig is the fully resolved, immutable input to one pipeline run.
// Everything the launched server and the stages need is captured here rather
// than read ambiently from the process environment.
type RunConfig struct {
	ProjectRoot    string
	Port           int // 0 when only an explicit URL was given (port reap skipped)
	URL            string
	Ledger         string
	StartupTimeout time.Duration
	SkipUnitTests  bool
	Server         ServerConfig
	Stages         StagesConfig
	Browser        *BrowserConfig
	Logging        *LoggingConfig
	LogsDir        string
}

// RunOverrides carries CLI flag values for 'uatrun run'. Zero values mean
// "not set" and fall through to the config file, then to defaults.
type RunOverrides struct {
	Port           int
	URL            string
	Ledger         string
	StartupTimeout int
	SkipUnitTests  bool
}

// ConfigPath returns the path to uatrun.config.json.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, "uatrun.config.json")
}

// LoadUATConfig reads uatrun.config.json if present. A missing file is not an
// error: the pipeline runs fine on defaults alone.
func LoadUATConfig(projectRoot string) (*UATConfig, error) {
	data, err := os.ReadFile(ConfigPath(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &UATConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg UATConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid uatrun.config.json: %w", err)
	}
	return &cfg, nil
}

// ResolveRunConfig merges CLI overrides over the file config over defaults
// and validates the result.
func ResolveRunConfig(projectRoot string, fileCfg *UATConfig, ov RunOverrides) (*RunConfig, error) {
	if fileCfg == nil {
		fileCfg = &UATConfig{}
	}

	cfg := &RunConfig{
		ProjectRoot:   projectRoot,
		Port:          fileCfg.Port,
		URL:           fileCfg.URL,
		Ledger:        fileCfg.Ledger,
		SkipUnitTests: fileCfg.SkipUnitTests,
		Server:        fileCfg.Server,
		Stages:        fileCfg.Stages,
		Browser:       fileCfg.Browser,
		Logging:       fileCfg.Logging,
		LogsDir:       filepath.Join(projectRoot, "logs"),
	}

	timeoutSec := fileCfg.StartupTimeout
	if ov.Port != 0 {
		cfg.Port = ov.Port
	}
	if ov.URL != "" {
		cfg.URL = ov.URL
	}
	if ov.Ledger != "" {
		cfg.Ledger = ov.Ledger
	}
	if ov.StartupTimeout != 0 {
		timeoutSec = ov.StartupTimeout
	}
	if ov.SkipUnitTests {
		cfg.SkipUnitTests = true
	}

	// URL and port must agree when both were given explicitly. An explicit
	// URL on its own wins, leaving the port at 0 so the reaper stays out of
	// the way of whatever is serving that URL.
	if cfg.URL != "" && cfg.Port != 0 {
		if err := checkURLPort(cfg.URL, cfg.Port); err != nil {
			return nil, err
		}
	}
	if cfg.URL == "" {
		if cfg.Port == 0 {
			cfg.Port = defaultPort
		}
		cfg.URL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	if cfg.Ledger == "" {
		cfg.Ledger = defaultLedger
	}
	if !filepath.IsAbs(cfg.Ledger) {
		cfg.Ledger = filepath.Join(projectRoot, cfg.Ledger)
	}

	if timeoutSec <= 0 {
		timeoutSec = defaultStartupTimeout
	}
	cfg.StartupTimeout = time.Duration(timeoutSec) * time.Second

	if cfg.Server.Start == "" {
		cfg.Server.Start = defaultServerStart
	}
	if cfg.Stages.Pytest == "" {
		cfg.Stages.Pytest = defaultPytestCmd
	}
	if cfg.Stages.UAT == "" {
		cfg.Stages.UAT = selfCommand("kpis")
	}
	if cfg.Stages.Tabs == "" {
		cfg.Stages.Tabs = selfCommand("tabs")
	}
	if cfg.Stages.Timeout <= 0 {
		cfg.Stages.Timeout = 600 // 10 minutes per stage
	}

	if cfg.Browser == nil {
		cfg.Browser = &BrowserConfig{
			Headless:      true,
			ScreenshotDir: filepath.Join(cfg.LogsDir, "screenshots"),
		}
	} else if cfg.Browser.ScreenshotDir == "" {
		cfg.Browser.ScreenshotDir = filepath.Join(cfg.LogsDir, "screenshots")
	}
	if cfg.Logging == nil {
		cfg.Logging = DefaultLoggingConfig()
	}

	return cfg, nil
}

// checkURLPort verifies that an explicit URL and an explicit port agree.
func checkURLPort(rawURL string, port int) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	urlPort := u.Port()
	if urlPort == "" {
		switch u.Scheme {
		case "https":
			urlPort = "443"
		default:
			urlPort = "80"
		}
	}
	if urlPort != strconv.Itoa(port) {
		return fmt.Errorf("url %q and port %d disagree: pass one or make them match", rawURL, port)
	}
	return nil
}

// serverCommand substitutes the port into the server start template.
func (cfg *RunConfig) serverCommand() string {
	return strings.ReplaceAll(cfg.Server.Start, "{port}", strconv.Itoa(cfg.Port))
}

// stageEnv returns the environment variables passed to every stage
// subprocess. Stages find the app and the ledger through these, never
// through flags of their own.
func (cfg *RunConfig) stageEnv() []string {
	return []string{
		"APP_URL=" + cfg.URL,
		"LEDGER_PATH=" + cfg.Ledger,
	}
}

// selfCommand builds a stage command that re-invokes this binary.
func selfCommand(sub string) string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return exe + " " + sub
}

// findGitRoot walks up from start looking for a .git directory.
func findGitRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// GetProjectRoot returns the project root (git root or cwd).
func GetProjectRoot() string {
	cwd, _ := os.Getwd()
	return findGitRoot(cwd)
}

// isCommandAvailable checks if a command is available in PATH.
func isCommandAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
