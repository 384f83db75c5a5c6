package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// How long the browser stages wait for the dashboard to process an uploaded
// ledger and render the UAT markers.
const metricsRenderTimeout = 30 * time.Second

// uatTabs maps dashboard tab labels to their marker keys, in the order a
// user would click through them. Labels carry the emoji prefixes the app
// renders; the tab lookup matches on the full label text.
var uatTabs = []struct {
	Label string
	Key   string
}{
	{"📈 Forecast & Run Rates", "FORECAST"},
	{"🔍 Addbacks Analysis", "ADDBACKS"},
	{"📋 Data Inspection", "DATA_INSPECTION"},
	{"📑 Project Billing Digital Twin", "BILLING"},
	{"📚 Accounts & SDE Tuning", "ACCOUNTS_TUNING"},
	{"⚖️ Reconciliation", "RECONCILIATION"},
	{"📊 KPI Explorer", "KPI_EXPLORER"},
}

// UATBrowser drives the headless browser for the kpis and tabs stages.
type UATBrowser struct {
	config        *BrowserConfig
	ctx           context.Context
	cancel        context.CancelFunc
	consoleErrors []string
}

// KpisResult is the JSON record the kpis stage prints to stdout. The
// orchestrator mines it back out of the captured stage log.
type KpisResult struct {
	URL        string         `json:"url"`
	LedgerFile string         `json:"ledger_file"`
	UATPayload map[string]any `json:"uat_payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	RawExcerpt string         `json:"raw_excerpt,omitempty"`
}

// TabsResult is the JSON record the tabs stage prints to stdout.
type TabsResult struct {
	URL        string            `json:"url"`
	Tabs       map[string]string `json:"tabs"`
	Error      string            `json:"error,omitempty"`
	FatalError string            `json:"fatal_error,omitempty"`
}

// NewUATBrowser creates a browser runner for one stage invocation.
func NewUATBrowser(config *BrowserConfig) *UATBrowser {
	if config == nil {
		config = &BrowserConfig{Headless: true}
	}
	return &UATBrowser{config: config}
}

// init initializes the browser context
func (b *UATBrowser) init() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}

	if b.config.Headless {
		opts = append(opts, chromedp.Headless)
	}

	if b.config.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(b.config.ExecutablePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	b.ctx = ctx
	b.cancel = func() {
		cancel()
		allocCancel()
	}

	// Collect page exceptions; they go into the stage log for diagnosis
	b.consoleErrors = nil
	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		if ev, ok := ev.(*runtime.EventExceptionThrown); ok {
			b.consoleErrors = append(b.consoleErrors, ev.ExceptionDetails.Text)
		}
	})

	return nil
}

// close closes the browser
func (b *UATBrowser) close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// openAndUpload navigates to the debug URL and feeds the ledger file into
// the app's upload widget. The file input is hidden inside a dropzone, so
// files are set directly rather than waiting for visibility.
func (b *UATBrowser) openAndUpload(url, ledger string) error {
	ctx, cancel := context.WithTimeout(b.ctx, 60*time.Second)
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second), // initial render settles
	)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	err = chromedp.Run(ctx,
		chromedp.SetUploadFiles(`input[type="file"]`, []string{ledger}, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("file upload failed: %w", err)
	}
	return nil
}

// waitForMetrics polls the page body until the UAT metrics block renders,
// returning the last body text either way so callers can report an excerpt.
func (b *UATBrowser) waitForMetrics(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var body string

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		err := chromedp.Run(ctx,
			chromedp.Text("body", &body, chromedp.ByQuery),
		)
		cancel()
		if err == nil && strings.Contains(body, metricsStartMarker) && strings.Contains(body, metricsEndMarker) {
			return body, nil
		}
		time.Sleep(time.Second)
	}

	return body, fmt.Errorf("timed out waiting for UAT metrics (ledger processing)")
}

// bodyText reads the current page body.
func (b *UATBrowser) bodyText() (string, error) {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	var body string
	err := chromedp.Run(ctx, chromedp.Text("body", &body, chromedp.ByQuery))
	return body, err
}

// clickTab clicks a dashboard tab by its rendered label.
func (b *UATBrowser) clickTab(label string) error {
	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()

	sel := fmt.Sprintf(`//*[@role="tab"][contains(., %q)]`, label)
	return chromedp.Run(ctx,
		chromedp.Click(sel, chromedp.BySearch),
		chromedp.Sleep(1500*time.Millisecond), // tab content renders
	)
}

// saveScreenshot captures the full page for failure diagnosis.
func (b *UATBrowser) saveScreenshot(name string) string {
	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil || len(buf) == 0 {
		return ""
	}

	dir := b.config.ScreenshotDir
	if dir == "" {
		dir = "logs/screenshots"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ""
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", name, timestamp))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return ""
	}
	return path
}

// debugURL appends debug=1 so the app renders its UAT markers.
func debugURL(raw string) string {
	if strings.Contains(raw, "debug=1") {
		return raw
	}
	if strings.Contains(raw, "?") {
		return raw + "&debug=1"
	}
	return raw + "?debug=1"
}

// excerpt returns the last n bytes of text for error reports.
func excerpt(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[len(text)-n:]
}

// runKpisCheck uploads the ledger and captures the UAT metrics payload.
// Returns the printable result and whether the check passed.
func runKpisCheck(appURL, ledger string, config *BrowserConfig) (*KpisResult, bool) {
	url := debugURL(appURL)
	result := &KpisResult{URL: url, LedgerFile: ledger}

	if !fileExists(ledger) {
		result.Error = fmt.Sprintf("Ledger file not found: %s", ledger)
		return result, false
	}

	b := NewUATBrowser(config)
	if err := b.init(); err != nil {
		result.Error = fmt.Sprintf("failed to initialize browser: %v", err)
		return result, false
	}
	defer b.close()

	if err := b.openAndUpload(url, ledger); err != nil {
		result.Error = err.Error()
		b.saveScreenshot("kpis-upload")
		return result, false
	}

	body, err := b.waitForMetrics(metricsRenderTimeout)
	if err != nil {
		result.Error = "UAT_METRICS markers not found in page text"
		result.RawExcerpt = excerpt(body, 2000)
		b.saveScreenshot("kpis-metrics")
		return result, false
	}

	block, _ := markerBlock(body)
	payload := parseBraceSpan(block)
	if payload == nil {
		result.Error = "Could not parse JSON inside UAT block"
		result.RawExcerpt = excerpt(block, 2000)
		return result, false
	}

	result.UATPayload = payload
	return result, true
}

// runTabsCheck uploads the ledger and clicks through every dashboard tab,
// recording each tab's marker status. Passes only when every tab reads OK.
func runTabsCheck(appURL, ledger string, config *BrowserConfig) (*TabsResult, bool) {
	url := debugURL(appURL)
	result := &TabsResult{URL: url, Tabs: make(map[string]string)}

	if !fileExists(ledger) {
		result.Error = fmt.Sprintf("Ledger file not found: %s", ledger)
		return result, false
	}

	b := NewUATBrowser(config)
	if err := b.init(); err != nil {
		result.FatalError = fmt.Sprintf("failed to initialize browser: %v", err)
		return result, false
	}
	defer b.close()

	if err := b.openAndUpload(url, ledger); err != nil {
		result.Error = fmt.Sprintf("File upload failed: %v", err)
		b.saveScreenshot("tabs-upload")
		return result, false
	}

	if _, err := b.waitForMetrics(metricsRenderTimeout); err != nil {
		result.Error = "Timeout waiting for UAT metrics (ledger processing)"
		b.saveScreenshot("tabs-metrics")
		return result, false
	}

	ok := true
	for _, tab := range uatTabs {
		if err := b.clickTab(tab.Label); err != nil {
			result.Tabs[tab.Key] = fmt.Sprintf("ERROR: %v", err)
			ok = false
			continue
		}

		body, err := b.bodyText()
		if err != nil {
			result.Tabs[tab.Key] = fmt.Sprintf("ERROR: %v", err)
			ok = false
			continue
		}

		okMarker := "TAB_OK::" + tab.Key
		errMarker := "TAB_ERROR::" + tab.Key

		switch {
		case strings.Contains(body, errMarker):
			result.Tabs[tab.Key] = fmt.Sprintf("FAIL: Found %s", errMarker)
			ok = false
		case strings.Contains(body, "TAB_ERROR::"):
			result.Tabs[tab.Key] = "FAIL: Found TAB_ERROR marker"
			ok = false
		case strings.Contains(body, okMarker):
			result.Tabs[tab.Key] = "OK"
		default:
			result.Tabs[tab.Key] = fmt.Sprintf("FAIL: Marker %s not found", okMarker)
			ok = false
		}
	}

	if !ok {
		b.saveScreenshot("tabs-fail")
	}
	return result, ok
}
