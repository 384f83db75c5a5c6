package main

import (
	"net/http"
	"net/url"
	"time"
)

const (
	// Per-attempt HTTP timeout. Bounds the tail past the deadline to at
	// most one slow attempt.
	attemptTimeout = 5 * time.Second

	// Fixed sleep between failed attempts.
	pollInterval = 2 * time.Second
)

// ReadinessPoller polls a URL until the launched app starts answering HTTP.
type ReadinessPoller struct {
	client   *http.Client
	interval time.Duration
}

// NewReadinessPoller creates a poller with the fixed production intervals.
func NewReadinessPoller() *ReadinessPoller {
	return &ReadinessPoller{
		client:   &http.Client{Timeout: attemptTimeout},
		interval: pollInterval,
	}
}

// Wait polls url until the server answers or timeout elapses. The deadline
// is checked before each attempt, so total wait is bounded by timeout plus
// at most one attemptTimeout. Returns true on the first answer, false on
// deadline; never an error.
func (p *ReadinessPoller) Wait(url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !time.Now().Before(deadline) {
			return false
		}
		if p.probe(url) {
			return true
		}
		time.Sleep(p.interval)
	}
}

// probe issues one best-effort GET. Any status below 500 counts as ready:
// a 404 still means the server is up, the route just isn't registered yet.
// Connection refused, DNS errors, and attempt timeouts all read the same
// way here: not up yet.
func (p *ReadinessPoller) probe(url string) bool {
	resp, err := p.client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

// readinessURL strips the query string from a URL. Reachability is about the
// base address; stage-only parameters like debug=1 don't belong in the probe.
func readinessURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
