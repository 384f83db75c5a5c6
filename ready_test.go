package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testPoller returns a poller with short intervals so tests stay fast.
func testPoller() *ReadinessPoller {
	return &ReadinessPoller{
		client:   &http.Client{Timeout: 500 * time.Millisecond},
		interval: 10 * time.Millisecond,
	}
}

func TestReadinessPoller_ImmediateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	start := time.Now()
	if !testPoller().Wait(ts.URL, 5*time.Second) {
		t.Fatal("expected Wait=true for responding server")
	}
	// First attempt succeeds, so no interval sleep should have happened
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected immediate return, took %v", elapsed)
	}
}

func TestReadinessPoller_StatusBoundary(t *testing.T) {
	tests := []struct {
		status int
		ready  bool
	}{
		{200, true},
		{204, true},
		{404, true},
		{499, true},
		{500, false},
		{503, false},
	}

	for _, tt := range tests {
		var status atomic.Int64
		status.Store(int64(tt.status))
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(int(status.Load()))
		}))

		got := testPoller().probe(ts.URL)
		if got != tt.ready {
			t.Errorf("status %d: probe=%v, want %v", tt.status, got, tt.ready)
		}
		ts.Close()
	}
}

func TestReadinessPoller_ServerErrorsPollUntilTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	if testPoller().Wait(ts.URL, 100*time.Millisecond) {
		t.Error("expected Wait=false for a server stuck on 503")
	}
}

func TestReadinessPoller_NeverRespondsWithinBound(t *testing.T) {
	// Grab an address, then close so connections are refused
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	timeout := 200 * time.Millisecond
	start := time.Now()
	if testPoller().Wait(url, timeout) {
		t.Fatal("expected Wait=false for refused connections")
	}

	// Bounded by timeout plus at most one attempt timeout (plus slack)
	bound := timeout + 500*time.Millisecond + 500*time.Millisecond
	if elapsed := time.Since(start); elapsed > bound {
		t.Errorf("Wait took %v, want under %v", elapsed, bound)
	}
}

func TestReadinessPoller_BecomesReady(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if !testPoller().Wait(ts.URL, 5*time.Second) {
		t.Fatal("expected Wait=true once the server recovers")
	}
	if calls.Load() < 3 {
		t.Errorf("expected at least 3 attempts, got %d", calls.Load())
	}
}

func TestReadinessURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8501", "http://localhost:8501"},
		{"http://localhost:8501/", "http://localhost:8501/"},
		{"http://localhost:8501/?debug=1", "http://localhost:8501/"},
		{"http://localhost:8501/app?debug=1&x=2", "http://localhost:8501/app"},
		{"http://localhost:8501/app#frag", "http://localhost:8501/app"},
	}

	for _, tt := range tests {
		if got := readinessURL(tt.in); got != tt.want {
			t.Errorf("readinessURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
