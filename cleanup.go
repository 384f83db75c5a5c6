package main

import (
	"sync"
)

// CleanupCoordinator guarantees that the launched server is terminated and
// the run lock released no matter how the pipeline ends: normal completion,
// environment error, stage failure, or a signal. Resources register
// themselves as they are created; Cleanup runs exactly once.
type CleanupCoordinator struct {
	mu     sync.Mutex
	server *AppServer
	logger *RunLogger
	lock   *LockFile
	done   bool
}

// NewCleanupCoordinator creates a new cleanup coordinator.
func NewCleanupCoordinator() *CleanupCoordinator {
	return &CleanupCoordinator{}
}

// SetServer registers the launched app server for cleanup.
func (c *CleanupCoordinator) SetServer(s *AppServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = s
}

// SetLogger registers the run logger for cleanup.
func (c *CleanupCoordinator) SetLogger(l *RunLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// SetLock registers the lock file for cleanup.
func (c *CleanupCoordinator) SetLock(lf *LockFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock = lf
}

// Cleanup releases all registered resources. Safe to call multiple times
// (idempotent); only the first call does any work.
func (c *CleanupCoordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return
	}
	c.done = true

	// Server first: stop the app before anything else winds down
	if c.server != nil {
		c.server.Stop()
		c.server = nil
	}

	// RunEnd is idempotent, so this only lands when the pipeline was
	// interrupted before logging its own end event
	if c.logger != nil {
		c.logger.RunEnd(false, "interrupted")
		c.logger.Close()
	}

	// Release lock last
	if c.lock != nil {
		c.lock.Release()
	}
}
