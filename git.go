package main

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitInfo provides best-effort repository metadata for run summaries.
// Every lookup degrades to an empty string when git is unavailable or the
// directory is not a repository; the pipeline never fails over git.
type GitInfo struct {
	dir string
}

// NewGitInfo creates a GitInfo rooted at dir.
func NewGitInfo(dir string) *GitInfo {
	return &GitInfo{dir: dir}
}

// Revision returns the short commit hash of HEAD, or "".
func (g *GitInfo) Revision() string {
	out, err := g.run("rev-parse", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Branch returns the current branch name, or "".
func (g *GitInfo) Branch() string {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Dirty reports whether the worktree has uncommitted changes. Best-effort:
// returns false when status cannot be read.
func (g *GitInfo) Dirty() bool {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// run executes a git command and returns the output
func (g *GitInfo) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s failed: %s", args[0], string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}
