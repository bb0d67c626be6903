// Package vcs captures a reproducible reference to the working tree state
// at submission time.
package vcs

import (
	"context"
	"os/exec"
	"strings"
)

// Snapshot returns a reference to the state of the git working tree at dir.
// A clean tree yields the abbreviated HEAD commit; a dirty tree yields a
// dangling stash commit that records uncommitted changes without touching
// the tree. Outside a repository, or on any git failure, it returns nil.
func Snapshot(ctx context.Context, dir string) *string {
	if _, err := git(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil
	}

	status, err := git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil
	}
	if status != "" {
		if stash, err := git(ctx, dir, "stash", "create"); err == nil && stash != "" {
			return &stash
		}
	}

	head, err := git(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil || head == "" {
		return nil
	}
	return &head
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
