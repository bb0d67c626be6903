package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	// Snapshot creates stash commits, which need an identity.
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0644))
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func TestSnapshot_CleanTreeIsHead(t *testing.T) {
	dir := initRepo(t)
	head := runGit(t, dir, "rev-parse", "--short", "HEAD")

	snap := Snapshot(context.Background(), dir)
	require.NotNil(t, snap)
	assert.Equal(t, head[:len(head)-1], *snap)
}

func TestSnapshot_DirtyTreeIsStashCommit(t *testing.T) {
	dir := initRepo(t)
	head := runGit(t, dir, "rev-parse", "HEAD")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two\n"), 0644))

	snap := Snapshot(context.Background(), dir)
	require.NotNil(t, snap)
	assert.NotEqual(t, head[:len(head)-1], *snap)

	// The tree is left as it was.
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	// The snapshot resolves to a commit object.
	assert.Equal(t, "commit\n", runGit(t, dir, "cat-file", "-t", *snap))
}

func TestSnapshot_OutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	assert.Nil(t, Snapshot(context.Background(), t.TempDir()))
}
