package proc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawn_CapturesOutputAndExitCode(t *testing.T) {
	out, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	defer out.Close()

	s := NewSupervisor("sh")
	p, err := s.Spawn(Spec{Command: "echo hello; echo oops >&2; exit 3", Output: out})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.True(t, p.Exited())
	assert.Equal(t, 3, p.ExitCode())
	assert.NoError(t, p.Err())

	data, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "oops")
}

func TestSpawn_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor("sh")
	p, err := s.Spawn(Spec{Command: "pwd > where.txt", Dir: dir})
	require.NoError(t, err)
	<-p.Done()

	data, err := os.ReadFile(filepath.Join(dir, "where.txt"))
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(data)))
	assert.Equal(t, want, got)
}

func TestSpawn_MissingDirectoryFails(t *testing.T) {
	s := NewSupervisor("sh")
	_, err := s.Spawn(Spec{Command: "true", Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestSignalGroup_KillsWholeGroup(t *testing.T) {
	s := NewSupervisor("sh")
	// The background sleep is a second member of the group.
	p, err := s.Spawn(Spec{Command: "sleep 30 & sleep 30"})
	require.NoError(t, err)

	assert.True(t, s.IsAlive(p.PID))
	assert.True(t, s.GroupAlive(p.PID))

	require.NoError(t, s.SignalGroup(p.PID, syscall.SIGKILL))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("leader survived SIGKILL")
	}
	assert.Equal(t, -1, p.ExitCode())

	require.Eventually(t, func() bool { return !s.GroupAlive(p.PID) }, 5*time.Second, 20*time.Millisecond)

	// Signalling a vanished group is not an error.
	assert.NoError(t, s.SignalGroup(p.PID, syscall.SIGTERM))
}

func TestSignalGroup_RefusesInvalidGroup(t *testing.T) {
	s := NewSupervisor("sh")
	assert.Error(t, s.SignalGroup(0, syscall.SIGTERM))
	assert.Error(t, s.SignalGroup(1, syscall.SIGTERM))
}

func TestIsAlive(t *testing.T) {
	assert.True(t, IsAlive(os.Getpid()))
	assert.False(t, IsAlive(0))
	assert.False(t, IsAlive(-5))
}

func TestDescendants(t *testing.T) {
	table := func(context.Context) (map[int]int, error) {
		return map[int]int{
			10: 1,
			11: 10,
			12: 11,
			13: 10,
			20: 1,
			21: 20,
		}, nil
	}
	s := NewSupervisor("sh").WithTable(table)

	tree, err := s.Descendants(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{10: true, 11: true, 12: true, 13: true}, tree)
}

func TestDescendants_TableError(t *testing.T) {
	s := NewSupervisor("sh").WithTable(func(context.Context) (map[int]int, error) {
		return nil, errors.New("ps failed")
	})
	_, err := s.Descendants(context.Background(), 1)
	assert.Error(t, err)
}

func TestDescendants_RealChild(t *testing.T) {
	s := NewSupervisor("sh")
	p, err := s.Spawn(Spec{Command: "sleep 30"})
	require.NoError(t, err)
	defer func() {
		_ = s.SignalGroup(p.PID, syscall.SIGKILL)
		<-p.Done()
	}()

	tree, err := s.Descendants(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.True(t, tree[p.PID])
}

func TestParseTable(t *testing.T) {
	out := []byte("    1     0\n  42     1\ngarbage line here\n  abc 1\n 43 42\n")
	assert.Equal(t, map[int]int{1: 0, 42: 1, 43: 42}, parseTable(out))
}
