package tasklog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tq/internal/model"
)

func TestSafeTag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"train-v1.2_a", "train-v1.2_a"},
		{"my tag/with:bad*chars", "my_tag_with_bad_chars"},
		{"", "default"},
		{"中文", "__"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeTag(tt.in), "SafeTag(%q)", tt.in)
	}
}

func TestNewPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	assert.Equal(t, filepath.Join("/logs", "0_20260304_050607_a_b.log"), NewPath("/logs", "0", "a b", now))
}

func TestOpen_FirstLaunchWritesHeader(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	task := model.Task{Priority: 100, Grace: 1, Tag: "low task", Command: "sleep 1", WorkDir: model.StringPtr("/tmp")}

	l, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "run-1", Start: start})
	require.NoError(t, err)
	assert.False(t, l.Resumed)
	assert.Equal(t, filepath.Join(dir, "0_20260102_030405_low_task.log"), l.Path)

	_, err = l.File().WriteString("task output\n")
	require.NoError(t, err)
	require.NoError(t, l.Finish(OutcomeCompleted(0), start.Add(time.Minute)))

	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, Banner)
	assert.Contains(t, content, "Tag        : low task")
	assert.Contains(t, content, "Command    : sleep 1")
	assert.Contains(t, content, "WorkDir    : /tmp")
	assert.Contains(t, content, "Git        : N/A")
	assert.Contains(t, content, "Run ID     : run-1")
	assert.Contains(t, content, "task output")
	assert.Contains(t, content, "completed exit=0")
}

func TestOpen_CollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()
	task := model.Task{Tag: "same", Command: "true"}

	a, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "a", Start: start})
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "b", Start: start})
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, strings.HasSuffix(b.Path, "_same_1.log"))
}

func TestOpen_ResumeAppendsToSameFile(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()
	task := model.Task{Priority: 100, Tag: "low", Command: "train"}

	first, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "run-1", Start: start})
	require.NoError(t, err)
	_, _ = first.File().WriteString("epoch 1\n")
	require.NoError(t, first.Finish(OutcomePreempted, start.Add(time.Second)))

	task.LogPath = model.StringPtr(first.Path)
	second, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "run-2", Start: start.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.Path, second.Path)
	_, _ = second.File().WriteString("epoch 2\n")
	require.NoError(t, second.Finish(OutcomeCompleted(0), start.Add(3*time.Second)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "resume must not create a second file")

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	content := string(data)
	assert.Equal(t, 1, strings.Count(content, Banner))
	assert.Equal(t, 1, strings.Count(content, ResumeMarker))
	assert.Less(t, strings.Index(content, "epoch 1"), strings.Index(content, ResumeMarker))
	assert.Less(t, strings.Index(content, ResumeMarker), strings.Index(content, "epoch 2"))

	segs, err := Segments(first.Path)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "run-1", segs[0].RunID)
	assert.False(t, segs[0].Resumed)
	assert.Equal(t, OutcomePreempted, segs[0].Outcome)
	assert.Equal(t, "run-2", segs[1].RunID)
	assert.True(t, segs[1].Resumed)
	assert.Equal(t, "completed exit=0", segs[1].Outcome)
	assert.False(t, segs[1].End.Before(segs[1].Start))
}

func TestOpen_ResumeOfMissingFileStartsOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone", "0_x.log")
	task := model.Task{Tag: "x", Command: "true", LogPath: model.StringPtr(path)}

	l, err := Open(dir, Meta{Queue: "0", Task: task, RunID: "r"})
	require.NoError(t, err)
	assert.False(t, l.Resumed)
	assert.Equal(t, path, l.Path)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), Banner)
}

func TestSegments_UnfinishedRun(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Meta{Queue: "1", Task: model.Task{Tag: "t", Command: "c"}, RunID: "r1"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	segs, err := Segments(l.Path)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "r1", segs[0].RunID)
	assert.Empty(t, segs[0].Outcome)
	assert.False(t, segs[0].Start.IsZero())
}

func TestFinish_Idempotent(t *testing.T) {
	l, err := Open(t.TempDir(), Meta{Queue: "0", Task: model.Task{Tag: "t", Command: "c"}, RunID: "r"})
	require.NoError(t, err)
	require.NoError(t, l.Finish(OutcomeKilled, time.Now()))
	assert.NoError(t, l.Finish(OutcomeKilled, time.Now()))
}
