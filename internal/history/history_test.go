package history

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecordStartAndEnd(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, st.RecordStart(ctx, Run{
		RunID: "r1", Queue: "0", Tag: "train", Command: "python train.py",
		Priority: 100, PID: 4242, LogPath: "/logs/a.log", StartedAt: start,
	}))

	runs, err := st.List(ctx, "0", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "train", runs[0].Tag)
	assert.Equal(t, 4242, runs[0].PID)
	assert.Nil(t, runs[0].EndedAt)
	assert.Nil(t, runs[0].ExitCode)
	assert.True(t, runs[0].StartedAt.Equal(start))

	code := 0
	require.NoError(t, st.RecordEnd(ctx, "r1", "completed exit=0", &code, start.Add(time.Minute)))

	runs, err = st.List(ctx, "0", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].EndedAt)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 0, *runs[0].ExitCode)
	assert.Equal(t, "completed exit=0", runs[0].Outcome)
}

func TestRecordEnd_UnknownRun(t *testing.T) {
	st := testStore(t)
	err := st.RecordEnd(context.Background(), "missing", "preempted", nil, time.Now())
	assert.Error(t, err)
}

func TestRecordStart_FailedToStart(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.RecordStart(ctx, Run{
		RunID: "r1", Queue: "0", Tag: "t", Command: "x", StartedAt: now, EndedAt: &now,
		Outcome: OutcomeFailedToStart,
	}))
	runs, err := st.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeFailedToStart, runs[0].Outcome)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestList_FilterOrderAndLimit(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, q := range []string{"0", "1", "0", "0"} {
		require.NoError(t, st.RecordStart(ctx, Run{
			RunID: string(rune('a' + i)), Queue: q, Tag: "t", Command: "c",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := st.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "d", all[0].RunID, "most recent first")

	q0, err := st.List(ctx, "0", 2)
	require.NoError(t, err)
	require.Len(t, q0, 2)
	assert.Equal(t, "d", q0[0].RunID)
	assert.Equal(t, "c", q0[1].RunID)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	st, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, st.RecordStart(ctx, Run{RunID: "r", Queue: "0", Tag: "t", Command: "c", StartedAt: time.Now()}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
