package queue

import (
	"strings"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tq/internal/model"
)

func parseAssignments(t *testing.T, out string) map[string]string {
	t.Helper()
	vars := make(map[string]string)
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		name, raw, ok := strings.Cut(line, "=")
		require.True(t, ok, "line without assignment: %q", line)
		words, err := shellquote.Split(raw)
		require.NoError(t, err, "value not shell-parseable: %q", raw)
		vars[name] = strings.Join(words, " ")
		if len(words) == 0 {
			vars[name] = ""
		}
	}
	return vars
}

func TestFormatAssignments(t *testing.T) {
	task := model.Task{
		Priority:    10,
		Grace:       180,
		Tag:         "it's a tag",
		Command:     `python -c "print('$HOME; rm -rf /')"`,
		WorkDir:     model.StringPtr("/work dir"),
		VCSSnapshot: nil,
		LogPath:     model.StringPtr("/logs/a.log"),
	}

	out, err := FormatAssignments(task)
	require.NoError(t, err)
	assert.Contains(t, out, "TQ_PRIO=10\n")
	assert.Contains(t, out, "TQ_GRACE=180\n")

	vars := parseAssignments(t, out)
	assert.Len(t, vars, 8)
	assert.Equal(t, "it's a tag", vars[VarTag])
	assert.Equal(t, task.Command, vars[VarCommand])
	assert.Equal(t, "/work dir", vars[VarWorkDir])
	assert.Equal(t, "", vars[VarGit])
	assert.Equal(t, "/logs/a.log", vars[VarLogPath])

	decoded, ok := model.DecodeLine(vars[VarJSON])
	require.True(t, ok)
	assert.Equal(t, task.Command, decoded.Command)
	assert.Equal(t, "it's a tag", decoded.Tag)
}
