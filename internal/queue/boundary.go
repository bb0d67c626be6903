package queue

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/msageha/tq/internal/model"
)

// Assignment names emitted for a popped record. A shell consumer can eval
// the output directly.
const (
	VarPriority = "TQ_PRIO"
	VarGrace    = "TQ_GRACE"
	VarTag      = "TQ_TAG"
	VarWorkDir  = "TQ_WORKDIR"
	VarGit      = "TQ_GIT"
	VarCommand  = "TQ_CMD"
	VarLogPath  = "TQ_LOG_PATH"
	VarJSON     = "TQ_JSON"
)

// FormatAssignments renders t as NAME=value lines with every value
// shell-quoted. Absent optional fields render as empty strings.
func FormatAssignments(t model.Task) (string, error) {
	line, err := t.Encode()
	if err != nil {
		return "", err
	}

	pairs := []struct {
		name  string
		value string
	}{
		{VarPriority, strconv.Itoa(t.Priority)},
		{VarGrace, strconv.Itoa(t.Grace)},
		{VarTag, t.Tag},
		{VarWorkDir, model.Deref(t.WorkDir)},
		{VarGit, model.Deref(t.VCSSnapshot)},
		{VarCommand, t.Command},
		{VarLogPath, model.Deref(t.LogPath)},
		{VarJSON, line},
	}

	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s=%s\n", p.name, shellquote.Join(p.value))
	}
	return b.String(), nil
}
