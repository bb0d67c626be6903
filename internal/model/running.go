package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RunningState is the four-line record a daemon keeps while a task runs:
// pid, priority, log path, full structured task.
type RunningState struct {
	PID      int
	Priority int
	LogPath  string
	Task     Task
}

// Encode renders the running-state file content.
func (r RunningState) Encode() ([]byte, error) {
	line, err := r.Task.Encode()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%d\n%d\n%s\n%s\n", r.PID, r.Priority, r.LogPath, line)), nil
}

// ParseRunningState parses running-state file content.
func ParseRunningState(data []byte) (*RunningState, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("running state: expected 4 lines, got %d", len(lines))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("running state pid: %w", err)
	}
	prio, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, fmt.Errorf("running state priority: %w", err)
	}
	task, ok := DecodeLine(lines[3])
	if !ok {
		return nil, fmt.Errorf("running state: undecodable task record")
	}
	return &RunningState{
		PID:      pid,
		Priority: prio,
		LogPath:  strings.TrimSpace(lines[2]),
		Task:     task,
	}, nil
}
