package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	QueueExt   = ".queue"
	RunningExt = ".running"
)

// Layout resolves every file path under the scheduler base directory.
//
//	<base>/<queue>.queue            waiting tasks, one record per line
//	<base>/<queue>.queue.lock       advisory lock shared with producers
//	<base>/<queue>.running          running state (4 lines)
//	<base>/locks/<queue>.lock       daemon instance lock (holds daemon PID)
//	<base>/logs/scheduler_<q>.log   daemon operational log
//	<base>/logs/tasks/*.log         one file per logical task
//	<base>/history.db               run history ledger
//	<base>/config.yaml              optional configuration
type Layout struct {
	BaseDir string
}

// DefaultBaseDir returns $TQ_HOME, falling back to ~/task_queue.
func DefaultBaseDir() string {
	if d := os.Getenv("TQ_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "task_queue"
	}
	return filepath.Join(home, "task_queue")
}

func (l Layout) QueueFile(queue string) string {
	return filepath.Join(l.BaseDir, queue+QueueExt)
}

func (l Layout) RunningFile(queue string) string {
	return filepath.Join(l.BaseDir, queue+RunningExt)
}

func (l Layout) LockDir() string { return filepath.Join(l.BaseDir, "locks") }

func (l Layout) InstanceLock(queue string) string {
	return filepath.Join(l.LockDir(), queue+".lock")
}

func (l Layout) LogDir() string { return filepath.Join(l.BaseDir, "logs") }

func (l Layout) TaskLogDir() string { return filepath.Join(l.LogDir(), "tasks") }

func (l Layout) SchedulerLog(queue string) string {
	return filepath.Join(l.LogDir(), "scheduler_"+queue+".log")
}

func (l Layout) HistoryDB() string { return filepath.Join(l.BaseDir, "history.db") }

func (l Layout) ConfigFile() string { return filepath.Join(l.BaseDir, "config.yaml") }

// EnsureDirs creates the directories a daemon needs before it can run.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.BaseDir, l.LockDir(), l.LogDir(), l.TaskLogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Queues lists queue names that have a queue file, a running file or a
// daemon instance lock.
func (l Layout) Queues() ([]string, error) {
	seen := make(map[string]bool)
	entries, err := os.ReadDir(l.BaseDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read base dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, QueueExt):
			seen[strings.TrimSuffix(name, QueueExt)] = true
		case strings.HasSuffix(name, RunningExt):
			seen[strings.TrimSuffix(name, RunningExt)] = true
		}
	}
	locks, err := os.ReadDir(l.LockDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read lock dir: %w", err)
	}
	for _, e := range locks {
		if name := e.Name(); strings.HasSuffix(name, ".lock") {
			seen[strings.TrimSuffix(name, ".lock")] = true
		}
	}

	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues, nil
}
