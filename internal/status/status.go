// Package status reports the state of every queue: daemon liveness, the
// running task and the waiting backlog.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/tq/internal/lock"
	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/proc"
	"github.com/msageha/tq/internal/queue"
)

type Report struct {
	Queues []QueueStatus `json:"queues"`
}

type QueueStatus struct {
	Name    string       `json:"name"`
	Daemon  DaemonStatus `json:"daemon"`
	Running *RunningTask `json:"running,omitempty"`
	// Stale is set when a running-state file exists but its owner is gone.
	Stale        bool `json:"stale"`
	Waiting      int  `json:"waiting"`
	BestPriority *int `json:"best_priority,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type RunningTask struct {
	PID      int       `json:"pid"`
	Alive    bool      `json:"alive"`
	Priority int       `json:"priority"`
	Tag      string    `json:"tag"`
	Command  string    `json:"command"`
	LogPath  string    `json:"log_path"`
	Since    time.Time `json:"since"`
}

// Collect inspects the given queues concurrently. An empty list means every
// queue found under the base directory.
func Collect(ctx context.Context, layout model.Layout, queues []string) (Report, error) {
	if len(queues) == 0 {
		var err error
		queues, err = layout.Queues()
		if err != nil {
			return Report{}, err
		}
	}

	report := Report{Queues: make([]QueueStatus, len(queues))}
	g, _ := errgroup.WithContext(ctx)
	for i, name := range queues {
		g.Go(func() error {
			qs, err := collectQueue(layout, name)
			if err != nil {
				return fmt.Errorf("queue %s: %w", name, err)
			}
			report.Queues[i] = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return report, nil
}

func collectQueue(layout model.Layout, name string) (QueueStatus, error) {
	qs := QueueStatus{Name: name}

	if pid, err := lock.ReadPID(layout.InstanceLock(name)); err == nil {
		qs.Daemon = DaemonStatus{Running: proc.IsAlive(pid), PID: pid}
	}

	runningPath := layout.RunningFile(name)
	if data, err := os.ReadFile(runningPath); err == nil {
		rs, perr := model.ParseRunningState(data)
		if perr != nil {
			qs.Stale = true
		} else {
			rt := &RunningTask{
				PID:      rs.PID,
				Alive:    proc.IsAlive(rs.PID),
				Priority: rs.Priority,
				Tag:      rs.Task.Tag,
				Command:  rs.Task.Command,
				LogPath:  rs.LogPath,
			}
			if st, err := os.Stat(runningPath); err == nil {
				rt.Since = st.ModTime()
			}
			qs.Running = rt
			qs.Stale = !qs.Daemon.Running || !rt.Alive
		}
	}

	tasks, err := queue.List(layout.QueueFile(name))
	if err != nil {
		return qs, err
	}
	qs.Waiting = len(tasks)
	if best := queue.PeekMinPriority(layout.QueueFile(name)); best != queue.NoPriority {
		qs.BestPriority = &best
	}
	return qs, nil
}

// Write renders r as a table, or as indented JSON.
func Write(w io.Writer, r Report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if len(r.Queues) == 0 {
		fmt.Fprintln(w, "No queues.")
		return nil
	}

	for _, q := range r.Queues {
		daemon := "stopped"
		if q.Daemon.Running {
			daemon = fmt.Sprintf("running (pid %d)", q.Daemon.PID)
		}
		fmt.Fprintf(w, "Queue %s  daemon: %s  waiting: %d", q.Name, daemon, q.Waiting)
		if q.BestPriority != nil {
			fmt.Fprintf(w, "  best: %d", *q.BestPriority)
		}
		fmt.Fprintln(w)

		switch {
		case q.Running != nil:
			fmt.Fprintf(w, "  running: [%s] pid=%d prio=%d since %s\n",
				q.Running.Tag, q.Running.PID, q.Running.Priority, humanize.Time(q.Running.Since))
			fmt.Fprintf(w, "           %s\n", q.Running.Command)
			fmt.Fprintf(w, "  log:     %s\n", q.Running.LogPath)
		case q.Stale:
			fmt.Fprintln(w, "  running: <unreadable running state>")
		default:
			fmt.Fprintln(w, "  running: idle")
		}
		if q.Stale {
			fmt.Fprintln(w, "  WARNING: stale running state; remove it once the task is confirmed gone")
		}
	}
	return nil
}
