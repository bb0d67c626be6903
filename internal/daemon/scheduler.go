package daemon

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/tq/internal/atomicfile"
	"github.com/msageha/tq/internal/history"
	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/occupancy"
	"github.com/msageha/tq/internal/proc"
	"github.com/msageha/tq/internal/queue"
	"github.com/msageha/tq/internal/tasklog"
)

// runningTask is the task this daemon launched and still owns.
type runningTask struct {
	task  model.Task
	proc  *proc.Process
	log   *tasklog.Log
	runID string
}

// cycle runs one scheduling pass.
func (d *Daemon) cycle(ctx context.Context) {
	if d.cur != nil && d.cur.proc.Exited() {
		d.complete()
	}

	if d.cur != nil {
		if d.yieldIfForeign(ctx, d.cur.proc.PID) {
			return
		}
		d.transition(model.StateRunning)

		best := queue.PeekMinPriority(d.queuePath)
		if best >= d.cur.task.Priority {
			return
		}
		d.logger.Info("higher priority task waiting", "waiting_priority", best, "running_priority", d.cur.task.Priority)
		d.preempt("priority")
	}

	if ctx.Err() != nil {
		return
	}
	d.launchNext(ctx)
}

// yieldIfForeign samples the device and reports whether a process outside
// root's tree holds it. root is the tracked task, or the daemon itself while
// idle. While yielding no kill or preemption is performed.
func (d *Daemon) yieldIfForeign(ctx context.Context, root int) bool {
	occupants := d.probe.Occupants(ctx)
	if len(occupants) == 0 {
		if d.state == model.StateYielding {
			d.transition(d.settledState())
		}
		return false
	}

	tree, err := d.sup.Descendants(ctx, root)
	if err != nil {
		// Ancestry unknown: every occupant counts as foreign.
		d.logger.Warn("process table unavailable", "error", err)
		tree = map[int]bool{}
	}
	foreign := occupancy.Foreign(occupants, tree)
	if len(foreign) == 0 {
		if d.state == model.StateYielding {
			d.transition(d.settledState())
		}
		return false
	}

	d.transition(model.StateYielding)
	d.logger.Info(fmt.Sprintf("YIELD: Unmanaged PID %d on device", foreign[0]), "unmanaged", foreign)
	return true
}

func (d *Daemon) settledState() model.SchedulerState {
	if d.cur != nil {
		return model.StateRunning
	}
	return model.StateIdle
}

// launchNext pops the best waiting task and starts it.
func (d *Daemon) launchNext(ctx context.Context) {
	if _, err := os.Stat(d.layout.RunningFile(d.queue)); err == nil {
		d.logger.Debug("running state present without an owned task, not launching")
		return
	}
	if d.yieldIfForeign(ctx, os.Getpid()) {
		return
	}

	task, err := queue.PopBest(d.queuePath)
	if err != nil {
		d.logger.Error("pop failed", "error", err)
		return
	}
	if task == nil {
		return
	}
	d.launch(ctx, *task)
}

func (d *Daemon) launch(ctx context.Context, task model.Task) {
	runID := uuid.NewString()
	now := d.now()

	lg, err := tasklog.Open(d.layout.TaskLogDir(), tasklog.Meta{
		Queue: d.queue,
		Task:  task,
		RunID: runID,
		Start: now,
	})
	if err != nil {
		d.dropTask(ctx, task, runID, now, err)
		return
	}
	task.LogPath = model.StringPtr(lg.Path)

	p, err := d.sup.Spawn(proc.Spec{
		Command: task.Command,
		Dir:     model.Deref(task.WorkDir),
		Output:  lg.File(),
	})
	if err != nil {
		_ = lg.Finish(history.OutcomeFailedToStart, d.now())
		d.dropTask(ctx, task, runID, now, err)
		return
	}

	d.cur = &runningTask{task: task, proc: p, log: lg, runID: runID}
	d.transition(model.StateRunning)
	d.writeRunningState()

	d.logger.Info("START: Task",
		"tag", task.Tag,
		"pid", p.PID,
		"priority", task.Priority,
		"grace", task.Grace,
		"resumed", lg.Resumed,
		"run_id", runID,
		"log", lg.Path)

	if d.hist != nil {
		err := d.hist.RecordStart(ctx, history.Run{
			RunID:     runID,
			Queue:     d.queue,
			Tag:       task.Tag,
			Command:   task.Command,
			Priority:  task.Priority,
			PID:       p.PID,
			LogPath:   lg.Path,
			Resumed:   lg.Resumed,
			StartedAt: now,
		})
		if err != nil {
			d.logger.Warn("history record failed", "error", err)
		}
	}
}

// dropTask discards a task that could not be started. The full record is
// logged so an operator can resubmit it.
func (d *Daemon) dropTask(ctx context.Context, task model.Task, runID string, started time.Time, cause error) {
	line, _ := task.Encode()
	d.logger.Error("DROP: Task failed to start", "tag", task.Tag, "error", cause, "record", line)

	if d.hist == nil {
		return
	}
	ended := d.now()
	err := d.hist.RecordStart(ctx, history.Run{
		RunID:     runID,
		Queue:     d.queue,
		Tag:       task.Tag,
		Command:   task.Command,
		Priority:  task.Priority,
		LogPath:   model.Deref(task.LogPath),
		StartedAt: started,
		EndedAt:   &ended,
		Outcome:   history.OutcomeFailedToStart,
	})
	if err != nil {
		d.logger.Warn("history record failed", "error", err)
	}
}

// complete handles a task whose leader exited on its own. Members of its
// process group that outlived the leader are terminated with the task's grace
// period, so no second group runs beside the next launch.
func (d *Daemon) complete() {
	cur := d.cur
	code := cur.proc.ExitCode()
	outcome := tasklog.OutcomeCompleted(code)
	if code < 0 {
		outcome = tasklog.OutcomeKilled
	}
	if err := cur.proc.Err(); err != nil {
		d.logger.Warn("wait on task leader failed", "tag", cur.task.Tag, "pid", cur.proc.PID, "error", err)
	}

	if d.sup.GroupAlive(cur.proc.PID) {
		d.logger.Info("REAP: Task left processes behind", "tag", cur.task.Tag, "pid", cur.proc.PID, "grace", cur.task.Grace)
		d.stopGroup(cur)
	}

	if err := cur.log.Finish(outcome, d.now()); err != nil {
		d.logger.Warn("finalize task log", "error", err)
	}
	d.removeRunningState()

	d.logger.Info("DONE: Task", "tag", cur.task.Tag, "pid", cur.proc.PID, "exit", code, "log", cur.log.Path)
	d.recordEnd(cur.runID, outcome, &code)

	d.cur = nil
	d.transition(model.StateIdle)
}

// preempt stops the running task and puts it back on the queue with its log
// path, so the next launch resumes the same log.
func (d *Daemon) preempt(reason string) {
	cur := d.cur

	d.transition(model.StatePreempting)
	d.logger.Info("PREEMPT: Task",
		"tag", cur.task.Tag,
		"pid", cur.proc.PID,
		"priority", cur.task.Priority,
		"grace", cur.task.Grace,
		"reason", reason)

	killed := d.stopGroup(cur)

	task := cur.task
	task.LogPath = model.StringPtr(cur.log.Path)
	if err := queue.Append(d.queuePath, task); err != nil {
		line, _ := task.Encode()
		d.logger.Error("requeue failed, task record lost", "error", err, "record", line)
	} else {
		d.logger.Info("REQUEUE: Task", "tag", task.Tag, "priority", task.Priority, "log", cur.log.Path)
	}

	outcome := tasklog.OutcomePreempted
	if killed {
		outcome = tasklog.OutcomeKilled
	}
	if err := cur.log.Finish(outcome, d.now()); err != nil {
		d.logger.Warn("finalize task log", "error", err)
	}
	d.removeRunningState()
	d.recordEnd(cur.runID, outcome, nil)

	d.cur = nil
	d.transition(model.StateIdle)
}

// stopGroup sends SIGTERM to the task's process group and polls until the
// group is gone or the grace period runs out, then sends SIGKILL. It reports
// whether the kill was needed. The wait ignores cancellation: shutdown stops
// tasks too.
func (d *Daemon) stopGroup(cur *runningTask) bool {
	pgid := cur.proc.PID
	grace := time.Duration(cur.task.Grace) * time.Second

	if err := d.sup.SignalGroup(pgid, syscall.SIGTERM); err != nil {
		d.logger.Warn("terminate failed", "pid", pgid, "error", err)
	}

	killed := false
	deadline := time.Now().Add(grace)
	for d.groupAlive(cur) {
		if !time.Now().Before(deadline) {
			d.logger.Warn("KILL: Task did not exit within grace period", "tag", cur.task.Tag, "pid", pgid, "grace", cur.task.Grace)
			if err := d.sup.SignalGroup(pgid, syscall.SIGKILL); err != nil {
				d.logger.Error("kill failed", "pid", pgid, "error", err)
			}
			killed = true
			break
		}
		time.Sleep(d.config.Daemon.GracePollInterval())
	}

	if killed {
		select {
		case <-cur.proc.Done():
		case <-time.After(5 * time.Second):
			d.logger.Error("task leader not reaped after kill", "pid", pgid)
		}
	}
	return killed
}

func (d *Daemon) groupAlive(cur *runningTask) bool {
	return !cur.proc.Exited() || d.sup.GroupAlive(cur.proc.PID)
}

func (d *Daemon) writeRunningState() {
	rs := model.RunningState{
		PID:      d.cur.proc.PID,
		Priority: d.cur.task.Priority,
		LogPath:  d.cur.log.Path,
		Task:     d.cur.task,
	}
	data, err := rs.Encode()
	if err == nil {
		err = atomicfile.WriteFile(d.layout.RunningFile(d.queue), data, 0644)
	}
	if err != nil {
		d.logger.Error("write running state", "error", err)
	}
}

func (d *Daemon) removeRunningState() {
	if err := os.Remove(d.layout.RunningFile(d.queue)); err != nil && !os.IsNotExist(err) {
		d.logger.Error("remove running state", "error", err)
	}
}

func (d *Daemon) recordEnd(runID, outcome string, exitCode *int) {
	if d.hist == nil {
		return
	}
	if err := d.hist.RecordEnd(context.Background(), runID, outcome, exitCode, d.now()); err != nil {
		d.logger.Warn("history record failed", "error", err)
	}
}

func (d *Daemon) transition(to model.SchedulerState) {
	if err := model.ValidateSchedulerTransition(d.state, to); err != nil {
		d.logger.Error("state transition rejected", "error", err)
		return
	}
	if d.state != to {
		d.logger.Debug("state", "from", string(d.state), "to", string(to))
	}
	d.state = to
}
