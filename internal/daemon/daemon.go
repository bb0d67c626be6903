// Package daemon runs the per-queue scheduler: it launches the best waiting
// task, preempts it when a strictly better one arrives, and yields the device
// to processes it does not manage.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/tq/internal/history"
	"github.com/msageha/tq/internal/lock"
	"github.com/msageha/tq/internal/logging"
	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/occupancy"
	"github.com/msageha/tq/internal/proc"
)

// Supervisor launches task commands and signals their process groups.
// *proc.Supervisor is the production implementation.
type Supervisor interface {
	Spawn(spec proc.Spec) (*proc.Process, error)
	SignalGroup(pgid int, sig syscall.Signal) error
	IsAlive(pid int) bool
	GroupAlive(pgid int) bool
	Descendants(ctx context.Context, root int) (map[int]bool, error)
}

// Options configures a Daemon. Zero-valued collaborators are filled in by New.
type Options struct {
	Queue  string
	Layout model.Layout
	Config model.Config

	// Logger overrides the operational log. When nil the daemon appends to
	// logs/scheduler_<queue>.log under the base directory.
	Logger     *slog.Logger
	Supervisor Supervisor
	Probe      occupancy.Probe
	// History is optional; nil disables the run ledger. The daemon closes it
	// on shutdown.
	History *history.Store
	Now     func() time.Time
}

// Daemon is the scheduler for one queue.
type Daemon struct {
	queue     string
	layout    model.Layout
	config    model.Config
	queuePath string

	logger  *slog.Logger
	logFile io.Closer

	instLock *lock.FileLock
	watcher  *fsnotify.Watcher
	sup      Supervisor
	probe    occupancy.Probe
	hist     *history.Store
	now      func() time.Time

	state model.SchedulerState
	cur   *runningTask
	// wake is signalled when the queue file changes.
	wake chan struct{}

	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a Daemon for opts.Queue.
func New(opts Options) (*Daemon, error) {
	if opts.Queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if opts.Layout.BaseDir == "" {
		opts.Layout.BaseDir = model.DefaultBaseDir()
	}

	d := &Daemon{
		queue:     opts.Queue,
		layout:    opts.Layout,
		config:    opts.Config,
		queuePath: opts.Layout.QueueFile(opts.Queue),
		instLock:  lock.NewFileLock(opts.Layout.InstanceLock(opts.Queue)),
		sup:       opts.Supervisor,
		probe:     opts.Probe,
		hist:      opts.History,
		now:       opts.Now,
		state:     model.StateIdle,
		wake:      make(chan struct{}, 1),
	}

	logger := opts.Logger
	if logger == nil {
		f, err := logging.OpenFile(opts.Layout.SchedulerLog(opts.Queue))
		if err != nil {
			return nil, err
		}
		d.logFile = f
		logger = logging.New(logging.ParseLevel(opts.Config.Logging.Level), opts.Config.Logging.Format, f)
	}
	d.logger = logger.With("component", "daemon", "queue", opts.Queue)

	if d.sup == nil {
		d.sup = proc.NewSupervisor(opts.Config.Daemon.ShellOrDefault())
	}
	if d.probe == nil {
		device := opts.Config.Device.DeviceFor(opts.Queue)
		probe, err := occupancy.NewCommandProbe(opts.Config.Device.QueryCommand, device, d.logger)
		if err != nil {
			d.closeLog()
			return nil, fmt.Errorf("device query command: %w", err)
		}
		d.probe = probe
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// RunWithSignals runs the daemon until SIGTERM or SIGINT. A second signal
// forces an immediate exit.
func (d *Daemon) RunWithSignals() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		d.logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()

		if _, ok := <-sigCh; ok {
			d.logger.Warn("received second signal, forcing exit")
			os.Exit(1)
		}
	}()

	return d.Run(ctx)
}

// Run starts the daemon and blocks until ctx is cancelled and shutdown
// completes. Only startup failures are returned.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.layout.EnsureDirs(); err != nil {
		d.closeLog()
		return err
	}

	if err := d.instLock.TryLock(); err != nil {
		d.closeLog()
		return fmt.Errorf("daemon lock for queue %s: %w", d.queue, err)
	}
	d.logger.Info("daemon starting", "pid", os.Getpid(), "base_dir", d.layout.BaseDir)

	d.checkStale()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		d.closeLog()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Add(filepath.Dir(d.queuePath)); err != nil {
		d.cleanup()
		d.closeLog()
		return fmt.Errorf("watch %s: %w", filepath.Dir(d.queuePath), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.wg.Add(1)
	go d.fsnotifyLoop(loopCtx, watcher)

	d.logger.Info("daemon ready")
	for {
		d.cycle(ctx)
		if ctx.Err() != nil {
			break
		}
		d.sleep(ctx)
		if ctx.Err() != nil {
			break
		}
	}

	d.Shutdown()
	return nil
}

// sleep waits one poll interval, returning early when the queue file changes,
// the running task exits or ctx is cancelled.
func (d *Daemon) sleep(ctx context.Context) {
	timer := time.NewTimer(d.config.Daemon.PollInterval())
	defer timer.Stop()

	var exited <-chan struct{}
	if d.cur != nil {
		exited = d.cur.proc.Done()
	}

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-d.wake:
	case <-exited:
	}
}

// fsnotifyLoop forwards changes to the queue file as wake-ups.
func (d *Daemon) fsnotifyLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != d.queuePath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.logger.Debug("queue file changed", "op", event.Op.String())
				select {
				case d.wake <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", "error", err)
		}
	}
}

// checkStale reports a running-state file left behind by a previous daemon.
// The file is never adopted or removed here; launches stay on hold until an
// operator clears it.
func (d *Daemon) checkStale() {
	data, err := os.ReadFile(d.layout.RunningFile(d.queue))
	if err != nil {
		return
	}
	rs, err := model.ParseRunningState(data)
	if err != nil {
		d.logger.Warn("STALE: unreadable running state, launches on hold until it is removed",
			"path", d.layout.RunningFile(d.queue), "error", err)
		return
	}
	d.logger.Warn("STALE: running state left by a previous daemon, launches on hold until it is removed",
		"path", d.layout.RunningFile(d.queue),
		"pid", rs.PID,
		"alive", d.sup.IsAlive(rs.PID),
		"tag", rs.Task.Tag,
		"log", rs.LogPath)
}

// Shutdown preempts and requeues the running task, then releases every
// resource. It is idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info("shutdown started")

		if d.cur != nil {
			d.preempt("shutdown")
		}

		d.cleanup()
		d.wg.Wait()
		d.logger.Info("daemon stopped")
		d.closeLog()
	})
}

func (d *Daemon) cleanup() {
	if d.watcher != nil {
		d.watcher.Close()
		d.watcher = nil
	}
	if d.hist != nil {
		if err := d.hist.Close(); err != nil {
			d.logger.Warn("close history", "error", err)
		}
		d.hist = nil
	}
	d.instLock.Unlock()
}

func (d *Daemon) closeLog() {
	if d.logFile != nil {
		d.logFile.Close()
		d.logFile = nil
	}
}
