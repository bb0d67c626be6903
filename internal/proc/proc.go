// Package proc launches task commands in their own process group and
// answers liveness and ancestry questions about processes and groups.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spec describes one command launch.
type Spec struct {
	Command string
	// Dir is the working directory. Empty inherits the caller's.
	Dir string
	// Output receives both stdout and stderr. Nil discards output.
	Output *os.File
}

// Process is a launched group leader. It is reaped by a background waiter;
// Done is closed once the leader has exited.
type Process struct {
	PID int

	done     chan struct{}
	exitCode int
	waitErr  error
}

func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the leader has exited, without blocking.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the leader's exit status, or -1 if it was terminated by a
// signal. It is only meaningful after Done is closed.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Err returns the error reported by wait, if any.
func (p *Process) Err() error {
	<-p.done
	return p.waitErr
}

// Table returns the current process table as a pid -> parent pid map.
type Table func(ctx context.Context) (map[int]int, error)

// Supervisor starts task commands and signals their process groups.
type Supervisor struct {
	shell string
	table Table
}

func NewSupervisor(shell string) *Supervisor {
	if shell == "" {
		shell = "bash"
	}
	return &Supervisor{shell: shell, table: PSTable}
}

// WithTable replaces the process table source used by Descendants.
func (s *Supervisor) WithTable(t Table) *Supervisor {
	s.table = t
	return s
}

// Spawn runs spec.Command through the configured shell as the leader of a
// new session, so the returned PID is also the process group ID.
func (s *Supervisor) Spawn(spec Spec) (*Process, error) {
	cmd := exec.Command(s.shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", spec.Command, err)
	}

	p := &Process{PID: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.exitCode = -1
		if st := cmd.ProcessState; st != nil {
			p.exitCode = st.ExitCode()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.waitErr = err
		}
		close(p.done)
	}()
	return p, nil
}

// SignalGroup delivers sig to every member of process group pgid. A group
// that no longer exists is not an error.
func (s *Supervisor) SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal group %d with %v: %w", pgid, sig, err)
	}
	return nil
}

// IsAlive reports whether pid exists. A process owned by another user
// counts as alive.
func (s *Supervisor) IsAlive(pid int) bool {
	return IsAlive(pid)
}

// GroupAlive reports whether any member of process group pgid exists.
func (s *Supervisor) GroupAlive(pgid int) bool {
	if pgid <= 1 {
		return false
	}
	return probe(-pgid)
}

// Descendants returns root together with every transitive child of root in
// the current process table.
func (s *Supervisor) Descendants(ctx context.Context, root int) (map[int]bool, error) {
	parents, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	return descendants(parents, root), nil
}

func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return probe(pid)
}

func probe(target int) bool {
	err := unix.Kill(target, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func descendants(parents map[int]int, root int) map[int]bool {
	children := make(map[int][]int, len(parents))
	for pid, ppid := range parents {
		children[ppid] = append(children[ppid], pid)
	}

	tree := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if !tree[child] {
				tree[child] = true
				queue = append(queue, child)
			}
		}
	}
	return tree
}

// PSTable reads the process table with ps.
func PSTable(ctx context.Context) (map[int]int, error) {
	out, err := exec.CommandContext(ctx, "ps", "-A", "-o", "pid=", "-o", "ppid=").Output()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return parseTable(out), nil
}

func parseTable(out []byte) map[int]int {
	parents := make(map[int]int)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		parents[pid] = ppid
	}
	return parents
}
