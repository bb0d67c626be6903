// Package queue implements the line-oriented queue file protocol: locked
// select-and-remove of the best record, read-only priority peek, and
// producer append. Every mutation happens under the same advisory lock.
package queue

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/msageha/tq/internal/atomicfile"
	"github.com/msageha/tq/internal/lock"
	"github.com/msageha/tq/internal/model"
)

// NoPriority is reported by PeekMinPriority when no record is present.
const NoPriority = 99999

var ErrIndexOutOfRange = errors.New("queue index out of range")

// LockPath returns the advisory lock file shared by the daemon and every
// producer of the queue at path.
func LockPath(path string) string {
	return path + ".lock"
}

// PeekMinPriority returns the lowest priority present in the queue, or
// NoPriority if the file is missing, empty or entirely unparseable.
// It never modifies the queue file.
func PeekMinPriority(path string) int {
	if _, err := os.Stat(path); err != nil {
		return NoPriority
	}

	best := NoPriority
	found := false
	_ = lock.WithRLock(LockPath(path), func() error {
		tasks, err := readTasks(path)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if !found || t.Priority < best {
				best = t.Priority
				found = true
			}
		}
		return nil
	})
	return best
}

// PopBest removes and returns the record with the lowest priority, earliest
// insertion first among equals. The remaining records are rewritten in the
// canonical encoding; unparseable lines are dropped. It returns nil, nil
// without touching the file when no parseable record exists.
func PopBest(path string) (*model.Task, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var popped *model.Task
	err := lock.WithLock(LockPath(path), func() error {
		tasks, err := readTasks(path)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		idx := selectBest(tasks)
		best := tasks[idx]
		rest := make([]model.Task, 0, len(tasks)-1)
		rest = append(rest, tasks[:idx]...)
		rest = append(rest, tasks[idx+1:]...)

		if err := writeTasks(path, rest); err != nil {
			return err
		}
		popped = &best
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", path, err)
	}
	return popped, nil
}

// Append adds t at the end of the queue.
func Append(path string, t model.Task) error {
	line, err := t.Encode()
	if err != nil {
		return err
	}
	return lock.WithLock(LockPath(path), func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer f.Close()

		// A producer may have left the last line unterminated.
		prefix := ""
		if st, err := f.Stat(); err == nil && st.Size() > 0 {
			last := make([]byte, 1)
			if _, err := f.ReadAt(last, st.Size()-1); err == nil && last[0] != '\n' {
				prefix = "\n"
			}
		}

		if _, err := f.WriteString(prefix + line + "\n"); err != nil {
			return fmt.Errorf("append queue: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync queue: %w", err)
		}
		return nil
	})
}

// List returns the parseable records in file (arrival) order.
func List(path string) ([]model.Task, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var tasks []model.Task
	err := lock.WithRLock(LockPath(path), func() error {
		var err error
		tasks, err = readTasks(path)
		return err
	})
	return tasks, err
}

// Remove deletes the record at 1-based position index (arrival order) and
// returns it.
func Remove(path string, index int) (model.Task, error) {
	var removed model.Task
	err := lock.WithLock(LockPath(path), func() error {
		tasks, err := readTasks(path)
		if err != nil {
			return err
		}
		if index < 1 || index > len(tasks) {
			return fmt.Errorf("remove #%d of %d: %w", index, len(tasks), ErrIndexOutOfRange)
		}
		removed = tasks[index-1]
		rest := append(tasks[:index-1:index-1], tasks[index:]...)
		return writeTasks(path, rest)
	})
	return removed, err
}

// Order returns the 0-based positions of tasks in selection order: lowest
// priority first, file order among equals.
func Order(tasks []model.Task) []int {
	idx := make([]int, len(tasks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return tasks[idx[a]].Priority < tasks[idx[b]].Priority
	})
	return idx
}

// selectBest returns the index of the first record with the minimum priority.
func selectBest(tasks []model.Task) int {
	best := 0
	for i := 1; i < len(tasks); i++ {
		if tasks[i].Priority < tasks[best].Priority {
			best = i
		}
	}
	return best
}

func readTasks(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return decodeAll(data), nil
}

// decodeAll decodes every line of data. Lines are split on the whole buffer,
// so no line is too long to be seen; an oversized or garbled line is dropped
// like any other malformed one.
func decodeAll(data []byte) []model.Task {
	var tasks []model.Task
	for _, line := range bytes.Split(data, []byte("\n")) {
		if t, ok := model.DecodeLine(string(line)); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func writeTasks(path string, tasks []model.Task) error {
	var b strings.Builder
	for _, t := range tasks {
		line, err := t.Encode()
		if err != nil {
			return err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := atomicfile.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("rewrite queue: %w", err)
	}
	return nil
}
