// Package tasklog maintains one continuous log file per logical task. The
// first launch creates the file with a metadata header; every later launch
// of the same task appends a resume marker to that file instead.
package tasklog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/msageha/tq/internal/model"
)

const (
	Banner       = "Task Metadata Log (V2)"
	ResumeMarker = "RESUMED BY TQ SCHEDULER"
	EndMarker    = "TQ END"

	TimeLayout = "2006-01-02 15:04:05"
	fileStamp  = "20060102_150405"
	rule       = "============================================================"
)

// Outcomes written into the trailer.
const (
	OutcomePreempted = "preempted"
	OutcomeKilled    = "killed"
)

func OutcomeCompleted(exitCode int) string {
	return fmt.Sprintf("completed exit=%d", exitCode)
}

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeTag makes a tag usable as a file name component.
func SafeTag(tag string) string {
	if tag == "" {
		tag = model.DefaultTag
	}
	return unsafeTagChars.ReplaceAllString(tag, "_")
}

// Meta describes the launch being logged.
type Meta struct {
	Queue string
	Task  model.Task
	RunID string
	Start time.Time
}

// Log is an open task log positioned for appending.
type Log struct {
	Path    string
	Resumed bool
	RunID   string
	file    *os.File
}

// File returns the descriptor the task's stdout and stderr should go to.
func (l *Log) File() *os.File { return l.file }

// Open prepares the log for a launch. A task that already carries a log path
// is resumed in that file; otherwise a new file is created under dir.
func Open(dir string, meta Meta) (*Log, error) {
	if meta.Start.IsZero() {
		meta.Start = time.Now()
	}

	if p := model.Deref(meta.Task.LogPath); p != "" {
		return resume(p, meta)
	}

	path, f, err := create(dir, meta.Queue, meta.Task.Tag, meta.Start)
	if err != nil {
		return nil, err
	}
	l := &Log{Path: path, RunID: meta.RunID, file: f}
	if err := l.write(header(meta)); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func resume(path string, meta Meta) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}

	l := &Log{Path: path, RunID: meta.RunID, file: f}
	text := resumeBlock(meta)
	if os.IsNotExist(statErr) {
		// The file was removed while the task waited; start it over.
		text = header(meta)
	} else {
		l.Resumed = true
	}
	if err := l.write(text); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// NewPath returns the file name a first launch at now would use, before any
// collision suffix.
func NewPath(dir, queue, tag string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.log", queue, now.Format(fileStamp), SafeTag(tag))
	return filepath.Join(dir, name)
}

func create(dir, queue, tag string, now time.Time) (string, *os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create log directory: %w", err)
	}
	base := strings.TrimSuffix(NewPath(dir, queue, tag, now), ".log")
	for i := 0; i < 1000; i++ {
		path := base + ".log"
		if i > 0 {
			path = fmt.Sprintf("%s_%d.log", base, i)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("create task log: %w", err)
		}
	}
	return "", nil, fmt.Errorf("create task log %s: too many collisions", base)
}

// Finish appends the trailer for this run and closes the file.
func (l *Log) Finish(outcome string, now time.Time) error {
	if l.file == nil {
		return nil
	}
	err := l.write(fmt.Sprintf("\n--- %s: %s at %s (Run ID: %s) ---\n",
		EndMarker, outcome, now.Format(TimeLayout), l.RunID))
	if cerr := l.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the file without writing a trailer.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Log) write(s string) error {
	if _, err := l.file.WriteString(s); err != nil {
		return fmt.Errorf("write task log: %w", err)
	}
	return nil
}

func header(m Meta) string {
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, Banner)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Tag        : %s\n", m.Task.Tag)
	fmt.Fprintf(&b, "Command    : %s\n", m.Task.Command)
	fmt.Fprintf(&b, "WorkDir    : %s\n", orNA(m.Task.WorkDir))
	fmt.Fprintf(&b, "Git        : %s\n", orNA(m.Task.VCSSnapshot))
	fmt.Fprintf(&b, "Queue      : %s\n", m.Queue)
	fmt.Fprintf(&b, "Priority   : %d\n", m.Task.Priority)
	fmt.Fprintf(&b, "Run ID     : %s\n", m.RunID)
	fmt.Fprintf(&b, "Start Time : %s\n", m.Start.Format(TimeLayout))
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)
	return b.String()
}

func resumeBlock(m Meta) string {
	return fmt.Sprintf("\n%s\n%s at %s (Run ID: %s)\n%s\n\n",
		rule, ResumeMarker, m.Start.Format(TimeLayout), m.RunID, rule)
}

func orNA(s *string) string {
	if v := model.Deref(s); v != "" {
		return v
	}
	return "N/A"
}

// Segment is one launch recorded in a task log.
type Segment struct {
	RunID   string
	Resumed bool
	Start   time.Time
	// Outcome is empty while the segment has no trailer.
	Outcome string
	End     time.Time
}

var (
	resumeLine = regexp.MustCompile(`^` + ResumeMarker + ` at (.+) \(Run ID: (.*)\)$`)
	endLine    = regexp.MustCompile(`^--- ` + EndMarker + `: (.+) at (.+) \(Run ID: (.*)\) ---$`)
)

// Segments reconstructs the launches recorded in the log at path, in order.
func Segments(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task log: %w", err)
	}

	var segs []Segment
	var cur *Segment
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case line == Banner:
			segs = append(segs, Segment{})
			cur = &segs[len(segs)-1]
		case cur != nil && !cur.Resumed && cur.RunID == "" && strings.HasPrefix(line, "Run ID     : "):
			cur.RunID = strings.TrimPrefix(line, "Run ID     : ")
		case cur != nil && !cur.Resumed && cur.Start.IsZero() && strings.HasPrefix(line, "Start Time : "):
			cur.Start, _ = time.ParseInLocation(TimeLayout, strings.TrimPrefix(line, "Start Time : "), time.Local)
		default:
			if m := resumeLine.FindStringSubmatch(line); m != nil {
				start, _ := time.ParseInLocation(TimeLayout, m[1], time.Local)
				segs = append(segs, Segment{RunID: m[2], Resumed: true, Start: start})
				cur = &segs[len(segs)-1]
			} else if m := endLine.FindStringSubmatch(line); m != nil && cur != nil {
				cur.Outcome = m[1]
				cur.End, _ = time.ParseInLocation(TimeLayout, m[2], time.Local)
			}
		}
	}
	return segs, nil
}
