// Package model defines the task record, running state, configuration and
// directory layout shared by the scheduler and its producers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultPriority = 100
	DefaultGrace    = 180
	DefaultTag      = "default"
)

// Task is one queued unit of work. Lower Priority values run first.
// LogPath is assigned on first launch and must survive every requeue.
type Task struct {
	Priority    int     `json:"p"`
	Grace       int     `json:"g"`
	Tag         string  `json:"t"`
	Command     string  `json:"c"`
	WorkDir     *string `json:"wd"`
	VCSSnapshot *string `json:"git"`
	LogPath     *string `json:"lp"`
}

// taskWire mirrors Task with optional fields so defaults can be applied
// only to keys that are actually missing.
type taskWire struct {
	Priority    *int    `json:"p"`
	Grace       *int    `json:"g"`
	Tag         *string `json:"t"`
	Command     *string `json:"c"`
	WorkDir     *string `json:"wd"`
	VCSSnapshot *string `json:"git"`
	LogPath     *string `json:"lp"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Encode returns the canonical single-line structured form of t.
func (t Task) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// DecodeLine decodes one queue line. Structured lines are tried first; any
// line that is not structured, or fails structured decode, is tried as a
// legacy positional line. ok is false when neither form matches.
func DecodeLine(line string) (Task, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Task{}, false
	}
	if strings.HasPrefix(line, "{") {
		if t, ok := decodeStructured(line); ok {
			return t, true
		}
	}
	return decodeLegacy(line)
}

func decodeStructured(line string) (Task, bool) {
	var w taskWire
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return Task{}, false
	}
	if w.Command == nil || strings.TrimSpace(*w.Command) == "" {
		return Task{}, false
	}

	t := Task{
		Priority:    DefaultPriority,
		Grace:       DefaultGrace,
		Tag:         DefaultTag,
		Command:     *w.Command,
		WorkDir:     StringPtr(Deref(w.WorkDir)),
		VCSSnapshot: StringPtr(Deref(w.VCSSnapshot)),
		LogPath:     StringPtr(Deref(w.LogPath)),
	}
	if w.Priority != nil {
		t.Priority = *w.Priority
	}
	if w.Grace != nil {
		t.Grace = *w.Grace
	}
	if w.Tag != nil && *w.Tag != "" {
		t.Tag = *w.Tag
	}
	return t, true
}

// decodeLegacy accepts "priority:grace:tag:command" and "priority:grace:command".
// The third field is read as a tag only when it contains no whitespace,
// since commands themselves may contain colons.
func decodeLegacy(line string) (Task, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 3 {
		return Task{}, false
	}
	prio, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Task{}, false
	}
	grace, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Task{}, false
	}

	tag := DefaultTag
	command := strings.Join(parts[2:], ":")
	if len(parts) == 4 && isLegacyTag(parts[2]) {
		tag = parts[2]
		command = parts[3]
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return Task{}, false
	}
	return Task{Priority: prio, Grace: grace, Tag: tag, Command: command}, true
}

func isLegacyTag(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}
