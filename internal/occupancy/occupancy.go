// Package occupancy reports which processes currently hold a compute device.
package occupancy

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Probe lists the PIDs occupying a device. An empty result means the device
// is free or could not be queried.
type Probe interface {
	Occupants(ctx context.Context) []int
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) []int

func (f ProbeFunc) Occupants(ctx context.Context) []int { return f(ctx) }

// None is a probe that never reports an occupant.
var None Probe = ProbeFunc(func(context.Context) []int { return nil })

// CommandProbe runs an external command that prints one PID per line.
type CommandProbe struct {
	argv   []string
	logger *slog.Logger
}

// NewCommandProbe parses a shell-style command line, substituting {device}
// with device. An empty command yields None.
func NewCommandProbe(command, device string, logger *slog.Logger) (Probe, error) {
	if strings.TrimSpace(command) == "" {
		return None, nil
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, err
	}
	for i, a := range argv {
		argv[i] = strings.ReplaceAll(a, "{device}", device)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandProbe{argv: argv, logger: logger.With("component", "occupancy")}, nil
}

func (p *CommandProbe) Occupants(ctx context.Context) []int {
	out, err := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...).Output()
	if err != nil {
		p.logger.Debug("occupancy query failed", "command", p.argv[0], "error", err)
		return nil
	}
	return ParsePIDs(out)
}

// ParsePIDs extracts one PID per line, skipping anything non-numeric.
func ParsePIDs(out []byte) []int {
	var pids []int
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// Foreign returns the occupants that are not members of tree.
func Foreign(occupants []int, tree map[int]bool) []int {
	var foreign []int
	for _, pid := range occupants {
		if !tree[pid] {
			foreign = append(foreign, pid)
		}
	}
	return foreign
}
