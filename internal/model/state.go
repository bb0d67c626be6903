package model

import "fmt"

// SchedulerState is the per-queue daemon state.
type SchedulerState string

const (
	StateIdle       SchedulerState = "IDLE"
	StateRunning    SchedulerState = "RUNNING"
	StatePreempting SchedulerState = "PREEMPTING"
	StateYielding   SchedulerState = "YIELDING"
)

// IDLE → RUNNING on launch; RUNNING → IDLE on natural completion;
// RUNNING → PREEMPTING → IDLE on preemption; RUNNING ⇄ YIELDING while an
// unmanaged process occupies the device. IDLE ⇄ YIELDING covers a foreign
// occupant holding the device before anything is launched.
var validSchedulerTransitions = map[SchedulerState]map[SchedulerState]bool{
	StateIdle: {
		StateRunning:  true,
		StateYielding: true,
	},
	StateRunning: {
		StateIdle:       true,
		StatePreempting: true,
		StateYielding:   true,
	},
	StatePreempting: {
		StateIdle: true,
	},
	StateYielding: {
		StateRunning:    true,
		StateIdle:       true,
		StatePreempting: true,
	},
}

func ValidateSchedulerTransition(from, to SchedulerState) error {
	if from == to {
		return nil
	}
	if validSchedulerTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid scheduler transition: %s → %s", from, to)
}
