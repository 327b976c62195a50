package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Phase is one ordered unit of work in an optimization run.
type Phase int

const (
	PhaseAnalyze Phase = iota + 1
	PhaseOptimize
	PhaseGenerate
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseAnalyze, PhaseOptimize, PhaseGenerate}

func (p Phase) String() string {
	switch p {
	case PhaseAnalyze:
		return "analyze"
	case PhaseOptimize:
		return "optimize"
	case PhaseGenerate:
		return "generate"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Started returns the marker written when the phase begins.
func (p Phase) Started() Stage {
	switch p {
	case PhaseAnalyze:
		return StageAnalyzeStarted
	case PhaseOptimize:
		return StageOptimizeStarted
	case PhaseGenerate:
		return StageGenerateStarted
	default:
		return StageNotStarted
	}
}

// Completed returns the marker written when the phase finishes.
func (p Phase) Completed() Stage {
	switch p {
	case PhaseAnalyze:
		return StageAnalyzeCompleted
	case PhaseOptimize:
		return StageOptimizeCompleted
	case PhaseGenerate:
		return StageGenerateCompleted
	default:
		return StageNotStarted
	}
}

// Label is the human readable status text shown while the phase runs.
func (p Phase) Label() string {
	switch p {
	case PhaseAnalyze:
		return "Analyzing resume"
	case PhaseOptimize:
		return "Optimizing content"
	case PhaseGenerate:
		return "Generating final document"
	default:
		return "Processing"
	}
}

// Stage is the single current-position marker of a run.
type Stage int

const (
	StageNotStarted Stage = iota
	StageAnalyzeStarted
	StageAnalyzeCompleted
	StageOptimizeStarted
	StageOptimizeCompleted
	StageGenerateStarted
	StageGenerateCompleted
)

var stageNames = map[Stage]string{
	StageNotStarted:        "not_started",
	StageAnalyzeStarted:    "analyze_started",
	StageAnalyzeCompleted:  "analyze_completed",
	StageOptimizeStarted:   "optimize_started",
	StageOptimizeCompleted: "optimize_completed",
	StageGenerateStarted:   "generate_started",
	StageGenerateCompleted: "generate_completed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage converts a stored marker back into a Stage.
func ParseStage(name string) (Stage, error) {
	if name == "" {
		return StageNotStarted, nil
	}
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return StageNotStarted, fmt.Errorf("unknown stage %q", name)
}

// Terminal reports whether the stage ends a successful run.
func (s Stage) Terminal() bool {
	return s == StageGenerateCompleted
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON tolerates unknown markers by falling back to not_started.
func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		*s = StageNotStarted
		return nil
	}
	*s = parsed
	return nil
}

var (
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrHalted            = errors.New("stage machine halted after error")
)

// Machine tracks the current stage of one run and derives per-phase flags from it.
type Machine struct {
	current Stage
	failed  bool
}

// NewMachine resumes a machine at the given stage.
func NewMachine(current Stage, failed bool) *Machine {
	return &Machine{current: current, failed: failed}
}

func (m *Machine) Current() Stage { return m.current }

func (m *Machine) Failed() bool { return m.failed }

// Advance moves to the next stage. Only the immediate successor is accepted.
func (m *Machine) Advance(next Stage) error {
	if m.failed {
		return ErrHalted
	}
	if m.current.Terminal() || next != m.current+1 {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.current, next)
	}
	m.current = next
	return nil
}

// Fail halts the machine. Completed phases stay completed.
func (m *Machine) Fail() {
	m.failed = true
}

// Reset is the only way back to the beginning.
func (m *Machine) Reset() {
	m.current = StageNotStarted
	m.failed = false
}

// Completed is true once the phase's completion marker or any later marker is reached.
func (m *Machine) Completed(p Phase) bool {
	return m.current >= p.Completed()
}

// InProgress is true only while the current marker is exactly the phase's start marker.
func (m *Machine) InProgress(p Phase) bool {
	return !m.failed && m.current == p.Started()
}

// ActivePhase returns the phase the current marker belongs to.
func (m *Machine) ActivePhase() (Phase, bool) {
	for _, p := range Phases {
		if m.current == p.Started() || m.current == p.Completed() {
			return p, true
		}
	}
	return 0, false
}
