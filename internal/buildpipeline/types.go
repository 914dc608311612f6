package buildpipeline

import (
	"fmt"
	"time"
)

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageScaffold copies the host project template next to the source.
	StageScaffold Stage = "scaffold"
	// StageBuild runs `dotnet build` on the staged project.
	StageBuild Stage = "build"
	// StageCodegen runs crossgen2 on the built assembly.
	StageCodegen Stage = "codegen"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the task is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the task is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the task is done.
	StatusDone Status = "done"
	// StatusError indicates the task encountered an error.
	StatusError Status = "error"
)

// State is a position in the pipeline state machine.
type State uint8

const (
	// StateStage copies the scaffold.
	StateStage State = iota
	// StateBuild runs the build tool.
	StateBuild
	// StateCodegen runs the code generator.
	StateCodegen
	// StateDone is terminal: every stage succeeded.
	StateDone
	// StateFailed is terminal: a stage failed.
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateStage:
		return "stage"
	case StateBuild:
		return "build"
	case StateCodegen:
		return "codegen"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event reports progress for a file (or for the overall pipeline when File is empty).
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ExitError reports a tool that finished with a non-zero exit code.
type ExitError struct {
	Stage Stage
	Code  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s stage exited with code %d", e.Stage, e.Code)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}

// Map returns a copy of the recorded durations.
func (t Timings) Map() map[Stage]time.Duration {
	out := make(map[Stage]time.Duration, len(t.stages))
	for k, v := range t.stages {
		out[k] = v
	}
	return out
}
