package triage

import (
	"errors"
	"fmt"
)

const (
	// LineSafeThreshold is the confidence needed to call a line safe before any context is consulted.
	LineSafeThreshold = 0.9

	// ScopeSafeThreshold is the confidence needed to call a line safe once its scope has been consulted.
	ScopeSafeThreshold = 0.66

	// MaxNonTerminalHops bounds the escalation chain: initial -> scope -> file.
	MaxNonTerminalHops = 3
)

var errUnknownStage = errors.New("unknown stage")

// transitionFunc selects the next stage from the current state. Must be pure.
type transitionFunc func(s *State) StageID

var transitions = map[StageID]transitionFunc{
	StageInitial:    afterInitial,
	StageCheckScope: afterScope,
	StageCheckFile:  afterFile,
}

// IsTerminal reports whether stage ends a run.
func IsTerminal(stage StageID) bool {
	switch stage {
	case StageHandleSafe, StageVulnerable, StageSuggestUpgrade:
		return true
	}
	return false
}

// Next returns the stage that follows from, given the state after from completed.
func Next(from StageID, s *State) (StageID, error) {
	if IsTerminal(from) {
		return "", NewStageError(KindGraphInvariantViolation, from, errors.New("no transition out of a terminal stage"))
	}
	fn, ok := transitions[from]
	if !ok {
		return "", NewStageError(KindGraphInvariantViolation, from, errUnknownStage)
	}
	next := fn(s)
	if _, known := transitions[next]; !known && !IsTerminal(next) {
		return "", NewStageError(KindGraphInvariantViolation, from, fmt.Errorf("transition to %w %q", errUnknownStage, next))
	}
	return next, nil
}

func confidenceAtLeast(s *State, threshold float64) bool {
	return s.Confidence != nil && *s.Confidence >= threshold
}

// afterInitial: an ambiguous category escalates to scope rather than terminating.
func afterInitial(s *State) StageID {
	switch {
	case confidenceAtLeast(s, LineSafeThreshold):
		return StageHandleSafe
	case s.UnsafePattern:
		return StageVulnerable
	case s.Category == CategoryScopeCheck:
		return StageCheckScope
	case s.Category == CategoryStdUpgrade:
		return StageSuggestUpgrade
	default:
		return StageCheckScope
	}
}

func afterScope(s *State) StageID {
	switch {
	case s.Category == CategoryVulnerable:
		return StageVulnerable
	case confidenceAtLeast(s, ScopeSafeThreshold):
		return StageHandleSafe
	case s.Category == CategoryStdUpgrade:
		return StageSuggestUpgrade
	default:
		return StageCheckFile
	}
}

// afterFile is the last escalation tier and always resolves to a terminal.
func afterFile(s *State) StageID {
	if s.Category == CategoryVulnerable {
		return StageVulnerable
	}
	return StageHandleSafe
}
