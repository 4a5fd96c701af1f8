package triage

import "context"

// StageID identifies a node in the triage graph.
type StageID string

const (
	StageInitial        StageID = "initial_classifier"
	StageCheckScope     StageID = "check_scope"
	StageCheckFile      StageID = "check_file"
	StageHandleSafe     StageID = "handle_safe"
	StageVulnerable     StageID = "handle_vulnerable"
	StageSuggestUpgrade StageID = "suggest_std_upgrade"
)

// StageInvoker is the external classification capability the triage graph consumes.
// Implementations must not retain or mutate the input and must report failures
// as *StageError values.
type StageInvoker interface {
	Invoke(ctx context.Context, stage StageID, in StageInput) (*StageResult, error)
}

// StageInput carries only the fields the named stage consumes.
type StageInput struct {
	Line  string
	Scope string
	File  string
}

// StageResult is the typed payload returned by a stage call. Pointer fields
// distinguish a missing value from a zero value.
type StageResult struct {
	Confidence    *float64
	UnsafePattern *bool
	Category      Category
	Fix           *FixResult
}

// FixResult is the payload of the fix-generation stages.
type FixResult struct {
	IsVulnerable  *bool
	Vulnerability *Vulnerability
	SuggestedFix  *string
}

// InputFor builds the input for stage from the accumulated state.
func InputFor(stage StageID, s *State) StageInput {
	req := s.Request
	switch stage {
	case StageInitial, StageSuggestUpgrade:
		return StageInput{Line: req.Line}
	case StageCheckScope, StageVulnerable:
		return StageInput{Line: req.Line, Scope: req.Scope}
	case StageCheckFile:
		// the file tier hands the whole file in as scope
		return StageInput{Line: req.Line, Scope: req.File, File: req.File}
	default:
		return StageInput{}
	}
}

// invokesExternal reports whether the stage performs a StageInvoker call.
func invokesExternal(stage StageID) bool {
	return stage != StageHandleSafe
}

// ValidateResult checks res against the declared output schema of stage.
func ValidateResult(stage StageID, res *StageResult) error {
	if res == nil {
		return SchemaViolation(stage, "empty result")
	}

	switch stage {
	case StageInitial:
		if err := validateConfidence(stage, res.Confidence); err != nil {
			return err
		}
		if res.UnsafePattern == nil {
			return SchemaViolation(stage, "unsafe_pattern_detected is required")
		}
		if !res.Category.Known() {
			return SchemaViolation(stage, "suggestion_category %q is not a known category", res.Category)
		}

	case StageCheckScope:
		if err := validateConfidence(stage, res.Confidence); err != nil {
			return err
		}
		switch res.Category {
		case CategoryVulnerable, CategoryStdUpgrade, CategoryFileCheck, CategorySafe:
		default:
			return SchemaViolation(stage, "suggestion_category %q not allowed at scope tier", res.Category)
		}

	case StageCheckFile:
		if !res.Category.Known() {
			return SchemaViolation(stage, "suggestion_category %q is not a known category", res.Category)
		}

	case StageVulnerable:
		return validateFix(stage, res.Fix, true)

	case StageSuggestUpgrade:
		return validateFix(stage, res.Fix, false)

	default:
		return NewStageError(KindGraphInvariantViolation, stage, errUnknownStage)
	}
	return nil
}

func validateConfidence(stage StageID, c *float64) error {
	if c == nil {
		return SchemaViolation(stage, "confidence_level is required")
	}
	// NaN fails both comparisons
	if !(*c >= 0 && *c <= 1) {
		return SchemaViolation(stage, "confidence_level %v outside [0,1]", *c)
	}
	return nil
}

func validateFix(stage StageID, fix *FixResult, wantVulnerable bool) error {
	switch {
	case fix == nil:
		return SchemaViolation(stage, "fix payload is required")
	case fix.IsVulnerable == nil:
		return SchemaViolation(stage, "is_vulnerable is required")
	case *fix.IsVulnerable != wantVulnerable:
		return SchemaViolation(stage, "is_vulnerable = %t, want %t", *fix.IsVulnerable, wantVulnerable)
	case fix.Vulnerability == nil:
		return SchemaViolation(stage, "vulnerability is required")
	case fix.Vulnerability.Description == "":
		return SchemaViolation(stage, "vulnerability.description is required")
	case fix.SuggestedFix == nil:
		return SchemaViolation(stage, "suggest_fix is required")
	}
	return nil
}

// apply folds a validated non-terminal result into the state.
func apply(stage StageID, s *State, res *StageResult) {
	if res.Confidence != nil {
		c := *res.Confidence
		s.Confidence = &c
	}
	if stage == StageInitial && res.UnsafePattern != nil {
		s.UnsafePattern = *res.UnsafePattern
	}
	if res.Category != "" {
		s.Category = res.Category
	}
}
