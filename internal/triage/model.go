package triage

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidRequest is returned when a Request fails validation.
var ErrInvalidRequest = errors.New("invalid triage request")

// Request is the immutable input to a triage run.
type Request struct {
	// Line is the statement under review. Must be non-empty.
	Line string `json:"current_line"`

	// Scope is the enclosing block or function text, empty when unavailable.
	Scope string `json:"current_scope"`

	// File is the full source text, empty when unavailable.
	File string `json:"current_file"`
}

// Validate checks the request invariants.
func (r *Request) Validate() error {
	if r == nil {
		return errors.Join(ErrInvalidRequest, errors.New("request is nil"))
	}
	if strings.TrimSpace(r.Line) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("current_line is required"))
	}
	return nil
}

// Category is the suggestion category reported by a classification stage.
// The zero value means unset.
type Category string

const (
	CategorySafe       Category = "safe"
	CategoryVulnerable Category = "vulnerable"
	CategoryStdUpgrade Category = "std_upgrade"
	CategoryScopeCheck Category = "scope_check"
	CategoryFileCheck  Category = "file_check"
)

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool {
	switch c {
	case CategorySafe, CategoryVulnerable, CategoryStdUpgrade, CategoryScopeCheck, CategoryFileCheck:
		return true
	}
	return false
}

// Vulnerability describes the flagged code.
type Vulnerability struct {
	Description    string `json:"description"`
	VulnerableCode string `json:"vulnerable_code"`
}

// Outcome is the terminal result of a triage run.
type Outcome struct {
	IsVulnerable  bool           `json:"is_vulnerable"`
	Vulnerability *Vulnerability `json:"vulnerability"`
	SuggestedFix  string         `json:"suggest_fix"`
}

// State is the record threaded through one triage run. It is owned by the
// Engine for the duration of the run and never shared.
type State struct {
	Request       Request
	Confidence    *float64
	UnsafePattern bool
	Category      Category
	Output        *Outcome

	// Path lists the stages executed so far, in order.
	Path []StageID
}

// NewState creates the initial state for a run.
func NewState(req Request) *State {
	return &State{Request: req}
}

// Status tracks where a triage record is in its lifecycle.
type Status string

const (
	// StatusInProgress means the run is executing
	StatusInProgress Status = "in_progress"

	// StatusComplete means the run produced an outcome
	StatusComplete Status = "complete"

	// StatusFailed means the run aborted with an error
	StatusFailed Status = "failed"
)

// Record is the persisted account of one triage run.
type Record struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Line        string    `json:"line"`
	ScopeBytes  int       `json:"scope_bytes"`
	FileBytes   int       `json:"file_bytes"`
	Terminal    StageID   `json:"terminal,omitempty"`
	Path        []StageID `json:"path,omitempty"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	StageCalls  int       `json:"stage_calls"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Duration    float64   `json:"duration_seconds,omitempty"`
}
