package classifier

import (
	"encoding/json"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

const (
	toolLineClassification  = "report_line_classification"
	toolScopeClassification = "report_scope_classification"
	toolFileClassification  = "report_file_classification"
	toolFix                 = "report_fix"
)

var lineClassificationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confidence_level": {"type": "number", "minimum": 0, "maximum": 1, "description": "Confidence that the line is safe on its own."},
    "unsafe_pattern_detected": {"type": "boolean", "description": "True when the line contains a known unsafe pattern."},
    "suggestion_category": {"type": "string", "enum": ["safe", "vulnerable", "std_upgrade", "scope_check", "file_check"]}
  },
  "required": ["confidence_level", "unsafe_pattern_detected", "suggestion_category"]
}`)

var scopeClassificationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confidence_level": {"type": "number", "minimum": 0, "maximum": 1, "description": "Confidence that the line is safe given its scope."},
    "suggestion_category": {"type": "string", "enum": ["safe", "vulnerable", "std_upgrade", "file_check"]}
  },
  "required": ["confidence_level", "suggestion_category"]
}`)

var fileClassificationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confidence_level": {"type": "number", "minimum": 0, "maximum": 1},
    "suggestion_category": {"type": "string", "enum": ["safe", "vulnerable", "std_upgrade", "scope_check", "file_check"]}
  },
  "required": ["suggestion_category"]
}`)

var fixSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "is_vulnerable": {"type": "boolean"},
    "vulnerability": {
      "type": "object",
      "properties": {
        "description": {"type": "string", "description": "Brief description of the issue."},
        "vulnerable_code": {"type": "string", "description": "The exact code that is affected."}
      },
      "required": ["description", "vulnerable_code"]
    },
    "suggest_fix": {"type": "string", "description": "One line of replacement C/C++ code ending with a comment that starts with \"Co-Hacker: \"."}
  },
  "required": ["is_vulnerable", "vulnerability", "suggest_fix"]
}`)

// toolFor returns the forced tool for stage.
func toolFor(stage triage.StageID) (ToolDef, bool) {
	switch stage {
	case triage.StageInitial:
		return ToolDef{
			Name:        toolLineClassification,
			Description: "Report the classification of a single line of C/C++ code.",
			InputSchema: lineClassificationSchema,
		}, true
	case triage.StageCheckScope:
		return ToolDef{
			Name:        toolScopeClassification,
			Description: "Report the classification of a line of C/C++ code within its enclosing scope.",
			InputSchema: scopeClassificationSchema,
		}, true
	case triage.StageCheckFile:
		return ToolDef{
			Name:        toolFileClassification,
			Description: "Report the final classification of a line of C/C++ code within its file.",
			InputSchema: fileClassificationSchema,
		}, true
	case triage.StageVulnerable, triage.StageSuggestUpgrade:
		return ToolDef{
			Name:        toolFix,
			Description: "Report the issue found on the line and a one-line replacement.",
			InputSchema: fixSchema,
		}, true
	}
	return ToolDef{}, false
}

// classification is the tool input of the three classification stages.
type classification struct {
	Confidence *float64 `json:"confidence_level"`
	Unsafe     *bool    `json:"unsafe_pattern_detected"`
	Category   string   `json:"suggestion_category"`
}

// fixPayload is the tool input of the two fix stages.
type fixPayload struct {
	IsVulnerable  *bool                 `json:"is_vulnerable"`
	Vulnerability *triage.Vulnerability `json:"vulnerability"`
	SuggestedFix  *string               `json:"suggest_fix"`
}

const toolSnippetAnalysis = "report_snippet_analysis"

var snippetAnalysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "is_vulnerable": {"type": "boolean"},
    "vulnerability_type": {"type": "string", "description": "Short name of the issue class, empty when the snippet is safe."},
    "vulnerability": {"type": "string", "description": "Short description of the issue, empty when the snippet is safe."},
    "suggest_fix": {"type": "string", "description": "The whole snippet with only the necessary changes applied, empty when the snippet is safe."}
  },
  "required": ["is_vulnerable", "vulnerability_type", "vulnerability", "suggest_fix"]
}`)

func snippetAnalysisTool() ToolDef {
	return ToolDef{
		Name:        toolSnippetAnalysis,
		Description: "Report whether a C/C++ snippet is vulnerable and how to fix it.",
		InputSchema: snippetAnalysisSchema,
	}
}

// snippetPayload is the tool input of the snippet analysis call.
type snippetPayload struct {
	IsVulnerable      *bool  `json:"is_vulnerable"`
	VulnerabilityType string `json:"vulnerability_type"`
	Vulnerability     string `json:"vulnerability"`
	SuggestFix        string `json:"suggest_fix"`
}
