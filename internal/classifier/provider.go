package classifier

import (
	"context"
	"encoding/json"
)

// Provider sends a single structured request to an LLM backend.
type Provider interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ToolDef is a tool the model is forced to call. Its input schema is the
// stage's output schema.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a provider-agnostic single-turn request.
type Request struct {
	MaxTokens int
	System    string
	Prompt    string

	// Tool is the only tool offered, and the model must call it. A zero
	// Tool asks for a plain text answer.
	Tool ToolDef
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the provider's answer. ToolName and Input are empty when the
// model did not call the tool.
type Response struct {
	ToolName   string
	Input      json.RawMessage
	Text       string
	StopReason StopReason
	Usage      Usage
	Model      string
}
