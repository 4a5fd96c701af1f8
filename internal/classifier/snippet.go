package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// Pseudo stages for the single-call snippet operations. They label errors and
// token usage the same way graph stages do.
const (
	StageAnalyzeSnippet triage.StageID = "analyze_snippet"
	StageAskAI          triage.StageID = "ask_ai"
)

// SnippetAnalysis is the verdict on a whole C/C++ snippet.
type SnippetAnalysis struct {
	IsVulnerable      bool   `json:"is_vulnerable"`
	VulnerabilityType string `json:"vulnerability_type"`
	Vulnerability     string `json:"vulnerability"`
	SuggestFix        string `json:"suggest_fix"`
}

var errEmptySnippet = errors.Join(triage.ErrInvalidRequest, errors.New("snippet is required"))

// AnalyzeSnippet classifies a snippet in one forced tool call and, when it is
// vulnerable, returns the whole snippet with the fix applied.
func (c *Invoker) AnalyzeSnippet(ctx context.Context, snippet string) (*SnippetAnalysis, error) {
	if strings.TrimSpace(snippet) == "" {
		return nil, errEmptySnippet
	}
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	tool := snippetAnalysisTool()
	resp, err := c.send(ctx, StageAnalyzeSnippet, &Request{
		MaxTokens: c.maxTokens,
		System:    snippetSystemPrompt,
		Prompt:    buildSnippetPrompt(snippet),
		Tool:      tool,
	})
	if err != nil {
		return nil, err
	}
	if resp.ToolName != tool.Name || len(resp.Input) == 0 {
		return nil, triage.SchemaViolation(StageAnalyzeSnippet, "expected a %s tool call, got stop_reason %q", tool.Name, resp.StopReason)
	}

	var p snippetPayload
	if err := unmarshalStrict(resp.Input, &p); err != nil {
		return nil, triage.SchemaViolation(StageAnalyzeSnippet, "decode snippet analysis: %w", err)
	}
	if p.IsVulnerable == nil {
		return nil, triage.SchemaViolation(StageAnalyzeSnippet, "is_vulnerable is required")
	}

	out := &SnippetAnalysis{IsVulnerable: *p.IsVulnerable}
	if out.IsVulnerable {
		if strings.TrimSpace(p.SuggestFix) == "" {
			return nil, triage.SchemaViolation(StageAnalyzeSnippet, "suggest_fix is required for a vulnerable snippet")
		}
		out.VulnerabilityType = p.VulnerabilityType
		out.Vulnerability = p.Vulnerability
		out.SuggestFix = p.SuggestFix
	}
	return out, nil
}

// AskAI returns a short free-form review of snippet.
func (c *Invoker) AskAI(ctx context.Context, snippet string) (string, error) {
	if strings.TrimSpace(snippet) == "" {
		return "", errEmptySnippet
	}
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	resp, err := c.send(ctx, StageAskAI, &Request{
		MaxTokens: c.maxTokens,
		System:    askSystemPrompt,
		Prompt:    "```\n" + snippet + "\n```",
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return "", triage.SchemaViolation(StageAskAI, "empty answer, stop_reason %q", resp.StopReason)
	}
	return answer, nil
}

// send performs one provider call, records usage and rejects truncated output.
func (c *Invoker) send(ctx context.Context, stage triage.StageID, req *Request) (*Response, error) {
	resp, err := c.provider.Send(ctx, req)
	if err != nil {
		return nil, providerError(ctx, stage, err)
	}

	if c.onUsage != nil {
		c.onUsage(stage, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	c.logger.Info(ctx, "llm response",
		"stage", stage,
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if resp.StopReason == StopMaxTokens {
		return nil, triage.SchemaViolation(stage, "response truncated at %d tokens", c.maxTokens)
	}
	return resp, nil
}

func (c *Invoker) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
