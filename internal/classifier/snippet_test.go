package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

const testSnippet = "void f(char* in) {\n    char buf[8];\n    strcpy(buf, in);\n}"

func textAnswer(text string, stop StopReason) *Response {
	return &Response{
		Text:       text,
		StopReason: stop,
		Usage:      Usage{InputTokens: 60, OutputTokens: 20},
		Model:      "claude-test",
	}
}

func TestAnalyzeSnippet_Vulnerable(t *testing.T) {
	t.Parallel()

	p := &mockProvider{responses: []*Response{
		toolCall(toolSnippetAnalysis, `{
			"is_vulnerable": true,
			"vulnerability_type": "buffer overflow",
			"vulnerability": "strcpy into a fixed buffer",
			"suggest_fix": "void f(char* in) {\n    char buf[8];\n    strncpy(buf, in, sizeof(buf) - 1); // bounded copy\n}"
		}`),
	}}
	var usageStage triage.StageID
	inv := New(p, log.Nop(), Options{OnUsage: func(stage triage.StageID, _, _ int) { usageStage = stage }})

	got, err := inv.AnalyzeSnippet(context.Background(), testSnippet)
	if err != nil {
		t.Fatalf("AnalyzeSnippet: %v", err)
	}

	want := &SnippetAnalysis{
		IsVulnerable:      true,
		VulnerabilityType: "buffer overflow",
		Vulnerability:     "strcpy into a fixed buffer",
		SuggestFix:        "void f(char* in) {\n    char buf[8];\n    strncpy(buf, in, sizeof(buf) - 1); // bounded copy\n}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("analysis mismatch (-want +got):\n%s", diff)
	}

	req := p.Request(0)
	if req.Tool.Name != toolSnippetAnalysis {
		t.Errorf("tool = %q, want %q", req.Tool.Name, toolSnippetAnalysis)
	}
	if !strings.Contains(req.Prompt, "strcpy(buf, in);") {
		t.Errorf("prompt does not carry the snippet:\n%s", req.Prompt)
	}
	if usageStage != StageAnalyzeSnippet {
		t.Errorf("usage stage = %q, want %q", usageStage, StageAnalyzeSnippet)
	}
}

func TestAnalyzeSnippet_SafeClearsDetails(t *testing.T) {
	t.Parallel()

	p := &mockProvider{responses: []*Response{
		toolCall(toolSnippetAnalysis, `{"is_vulnerable":false,"vulnerability_type":"none","vulnerability":"looks fine","suggest_fix":"int x = 0;"}`),
	}}
	inv := New(p, log.Nop(), Options{})

	got, err := inv.AnalyzeSnippet(context.Background(), "int x = 0;")
	if err != nil {
		t.Fatalf("AnalyzeSnippet: %v", err)
	}
	if diff := cmp.Diff(&SnippetAnalysis{}, got); diff != "" {
		t.Errorf("safe analysis mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeSnippet_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *Response
	}{
		{"wrong tool", toolCall(toolFix, `{"is_vulnerable":true}`)},
		{"no tool call", textAnswer("it is fine", StopEnd)},
		{"missing is_vulnerable", toolCall(toolSnippetAnalysis, `{"vulnerability_type":"","vulnerability":"","suggest_fix":""}`)},
		{"vulnerable without fix", toolCall(toolSnippetAnalysis, `{"is_vulnerable":true,"vulnerability_type":"overflow","vulnerability":"x","suggest_fix":"  "}`)},
		{"trailing data", toolCall(toolSnippetAnalysis, `{"is_vulnerable":false} {"extra":1}`)},
		{"truncated", &Response{ToolName: toolSnippetAnalysis, StopReason: StopMaxTokens}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv := New(&mockProvider{responses: []*Response{tt.resp}}, log.Nop(), Options{})
			_, err := inv.AnalyzeSnippet(context.Background(), testSnippet)
			if got := triage.KindOf(err); got != triage.KindSchemaViolation {
				t.Fatalf("kind = %q, want %q (err %v)", got, triage.KindSchemaViolation, err)
			}
		})
	}
}

func TestAnalyzeSnippet_EmptySnippet(t *testing.T) {
	t.Parallel()

	p := &mockProvider{}
	inv := New(p, log.Nop(), Options{})

	_, err := inv.AnalyzeSnippet(context.Background(), " \n\t")
	if !errors.Is(err, triage.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if p.calls != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls)
	}
}

func TestAnalyzeSnippet_ProviderUnavailable(t *testing.T) {
	t.Parallel()

	inv := New(&mockProvider{errs: []error{errors.New("connection refused")}}, log.Nop(), Options{})

	_, err := inv.AnalyzeSnippet(context.Background(), testSnippet)
	if got := triage.KindOf(err); got != triage.KindUnavailable {
		t.Fatalf("kind = %q, want %q", got, triage.KindUnavailable)
	}
}

// blockingProvider waits for the request context to end.
type blockingProvider struct{}

func (blockingProvider) Send(ctx context.Context, _ *Request) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnalyzeSnippet_CallTimeout(t *testing.T) {
	t.Parallel()

	inv := New(blockingProvider{}, log.Nop(), Options{CallTimeout: 20 * time.Millisecond})

	_, err := inv.AnalyzeSnippet(context.Background(), testSnippet)
	if got := triage.KindOf(err); got != triage.KindTimeout {
		t.Fatalf("kind = %q, want %q (err %v)", got, triage.KindTimeout, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestAskAI_Answer(t *testing.T) {
	t.Parallel()

	p := &mockProvider{responses: []*Response{
		textAnswer("\nThe condition assigns instead of comparing. Use `x == y`.\n", StopEnd),
	}}
	inv := New(p, log.Nop(), Options{})

	got, err := inv.AskAI(context.Background(), "if (x = y) { return -1; }")
	if err != nil {
		t.Fatalf("AskAI: %v", err)
	}
	if want := "The condition assigns instead of comparing. Use `x == y`."; got != want {
		t.Errorf("answer = %q, want %q", got, want)
	}

	req := p.Request(0)
	if req.Tool.Name != "" {
		t.Errorf("tool = %q, want a text-only request", req.Tool.Name)
	}
	if req.System != askSystemPrompt {
		t.Errorf("system prompt = %q, want the ask prompt", req.System)
	}
	if !strings.Contains(req.Prompt, "if (x = y)") {
		t.Errorf("prompt does not carry the snippet: %q", req.Prompt)
	}
}

func TestAskAI_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       *mockProvider
		snippet string
		kind    triage.ErrorKind
		invalid bool
	}{
		{"empty answer", &mockProvider{responses: []*Response{textAnswer("  ", StopEnd)}}, "int x;", triage.KindSchemaViolation, false},
		{"truncated", &mockProvider{responses: []*Response{textAnswer("The code", StopMaxTokens)}}, "int x;", triage.KindSchemaViolation, false},
		{"unavailable", &mockProvider{errs: []error{errors.New("503")}}, "int x;", triage.KindUnavailable, false},
		{"empty snippet", &mockProvider{}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv := New(tt.p, log.Nop(), Options{})
			_, err := inv.AskAI(context.Background(), tt.snippet)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := triage.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q", got, tt.kind)
			}
			if got := errors.Is(err, triage.ErrInvalidRequest); got != tt.invalid {
				t.Errorf("invalid request = %v, want %v", got, tt.invalid)
			}
		})
	}
}
