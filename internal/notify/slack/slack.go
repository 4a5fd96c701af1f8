// Package slack sends triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

const (
	maxFindingLen = 3000
	maxLineLen    = 500
	httpTimeout   = 10 * time.Second
)

// Notifier posts vulnerable triage records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ triage.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Send posts a triage record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec *triage.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "triage_id", rec.ID)
	return nil
}

func buildMessage(r *triage.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			findingBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Record) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", verdictEmoji(r), headline(r)),
		},
	}
}

func headline(r *triage.Record) string {
	switch {
	case r.Status == triage.StatusFailed:
		return "Triage Failed"
	case r.Outcome.Verdict() == "vulnerable":
		return "Vulnerability Found"
	case r.Outcome.Verdict() == "std_upgrade":
		return "Upgrade Suggested"
	default:
		return "Triage Complete"
	}
}

func fieldsBlock(r *triage.Record) map[string]any {
	path := make([]string, len(r.Path))
	for i, s := range r.Path {
		path[i] = string(s)
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", r.Status)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Terminal:* %s", orDash(string(r.Terminal)))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", r.Duration)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Stage calls:* %d", r.StageCalls)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Path:* %s", orDash(strings.Join(path, " > ")))},
	}
	if r.ErrorKind != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Error:* %s", r.ErrorKind)})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func findingBlock(r *triage.Record) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, "*Line*\n```%s```\n", codeSafe(truncate(r.Line, maxLineLen)))

	switch {
	case r.Outcome == nil:
		b.WriteString("_No outcome available._")
	default:
		if v := r.Outcome.Vulnerability; v != nil {
			fmt.Fprintf(&b, "*Finding*\n%s\n", v.Description)
		}
		if r.Outcome.SuggestedFix != "" {
			fmt.Fprintf(&b, "*Suggested fix*\n```%s```", codeSafe(r.Outcome.SuggestedFix))
		}
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(b.String(), maxFindingLen),
		},
	}
}

func contextBlock(r *triage.Record) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("cohacker • triage %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func verdictEmoji(r *triage.Record) string {
	if r.Status == triage.StatusFailed {
		return "⚪" // white circle
	}
	switch r.Outcome.Verdict() {
	case "vulnerable":
		return "\U0001f534" // red circle
	case "std_upgrade":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// codeSafe keeps user code from closing the surrounding code block.
func codeSafe(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate caps s at limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
