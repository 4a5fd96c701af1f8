package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/cohacker/internal/classifier"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(anthropic.ModelClaudeSonnet4_5)

// Options configures the underlying SDK client.
type Options struct {
	// MaxRetries is handed to the SDK, which retries transient failures
	// (429, 5xx, connection errors) with backoff.
	MaxRetries int

	// RequestTimeout bounds each HTTP attempt. Zero leaves it to the context.
	RequestTimeout time.Duration

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client implements classifier.Provider on the Anthropic Messages API.
type Client struct {
	sdk   anthropic.Client
	model string
}

var _ classifier.Provider = (*Client)(nil)

// New creates a new Claude API client with the given API key and model name.
func New(apiKey, model string, opts Options) *Client {
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(opts.MaxRetries),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if opts.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		sdk:   anthropic.NewClient(reqOpts...),
		model: model,
	}
}

// Send sends a single-turn request. When req.Tool is set the model is forced
// to call it, otherwise it answers in text.
func (c *Client) Send(ctx context.Context, req *classifier.Request) (*classifier.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(0),
	}
	if req.Tool.Name != "" {
		tool, err := toSDKTool(req.Tool)
		if err != nil {
			return nil, err
		}
		params.Tools = []anthropic.ToolUnionParam{tool}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{
				Name:                   req.Tool.Name,
				DisableParallelToolUse: anthropic.Bool(true),
			},
		}
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	return fromSDKResponse(msg), nil
}

// toSDKTool converts a tool definition with a JSON schema into the SDK shape.
func toSDKTool(def classifier.ToolDef) (anthropic.ToolUnionParam, error) {
	var schema struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("tool %s input schema: %w", def.Name, err)
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		},
	}, nil
}

// fromSDKResponse keeps the first tool call and any text.
func fromSDKResponse(msg *anthropic.Message) *classifier.Response {
	out := &classifier.Response{
		StopReason: classifier.StopReason(msg.StopReason),
		Model:      string(msg.Model),
		Usage: classifier.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if out.ToolName == "" {
				out.ToolName = block.Name
				out.Input = block.Input
			}
		case "text":
			out.Text += block.Text
		}
	}

	return out
}
