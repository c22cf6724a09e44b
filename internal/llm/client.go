// Package llm sends prompts to an OpenAI-compatible chat-completions endpoint
// or to the Anthropic Messages API and classifies their failures. It does not
// interpret the returned text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 300 * time.Second
)

// Usage is the token accounting of one request. Known is false when the
// endpoint did not report usage; the counts are then meaningless.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	Known            bool  `json:"known"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Response is the raw model answer.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Completer is the single operation the analysis engine needs from a model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (*Response, error)
}

type Client struct {
	client  openai.Client
	timeout time.Duration
}

// NewClient builds a client. The SDK's own retries are disabled: retry policy
// belongs to the caller.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(token),
			option.WithMaxRetries(0),
		),
		timeout: timeout,
	}
}

// Complete sends one user message and returns the first choice's text.
// Cancellation of ctx is returned as ctx.Err(), not as an *Error.
func (c *Client) Complete(ctx context.Context, model, prompt string) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}

	out := &Response{Model: resp.Model}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	if resp.JSON.Usage.Valid() {
		out.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Known:            true,
		}
	}
	return out, nil
}

func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Err: err}
	}

	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: fmt.Errorf("no answer within %s: %w", c.timeout, err)}
	}
	return &Error{Kind: KindTransport, Err: err}
}
