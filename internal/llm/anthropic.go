package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion    = "2023-06-01"
	// DefaultMaxTokens bounds the answer length; the Messages API requires it.
	DefaultMaxTokens = 4096
)

// AnthropicClient talks to the Anthropic Messages API directly. It classifies
// failures the same way Client does.
type AnthropicClient struct {
	apiKey    string
	apiURL    string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
}

func NewAnthropicClient(apiURL, apiKey string, maxTokens int, timeout time.Duration) *AnthropicClient {
	if apiURL == "" {
		apiURL = DefaultAnthropicURL
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AnthropicClient{
		apiKey:    apiKey,
		apiURL:    apiURL,
		maxTokens: maxTokens,
		timeout:   timeout,
		client:    &http.Client{},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and joins the text blocks
// of the answer.
func (c *AnthropicClient) Complete(ctx context.Context, model, prompt string) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			msg = errResp.Error.Type + ": " + errResp.Error.Message
		}
		return nil, &Error{Kind: kindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := &Response{Text: sb.String(), Model: apiResp.Model}
	if apiResp.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			Known:            true,
		}
	}
	return out, nil
}

func (c *AnthropicClient) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: fmt.Errorf("no answer within %s: %w", c.timeout, err)}
	}
	return &Error{Kind: KindTransport, Err: err}
}
