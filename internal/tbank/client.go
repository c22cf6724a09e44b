// Package tbank fetches calls and transcripts from the T-Bank TQM telephony
// analytics API.
package tbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultBaseURL = "https://tqm-cloud.tbank.ru"

const (
	authPath         = "/v2/bff-core-app/auth/session-start"
	autocompletePath = "/v2/bff-core-app/organizational-structures/autocomplete-search"
	callsPath        = "/v2/bff-communication-search/callsessions"
	transcriptPath   = "/v2/bff-core-app/transcription/segment"

	pageSize = 1000
)

// ErrUpstreamUnavailable wraps every failure to talk to the provider.
var ErrUpstreamUnavailable = errors.New("telephony provider unavailable")

// ErrNotAuthenticated is returned by data calls made before Login.
var ErrNotAuthenticated = errors.New("tbank: not authenticated")

type Client struct {
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
	retries    uint64
	retryDelay time.Duration

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		retries:    2,
		retryDelay: time.Second,
	}
}

// Group is an organizational unit found by autocomplete search.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Login opens a session; the access token is used by every later request.
func (c *Client) Login(ctx context.Context, login, password string) error {
	body := map[string]string{
		"login":                login,
		"password":             password,
		"authentificationType": "tqm",
		"authSystem":           "tqm",
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		UserLogin   string `json:"userLogin"`
	}
	if err := c.do(ctx, http.MethodPost, authPath, nil, body, &resp, false); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("session start: empty access token")
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()

	c.logger.Info("tbank session started", "user", resp.UserLogin)
	return nil
}

// FindGroup returns the first group matching term.
func (c *Client) FindGroup(ctx context.Context, term string) (Group, error) {
	var items []struct {
		ID   flexInt `json:"id"`
		Name string  `json:"name"`
		Type *string `json:"type"`
	}
	q := url.Values{"term": {term}}
	if err := c.do(ctx, http.MethodGet, autocompletePath, q, nil, &items, true); err != nil {
		return Group{}, fmt.Errorf("autocomplete %q: %w", term, err)
	}
	if len(items) == 0 {
		return Group{}, fmt.Errorf("no group matches %q", term)
	}

	g := Group{ID: int64(items[0].ID), Name: items[0].Name, Type: "workGroup"}
	if items[0].Type != nil && *items[0].Type != "" {
		g.Type = *items[0].Type
	}
	return g, nil
}

// GroupFilter builds the call-search filter restricting results to a group.
func GroupFilter(g Group) map[string]any {
	return map[string]any{
		"agent": []map[string]any{{
			"id":    g.ID,
			"type":  g.Type,
			"title": g.Name,
		}},
		"isNGramSearch": false,
	}
}

// CallsForDay pages through every call that started on day.
func (c *Client) CallsForDay(ctx context.Context, day time.Time, extra map[string]any) ([]RawCall, error) {
	d := day.Format("2006-01-02")
	var out []RawCall

	for page := 1; page > 0; {
		filters := map[string]any{
			"date": map[string]string{
				"min": d + " 00:00:00",
				"max": d + " 23:59:59",
			},
		}
		for k, v := range extra {
			filters[k] = v
		}
		body := map[string]any{
			"filters": filters,
			"paging": map[string]int{
				"page":         page,
				"itemsPerPage": pageSize,
				"itemsCount":   0,
			},
		}

		var resp struct {
			Items    []json.RawMessage `json:"items"`
			NextPage *int              `json:"nextPage"`
		}
		if err := c.do(ctx, http.MethodPost, callsPath, nil, body, &resp, true); err != nil {
			return nil, fmt.Errorf("call search page %d: %w", page, err)
		}

		for _, item := range resp.Items {
			var rc RawCall
			if err := json.Unmarshal(item, &rc); err != nil {
				c.logger.Warn("skipping unparseable call", "page", page, "error", err)
				continue
			}
			out = append(out, rc)
		}

		page = 0
		if resp.NextPage != nil {
			page = *resp.NextPage
		}
	}
	return out, nil
}

// Transcript fetches the transcript of one call segment.
func (c *Client) Transcript(ctx context.Context, segmentID int64) (*RawTranscript, error) {
	var tr RawTranscript
	body := map[string]int64{"segmentId": segmentID}
	if err := c.do(ctx, http.MethodPost, transcriptPath, nil, body, &tr, true); err != nil {
		return nil, fmt.Errorf("transcript %d: %w", segmentID, err)
	}
	return &tr, nil
}

type statusError struct {
	method, path string
	code         int
	body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

// do sends one JSON request, retrying transport failures and 5xx answers.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, auth bool) error {
	var token string
	if auth {
		c.mu.RLock()
		token = c.token
		c.mu.RUnlock()
		if token == "" {
			return ErrNotAuthenticated
		}
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode != http.StatusOK {
			se := &statusError{method: method, path: path, code: resp.StatusCode, body: clip(string(data), 200)}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, se)
			}
			return backoff.Permanent(se)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("tbank request failed, retrying", "path", path, "wait", wait, "error", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.retries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
