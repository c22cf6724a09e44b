package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxListedFailures caps the failed call ids listed in the thread reply.
const maxListedFailures = 20

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostBatchSummary posts the outcome of one batch. When calls failed, their
// ids and reasons follow as a threaded reply. Returns the message timestamp.
func (p *Poster) PostBatchSummary(ctx context.Context, day time.Time, stats analysis.Stats, results []analysis.Result, runErr error) (string, error) {
	text := formatSummary(day, stats, runErr)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("run `%s` | model `%s`", stats.RunID, stats.Model),
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted batch summary to slack", "ts", ts, "run_id", stats.RunID)

	if failures := formatFailures(results); failures != "" {
		if err := p.PostThread(ctx, ts, failures); err != nil {
			p.logger.Warn("failed to post failure list", "error", err)
		}
	}
	return ts, nil
}

// Notify posts the batch summary, dropping the message timestamp.
func (p *Poster) Notify(ctx context.Context, day time.Time, stats analysis.Stats, results []analysis.Result, runErr error) error {
	_, err := p.PostBatchSummary(ctx, day, stats, results, runErr)
	return err
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatSummary(day time.Time, stats analysis.Stats, runErr error) string {
	var sb strings.Builder

	if runErr != nil {
		fmt.Fprintf(&sb, ":x: *Call scoring for %s aborted*\n", day.Format(time.DateOnly))
		fmt.Fprintf(&sb, "_%s_\n\n", runErr.Error())
	} else {
		fmt.Fprintf(&sb, ":white_check_mark: *Call scoring for %s finished* in %s\n\n", day.Format(time.DateOnly), stats.Duration.Round(time.Second))
	}

	fmt.Fprintf(&sb, "*Calls:* %d | *Scored:* %d | *Skipped:* %d | *Failed:* %d", stats.Total, stats.Scored, stats.Skipped, stats.Failed)
	if stats.Abandoned > 0 {
		fmt.Fprintf(&sb, " | *Abandoned:* %d", stats.Abandoned)
	}
	sb.WriteString("\n")

	if len(stats.SkipReasons) > 0 {
		reasons := make([]string, 0, len(stats.SkipReasons))
		for r := range stats.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		parts := make([]string, len(reasons))
		for i, r := range reasons {
			parts[i] = fmt.Sprintf("%s: %d", r, stats.SkipReasons[r])
		}
		fmt.Fprintf(&sb, "*Skip reasons:* %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&sb, "*Tokens:* %d (prompt %d, completion %d) over %d requests", stats.TotalTokens, stats.PromptTokens, stats.CompletionTokens, stats.LLMRequests)
	if stats.UnknownUsageAttempts > 0 {
		fmt.Fprintf(&sb, ", usage unknown for %d", stats.UnknownUsageAttempts)
	}
	sb.WriteString("\n")

	if stats.Total == 0 {
		sb.WriteString("_No calls found for this day._")
	} else if stats.Eligible == 0 {
		sb.WriteString("_Nothing was eligible for scoring._")
	}

	return sb.String()
}

func formatFailures(results []analysis.Result) string {
	var sb strings.Builder
	n := 0
	for _, r := range results {
		if r.Status != analysis.StatusFailed {
			continue
		}
		n++
		if n <= maxListedFailures {
			fmt.Fprintf(&sb, "• call %d: %s\n", r.CallID, r.FailureReason)
		}
	}
	if n == 0 {
		return ""
	}
	if n > maxListedFailures {
		fmt.Fprintf(&sb, "…and %d more\n", n-maxListedFailures)
	}
	return fmt.Sprintf("*Failed calls (%d):*\n%s", n, sb.String())
}
