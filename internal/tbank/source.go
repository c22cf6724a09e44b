package tbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

type SourceConfig struct {
	Login      string
	Password   string
	AgentGroup string
	// DepartmentID is stamped on every fetched call.
	DepartmentID int
	// Calls shorter than MinDuration are returned without a transcript.
	MinDuration time.Duration
	// Location interprets provider timestamps that carry no zone.
	Location *time.Location
	Workers  int
}

// Source is the call/transcript collaborator of the daily run.
type Source struct {
	client *Client
	cfg    SourceConfig
	logger *slog.Logger
}

func NewSource(client *Client, cfg SourceConfig, logger *slog.Logger) *Source {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	return &Source{client: client, cfg: cfg, logger: logger}
}

// FetchCalls returns every call of the configured group that started on day.
// Failures of the call listing wrap ErrUpstreamUnavailable; a failed
// transcript fetch only leaves that call without a transcript.
func (s *Source) FetchCalls(ctx context.Context, day time.Time) ([]calls.Record, error) {
	start := time.Now()

	if err := s.client.Login(ctx, s.cfg.Login, s.cfg.Password); err != nil {
		return nil, upstream(err)
	}

	var filters map[string]any
	if s.cfg.AgentGroup != "" {
		g, err := s.client.FindGroup(ctx, s.cfg.AgentGroup)
		if err != nil {
			return nil, upstream(err)
		}
		s.logger.Info("agent group resolved", "group", g.Name, "group_id", g.ID)
		filters = GroupFilter(g)
	}

	raw, err := s.client.CallsForDay(ctx, day, filters)
	if err != nil {
		return nil, upstream(err)
	}
	s.logger.Info("calls listed", "day", day.Format("2006-01-02"), "calls", len(raw))

	records := make([]calls.Record, len(raw))
	var fetched, failed, short atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, rc := range raw {
		records[i].Call = rc.ToCall(s.cfg.DepartmentID, s.cfg.Location)
		if records[i].Call.Duration < s.cfg.MinDuration {
			short.Add(1)
			continue
		}
		g.Go(func() error {
			tr, err := s.client.Transcript(gctx, rc.Segment())
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.logger.Warn("transcript unavailable", "call_id", rc.Segment(), "error", err)
				return nil
			}
			records[i].Transcript = tr.ToTranscript(records[i].Call.ID)
			fetched.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch transcripts: %w", err)
	}

	s.logger.Info("transcripts fetched",
		"fetched", fetched.Load(),
		"failed", failed.Load(),
		"too_short", short.Load(),
		"duration", time.Since(start))
	return records, nil
}

func upstream(err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
