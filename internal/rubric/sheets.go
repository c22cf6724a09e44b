package rubric

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

type SheetsConfig struct {
	// Credentials is a service-account JSON document or a path to one.
	Credentials   string
	SpreadsheetID string
	ChecklistName string
	PromptName    string
}

// SheetsSource reads the rubric and instructions from one spreadsheet.
type SheetsSource struct {
	svc    *sheets.Service
	cfg    SheetsConfig
	logger *slog.Logger
}

// NewSheetsSource builds the Sheets client. Extra options are appended after
// the credential option.
func NewSheetsSource(ctx context.Context, cfg SheetsConfig, logger *slog.Logger, opts ...option.ClientOption) (*SheetsSource, error) {
	var all []option.ClientOption
	if creds := strings.TrimSpace(cfg.Credentials); creds != "" {
		if strings.HasPrefix(creds, "{") {
			all = append(all, option.WithCredentialsJSON([]byte(creds)))
		} else {
			all = append(all, option.WithCredentialsFile(creds))
		}
		all = append(all, option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	}
	all = append(all, opts...)

	svc, err := sheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &SheetsSource{svc: svc, cfg: cfg, logger: logger}, nil
}

func (s *SheetsSource) FetchRubric(ctx context.Context) (calls.Rubric, error) {
	rows, err := s.read(ctx, s.cfg.ChecklistName+"!A:D")
	if err != nil {
		return calls.Rubric{}, err
	}
	r := ParseChecklist(rows)
	if len(r.Criteria) == 0 {
		return calls.Rubric{}, fmt.Errorf("check-list %q has no criteria", s.cfg.ChecklistName)
	}
	s.logger.Info("rubric loaded from sheets", "sheet", s.cfg.ChecklistName, "criteria", len(r.Criteria))
	return r, nil
}

func (s *SheetsSource) FetchInstructions(ctx context.Context) ([]string, error) {
	rows, err := s.read(ctx, s.cfg.PromptName+"!A:B")
	if err != nil {
		return nil, err
	}
	out := ParseInstructions(rows)
	s.logger.Info("instructions loaded from sheets", "sheet", s.cfg.PromptName, "instructions", len(out))
	return out, nil
}

func (s *SheetsSource) read(ctx context.Context, rng string) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", rng, err)
	}
	return toStrings(resp.Values), nil
}
