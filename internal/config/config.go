package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
	"github.com/MikeSquared-Agency/callq/internal/llm"
)

type Config struct {
	LogLevel string

	DatabaseURL string
	SpoolPath   string
	// Migrate creates missing tables on start-up.
	Migrate bool

	// LLMProvider is "openai" (any OpenAI-compatible proxy) or "anthropic".
	LLMProvider  string
	LLMBaseURL   string
	LLMToken     string
	LLMModel     string
	LLMTimeout   time.Duration
	LLMMaxTokens int

	MaxConcurrency int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RepairDelay    time.Duration
	MinDuration    time.Duration

	DepartmentID      int
	CheckDaysAgo      int
	Timezone          string
	TranscriptWorkers int

	PromptFile string
	RubricFile string

	TBankBaseURL    string
	TBankLogin      string
	TBankPassword   string
	TBankAgentGroup string

	GoogleCredentials string
	RubricSheetID     string
	ChecklistSheet    string
	PromptSheet       string

	NatsURL   string
	NatsToken string

	SlackBotToken string
	SlackChannel  string

	StatusPort int
	APIToken   string
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	return Config{
		LogLevel: envStr("LOG_LEVEL", "info"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		SpoolPath:   envStr("CALLQ_SPOOL_PATH", ""),
		Migrate:     envBool("CALLQ_MIGRATE", false),

		LLMProvider:  envStr("LLM_PROVIDER", "openai"),
		LLMBaseURL:   envStr("LLM_BASE_URL", ""),
		LLMToken:     envStr("LLM_TOKEN", ""),
		LLMModel:     envStr("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:   envDuration("LLM_TIMEOUT", llm.DefaultTimeout),
		LLMMaxTokens: envInt("LLM_MAX_TOKENS", llm.DefaultMaxTokens),

		MaxConcurrency: envInt("CALLQ_MAX_CONCURRENCY", 3),
		MaxAttempts:    envInt("CALLQ_MAX_ATTEMPTS", 3),
		BackoffBase:    envDuration("CALLQ_BACKOFF_BASE", 5*time.Second),
		BackoffMax:     envDuration("CALLQ_BACKOFF_MAX", 60*time.Second),
		RepairDelay:    envDuration("CALLQ_REPAIR_DELAY", time.Second),
		MinDuration:    envDuration("CALLQ_MIN_DURATION", 30*time.Second),

		DepartmentID:      envInt("CALLQ_DEPARTMENT_ID", 1),
		CheckDaysAgo:      envInt("CALLQ_CHECK_DAYS_AGO", 2),
		Timezone:          envStr("CALLQ_TIMEZONE", "UTC"),
		TranscriptWorkers: envInt("CALLQ_TRANSCRIPT_WORKERS", 4),

		PromptFile: envStr("CALLQ_PROMPT_FILE", ""),
		RubricFile: envStr("CALLQ_RUBRIC_FILE", ""),

		TBankBaseURL:    envStr("TBANK_BASE_URL", "https://tqm-cloud.tbank.ru"),
		TBankLogin:      envStr("TBANK_LOGIN", ""),
		TBankPassword:   envStr("TBANK_PASSWORD", ""),
		TBankAgentGroup: envStr("TBANK_AGENT_GROUP", ""),

		GoogleCredentials: envStr("GOOGLE_CREDENTIALS", ""),
		RubricSheetID:     envStr("RUBRIC_SHEET_ID", ""),
		ChecklistSheet:    envStr("RUBRIC_SHEET_CHECKLIST", "Чек-лист"),
		PromptSheet:       envStr("RUBRIC_SHEET_PROMPT", "Промпт"),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),

		StatusPort: envInt("CALLQ_STATUS_PORT", 0),
		APIToken:   envStr("CALLQ_API_TOKEN", ""),
	}
}

// Validate reports every setting a batch cannot run without.
func (c Config) Validate() error {
	var missing []string
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	require("LLM_TOKEN", c.LLMToken)
	require("CALLQ_PROMPT_FILE", c.PromptFile)
	require("TBANK_LOGIN", c.TBankLogin)
	require("TBANK_PASSWORD", c.TBankPassword)
	if c.RubricFile == "" {
		require("RUBRIC_SHEET_ID (or CALLQ_RUBRIC_FILE)", c.RubricSheetID)
	}
	if c.DatabaseURL == "" {
		require("DATABASE_URL (or CALLQ_SPOOL_PATH)", c.SpoolPath)
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", ")))
	}
	if c.LLMProvider != "openai" && c.LLMProvider != "anthropic" {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CALLQ_MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CALLQ_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts))
	}
	if c.CheckDaysAgo < 0 {
		errs = append(errs, fmt.Errorf("CALLQ_CHECK_DAYS_AGO must not be negative, got %d", c.CheckDaysAgo))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("CALLQ_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// Analysis returns the engine settings.
func (c Config) Analysis() analysis.Config {
	return analysis.Config{
		Model:          c.LLMModel,
		MaxConcurrency: c.MaxConcurrency,
		MaxAttempts:    c.MaxAttempts,
		MinDuration:    c.MinDuration,
		BackoffBase:    c.BackoffBase,
		BackoffMax:     c.BackoffMax,
		RepairDelay:    c.RepairDelay,
	}
}

// Completer builds the model client for the configured provider. An empty
// LLM_BASE_URL selects the provider's public endpoint.
func (c Config) Completer() llm.Completer {
	if c.LLMProvider == "anthropic" {
		return llm.NewAnthropicClient(c.LLMBaseURL, c.LLMToken, c.LLMMaxTokens, c.LLMTimeout)
	}
	return llm.NewClient(c.LLMBaseURL, c.LLMToken, c.LLMTimeout)
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Day returns midnight of the day CheckDaysAgo days before now, in the
// configured timezone.
func (c Config) Day(now time.Time) time.Time {
	loc := c.Location()
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d-c.CheckDaysAgo, 0, 0, 0, 0, loc)
}

// ParseDay reads a YYYY-MM-DD day in the configured timezone. An empty s
// means Day(now).
func (c Config) ParseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return c.Day(now), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, c.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("day %q: %w", s, err)
	}
	return d, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s", "5m") or a bare number of
// seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
