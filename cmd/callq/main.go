package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
	"github.com/MikeSquared-Agency/callq/internal/api"
	"github.com/MikeSquared-Agency/callq/internal/config"
	"github.com/MikeSquared-Agency/callq/internal/hermes"
	"github.com/MikeSquared-Agency/callq/internal/metrics"
	"github.com/MikeSquared-Agency/callq/internal/pipeline"
	"github.com/MikeSquared-Agency/callq/internal/rubric"
	"github.com/MikeSquared-Agency/callq/internal/slack"
	"github.com/MikeSquared-Agency/callq/internal/store"
	"github.com/MikeSquared-Agency/callq/internal/tbank"
)

const defaultServePort = 8760

const usage = `usage: callq [-env file] <command> [flags]

commands:
  run    score one day of calls and exit
  serve  keep the status server up and run a batch on every trigger
`

func main() {
	fs := flag.NewFlagSet("callq", flag.ExitOnError)
	envFile := fs.String("env", ".env", "dotenv file loaded before the environment is read")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	var err error
	switch cmd, args := fs.Arg(0), fs.Args()[1:]; cmd {
	case "run":
		err = runCmd(cfg, args)
	case "serve":
		err = serveCmd(cfg, args)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("callq failed", "error", err)
		os.Exit(1)
	}
}

func runCmd(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dayFlag := fs.String("day", "", "day to score, YYYY-MM-DD (default: CALLQ_CHECK_DAYS_AGO days ago)")
	_ = fs.Parse(args)

	day, err := cfg.ParseDay(*dayFlag, time.Now())
	if err != nil {
		return fmt.Errorf("-day: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.StatusPort > 0 {
		srv := a.server(cfg.StatusPort, nil)
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("HTTP server error", "error", err)
			}
		}()
		defer shutdown(srv)
	}

	stats, err := a.pipeline.Run(ctx, day)
	if err != nil {
		return err
	}
	slog.Info("callq run finished",
		"day", day.Format(time.DateOnly),
		"scored", stats.Scored,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"tokens", stats.TotalTokens)
	return nil
}

func serveCmd(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.StatusPort, "status server port")
	_ = fs.Parse(args)
	if *port == 0 {
		*port = defaultServePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	runner := pipeline.NewRunner(ctx, a.pipeline, slog.Default())

	if a.hermes != nil {
		err := a.hermes.SubscribeTriggers(func(req hermes.TriggerRequest) {
			day, err := cfg.ParseDay(req.Day, time.Now())
			if err != nil {
				slog.Warn("ignoring trigger with bad day", "error", err)
				return
			}
			slog.Info("batch triggered over nats", "day", day.Format(time.DateOnly), "requested_by", req.RequestedBy)
			runner.TryStart(day)
		})
		if err != nil {
			return fmt.Errorf("subscribe to triggers: %w", err)
		}
	}

	srv := a.server(*port, runner.TryStart)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("callq serving", "port", *port, "nats", a.hermes != nil)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdown(srv)
	cancel()
	runner.Wait()
	slog.Info("callq stopped")
	return nil
}

// app holds the collaborators shared by both commands.
type app struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	tracker  *api.Tracker
	hermes   *hermes.Client
	pipeline *pipeline.Pipeline
	closers  []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, metrics: metrics.New(), tracker: api.NewTracker()}
	logger := slog.Default()

	sink, operators, err := a.openSink(ctx, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	rubricSrc, err := openRubric(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	calls := tbank.NewSource(tbank.NewClient(cfg.TBankBaseURL, logger), tbank.SourceConfig{
		Login:        cfg.TBankLogin,
		Password:     cfg.TBankPassword,
		AgentGroup:   cfg.TBankAgentGroup,
		DepartmentID: cfg.DepartmentID,
		MinDuration:  cfg.MinDuration,
		Location:     cfg.Location(),
		Workers:      cfg.TranscriptWorkers,
	}, logger)

	engine := analysis.New(cfg.Completer(), a.metrics, logger)
	slog.Info("llm client ready", "provider", cfg.LLMProvider, "model", cfg.LLMModel)

	notifiers := []pipeline.Notifier{a.tracker}

	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.hermes = hc
		a.closers = append(a.closers, func() {
			if err := hc.Drain(); err != nil {
				hc.Close()
			}
		})
		notifiers = append(notifiers, hc)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Slack is optional; without it summaries only go to the log and NATS
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifiers = append(notifiers, slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger))
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, batch summaries will not be posted")
	}

	a.pipeline = pipeline.New(pipeline.Config{
		PromptFile:   cfg.PromptFile,
		DepartmentID: cfg.DepartmentID,
		Analysis:     cfg.Analysis(),
	}, calls, rubricSrc, operators, engine, sink, logger, notifiers...)
	return a, nil
}

func (a *app) openSink(ctx context.Context, logger *slog.Logger) (pipeline.Sink, pipeline.OperatorSource, error) {
	if a.cfg.DatabaseURL != "" {
		db, err := store.New(ctx, a.cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if a.cfg.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, nil, err
			}
		}
		slog.Info("database connected")
		return db, db, nil
	}

	spool, err := store.OpenSpool(a.cfg.SpoolPath, logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() { _ = spool.Close() })
	if last, err := spool.LastRun(ctx); err != nil {
		slog.Warn("failed to read last run from spool", "error", err)
	} else if last != nil {
		a.tracker.Restore(api.RunSummary{
			Day:     last.Stats.StartedAt.Format(time.DateOnly),
			Outcome: last.Outcome,
			Error:   last.Error,
			Stats:   last.Stats,
		})
	}
	slog.Info("spool opened", "path", a.cfg.SpoolPath)
	return spool, spool, nil
}

func openRubric(ctx context.Context, cfg config.Config, logger *slog.Logger) (pipeline.RubricSource, error) {
	if cfg.RubricFile != "" {
		src, err := rubric.LoadFile(cfg.RubricFile)
		if err != nil {
			return nil, err
		}
		slog.Info("rubric file loaded", "path", cfg.RubricFile)
		return src, nil
	}
	src, err := rubric.NewSheetsSource(ctx, rubric.SheetsConfig{
		Credentials:   cfg.GoogleCredentials,
		SpreadsheetID: cfg.RubricSheetID,
		ChecklistName: cfg.ChecklistSheet,
		PromptName:    cfg.PromptSheet,
	}, logger)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (a *app) server(port int, trigger api.TriggerFunc) *api.Server {
	return api.NewServer(api.Options{
		Port:       port,
		APIToken:   a.cfg.APIToken,
		Tracker:    a.tracker,
		Metrics:    a.metrics.Handler(),
		Trigger:    trigger,
		DefaultDay: func() time.Time { return a.cfg.Day(time.Now()) },
		Location:   a.cfg.Location(),
		Logger:     slog.Default(),
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func shutdown(srv *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("HTTP shutdown", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
