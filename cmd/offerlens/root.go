package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/mwidz/offerlens/internal/config"
	"github.com/mwidz/offerlens/internal/fetch"
	"github.com/mwidz/offerlens/internal/llm"
	"github.com/mwidz/offerlens/internal/notify"
	"github.com/mwidz/offerlens/internal/pipeline"
	"github.com/mwidz/offerlens/internal/retry"
	"github.com/mwidz/offerlens/internal/scorer"
	"github.com/mwidz/offerlens/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "offerlens",
	Short: "Job offer triage — fetch, score, decide",
	Long:  "offerlens fetches job postings, scores them with an LLM against your candidate profile, and sorts them into apply / watch / ignore.",
	// Default to `run` so that `offerlens` with no args processes the backlog.
	RunE: runRun,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: OFFERLENS_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.SilenceUsage = true
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > OFFERLENS_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("OFFERLENS_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	}))
}

func openStore(cfg *config.Config) (store.Store, error) {
	return store.Open(cfg.Database.Driver, cfg.Database.DSN)
}

func setupNotifier(cfg *config.Config, logger *slog.Logger) pipeline.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notify.NewSlackNotifier(cfg.Notification.WebhookURL, nil, logger)
	default:
		return notify.NewLogNotifier(logger)
	}
}

// llmHealthClient builds a client with a short timeout for preflight probes.
func llmHealthClient(cfg *config.Config) *llm.ChatClient {
	return llm.NewChatClient(
		cfg.LLM.BaseURL,
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		&http.Client{Timeout: 10 * time.Second},
	)
}

// buildOrchestrator wires the full pipeline: store, fetcher, LLM scorer,
// and notifier.
func buildOrchestrator(cfg *config.Config, st store.Store, workers int, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	profile, err := cfg.LoadProfile()
	if err != nil {
		return nil, fmt.Errorf("candidate profile is required for scoring: %w", err)
	}

	client := llm.NewChatClient(
		cfg.LLM.BaseURL,
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		&http.Client{Timeout: cfg.LLM.Timeout},
	)

	budget := retry.Budget{MaxRetries: cfg.Pipeline.MaxRetries, BaseDelay: 2 * time.Second}
	policy := scorer.DecisionPolicy{
		ApplyMinFit:    cfg.Policy.ApplyMinFit,
		IgnoreBelowFit: cfg.Policy.IgnoreBelowFit,
	}
	sc := scorer.New(client, st, profile, policy, budget, logger)

	limiter := fetch.NewLimiter(cfg.Pipeline.FetchDelay)
	fetcher := fetch.NewHTTPFetcher(&http.Client{Timeout: cfg.Pipeline.FetchTimeout}, limiter, logger)

	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}

	return pipeline.New(st, fetcher, sc, setupNotifier(cfg, logger), workers, budget, logger), nil
}
