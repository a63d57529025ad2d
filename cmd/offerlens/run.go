package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwidz/offerlens/internal/config"
	"github.com/mwidz/offerlens/internal/pipeline"
)

var (
	runWorkers int
	runLimit   int
	runEvery   time.Duration
	runSource  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process pending links: fetch, score, decide",
	Long: "Fetch and score every pending link. With --source, new links are imported first. " +
		"With --every, keeps running on an interval until SIGINT/SIGTERM.",
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent workers (default: config pipeline.workers)")
	runCmd.Flags().IntVar(&runLimit, "limit", -1, "max links per run, 0 = all (default: config pipeline.limit)")
	runCmd.Flags().DurationVar(&runEvery, "every", 0, "re-run on this interval instead of exiting (e.g. 30m)")
	runCmd.Flags().StringVar(&runSource, "source", "", "file with one offer URL per line to import before running (- for stdin)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer st.Close()

	orch, err := buildOrchestrator(cfg, st, runWorkers, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := preflight(ctx, cfg, logger); err != nil {
		return err
	}

	if runSource != "" {
		urls, err := readURLs(runSource)
		if err != nil {
			logger.Error("failed to read source", "error", err)
			return err
		}
		filter := pipeline.NewLinkFilter(cfg.Links.Include, cfg.Links.Exclude)
		if _, _, err := orch.Discover(ctx, urls, filter); err != nil {
			logger.Error("import failed", "error", err)
			return err
		}
	}

	limit := runLimit
	if limit < 0 {
		limit = cfg.Pipeline.Limit
	}

	if runEvery > 0 {
		if err := orch.RunEvery(ctx, runEvery, limit); err != nil {
			logger.Error("pipeline error", "error", err)
			return err
		}
		logger.Info("goodbye")
		return nil
	}

	if _, err := orch.Run(ctx, limit); err != nil {
		logger.Error("run failed", "error", err)
		return err
	}
	return nil
}

// preflight checks the LLM endpoint before burning through the backlog.
func preflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client := llmHealthClient(cfg)
	if client.Health(ctx) {
		logger.Debug("llm endpoint reachable", "base_url", cfg.LLM.BaseURL)
		return nil
	}
	logger.Error("llm endpoint unreachable, refusing to start", "base_url", cfg.LLM.BaseURL)
	return fmt.Errorf("llm endpoint %s unreachable", cfg.LLM.BaseURL)
}

// readURLs reads one URL per line; blank lines and #-comments are skipped.
func readURLs(source string) ([]string, error) {
	var in *os.File
	if source == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var urls []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
