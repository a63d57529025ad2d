package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwidz/offerlens/internal/model"
	"github.com/mwidz/offerlens/internal/review"
)

var reviewDecision string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Browse analyzed offers in an interactive TUI",
	Long:  "Open a terminal UI over the analyzed offers, best fit first. Use --decision to start filtered to one bucket.",
	RunE:  runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "show only APPLY, WATCH, or IGNORE")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	var decision model.Decision
	if reviewDecision != "" {
		d, ok := model.ParseDecision(reviewDecision)
		if !ok {
			return fmt.Errorf("--decision must be APPLY, WATCH, or IGNORE, got %q", reviewDecision)
		}
		decision = d
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	offers, err := st.AnalyzedOffers(ctx, decision, 0)
	if err != nil {
		logger.Error("failed to load offers", "error", err)
		return err
	}
	if len(offers) == 0 {
		fmt.Println("no analyzed offers yet — run `offerlens run` first")
		return nil
	}

	return review.Run(offers)
}
