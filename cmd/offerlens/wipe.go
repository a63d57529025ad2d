package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	wipeAll bool
	wipeYes bool
)

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete analyses and details, keeping links for reprocessing",
	Long: "Delete all analysis and detail rows and reset links to discovered, so the next run " +
		"re-fetches and re-scores everything. With --all, links and the tag catalog are deleted too.",
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeAll, "all", false, "also delete links and the tag catalog")
	wipeCmd.Flags().BoolVarP(&wipeYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	if !wipeYes {
		what := "analyses and details"
		if wipeAll {
			what = "EVERYTHING (links, details, analyses, tags)"
		}
		fmt.Printf("about to delete %s from %s — type yes to continue: ", what, cfg.Database.DSN)
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Wipe(ctx, wipeAll); err != nil {
		logger.Error("wipe failed", "error", err)
		return err
	}

	if wipeAll {
		fmt.Println("database wiped")
	} else {
		fmt.Println("analyses wiped, links reset to discovered")
	}
	return nil
}
