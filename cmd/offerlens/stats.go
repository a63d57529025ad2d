package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mwidz/offerlens/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline and decision statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := st.Stats(ctx)
	if err != nil {
		logger.Error("failed to load stats", "error", err)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "PHASE\tLINKS")
	for _, status := range []model.Status{model.StatusDiscovered, model.StatusFetched, model.StatusAnalyzed} {
		fmt.Fprintf(w, "%s\t%d\n", status, stats.StatusCounts[status])
	}

	fmt.Fprintln(w, "\nDECISION\tCOUNT\tAVG FIT\tMIN\tMAX")
	for _, d := range []model.Decision{model.DecisionApply, model.DecisionWatch, model.DecisionIgnore} {
		fs, ok := stats.FitByDecision[d]
		if !ok {
			fmt.Fprintf(w, "%s\t0\t-\t-\t-\n", d)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%d\t%d\n", d, fs.Count, fs.Avg, fs.Min, fs.Max)
	}

	fmt.Fprintf(w, "\ntags in catalog\t%d\n", stats.TagCount)
	return w.Flush()
}
