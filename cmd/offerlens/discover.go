package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwidz/offerlens/internal/pipeline"
	"github.com/mwidz/offerlens/internal/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <file>",
	Short: "Import offer URLs without processing them",
	Long:  "Read one URL per line from the file (- for stdin) and add new links to the backlog. Links are fetched and scored by a later `run`.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	urls, err := readURLs(args[0])
	if err != nil {
		logger.Error("failed to read source", "error", err)
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

	// Discovery needs no scorer; insert directly through the store.
	filter := pipeline.NewLinkFilter(cfg.Links.Include, cfg.Links.Exclude)
	added, skipped, err := importLinks(ctx, st, urls, filter)
	if err != nil {
		logger.Error("import failed", "error", err)
		return err
	}

	fmt.Printf("imported %d new links (%d skipped)\n", added, skipped)
	return nil
}

func importLinks(ctx context.Context, st store.Store, urls []string, filter *pipeline.LinkFilter) (added, skipped int, err error) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if filter != nil && !filter.Match(url) {
			skipped++
			continue
		}
		created, err := st.InsertLink(ctx, url)
		if err != nil {
			return added, skipped, err
		}
		if created {
			added++
		} else {
			skipped++
		}
	}
	return added, skipped, nil
}
