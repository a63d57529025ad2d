package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mwidz/offerlens/internal/llm"
	"github.com/mwidz/offerlens/internal/model"
	"github.com/mwidz/offerlens/internal/retry"
	"github.com/mwidz/offerlens/internal/store"
)

// Analyzer turns one fetched detail into a validated analysis.
type Analyzer interface {
	Score(ctx context.Context, detail *model.JobDetail) (*model.JobAnalysis, error)
}

// Notifier is told about offers the pipeline decided to apply to.
type Notifier interface {
	NotifyApply(ctx context.Context, offer store.Offer) error
}

// Tally summarizes one pipeline run.
type Tally struct {
	Processed int
	Fetched   int
	Analyzed  int
	Failed    int
	Decisions map[model.Decision]int
}

// Orchestrator owns the full triage pipeline for discovered links:
// fetch → score → persist → notify. Links advance independently; one bad
// offer never blocks the rest of the batch.
type Orchestrator struct {
	store    store.Store
	fetcher  model.DetailFetcher
	analyzer Analyzer
	notifier Notifier
	workers  int
	budget   retry.Budget
	logger   *slog.Logger
}

// New creates an orchestrator wired with all its dependencies. notifier may
// be nil. workers < 1 is treated as 1.
func New(
	st store.Store,
	fetcher model.DetailFetcher,
	analyzer Analyzer,
	notifier Notifier,
	workers int,
	budget retry.Budget,
	logger *slog.Logger,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if budget.BaseDelay == 0 {
		budget.BaseDelay = 2 * time.Second
	}
	return &Orchestrator{
		store:    st,
		fetcher:  fetcher,
		analyzer: analyzer,
		notifier: notifier,
		workers:  workers,
		budget:   budget,
		logger:   logger,
	}
}

// Discover imports URLs into the store. Duplicates and filtered-out URLs are
// skipped; filter may be nil to accept everything.
func (o *Orchestrator) Discover(ctx context.Context, urls []string, filter *LinkFilter) (added, skipped int, err error) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if filter != nil && !filter.Match(url) {
			skipped++
			continue
		}
		created, err := o.store.InsertLink(ctx, url)
		if err != nil {
			return added, skipped, fmt.Errorf("discover: %w", err)
		}
		if created {
			added++
		} else {
			skipped++
		}
	}
	o.logger.Info("discovered links", "added", added, "skipped", skipped)
	return added, skipped, nil
}

// Run processes up to limit pending links (limit <= 0 means all) with the
// configured number of workers. Per-link fetch and scoring failures are
// logged and counted; the link stays in its current phase for the next run.
// Store failures abort the whole run.
func (o *Orchestrator) Run(ctx context.Context, limit int) (*Tally, error) {
	links, err := o.store.PendingLinks(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending links: %w", err)
	}

	tally := &Tally{Decisions: make(map[model.Decision]int)}
	if len(links) == 0 {
		o.logger.Info("nothing to process")
		return tally, nil
	}
	total := len(links)
	o.logger.Info("processing pending links", "count", total, "workers", o.workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, link := range links {
		link := link
		g.Go(func() error {
			res, err := o.processLink(gctx, link)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			tally.Processed++
			if res.fetched {
				tally.Fetched++
			}
			if res.analysis != nil {
				tally.Analyzed++
				tally.Decisions[res.analysis.Decision]++
				o.logger.Info("offer analyzed",
					"link_id", link.ID,
					"decision", res.analysis.Decision,
					"fit", res.analysis.FitScore,
					"done", tally.Processed,
					"total", total,
				)
			} else {
				tally.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return tally, err
	}

	o.logger.Info("run complete",
		"processed", tally.Processed,
		"fetched", tally.Fetched,
		"analyzed", tally.Analyzed,
		"failed", tally.Failed,
		"apply", tally.Decisions[model.DecisionApply],
		"watch", tally.Decisions[model.DecisionWatch],
		"ignore", tally.Decisions[model.DecisionIgnore],
	)
	return tally, nil
}

type linkResult struct {
	fetched  bool
	analysis *model.JobAnalysis
}

// processLink advances one link as far as it can go this run. A returned
// error is a store failure or a fatal LLM configuration error; everything
// recoverable is absorbed here.
func (o *Orchestrator) processLink(ctx context.Context, link model.JobLink) (linkResult, error) {
	var res linkResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log := o.logger.With("link_id", link.ID, "url", link.URL)

	detail, err := o.loadOrFetchDetail(ctx, link, &res)
	if err != nil {
		return res, err
	}
	if detail == nil {
		return res, nil
	}

	analysis, err := o.analyzer.Score(ctx, detail)
	if err != nil {
		// A misconfigured LLM fails every remaining link the same way;
		// abort the batch instead of grinding through it.
		if llm.IsConfigError(err) {
			return res, fmt.Errorf("score link %d: %w", link.ID, err)
		}
		log.Error("scoring failed, keeping link for next run", "error", err)
		return res, nil
	}

	if err := o.store.SaveAnalysis(ctx, analysis); err != nil {
		return res, fmt.Errorf("save analysis for link %d: %w", link.ID, err)
	}
	res.analysis = analysis

	if o.notifier != nil && analysis.Decision == model.DecisionApply {
		offer := store.Offer{Link: link, Detail: detail, Analysis: analysis}
		if err := o.notifier.NotifyApply(ctx, offer); err != nil {
			log.Error("notification failed", "error", err)
		}
	}
	return res, nil
}

// loadOrFetchDetail returns the link's detail, fetching it first when the
// link is still in the discovered phase. Returns (nil, nil) when the fetch
// failed recoverably; the link stays discovered.
func (o *Orchestrator) loadOrFetchDetail(ctx context.Context, link model.JobLink, res *linkResult) (*model.JobDetail, error) {
	if link.Status != model.StatusDiscovered {
		detail, err := o.store.DetailByLinkID(ctx, link.ID)
		if err == nil {
			return detail, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load detail for link %d: %w", link.ID, err)
		}
		// Fetched status without a detail row should not happen; re-fetch.
		o.logger.Warn("fetched link missing detail row, refetching", "link_id", link.ID)
	}

	var detail *model.JobDetail
	err := retry.Do(ctx, o.budget, o.logger, retry.Transient, func() error {
		d, err := o.fetcher.Fetch(ctx, link.URL)
		if err != nil {
			return err
		}
		detail = d
		return nil
	})
	if err != nil {
		o.logger.Error("fetch failed, link stays discovered", "link_id", link.ID, "url", link.URL, "error", err)
		return nil, nil
	}

	detail.LinkID = link.ID
	if err := o.store.SaveDetail(ctx, detail); err != nil {
		return nil, fmt.Errorf("save detail for link %d: %w", link.ID, err)
	}
	res.fetched = true
	return detail, nil
}

// RunEvery runs the pipeline immediately and then on every tick of interval.
// It returns nil when ctx is cancelled (graceful shutdown); run failures are
// logged and the loop keeps going.
func (o *Orchestrator) RunEvery(ctx context.Context, interval time.Duration, limit int) error {
	o.logger.Info("starting interval mode", "interval", interval.String())

	if _, err := o.Run(ctx, limit); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		o.logger.Error("run failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("shutting down")
			return nil
		case <-time.After(interval):
			if _, err := o.Run(ctx, limit); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				o.logger.Error("run failed", "error", err)
			}
		}
	}
}
