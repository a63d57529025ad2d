package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwidz/offerlens/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistent record of links, details, analyses and the shared
// tag catalog. Implementations must be safe for concurrent use by multiple
// pipeline workers.
type Store interface {
	// InsertLink records a discovered URL. Duplicates are no-ops; created
	// reports whether a new row was inserted.
	InsertLink(ctx context.Context, url string) (created bool, err error)

	// PendingLinks returns links not yet analyzed, oldest first.
	// limit <= 0 means no limit.
	PendingLinks(ctx context.Context, limit int) ([]model.JobLink, error)

	// LinksByStatus returns links in the given phase, oldest first.
	LinksByStatus(ctx context.Context, status model.Status, limit int) ([]model.JobLink, error)

	// SaveDetail upserts the detail row for its link and advances the link
	// to fetched (never backwards) in one transaction.
	SaveDetail(ctx context.Context, d *model.JobDetail) error

	// DetailByLinkID returns the detail row, or ErrNotFound.
	DetailByLinkID(ctx context.Context, linkID int64) (*model.JobDetail, error)

	// SaveAnalysis validates, then upserts the analysis row and marks the
	// link analyzed in one transaction. Nothing is written when validation
	// fails: no partial analysis ever exists.
	SaveAnalysis(ctx context.Context, a *model.JobAnalysis) error

	// AnalysisByLinkID returns the analysis row, or ErrNotFound.
	AnalysisByLinkID(ctx context.Context, linkID int64) (*model.JobAnalysis, error)

	// AnalyzedOffers returns analyzed offers joined with their detail and
	// analysis, best fit first. decision filters when non-empty.
	AnalyzedOffers(ctx context.Context, decision model.Decision, limit int) ([]Offer, error)

	// ListTags returns the tag catalog, most used first.
	ListTags(ctx context.Context) ([]model.TagCount, error)

	// RecordTagUse increments each tag's usage counter, inserting missing
	// tags. Concurrent coinage of the same tag must converge on one row;
	// uniqueness is enforced at the storage level, not by locking.
	RecordTagUse(ctx context.Context, tags []string) error

	// Stats aggregates counts by status and decision plus fit summaries.
	Stats(ctx context.Context) (*Stats, error)

	// Wipe deletes analyses and details; full additionally deletes links,
	// otherwise links are reset to discovered for reprocessing.
	Wipe(ctx context.Context, full bool) error

	Close() error
}

// Offer is one analyzed posting joined across the three tables.
type Offer struct {
	Link     model.JobLink
	Detail   *model.JobDetail
	Analysis *model.JobAnalysis
}

// FitSummary aggregates fit scores for one decision bucket.
type FitSummary struct {
	Count int
	Avg   float64
	Min   int
	Max   int
}

// Stats is the aggregate pipeline state exposed to reporting tools.
type Stats struct {
	StatusCounts   map[model.Status]int
	DecisionCounts map[model.Decision]int
	FitByDecision  map[model.Decision]FitSummary
	TagCount       int
}

// validateAnalysis enforces the persistence invariants: every score in
// [0,100] and a decision from the enumerated set. Called by every Store
// implementation before writing; a failing record must leave no trace.
func validateAnalysis(a *model.JobAnalysis) error {
	if a == nil {
		return fmt.Errorf("nil analysis")
	}
	scores := map[string]int{
		"cringe_score":       a.CringeScore,
		"red_flag_score":     a.RedFlagScore,
		"work_culture_score": a.WorkCultureScore,
		"stability_score":    a.StabilityScore,
		"benefit_score":      a.BenefitScore,
		"inclusivity_score":  a.InclusivityScore,
		"corporate_score":    a.CorporateScore,
		"fit_score":          a.FitScore,
	}
	for name, v := range scores {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s out of range: %d", name, v)
		}
	}
	if _, ok := model.ParseDecision(string(a.Decision)); !ok {
		return fmt.Errorf("decision %q not in {APPLY, WATCH, IGNORE}", a.Decision)
	}
	return nil
}
