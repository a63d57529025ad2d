package model

import (
	"context"
	"time"
)

// Status is the lifecycle phase of a discovered link.
// Transitions only move forward: discovered → fetched → analyzed.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusFetched    Status = "fetched"
	StatusAnalyzed   Status = "analyzed"
)

// Rank orders statuses so callers can assert forward-only transitions.
func (s Status) Rank() int {
	switch s {
	case StatusDiscovered:
		return 0
	case StatusFetched:
		return 1
	case StatusAnalyzed:
		return 2
	}
	return -1
}

// Decision is the final triage outcome for an offer.
type Decision string

const (
	DecisionApply  Decision = "APPLY"
	DecisionWatch  Decision = "WATCH"
	DecisionIgnore Decision = "IGNORE"
)

// ParseDecision normalizes raw LLM output into a Decision.
// Returns false for anything outside the three allowed values.
func ParseDecision(raw string) (Decision, bool) {
	switch Decision(raw) {
	case DecisionApply, DecisionWatch, DecisionIgnore:
		return Decision(raw), true
	}
	return "", false
}

// JobLink is a discovered offer URL and its pipeline status.
type JobLink struct {
	ID           int64
	URL          string // unique
	Status       Status
	DiscoveredAt time.Time
	FetchedAt    *time.Time
	AnalyzedAt   *time.Time
}

// JobDetail holds the structured content of one fetched offer page.
// At most one detail row exists per link; a re-fetch overwrites it.
type JobDetail struct {
	LinkID         int64
	Title          string
	Company        string
	Location       string
	RemoteType     string
	ContractType   string
	ExpLevel       string
	EmploymentType string
	SalaryMin      *int
	SalaryMax      *int
	SalaryCurrency string
	SalaryRate     string // hourly, monthly, yearly
	SalaryType     string // gross, net
	TechStack      []string
	Description    string
	FetchedAt      time.Time
}

// JobAnalysis is the validated LLM scoring record for one offer.
// All scores are integers in [0,100]; Decision is one of the three enum values.
type JobAnalysis struct {
	LinkID           int64
	Language         string
	ShortSummary     string
	CringeScore      int
	RedFlagScore     int
	WorkCultureScore int
	StabilityScore   int
	BenefitScore     int
	InclusivityScore int
	CorporateScore   int
	FitScore         int
	FitReasoning     string
	Decision         Decision
	AnalyzedAt       time.Time
}

// ClampScore bounds a raw score to [0,100]. Out-of-range values are clamped
// at the boundary, never dropped.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Clamp bounds every numeric score to [0,100] in place.
func (a *JobAnalysis) Clamp() {
	a.CringeScore = ClampScore(a.CringeScore)
	a.RedFlagScore = ClampScore(a.RedFlagScore)
	a.WorkCultureScore = ClampScore(a.WorkCultureScore)
	a.StabilityScore = ClampScore(a.StabilityScore)
	a.BenefitScore = ClampScore(a.BenefitScore)
	a.InclusivityScore = ClampScore(a.InclusivityScore)
	a.CorporateScore = ClampScore(a.CorporateScore)
	a.FitScore = ClampScore(a.FitScore)
}

// TagCount is one entry of the shared tag catalog: a canonical tag and how
// many analyzed offers used it.
type TagCount struct {
	Tag   string
	Count int64
}

// DetailFetcher retrieves and parses one offer page into structured fields.
type DetailFetcher interface {
	Fetch(ctx context.Context, url string) (*JobDetail, error)
}
