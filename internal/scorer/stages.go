package scorer

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/mwidz/offerlens/internal/model"
)

// TagSummary is the stage-1 output: detected language, a one-sentence summary
// and the normalized tag set.
type TagSummary struct {
	Language     string
	ShortSummary string
	Tags         []string
}

// RiskScores is the stage-2 output: seven bounded quality/risk sub-scores.
type RiskScores struct {
	Cringe      int
	RedFlag     int
	WorkCulture int
	Stability   int
	Benefit     int
	Inclusivity int
	Corporate   int
	Reasoning   string
}

// FitResult is the stage-3 output: fit against the candidate profile.
type FitResult struct {
	FitScore     int
	DealBreaker  bool
	MatchedTags  []string
	MissingTags  []string
	FitReasoning string
}

// Verdict is the stage-4 output before policy reconciliation.
type Verdict struct {
	Decision  model.Decision
	Reasoning string
}

// Raw decode targets. Scores arrive as JSON numbers that small models happily
// emit as floats; optional scores default to 50 when absent, required fields
// use pointers so absence is detectable.

type rawTagSummary struct {
	Language     string    `json:"language"`
	ShortSummary string    `json:"short_summary"`
	Tags         *[]string `json:"tags"`
}

type rawRiskScores struct {
	Cringe      *float64 `json:"cringe_score"`
	RedFlag     *float64 `json:"red_flag_score"`
	WorkCulture *float64 `json:"work_culture_score"`
	Stability   *float64 `json:"stability_score"`
	Benefit     *float64 `json:"benefit_score"`
	Inclusivity *float64 `json:"inclusivity_score"`
	Corporate   *float64 `json:"corporate_score"`
	Reasoning   string   `json:"risk_reasoning"`
}

type rawFitResult struct {
	FitScore     *float64 `json:"fit_score"`
	DealBreaker  bool     `json:"deal_breaker"`
	MatchedTags  []string `json:"matched_tags"`
	MissingTags  []string `json:"missing_tags"`
	FitReasoning string   `json:"fit_reasoning"`
}

type rawVerdict struct {
	Decision  *string `json:"decision"`
	Reasoning string  `json:"decision_reasoning"`
}

func parseTagSummary(raw string) (TagSummary, error) {
	var r rawTagSummary
	if err := decodeStage(raw, &r); err != nil {
		return TagSummary{}, err
	}
	if r.Tags == nil {
		return TagSummary{}, &ParseError{Err: fmt.Errorf("missing required field %q", "tags")}
	}

	out := TagSummary{
		Language:     strings.ToLower(strings.TrimSpace(r.Language)),
		ShortSummary: clip(r.ShortSummary, 500),
		Tags:         *r.Tags,
	}
	if out.Language == "" {
		out.Language = "unknown"
	}
	return out, nil
}

func parseRiskScores(raw string) (RiskScores, error) {
	var r rawRiskScores
	if err := decodeStage(raw, &r); err != nil {
		return RiskScores{}, err
	}
	return RiskScores{
		Cringe:      scoreOrDefault(r.Cringe),
		RedFlag:     scoreOrDefault(r.RedFlag),
		WorkCulture: scoreOrDefault(r.WorkCulture),
		Stability:   scoreOrDefault(r.Stability),
		Benefit:     scoreOrDefault(r.Benefit),
		Inclusivity: scoreOrDefault(r.Inclusivity),
		Corporate:   scoreOrDefault(r.Corporate),
		Reasoning:   clip(r.Reasoning, 500),
	}, nil
}

func parseFitResult(raw string) (FitResult, error) {
	var r rawFitResult
	if err := decodeStage(raw, &r); err != nil {
		return FitResult{}, err
	}
	if r.FitScore == nil {
		return FitResult{}, &ParseError{Err: fmt.Errorf("missing required field %q", "fit_score")}
	}
	return FitResult{
		FitScore:     model.ClampScore(round(*r.FitScore)),
		DealBreaker:  r.DealBreaker,
		MatchedTags:  r.MatchedTags,
		MissingTags:  r.MissingTags,
		FitReasoning: clip(r.FitReasoning, 1000),
	}, nil
}

func parseVerdict(raw string) (Verdict, error) {
	var r rawVerdict
	if err := decodeStage(raw, &r); err != nil {
		return Verdict{}, err
	}
	if r.Decision == nil {
		return Verdict{}, &ParseError{Err: fmt.Errorf("missing required field %q", "decision")}
	}

	// An out-of-domain decision is a validation failure, handled exactly like
	// a parse failure: retried, never persisted.
	decision, ok := model.ParseDecision(strings.ToUpper(strings.TrimSpace(*r.Decision)))
	if !ok {
		return Verdict{}, &ParseError{Err: fmt.Errorf("decision %q not in {APPLY, WATCH, IGNORE}", *r.Decision)}
	}
	return Verdict{Decision: decision, Reasoning: clip(r.Reasoning, 500)}, nil
}

// scoreOrDefault converts an optional raw score to a bounded int, defaulting
// to the 50 midpoint when the model omitted it.
func scoreOrDefault(v *float64) int {
	if v == nil {
		return 50
	}
	return model.ClampScore(round(*v))
}

func round(v float64) int {
	return int(math.Round(v))
}

// clip truncates s to at most n bytes without splitting a rune; the output
// must stay valid UTF-8 for the store.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
