package scorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/mwidz/offerlens/internal/llm"
	"github.com/mwidz/offerlens/internal/model"
	"github.com/mwidz/offerlens/internal/retry"
)

// Postings are truncated before prompting; small models lose the plot on
// longer inputs anyway.
const maxPromptDescription = 3000

// TagVocabulary is the shared canonical tag catalog. Implementations must
// make RecordTagUse safe under concurrent writers coining the same tag.
type TagVocabulary interface {
	ListTags(ctx context.Context) ([]model.TagCount, error)
	RecordTagUse(ctx context.Context, tags []string) error
}

// Scorer runs the 4-stage protocol: tag extraction → risk scoring → fit
// analysis → final decision. Each stage is one LLM call whose output feeds
// the next; a hard failure at any stage aborts the whole analysis.
type Scorer struct {
	client  llm.Client
	tags    TagVocabulary
	policy  DecisionPolicy
	budget  retry.Budget
	profile string // candidate profile text, appended to the stage-3 prompt
	logger  *slog.Logger
}

// New creates a scorer. profile is the static candidate-profile document
// injected verbatim into stage 3.
func New(client llm.Client, tags TagVocabulary, profile string, policy DecisionPolicy, budget retry.Budget, logger *slog.Logger) *Scorer {
	if budget.BaseDelay == 0 {
		budget.BaseDelay = 2 * time.Second
	}
	return &Scorer{
		client:  client,
		tags:    tags,
		policy:  policy,
		budget:  budget,
		profile: profile,
		logger:  logger,
	}
}

// Score transforms one offer's structured fields into a validated analysis.
// The returned error is always a *StageError attributing the failure; the
// caller must not persist anything when an error is returned.
func (s *Scorer) Score(ctx context.Context, detail *model.JobDetail) (*model.JobAnalysis, error) {
	tagSummary, err := s.stageTags(ctx, detail)
	if err != nil {
		return nil, err
	}

	risk, err := s.stageRisk(ctx, detail, tagSummary)
	if err != nil {
		return nil, err
	}

	fit, err := s.stageFit(ctx, detail, tagSummary, risk)
	if err != nil {
		return nil, err
	}

	verdict, err := s.stageDecision(ctx, detail, tagSummary, risk, fit)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Reconcile(verdict.Decision, fit.FitScore, fit.DealBreaker)
	if decision != verdict.Decision {
		s.logger.Debug("policy overrode model decision",
			"model", verdict.Decision, "final", decision,
			"fit", fit.FitScore, "deal_breaker", fit.DealBreaker,
		)
	}

	analysis := &model.JobAnalysis{
		LinkID:           detail.LinkID,
		Language:         tagSummary.Language,
		ShortSummary:     tagSummary.ShortSummary,
		CringeScore:      risk.Cringe,
		RedFlagScore:     risk.RedFlag,
		WorkCultureScore: risk.WorkCulture,
		StabilityScore:   risk.Stability,
		BenefitScore:     risk.Benefit,
		InclusivityScore: risk.Inclusivity,
		CorporateScore:   risk.Corporate,
		FitScore:         fit.FitScore,
		FitReasoning:     fit.FitReasoning,
		Decision:         decision,
	}
	analysis.Clamp()
	return analysis, nil
}

// stageTags runs stage 1 and records canonical tag usage in the shared
// catalog. The catalog grows even when a later stage fails; vocabulary reuse
// is independent of whether this offer ends up analyzed.
func (s *Scorer) stageTags(ctx context.Context, detail *model.JobDetail) (TagSummary, error) {
	vocab, err := s.tags.ListTags(ctx)
	if err != nil {
		return TagSummary{}, &StageError{Stage: 1, Name: "tags", Err: fmt.Errorf("load tag vocabulary: %w", err)}
	}

	user, err := render(stage1UserTemplate, map[string]any{
		"Title":       detail.Title,
		"TechHints":   strings.Join(detail.TechStack, ", "),
		"Description": clip(detail.Description, maxPromptDescription),
		"Vocabulary":  vocabularyLine(vocab),
	})
	if err != nil {
		return TagSummary{}, &StageError{Stage: 1, Name: "tags", Err: err}
	}

	var out TagSummary
	err = s.callStage(ctx, 1, "tags", stage1SystemPrompt, user, func(raw string) error {
		parsed, err := parseTagSummary(raw)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	if err != nil {
		return TagSummary{}, err
	}

	out.Tags = canonicalizeTags(out.Tags, vocab)
	if len(out.Tags) > 0 {
		if err := s.tags.RecordTagUse(ctx, out.Tags); err != nil {
			return TagSummary{}, &StageError{Stage: 1, Name: "tags", Err: fmt.Errorf("record tag use: %w", err)}
		}
	}
	return out, nil
}

func (s *Scorer) stageRisk(ctx context.Context, detail *model.JobDetail, tags TagSummary) (RiskScores, error) {
	user, err := render(stage2UserTemplate, map[string]any{
		"Company":        orUnknown(detail.Company),
		"Title":          orUnknown(detail.Title),
		"Location":       orUnknown(detail.Location),
		"RemoteType":     orUnknown(detail.RemoteType),
		"ContractType":   orUnknown(detail.ContractType),
		"ExpLevel":       orUnknown(detail.ExpLevel),
		"EmploymentType": orUnknown(detail.EmploymentType),
		"Salary":         salaryLine(detail),
		"ShortSummary":   tags.ShortSummary,
		"Tags":           strings.Join(tags.Tags, ", "),
		"Description":    clip(detail.Description, maxPromptDescription),
	})
	if err != nil {
		return RiskScores{}, &StageError{Stage: 2, Name: "risk", Err: err}
	}

	var out RiskScores
	err = s.callStage(ctx, 2, "risk", stage2SystemPrompt, user, func(raw string) error {
		parsed, err := parseRiskScores(raw)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	return out, err
}

func (s *Scorer) stageFit(ctx context.Context, detail *model.JobDetail, tags TagSummary, risk RiskScores) (FitResult, error) {
	user, err := render(stage3UserTemplate, map[string]any{
		"Company":      orUnknown(detail.Company),
		"Title":        orUnknown(detail.Title),
		"Location":     orUnknown(detail.Location),
		"RemoteType":   orUnknown(detail.RemoteType),
		"ContractType": orUnknown(detail.ContractType),
		"Salary":       salaryLine(detail),
		"Tags":         strings.Join(tags.Tags, ", "),
		"ShortSummary": tags.ShortSummary,
		"Cringe":       risk.Cringe,
		"RedFlag":      risk.RedFlag,
		"WorkCulture":  risk.WorkCulture,
		"Stability":    risk.Stability,
		"Benefit":      risk.Benefit,
		"Inclusivity":  risk.Inclusivity,
		"Corporate":    risk.Corporate,
		"Description":  clip(detail.Description, maxPromptDescription),
	})
	if err != nil {
		return FitResult{}, &StageError{Stage: 3, Name: "fit", Err: err}
	}

	system := stage3SystemPrompt + "\n" + s.profile

	var out FitResult
	err = s.callStage(ctx, 3, "fit", system, user, func(raw string) error {
		parsed, err := parseFitResult(raw)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	return out, err
}

func (s *Scorer) stageDecision(ctx context.Context, detail *model.JobDetail, tags TagSummary, risk RiskScores, fit FitResult) (Verdict, error) {
	user, err := render(stage4UserTemplate, map[string]any{
		"Company":        orUnknown(detail.Company),
		"Title":          orUnknown(detail.Title),
		"ShortSummary":   tags.ShortSummary,
		"Tags":           strings.Join(tags.Tags, ", "),
		"Cringe":         risk.Cringe,
		"RedFlag":        risk.RedFlag,
		"WorkCulture":    risk.WorkCulture,
		"Stability":      risk.Stability,
		"Benefit":        risk.Benefit,
		"Inclusivity":    risk.Inclusivity,
		"Corporate":      risk.Corporate,
		"FitScore":       fit.FitScore,
		"DealBreaker":    fit.DealBreaker,
		"FitReasoning":   fit.FitReasoning,
		"ApplyMinFit":    s.policy.ApplyMinFit,
		"IgnoreBelowFit": s.policy.IgnoreBelowFit,
	})
	if err != nil {
		return Verdict{}, &StageError{Stage: 4, Name: "decision", Err: err}
	}

	var out Verdict
	err = s.callStage(ctx, 4, "decision", stage4SystemPrompt, user, func(raw string) error {
		parsed, err := parseVerdict(raw)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	return out, err
}

// callStage runs one LLM call plus decode under the per-stage retry budget.
// Transport failures and parse failures both consume the budget; a config
// error aborts immediately.
func (s *Scorer) callStage(ctx context.Context, stage int, name, system, user string, decode func(raw string) error) error {
	err := retry.Do(ctx, s.budget, s.logger, stageRetryable, func() error {
		raw, err := s.client.Complete(ctx, system, user)
		if err != nil {
			return err
		}
		return decode(raw)
	})
	if err != nil {
		return &StageError{Stage: stage, Name: name, Err: err}
	}
	return nil
}

func stageRetryable(err error) bool {
	if llm.IsConfigError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// UnavailableError and ParseError both get another attempt.
	return true
}

// canonicalizeTags normalizes the model's tags and reuses existing catalog
// entries on a case-insensitive match, so concurrent workers converge on one
// canonical form instead of coining synonyms.
func canonicalizeTags(raw []string, vocab []model.TagCount) []string {
	canonical := make(map[string]string, len(vocab))
	for _, tc := range vocab {
		canonical[strings.ToLower(tc.Tag)] = tc.Tag
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "-")
		if norm == "" {
			continue
		}
		if existing, ok := canonical[norm]; ok {
			norm = existing
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}

	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

func vocabularyLine(vocab []model.TagCount) string {
	if len(vocab) == 0 {
		return "(none yet)"
	}
	// Most-used first keeps the prompt short and biases reuse correctly.
	tags := make([]string, 0, len(vocab))
	for _, tc := range vocab {
		tags = append(tags, tc.Tag)
		if len(tags) == 200 {
			break
		}
	}
	return strings.Join(tags, ", ")
}

// salaryLine formats the salary fields like "20000-25000 PLN/monthly (gross)",
// with "?" placeholders for gaps.
func salaryLine(d *model.JobDetail) string {
	min, max := "?", "?"
	if d.SalaryMin != nil {
		min = fmt.Sprintf("%d", *d.SalaryMin)
	}
	if d.SalaryMax != nil {
		max = fmt.Sprintf("%d", *d.SalaryMax)
	}
	s := fmt.Sprintf("%s-%s %s", min, max, d.SalaryCurrency)
	if d.SalaryRate != "" {
		s += "/" + d.SalaryRate
	}
	if d.SalaryType != "" {
		s += " (" + d.SalaryType + ")"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
