package scorer

import "github.com/mwidz/offerlens/internal/model"

// DecisionPolicy holds the configurable fit-score cutoffs for the final
// triage decision. The cutoffs are injected into the stage-4 prompt, and
// Reconcile enforces them deterministically afterwards so the decision is
// monotonic in fit score regardless of what the model answered.
type DecisionPolicy struct {
	ApplyMinFit    int // fit at or above this, with no deal-breaker, is never IGNORE
	IgnoreBelowFit int // fit below this is never APPLY
}

// DefaultPolicy mirrors the cutoffs described in the candidate profile prose.
func DefaultPolicy() DecisionPolicy {
	return DecisionPolicy{
		ApplyMinFit:    75,
		IgnoreBelowFit: 40,
	}
}

// Reconcile adjusts the model's decision so the policy invariants hold:
// a deal-breaker always yields IGNORE; below the ignore cutoff APPLY is
// downgraded to WATCH; at or above the apply cutoff IGNORE is upgraded to
// WATCH. Decisions already consistent with the cutoffs pass through.
func (p DecisionPolicy) Reconcile(d model.Decision, fitScore int, dealBreaker bool) model.Decision {
	if dealBreaker {
		return model.DecisionIgnore
	}
	if fitScore < p.IgnoreBelowFit && d == model.DecisionApply {
		return model.DecisionWatch
	}
	if fitScore >= p.ApplyMinFit && d == model.DecisionIgnore {
		return model.DecisionWatch
	}
	return d
}
