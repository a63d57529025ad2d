package scorer

import (
	_ "embed"
	"text/template"
)

// System prompts, one per stage. Parsed once at package init; the stage-3
// prompt gets the candidate profile appended at scorer construction.

//go:embed prompts/stage1_tags.md
var stage1SystemPrompt string

//go:embed prompts/stage2_risk.md
var stage2SystemPrompt string

//go:embed prompts/stage3_fit.md
var stage3SystemPrompt string

//go:embed prompts/stage4_decision.md
var stage4SystemPrompt string

// User-prompt templates carry the per-offer data into each stage.

var stage1UserTemplate = template.Must(template.New("stage1").Parse(`POSTING:

Title: {{.Title}}
Tech stack hints: {{.TechHints}}

{{.Description}}

EXISTING TAGS (reuse before coining new ones):
{{.Vocabulary}}

Return JSON.
`))

var stage2UserTemplate = template.Must(template.New("stage2").Parse(`OFFER:

Company: {{.Company}}
Title: {{.Title}}
Location: {{.Location}}
Remote: {{.RemoteType}}
Contract: {{.ContractType}}
Experience: {{.ExpLevel}}
Employment: {{.EmploymentType}}
Salary: {{.Salary}}

Summary: {{.ShortSummary}}
Tags: {{.Tags}}

FULL TEXT:
{{.Description}}

Return JSON.
`))

var stage3UserTemplate = template.Must(template.New("stage3").Parse(`OFFER:

Company: {{.Company}}
Title: {{.Title}}
Location: {{.Location}}
Remote: {{.RemoteType}}
Contract: {{.ContractType}}
Salary: {{.Salary}}
Tags: {{.Tags}}
Summary: {{.ShortSummary}}

RISK SCORES (0-100):
cringe={{.Cringe}} red_flag={{.RedFlag}} work_culture={{.WorkCulture}} stability={{.Stability}} benefits={{.Benefit}} inclusivity={{.Inclusivity}} corporate={{.Corporate}}

FULL TEXT:
{{.Description}}

Return JSON.
`))

var stage4UserTemplate = template.Must(template.New("stage4").Parse(`OFFER: {{.Title}} at {{.Company}}

Summary: {{.ShortSummary}}
Tags: {{.Tags}}

RISK SCORES (0-100):
cringe={{.Cringe}} red_flag={{.RedFlag}} work_culture={{.WorkCulture}} stability={{.Stability}} benefits={{.Benefit}} inclusivity={{.Inclusivity}} corporate={{.Corporate}}

FIT:
fit_score={{.FitScore}} deal_breaker={{.DealBreaker}}
reasoning: {{.FitReasoning}}

CUTOFFS:
apply at fit >= {{.ApplyMinFit}}, ignore below fit {{.IgnoreBelowFit}}

Return JSON.
`))
