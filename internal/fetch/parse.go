package fetch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mwidz/offerlens/internal/model"
)

// minDescriptionLen guards against truncated or placeholder pages; anything
// shorter is not a real posting and must not reach the scorer.
const minDescriptionLen = 500

// jobPosting is the schema.org JobPosting subset embedded by most boards as
// application/ld+json. It is the preferred source; DOM scraping fills the gaps.
type jobPosting struct {
	Type               string `json:"@type"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	EmploymentType     string `json:"employmentType"`
	HiringOrganization struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
	JobLocation struct {
		Address struct {
			Locality string `json:"addressLocality"`
		} `json:"address"`
	} `json:"jobLocation"`
	BaseSalary struct {
		Currency string `json:"currency"`
		Value    struct {
			MinValue float64 `json:"minValue"`
			MaxValue float64 `json:"maxValue"`
			UnitText string `json:"unitText"`
		} `json:"value"`
	} `json:"baseSalary"`
}

var salaryPattern = regexp.MustCompile(`(\d[\d\s,.]*)\s*-\s*(\d[\d\s,.]*)\s*([A-Z]{3})`)

// Parse extracts a JobDetail from an offer page. Structured JSON-LD data wins
// when present; labeled definition lists and headings cover the rest. The
// caller assigns LinkID.
func Parse(doc *goquery.Document) (*model.JobDetail, error) {
	d := &model.JobDetail{}

	if posting := findJobPosting(doc); posting != nil {
		d.Title = strings.TrimSpace(posting.Title)
		d.Company = strings.TrimSpace(posting.HiringOrganization.Name)
		d.Location = strings.TrimSpace(posting.JobLocation.Address.Locality)
		d.EmploymentType = normalizeToken(posting.EmploymentType)
		d.Description = htmlToText(posting.Description)
		if posting.BaseSalary.Value.MaxValue > 0 {
			min := int(posting.BaseSalary.Value.MinValue)
			max := int(posting.BaseSalary.Value.MaxValue)
			d.SalaryMin = &min
			d.SalaryMax = &max
			d.SalaryCurrency = strings.ToUpper(posting.BaseSalary.Currency)
			d.SalaryRate = rateFromUnit(posting.BaseSalary.Value.UnitText)
		}
	}

	if d.Title == "" {
		d.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if d.Company == "" {
		d.Company = strings.TrimSpace(doc.Find(`a[href*="/companies/"]`).First().Text())
	}

	fillFromLabels(doc, d)
	d.TechStack = parseTechStack(doc)

	if d.SalaryMax == nil {
		parseSalaryText(doc, d)
	}
	if d.Description == "" {
		for _, sel := range []string{"#offer-description", "article", "main"} {
			if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
				d.Description = text
				break
			}
		}
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate rejects details that fail the sanity gates: a posting needs a
// title or company, and a description long enough to not be an error page.
func Validate(d *model.JobDetail) error {
	if d.Title == "" && d.Company == "" {
		return fmt.Errorf("page has neither title nor company")
	}
	if len(d.Description) < minDescriptionLen {
		return fmt.Errorf("description too short (%d chars, need %d)", len(d.Description), minDescriptionLen)
	}
	return nil
}

func findJobPosting(doc *goquery.Document) *jobPosting {
	var found *jobPosting
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var posting jobPosting
		if err := json.Unmarshal([]byte(s.Text()), &posting); err != nil {
			return true
		}
		if posting.Type != "JobPosting" {
			return true
		}
		found = &posting
		return false
	})
	return found
}

// fillFromLabels reads dt/dd metadata pairs such as "Operating mode: Remote".
func fillFromLabels(doc *goquery.Document, d *model.JobDetail) {
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		value := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if value == "" {
			return
		}
		switch normalizeToken(dt.Text()) {
		case "operating_mode", "workplace_type":
			d.RemoteType = normalizeToken(value)
		case "employment_type", "contract_type":
			d.ContractType = normalizeToken(value)
		case "experience", "experience_level", "seniority":
			d.ExpLevel = normalizeToken(value)
		case "type_of_work", "working_time":
			if d.EmploymentType == "" {
				d.EmploymentType = normalizeToken(value)
			}
		case "salary":
			if d.SalaryMax == nil {
				applySalary(value, d)
			}
		case "location", "city":
			if d.Location == "" {
				d.Location = value
			}
		}
	})
}

// parseTechStack collects skill names listed under a "Tech stack" heading.
func parseTechStack(doc *goquery.Document) []string {
	var stack []string
	seen := map[string]bool{}
	doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		if normalizeToken(h.Text()) != "tech_stack" {
			return
		}
		h.Parent().Find("li").Each(func(_ int, li *goquery.Selection) {
			name := li.Find("h4").First().Text()
			if name == "" {
				name = li.Text()
			}
			name = strings.TrimSpace(strings.SplitN(name, "\n", 2)[0])
			if name != "" && !seen[name] {
				seen[name] = true
				stack = append(stack, name)
			}
		})
	})
	return stack
}

func parseSalaryText(doc *goquery.Document, d *model.JobDetail) {
	doc.Find(".salary, [data-salary]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		return !applySalary(s.Text(), d)
	})
}

// applySalary parses strings like "20 000 - 26 000 PLN/month (net)".
// Reports whether a range was found.
func applySalary(text string, d *model.JobDetail) bool {
	m := salaryPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	min, err1 := parseAmount(m[1])
	max, err2 := parseAmount(m[2])
	if err1 != nil || err2 != nil {
		return false
	}
	d.SalaryMin = &min
	d.SalaryMax = &max
	d.SalaryCurrency = m[3]

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "hour"):
		d.SalaryRate = "hourly"
	case strings.Contains(lower, "year"):
		d.SalaryRate = "yearly"
	case strings.Contains(lower, "month"):
		d.SalaryRate = "monthly"
	}
	switch {
	case strings.Contains(lower, "net"):
		d.SalaryType = "net"
	case strings.Contains(lower, "gross"):
		d.SalaryType = "gross"
	}
	return true
}

func parseAmount(s string) (int, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	return strconv.Atoi(cleaned)
}

// rateFromUnit maps a schema.org unitText to our rate vocabulary.
func rateFromUnit(unit string) string {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "HOUR":
		return "hourly"
	case "MONTH":
		return "monthly"
	case "YEAR":
		return "yearly"
	default:
		return ""
	}
}

// normalizeToken lowercases and joins words with underscores, so "Operating
// mode" and "B2B" become stable keys and values.
func normalizeToken(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(fields, "_")
}

// htmlToText flattens an HTML fragment into plain text.
func htmlToText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
