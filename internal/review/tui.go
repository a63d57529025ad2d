package review

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwidz/offerlens/internal/model"
	"github.com/mwidz/offerlens/internal/store"
)

// Lines per offer item in the list view (title + subtitle + blank separator).
const offerItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	offerTitleStyle = lipgloss.NewStyle().
			Bold(true)

	offerSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	bodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	decisionStyles = map[model.Decision]lipgloss.Style{
		model.DecisionApply:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		model.DecisionWatch:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		model.DecisionIgnore: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("240")),
	}
)

// decisionFilters is the cycle order for the f key; "" means all.
var decisionFilters = []model.Decision{"", model.DecisionApply, model.DecisionWatch, model.DecisionIgnore}

type reviewModel struct {
	all     []store.Offer
	visible []store.Offer

	listViewport   viewport.Model
	detailViewport viewport.Model
	cursor         int
	filterIdx      int
	width          int
	height         int
	ready          bool

	view            viewState
	detailOffer     store.Offer
	showDescription bool
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailViewport.Width = m.width - 4
			m.detailViewport.Height = m.height - 4
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m reviewModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		return m, nil
	case "f":
		m.filterIdx = (m.filterIdx + 1) % len(decisionFilters)
		m.applyFilter()
		return m, nil
	case "o":
		if len(m.visible) > 0 {
			openURL(m.visible[m.cursor].Link.URL)
		}
		return m, nil
	case "enter":
		if len(m.visible) == 0 {
			return m, nil
		}
		m.view = viewDetail
		m.detailOffer = m.visible[m.cursor]
		m.showDescription = false
		m.detailViewport = viewport.New(m.width-4, m.height-4)
		m.detailViewport.SetContent(m.renderDetail())
		return m, nil
	}

	var cmd tea.Cmd
	m.listViewport, cmd = m.listViewport.Update(msg)
	return m, cmd
}

func (m reviewModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		openURL(m.detailOffer.Link.URL)
		return m, nil
	case "r":
		if m.detailOffer.Detail != nil && m.detailOffer.Detail.Description != "" {
			m.showDescription = !m.showDescription
			m.detailViewport.SetContent(m.renderDetail())
			m.detailViewport.SetYOffset(0)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m *reviewModel) moveCursor(delta int) {
	m.cursor = clamp(m.cursor+delta, 0, max(len(m.visible)-1, 0))
	m.listViewport.SetContent(renderOffers(m.visible, m.cursor))
	m.ensureCursorVisible()
}

func (m *reviewModel) ensureCursorVisible() {
	cursorTop := m.cursor * offerItemHeight
	cursorBottom := cursorTop + offerItemHeight - 1

	if cursorTop < m.listViewport.YOffset {
		m.listViewport.SetYOffset(cursorTop)
	} else if cursorBottom >= m.listViewport.YOffset+m.listViewport.Height {
		m.listViewport.SetYOffset(cursorBottom - m.listViewport.Height + 1)
	}
}

func (m *reviewModel) applyFilter() {
	filter := decisionFilters[m.filterIdx]
	if filter == "" {
		m.visible = m.all
	} else {
		m.visible = nil
		for _, o := range m.all {
			if o.Analysis.Decision == filter {
				m.visible = append(m.visible, o)
			}
		}
	}
	m.cursor = 0
	m.listViewport.SetContent(renderOffers(m.visible, m.cursor))
	m.listViewport.SetYOffset(0)
}

func (m *reviewModel) recalcLayout() {
	width := max(m.width-2, 20)
	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	height := max(m.height-4, 5)

	if !m.ready {
		m.listViewport = viewport.New(width, height)
		m.ready = true
	} else {
		m.listViewport.Width = width
		m.listViewport.Height = height
	}
	m.listViewport.SetContent(renderOffers(m.visible, m.cursor))
}

func (m reviewModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m reviewModel) viewList() string {
	filterName := "all"
	if f := decisionFilters[m.filterIdx]; f != "" {
		filterName = string(f)
	}
	header := headerStyle.Render(fmt.Sprintf(" Analyzed Offers (%d, filter: %s)", len(m.visible), filterName))
	pane := borderStyle.Width(m.listViewport.Width).Render(m.listViewport.View())
	statusBar := statusBarStyle.Width(m.width).Render(
		" ↑/↓/j/k cursor  enter detail  f filter  o open  q quit")
	return header + "\n" + pane + "\n" + statusBar
}

func (m reviewModel) viewDetail() string {
	title := detailTitleStyle.Render("Offer Analysis")
	content := borderStyle.Width(m.width - 2).Render(m.detailViewport.View())
	statusText := " o open URL  esc/backspace back  ↑/↓ scroll  q quit"
	if m.detailOffer.Detail != nil && m.detailOffer.Detail.Description != "" {
		statusText = " o open URL  r desc  esc/backspace back  ↑/↓ scroll  q quit"
	}
	statusBar := statusBarStyle.Width(m.width).Render(statusText)
	return title + "\n" + content + "\n" + statusBar
}

func (m reviewModel) renderDetail() string {
	o := m.detailOffer
	a := o.Analysis
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	if o.Detail != nil {
		addField("Title", o.Detail.Title)
		addField("Company", o.Detail.Company)
		addField("Location", o.Detail.Location)
		addField("Mode", o.Detail.RemoteType)
		addField("Contract", o.Detail.ContractType)
		addField("Salary", salaryText(o.Detail))
		if len(o.Detail.TechStack) > 0 {
			addField("Stack", strings.Join(o.Detail.TechStack, ", "))
		}
	}
	addField("URL", o.Link.URL)

	b.WriteByte('\n')
	decision := decisionStyles[a.Decision].Render(string(a.Decision))
	b.WriteString(detailLabelStyle.Render("Decision"))
	b.WriteString(fmt.Sprintf("%s  (fit %d/100)\n", decision, a.FitScore))

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return dividerStyle.Render(label + fill)
	}

	b.WriteByte('\n')
	b.WriteString(divider("── Scores ") + "\n\n")
	addField("Cringe", scoreBar(a.CringeScore))
	addField("Red flags", scoreBar(a.RedFlagScore))
	addField("Culture", scoreBar(a.WorkCultureScore))
	addField("Stability", scoreBar(a.StabilityScore))
	addField("Benefits", scoreBar(a.BenefitScore))
	addField("Inclusivity", scoreBar(a.InclusivityScore))
	addField("Corporate", scoreBar(a.CorporateScore))

	if a.ShortSummary != "" {
		b.WriteByte('\n')
		b.WriteString(divider("── Summary ") + "\n\n")
		b.WriteString(bodyStyle.Render(wordWrap(a.ShortSummary, wrapWidth)) + "\n")
	}
	if a.FitReasoning != "" {
		b.WriteByte('\n')
		b.WriteString(divider("── Fit Reasoning ") + "\n\n")
		b.WriteString(bodyStyle.Render(wordWrap(a.FitReasoning, wrapWidth)) + "\n")
	}

	if o.Detail != nil && o.Detail.Description != "" {
		b.WriteByte('\n')
		if m.showDescription {
			b.WriteString(divider("── Description ") + "\n\n")
			b.WriteString(bodyStyle.Render(wordWrap(o.Detail.Description, wrapWidth)) + "\n")
		} else {
			b.WriteString(hintStyle.Render("  press r to read the posting") + "\n")
		}
	}

	return b.String()
}

func scoreBar(score int) string {
	filled := clamp(score/10, 0, 10)
	return fmt.Sprintf("%3d  %s%s", score,
		strings.Repeat("█", filled), strings.Repeat("░", 10-filled))
}

func salaryText(d *model.JobDetail) string {
	if d.SalaryMax == nil {
		return ""
	}
	min := 0
	if d.SalaryMin != nil {
		min = *d.SalaryMin
	}
	s := fmt.Sprintf("%d - %d %s", min, *d.SalaryMax, d.SalaryCurrency)
	if d.SalaryRate != "" {
		s += "/" + d.SalaryRate
	}
	if d.SalaryType != "" {
		s += " (" + d.SalaryType + ")"
	}
	return s
}

func renderOffers(offers []store.Offer, cursor int) string {
	if len(offers) == 0 {
		return "  (no analyzed offers)"
	}

	var b strings.Builder
	for i, o := range offers {
		titleSt := offerTitleStyle
		subtitleSt := offerSubtitleStyle
		prefix := "  "
		if i == cursor {
			titleSt = selectedTitleStyle
			subtitleSt = selectedSubtitleStyle
			prefix = "> "
		}

		title := o.Link.URL
		if o.Detail != nil && o.Detail.Title != "" {
			title = o.Detail.Title
			if o.Detail.Company != "" {
				title += " · " + o.Detail.Company
			}
		}

		b.WriteString(prefix)
		b.WriteString(titleSt.Render(title))
		b.WriteByte('\n')

		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · fit %d", o.Analysis.Decision, o.Analysis.FitScore)))
		b.WriteByte('\n')

		if i < len(offers)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// Run launches the interactive review TUI over the given analyzed offers.
// Offers are expected best fit first, as returned by the store.
func Run(offers []store.Offer) error {
	m := reviewModel{all: offers, visible: offers}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
