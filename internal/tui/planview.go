package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/cropcare/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB")).
			Background(lipgloss.Color("#7C3AED")).
			Bold(true)

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Strikethrough(true)

	treatmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

// actionRef addresses one action in the plan.
type actionRef struct {
	day   int
	index int
}

// PlanViewModel renders a plant's 7-day plan with a cursor over its actions.
type PlanViewModel struct {
	plant    *models.Plant
	refs     []actionRef
	cursor   int
	analysis map[string]*models.TaskAnalysis
	viewport viewport.Model
}

// NewPlanViewModel creates an empty plan view
func NewPlanViewModel() *PlanViewModel {
	return &PlanViewModel{
		analysis: make(map[string]*models.TaskAnalysis),
		viewport: viewport.New(80, 20),
	}
}

// SetSize sets the dimensions
func (m *PlanViewModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
	m.render()
}

// SetPlant shows p, keeping the cursor on the same action id when possible.
func (m *PlanViewModel) SetPlant(p *models.Plant) {
	var keep string
	if a := m.Selected(); a != nil {
		keep = a.ID
	}
	if m.plant == nil || p == nil || m.plant.ID != p.ID {
		keep = ""
		m.analysis = make(map[string]*models.TaskAnalysis)
	}

	m.plant = p
	m.refs = m.refs[:0]
	m.cursor = 0
	if p != nil && p.CarePlan != nil {
		for d, day := range p.CarePlan.Days {
			for i, a := range day.Actions {
				if a.ID == keep && keep != "" {
					m.cursor = len(m.refs)
				}
				m.refs = append(m.refs, actionRef{day: d, index: i})
			}
		}
	}
	m.render()
}

// SetPlan replaces the displayed plan of the current plant.
func (m *PlanViewModel) SetPlan(plan *models.CarePlan) {
	if m.plant == nil {
		return
	}
	p := *m.plant
	p.CarePlan = plan
	m.SetPlant(&p)
}

// SetAnalysis attaches guidance for an action.
func (m *PlanViewModel) SetAnalysis(actionID string, a *models.TaskAnalysis) {
	m.analysis[actionID] = a
	m.render()
}

// Plant returns the displayed plant.
func (m *PlanViewModel) Plant() *models.Plant {
	return m.plant
}

// Selected returns the action under the cursor.
func (m *PlanViewModel) Selected() *models.Action {
	day, index, ok := m.SelectedRef()
	if !ok {
		return nil
	}
	return &m.plant.CarePlan.Days[day].Actions[index]
}

// SelectedRef returns the day and action index under the cursor.
func (m *PlanViewModel) SelectedRef() (day, index int, ok bool) {
	if m.plant == nil || m.plant.CarePlan == nil || m.cursor >= len(m.refs) {
		return 0, 0, false
	}
	r := m.refs[m.cursor]
	return r.day, r.index, true
}

// Move shifts the cursor by delta actions.
func (m *PlanViewModel) Move(delta int) {
	if len(m.refs) == 0 {
		return
	}
	m.cursor = min(len(m.refs)-1, max(0, m.cursor+delta))
	m.render()
}

// View renders the plan
func (m *PlanViewModel) View() string {
	return m.viewport.View()
}

func (m *PlanViewModel) render() {
	m.viewport.SetContent(m.content())
}

func (m *PlanViewModel) content() string {
	if m.plant == nil {
		return "Loading plant..."
	}

	var b strings.Builder
	p := m.plant
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s × %d", p.CropName, p.Quantity)))
	b.WriteString("\n")
	if p.GrowthStage != "" {
		b.WriteString(labelStyle.Render("Stage: ") + p.GrowthStage + "\n")
	}
	if soil := p.PrimarySoil(); soil != "" {
		b.WriteString(labelStyle.Render("Soil: ") + soil + "\n")
	}
	for _, d := range p.Diseases {
		if d.IsActive() {
			b.WriteString(labelStyle.Render("Disease: ") + fmt.Sprintf("%s %d/10 (%s)\n", d.Name, d.SeverityScore, d.Status))
		}
	}

	if p.CarePlan == nil {
		b.WriteString("\nNo plan yet. Press r to generate one.\n")
		return b.String()
	}
	if p.CarePlan.Summary != "" {
		b.WriteString("\n" + p.CarePlan.Summary + "\n")
	}

	pos := 0
	for d, day := range p.CarePlan.Days {
		w := day.Weather
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Day %d · %s", d+1, day.Date)))
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %.0f–%.0f°C  %.0f%%  %.1fmm", w.TempMin, w.TempMax, w.Humidity, w.RainMm)))
		b.WriteString("\n")
		for _, alert := range w.Alerts {
			b.WriteString(treatmentStyle.Render("  ! "+alert) + "\n")
		}
		if len(day.Actions) == 0 {
			b.WriteString(labelStyle.Render("  nothing scheduled") + "\n")
		}
		for _, a := range day.Actions {
			b.WriteString(m.renderAction(a, pos == m.cursor))
			pos++
		}
	}
	return b.String()
}

func (m *PlanViewModel) renderAction(a models.Action, selected bool) string {
	check := "[ ]"
	if a.Completed {
		check = "[x]"
	}
	line := fmt.Sprintf("%s %s %-9s %s", check, a.Time, a.Type, a.Description)
	switch {
	case selected:
		line = cursorStyle.Render("> " + line)
	case a.Completed:
		line = "  " + doneStyle.Render(line)
	case a.Category == models.CategoryTreatment:
		line = "  " + treatmentStyle.Render(line)
	default:
		line = "  " + line
	}

	var b strings.Builder
	b.WriteString(line + "\n")
	if !selected {
		return b.String()
	}
	if a.Reason != "" {
		b.WriteString(labelStyle.Render("    why: "+a.Reason) + "\n")
	}
	if len(a.Products) > 0 {
		b.WriteString(labelStyle.Render("    products: "+strings.Join(a.Products, ", ")) + "\n")
	}
	analysis := m.analysis[a.ID]
	if analysis == nil {
		analysis = a.TaskAnalysis
	}
	if analysis != nil {
		b.WriteString(renderAnalysis(analysis))
	}
	return b.String()
}

func renderAnalysis(a *models.TaskAnalysis) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("    guidance (%s, %s)", a.Source, a.Duration)) + "\n")
	for i, step := range a.Steps {
		b.WriteString(fmt.Sprintf("      %d. %s\n", i+1, step))
	}
	if a.Dosage != nil {
		b.WriteString(fmt.Sprintf("      dose: %.2f %s %s\n", a.Dosage.Total, a.Dosage.Unit, a.Dosage.Product))
	}
	for _, p := range a.Precautions {
		b.WriteString("      ⚠ " + p + "\n")
	}
	return b.String()
}
