package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/cropcare/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusActive   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	statusTreating = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusHealthy  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
)

// PlantItem implements list.Item for the plant list
type PlantItem struct {
	Plant models.Plant
}

func (i PlantItem) FilterValue() string { return i.Plant.CropName }
func (i PlantItem) Title() string       { return i.Plant.CropName }
func (i PlantItem) Description() string {
	parts := []string{healthBadge(i.Plant.Diseases)}
	if i.Plant.CarePlan == nil {
		parts = append(parts, "no plan yet")
	} else {
		parts = append(parts, "plan "+i.Plant.CarePlan.LastUpdated.Local().Format("Jan 2 15:04"))
	}
	return strings.Join(parts, " • ")
}

// healthBadge summarizes the worst unresolved disease.
func healthBadge(diseases []models.DiseaseRecord) string {
	var worst *models.DiseaseRecord
	for i := range diseases {
		d := &diseases[i]
		if !d.IsActive() {
			continue
		}
		if worst == nil || d.SeverityScore > worst.SeverityScore {
			worst = d
		}
	}
	switch {
	case worst == nil:
		return statusHealthy.Render("● healthy")
	case worst.Status == models.DiseaseTreating:
		return statusTreating.Render(fmt.Sprintf("● %s %d/10", worst.Name, worst.SeverityScore))
	default:
		return statusActive.Render(fmt.Sprintf("● %s %d/10", worst.Name, worst.SeverityScore))
	}
}

// PlantListModel manages the plant list screen
type PlantListModel struct {
	client  *Client
	owner   string
	list    list.Model
	loading bool
}

// NewPlantListModel creates a new plant list model
func NewPlantListModel(client *Client, owner string) *PlantListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Plants"
	if owner != "" {
		l.Title = fmt.Sprintf("Plants [%s]", owner)
	}
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = listTitleStyle

	return &PlantListModel{
		client: client,
		owner:  owner,
		list:   l,
	}
}

// SetSize sets the list dimensions
func (m *PlantListModel) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// Selected returns the highlighted plant
func (m *PlantListModel) Selected() *models.Plant {
	if item, ok := m.list.SelectedItem().(PlantItem); ok {
		return &item.Plant
	}
	return nil
}

// Filtering reports whether the list is capturing keys for its filter.
func (m *PlantListModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Refresh fetches plants from the API
func (m *PlantListModel) Refresh() tea.Cmd {
	m.loading = true
	return func() tea.Msg {
		plants, err := m.client.ListPlants(m.owner)
		if err != nil {
			return errMsg{err}
		}
		return plantsLoadedMsg{plants}
	}
}

// Update handles messages
func (m *PlantListModel) Update(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(plantsLoadedMsg); ok {
		m.loading = false
		items := make([]list.Item, len(msg.plants))
		for i, p := range msg.plants {
			items[i] = PlantItem{Plant: p}
		}
		return m.list.SetItems(items)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

// View renders the plant list
func (m *PlantListModel) View() string {
	if m.loading && len(m.list.Items()) == 0 {
		return "Loading plants..."
	}
	return m.list.View()
}
