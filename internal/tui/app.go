// Package tui provides the interactive terminal plan viewer for cropcare.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/cropcare/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList = "list"
	modePlan = "plan"
)

// App is the main TUI application model.
type App struct {
	client       *Client
	plants       *PlantListModel
	plan         *PlanViewModel
	mode         string
	width        int
	height       int
	message      string
	busy         bool
	daemonOnline bool
}

// New creates a new TUI application showing owner's plants; an empty owner
// lists every active plant.
func New(apiAddr, owner string) *App {
	client := NewClient(apiAddr)
	return &App{
		client: client,
		plants: NewPlantListModel(client, owner),
		plan:   NewPlanViewModel(),
		mode:   modeList,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.plants.Refresh(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.mode == modePlan {
			return a, a.updatePlan(msg)
		}
		if !a.plants.Filtering() {
			switch msg.String() {
			case "q":
				return a, tea.Quit
			case "r":
				return a, a.plants.Refresh()
			case "enter":
				if p := a.plants.Selected(); p != nil {
					a.mode = modePlan
					a.message = ""
					a.plan.SetPlant(p)
					return a, a.fetchPlant(p.ID)
				}
				return a, nil
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.plants.SetSize(msg.Width, msg.Height-3)
		a.plan.SetSize(msg.Width, msg.Height-3)
		return a, nil

	case plantLoadedMsg:
		a.busy = false
		a.plan.SetPlant(msg.plant)
		return a, nil

	case planUpdatedMsg:
		a.busy = false
		a.message = msg.message
		a.plan.SetPlan(msg.plan)
		return a, nil

	case analysisLoadedMsg:
		a.busy = false
		a.message = "Guidance loaded"
		a.plan.SetAnalysis(msg.actionID, msg.analysis)
		return a, nil

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		return a, nil

	case errMsg:
		a.busy = false
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}

	return a, a.plants.Update(msg)
}

func (a *App) updatePlan(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "q":
		a.mode = modeList
		a.message = ""
		return a.plants.Refresh()
	case "down", "j":
		a.plan.Move(1)
	case "up", "k":
		a.plan.Move(-1)
	case "pgdown":
		a.plan.viewport.ViewDown()
	case "pgup":
		a.plan.viewport.ViewUp()
	}
	if a.busy {
		return nil
	}

	switch msg.String() {
	case "r":
		if p := a.plan.Plant(); p != nil {
			a.busy = true
			a.message = "Refreshing plan..."
			return a.refreshPlan(p.ID)
		}
	case "x", " ":
		if p, act := a.plan.Plant(), a.plan.Selected(); p != nil && act != nil {
			day, _, _ := a.plan.SelectedRef()
			a.busy = true
			return a.toggleAction(p.ID, day, act.ID, !act.Completed)
		}
	case "a", "enter":
		if p, act := a.plan.Plant(), a.plan.Selected(); p != nil && act != nil {
			day, index, _ := a.plan.SelectedRef()
			a.busy = true
			a.message = "Analyzing..."
			return a.analyzeAction(p.ID, day, index, act.ID)
		}
	}
	return nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	b.WriteString(titleStyle.Render("cropcare") + "  " + daemon + "\n")

	switch a.mode {
	case modePlan:
		b.WriteString(a.plan.View())
		b.WriteString("\n" + helpStyle.Render("j/k move • x done • a guidance • r refresh • esc back"))
	default:
		b.WriteString(a.plants.View())
		b.WriteString("\n" + helpStyle.Render("enter open • r reload • / filter • q quit"))
	}

	if a.message != "" {
		b.WriteString("\n" + statusBarStyle.Render(a.message))
	}
	return b.String()
}

func (a *App) fetchPlant(id string) tea.Cmd {
	return func() tea.Msg {
		p, err := a.client.GetPlant(id)
		if err != nil {
			return errMsg{err}
		}
		return plantLoadedMsg{p}
	}
}

func (a *App) refreshPlan(id string) tea.Cmd {
	return func() tea.Msg {
		plan, err := a.client.RefreshPlan(id)
		if err != nil {
			return errMsg{err}
		}
		return planUpdatedMsg{plan: plan, message: fmt.Sprintf("Plan refreshed (%s)", plan.Source)}
	}
}

func (a *App) toggleAction(id string, day int, actionID string, completed bool) tea.Cmd {
	return func() tea.Msg {
		plan, err := a.client.ToggleAction(id, day, actionID, completed)
		if err != nil {
			return errMsg{err}
		}
		msg := "Marked done"
		if !completed {
			msg = "Marked not done"
		}
		return planUpdatedMsg{plan: plan, message: msg}
	}
}

func (a *App) analyzeAction(id string, day, index int, actionID string) tea.Cmd {
	return func() tea.Msg {
		analysis, err := a.client.AnalyzeAction(id, day, index)
		if err != nil {
			return errMsg{err}
		}
		return analysisLoadedMsg{actionID: actionID, analysis: analysis}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

type errMsg struct {
	err error
}

type plantsLoadedMsg struct {
	plants []models.Plant
}

type plantLoadedMsg struct {
	plant *models.Plant
}

type planUpdatedMsg struct {
	plan    *models.CarePlan
	message string
}

type analysisLoadedMsg struct {
	actionID string
	analysis *models.TaskAnalysis
}

type daemonStatusMsg struct {
	online bool
}
