// Package models defines the core domain types for cropcare.
package models

import (
	"fmt"
	"time"
)

// PlanDays is the fixed horizon of every care plan.
const PlanDays = 7

// DateLayout is the calendar date format used for plan days and forecasts.
const DateLayout = "2006-01-02"

// ActionType is the kind of work a scheduled action asks for.
type ActionType string

const (
	ActionWater     ActionType = "water"
	ActionFertilize ActionType = "fertilize"
	ActionPrune     ActionType = "prune"
	ActionCheck     ActionType = "check"
	ActionProtect   ActionType = "protect"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionWater, ActionFertilize, ActionPrune, ActionCheck, ActionProtect:
		return true
	}
	return false
}

// ActionCategory tags an action structurally so treatment coverage can be
// checked without scanning free text.
type ActionCategory string

const (
	CategoryTreatment  ActionCategory = "treatment"
	CategoryMonitoring ActionCategory = "monitoring"
	CategoryCare       ActionCategory = "care"
)

// DiseaseStatus is derived from the severity score.
type DiseaseStatus string

const (
	DiseaseActive   DiseaseStatus = "active"
	DiseaseTreating DiseaseStatus = "treating"
	DiseaseResolved DiseaseStatus = "resolved"
)

// Severity is the initial hint reported with a disease.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// FeedbackStatus is a user's report on how a disease is progressing.
type FeedbackStatus string

const (
	FeedbackWorse    FeedbackStatus = "worse"
	FeedbackSame     FeedbackStatus = "same"
	FeedbackBetter   FeedbackStatus = "better"
	FeedbackResolved FeedbackStatus = "resolved"
)

// Valid reports whether s is a known feedback status.
func (s FeedbackStatus) Valid() bool {
	switch s {
	case FeedbackWorse, FeedbackSame, FeedbackBetter, FeedbackResolved:
		return true
	}
	return false
}

// PlanSource records which path produced a plan or analysis.
type PlanSource string

const (
	SourceLLM      PlanSource = "llm"
	SourceFallback PlanSource = "fallback"
)

// Location describes where a plant grows.
type Location struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	SoilTypes []string `json:"soil_types,omitempty"`
	Sunlight  string   `json:"sunlight,omitempty"`
	AreaSqM   float64  `json:"area_sq_m,omitempty"`
}

// NotificationPrefs controls which background notices a plant's owner gets.
type NotificationPrefs struct {
	Reminders      bool   `json:"reminders"`
	MissedWarnings bool   `json:"missed_warnings"`
	Email          string `json:"email,omitempty"`
}

// Plant is the record owned by one user that carries diseases and a care plan.
type Plant struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	CropName      string            `json:"crop_name"`
	PlantingDate  time.Time         `json:"planting_date"`
	Location      Location          `json:"location"`
	Quantity      int               `json:"quantity"`
	GrowthStage   string            `json:"growth_stage,omitempty"`
	CurrentHealth string            `json:"current_health,omitempty"`
	Diseases      []DiseaseRecord   `json:"diseases"`
	CarePlan      *CarePlan         `json:"care_plan,omitempty"`
	Notifications NotificationPrefs `json:"notifications"`
	Active        bool              `json:"active"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PrimarySoil returns the first listed soil type, or "" if none.
func (p *Plant) PrimarySoil() string {
	if len(p.Location.SoilTypes) == 0 {
		return ""
	}
	return p.Location.SoilTypes[0]
}

// FeedbackEntry is one append-only report on a disease.
type FeedbackEntry struct {
	Status FeedbackStatus `json:"status"`
	Notes  string         `json:"notes,omitempty"`
	At     time.Time      `json:"at"`
}

// DiseaseRecord tracks one disease on a plant.
type DiseaseRecord struct {
	Name     string   `json:"name"`
	Symptoms []string `json:"symptoms,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	// SeverityScore is authoritative; Severity is only the initial hint.
	SeverityScore int             `json:"severity_score"`
	Status        DiseaseStatus   `json:"status"`
	Feedback      []FeedbackEntry `json:"feedback,omitempty"`
	// SelectedTreatments is nil when the user has not picked chemical treatments.
	SelectedTreatments []string  `json:"selected_treatments,omitempty"`
	ReportedAt         time.Time `json:"reported_at"`
}

// IsActive reports whether the disease still needs attention.
func (d *DiseaseRecord) IsActive() bool {
	return d.Status != DiseaseResolved
}

// CarePlan is the regenerated 7-day recommendation for a plant.
type CarePlan struct {
	LastUpdated time.Time  `json:"last_updated"`
	Days        []DayPlan  `json:"days"`
	Summary     string     `json:"summary"`
	Source      PlanSource `json:"source"`
}

// Day returns the day at index, or an error if out of range.
func (c *CarePlan) Day(index int) (*DayPlan, error) {
	if index < 0 || index >= len(c.Days) {
		return nil, fmt.Errorf("%w: day index %d outside [0,%d]", ErrValidation, index, PlanDays-1)
	}
	return &c.Days[index], nil
}

// WeatherSnapshot is the real forecast attached to a plan day.
type WeatherSnapshot struct {
	TempMin  float64  `json:"temp_min"`
	TempMax  float64  `json:"temp_max"`
	Humidity float64  `json:"humidity"`
	RainMm   float64  `json:"rain_mm"`
	Alerts   []string `json:"alerts,omitempty"`
}

// DayPlan is one calendar day of a care plan.
type DayPlan struct {
	Date    string          `json:"date"`
	Weather WeatherSnapshot `json:"weather"`
	Actions []Action        `json:"actions"`
}

// ActionByID returns the action with the given stable id.
func (d *DayPlan) ActionByID(id string) (*Action, bool) {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i], true
		}
	}
	return nil, false
}

// Action is a single scheduled piece of work.
type Action struct {
	ID           string         `json:"id"`
	Type         ActionType     `json:"type"`
	Category     ActionCategory `json:"category,omitempty"`
	Time         string         `json:"time"`
	Description  string         `json:"description"`
	Reason       string         `json:"reason,omitempty"`
	Products     []string       `json:"products,omitempty"`
	Completed    bool           `json:"completed"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ReminderSent bool           `json:"reminder_sent,omitempty"`
	MissedWarned bool           `json:"missed_warned,omitempty"`
	TaskAnalysis *TaskAnalysis  `json:"task_analysis,omitempty"`
}

// DosageCalculation is the scaled product amount for one action.
type DosageCalculation struct {
	Product           string  `json:"product"`
	BasePerUnit       float64 `json:"base_per_unit"`
	Unit              string  `json:"unit"`
	Quantity          int     `json:"quantity"`
	SoilType          string  `json:"soil_type,omitempty"`
	SoilAdjustmentPct float64 `json:"soil_adjustment_pct"`
	Total             float64 `json:"total"`
	Explanation       string  `json:"explanation,omitempty"`
}

// TaskAnalysis is detailed execution guidance cached on an action.
type TaskAnalysis struct {
	Steps       []string           `json:"steps"`
	Materials   []string           `json:"materials"`
	Precautions []string           `json:"precautions"`
	Tips        []string           `json:"tips,omitempty"`
	Duration    string             `json:"duration"`
	AnalyzedAt  time.Time          `json:"analyzed_at"`
	Dosage      *DosageCalculation `json:"dosage,omitempty"`
	Source      PlanSource         `json:"source"`
}

// CompletionToken is the persisted half of an emailed completion link.
// The raw token value is never stored.
type CompletionToken struct {
	TokenHash string    `json:"token_hash"`
	PlantID   string    `json:"plant_id"`
	OwnerID   string    `json:"owner_id"`
	DayIndex  int       `json:"day_index"`
	ActionID  string    `json:"action_id"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ForecastDay is one day of raw forecast numbers.
type ForecastDay struct {
	Date     string  `json:"date"`
	TempMin  float64 `json:"temp_min"`
	TempMax  float64 `json:"temp_max"`
	Humidity float64 `json:"humidity"`
	RainMm   float64 `json:"rain_mm"`
}

// TreatmentKind groups treatment candidates.
type TreatmentKind string

const (
	TreatmentChemical   TreatmentKind = "chemical"
	TreatmentBiological TreatmentKind = "biological"
	TreatmentCultural   TreatmentKind = "cultural"
)

// TreatmentGroup is a set of candidate treatments of one kind.
type TreatmentGroup struct {
	Kind  TreatmentKind `json:"kind" yaml:"kind"`
	Items []string      `json:"items" yaml:"items"`
}

// DecisionRecord is an audit entry for a state-mutating operation.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	PlantID    string    `json:"plant_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
