// Package controlplane provides the service layer and HTTP API for cropcare.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/cropcare/internal/analysis"
	"github.com/fentz26/cropcare/internal/audit"
	"github.com/fentz26/cropcare/internal/careplan"
	"github.com/fentz26/cropcare/internal/completion"
	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/notify"
	"github.com/fentz26/cropcare/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	planner   *careplan.Synthesizer
	analyzer  *analysis.Service
	tokens    *completion.Service
	decisions *audit.DecisionWriter

	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends plan.refreshed events.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// WithIDGenerator sets the plant id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a new control plane service.
func NewService(s *store.Store, planner *careplan.Synthesizer, analyzer *analysis.Service, tokens *completion.Service, decisions *audit.DecisionWriter, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		planner:   planner,
		analyzer:  analyzer,
		tokens:    tokens,
		decisions: decisions,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// --- Plant Operations ---

// PlantInput holds the user-supplied fields of a new plant.
type PlantInput struct {
	OwnerID       string                   `json:"owner_id"`
	CropName      string                   `json:"crop_name"`
	PlantingDate  time.Time                `json:"planting_date"`
	Location      models.Location          `json:"location"`
	Quantity      int                      `json:"quantity"`
	GrowthStage   string                   `json:"growth_stage,omitempty"`
	CurrentHealth string                   `json:"current_health,omitempty"`
	Notifications models.NotificationPrefs `json:"notifications"`
}

// CreatePlant stores a new active plant without a plan.
func (s *Service) CreatePlant(ctx context.Context, in PlantInput) (*models.Plant, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.CropName = strings.TrimSpace(in.CropName)
	if in.OwnerID == "" || in.CropName == "" {
		return nil, fmt.Errorf("%w: owner_id and crop_name are required", models.ErrValidation)
	}
	if in.Location.Lat < -90 || in.Location.Lat > 90 || in.Location.Lon < -180 || in.Location.Lon > 180 {
		return nil, fmt.Errorf("%w: location %.4f,%.4f out of range", models.ErrValidation, in.Location.Lat, in.Location.Lon)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}

	now := s.now().UTC()
	p := &models.Plant{
		ID:            s.newID(),
		OwnerID:       in.OwnerID,
		CropName:      in.CropName,
		PlantingDate:  in.PlantingDate,
		Location:      in.Location,
		Quantity:      in.Quantity,
		GrowthStage:   in.GrowthStage,
		CurrentHealth: in.CurrentHealth,
		Notifications: in.Notifications,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreatePlant(ctx, p); err != nil {
		return nil, err
	}

	s.decisions.Record(ctx, "plant.create", in, "success", p.ID, "")
	return p, nil
}

// GetPlant retrieves a plant by ID.
func (s *Service) GetPlant(ctx context.Context, id string) (*models.Plant, error) {
	p, err := s.store.GetPlant(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: plant %s", models.ErrNotFound, id)
	}
	return p, nil
}

// ListPlants returns an owner's active plants, or every active plant when
// owner is empty.
func (s *Service) ListPlants(ctx context.Context, ownerID string) ([]models.Plant, error) {
	if ownerID == "" {
		return s.store.ListActivePlants(ctx)
	}
	return s.store.ListPlants(ctx, ownerID)
}

// DeactivatePlant soft-deletes a plant. Background jobs skip it afterwards.
func (s *Service) DeactivatePlant(ctx context.Context, id string) error {
	_, err := s.store.UpdatePlant(ctx, id, func(p *models.Plant) error {
		p.Active = false
		return nil
	})
	if err != nil {
		return err
	}
	s.decisions.Record(ctx, "plant.deactivate", map[string]string{"plant_id": id}, "success", id, "")
	return nil
}

// --- Plan Operations ---

// RefreshPlan synthesizes a new plan and replaces the stored one. A forecast
// failure is fatal and leaves the stored plan untouched.
func (s *Service) RefreshPlan(ctx context.Context, plantID string) (*models.CarePlan, error) {
	plant, err := s.GetPlant(ctx, plantID)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Synthesize(ctx, plant)
	if err != nil {
		s.decisions.Record(ctx, "plan.refresh", map[string]string{"plant_id": plantID}, "error", plantID, err.Error())
		return nil, err
	}

	updated, err := s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		careplan.PreserveActions(p.CarePlan, plan)
		p.CarePlan = plan
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decisions.Record(ctx, "plan.refresh", map[string]string{"plant_id": plantID}, string(plan.Source), plantID, "")
	s.logger.Info("Plan refreshed",
		"plant_id", plantID,
		"source", plan.Source)
	notify.Dispatch(ctx, s.notifier, s.logger, updated.OwnerID, notify.Event{
		Type:    notify.EventPlanRefreshed,
		PlantID: plantID,
		Message: fmt.Sprintf("New 7-day plan for %s", updated.CropName),
		At:      plan.LastUpdated,
	})
	return updated.CarePlan, nil
}

// AnalyzeAction returns detailed guidance for one action, generating and
// caching it when needed.
func (s *Service) AnalyzeAction(ctx context.Context, plantID string, dayIndex, actionIndex int) (*models.TaskAnalysis, error) {
	return s.analyzer.Analyze(ctx, plantID, dayIndex, actionIndex)
}

// ToggleAction sets the completed flag of one action, addressed by its stable
// id, and returns the updated plan.
func (s *Service) ToggleAction(ctx context.Context, plantID string, dayIndex int, actionID string, completed bool) (*models.CarePlan, error) {
	if plantID == "" || actionID == "" {
		return nil, fmt.Errorf("%w: plant id and action id are required", models.ErrValidation)
	}
	if dayIndex < 0 || dayIndex >= models.PlanDays {
		return nil, fmt.Errorf("%w: day index %d outside [0,%d]", models.ErrValidation, dayIndex, models.PlanDays-1)
	}

	now := s.now().UTC()
	updated, err := s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		if p.CarePlan == nil {
			return fmt.Errorf("%w: plant %s has no care plan", models.ErrNotFound, plantID)
		}
		day, err := p.CarePlan.Day(dayIndex)
		if err != nil {
			return err
		}
		a, ok := day.ActionByID(actionID)
		if !ok {
			return fmt.Errorf("%w: action %s on day %d", models.ErrNotFound, actionID, dayIndex)
		}
		if a.Completed == completed {
			return nil
		}
		a.Completed = completed
		if completed {
			a.CompletedAt = &now
		} else {
			a.CompletedAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decisions.Record(ctx, "action.toggle", map[string]any{
		"plant_id":  plantID,
		"day_index": dayIndex,
		"action_id": actionID,
		"completed": completed,
	}, "success", plantID, "")
	return updated.CarePlan, nil
}

// --- Disease Operations ---

// DiseaseInput holds a disease report.
type DiseaseInput struct {
	Name               string          `json:"name"`
	Symptoms           []string        `json:"symptoms,omitempty"`
	Severity           models.Severity `json:"severity,omitempty"`
	SelectedTreatments []string        `json:"selected_treatments,omitempty"`
}

// ReportDisease adds a disease record to a plant. A disease that is already
// tracked and unresolved cannot be reported twice.
func (s *Service) ReportDisease(ctx context.Context, plantID string, in DiseaseInput) (*models.DiseaseRecord, error) {
	rec, err := disease.NewRecord(in.Name, in.Symptoms, in.Severity, s.now().UTC())
	if err != nil {
		return nil, err
	}
	rec.SelectedTreatments = in.SelectedTreatments

	_, err = s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		for _, d := range p.Diseases {
			if d.IsActive() && strings.EqualFold(d.Name, rec.Name) {
				return fmt.Errorf("%w: %s is already being tracked", models.ErrValidation, rec.Name)
			}
		}
		p.Diseases = append(p.Diseases, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decisions.Record(ctx, "disease.report", in, "success", plantID, rec.Name)
	return &rec, nil
}

// DeleteDisease removes the disease at index from a plant.
func (s *Service) DeleteDisease(ctx context.Context, plantID string, index int) error {
	var name string
	_, err := s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		if index < 0 || index >= len(p.Diseases) {
			return fmt.Errorf("%w: disease %d", models.ErrNotFound, index)
		}
		name = p.Diseases[index].Name
		p.Diseases = append(p.Diseases[:index], p.Diseases[index+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	s.decisions.Record(ctx, "disease.delete", map[string]any{"plant_id": plantID, "index": index}, "success", plantID, name)
	return nil
}

// FeedbackResult is the outcome of one disease feedback report.
type FeedbackResult struct {
	Disease              models.DiseaseRecord `json:"disease"`
	ShouldRegeneratePlan bool                 `json:"should_regenerate_plan"`
	// Plan is the refreshed plan when the disease resolved and the refresh
	// succeeded.
	Plan *models.CarePlan `json:"plan,omitempty"`
}

// SubmitDiseaseFeedback applies a feedback report. When the disease becomes
// resolved the plan is refreshed; a refresh failure is logged and does not
// fail the feedback.
func (s *Service) SubmitDiseaseFeedback(ctx context.Context, plantID string, diseaseIndex int, status models.FeedbackStatus, notes string) (*FeedbackResult, error) {
	if plantID == "" {
		return nil, fmt.Errorf("%w: plant id is required", models.ErrValidation)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown feedback status %q", models.ErrValidation, status)
	}

	res := &FeedbackResult{}
	_, err := s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		if diseaseIndex < 0 || diseaseIndex >= len(p.Diseases) {
			return fmt.Errorf("%w: disease %d", models.ErrNotFound, diseaseIndex)
		}
		d := &p.Diseases[diseaseIndex]
		regenerate, err := disease.ApplyFeedback(d, status, notes, s.now().UTC())
		if err != nil {
			return err
		}
		res.Disease = *d
		res.ShouldRegeneratePlan = regenerate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decisions.Record(ctx, "disease.feedback", map[string]any{
		"plant_id": plantID,
		"index":    diseaseIndex,
		"status":   status,
	}, string(res.Disease.Status), plantID, res.Disease.Name)

	if res.ShouldRegeneratePlan {
		plan, err := s.RefreshPlan(ctx, plantID)
		if err != nil {
			s.logger.Warn("Plan refresh after resolution failed",
				"plant_id", plantID,
				"disease", res.Disease.Name,
				"error", err)
		} else {
			res.Plan = plan
		}
	}
	return res, nil
}

// --- Completion Token Operations ---

// IssueCompletionToken mints a single-use completion token for an action and
// returns the raw value.
func (s *Service) IssueCompletionToken(ctx context.Context, plantID string, dayIndex int, actionID string) (string, error) {
	raw, err := s.tokens.Issue(ctx, plantID, dayIndex, actionID)
	if err != nil {
		return "", err
	}
	s.decisions.Record(ctx, "token.issue", map[string]any{
		"plant_id":  plantID,
		"day_index": dayIndex,
		"action_id": actionID,
	}, "success", plantID, "")
	return raw, nil
}

// CompletionLink returns the public URL redeeming raw.
func (s *Service) CompletionLink(raw string) string {
	return s.tokens.Link(raw)
}

// RedeemCompletionToken completes the action a token points at.
func (s *Service) RedeemCompletionToken(ctx context.Context, raw string) (*completion.Redemption, error) {
	r, err := s.tokens.Redeem(ctx, raw)
	if err != nil {
		return nil, err
	}
	outcome := "completed"
	if r.AlreadyCompleted {
		outcome = "already_completed"
	}
	s.decisions.Record(ctx, "token.redeem", map[string]any{
		"plant_id":  r.Plant.ID,
		"day_index": r.DayIndex,
		"action_id": r.Action.ID,
	}, outcome, r.Plant.ID, "")
	return r, nil
}

// --- Audit Operations ---

// ListDecisions returns the most recent decision records for a plant.
func (s *Service) ListDecisions(ctx context.Context, plantID string, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListDecisions(ctx, plantID, limit)
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
