package careplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/llm"
	"github.com/fentz26/cropcare/internal/metrics"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/treatment"
	"github.com/fentz26/cropcare/internal/weather"
)

// Default generation parameters.
const (
	DefaultTimeout     = 45 * time.Second
	DefaultMaxTokens   = 3000
	DefaultTemperature = 0.4
)

// Synthesizer produces care plans. Generation failures of any kind degrade to
// the rule-based plan; only a missing forecast fails a synthesis.
type Synthesizer struct {
	forecaster weather.Forecaster
	generator  llm.TextGenerator
	catalog    treatment.Catalog

	logger      *slog.Logger
	metrics     *metrics.Metrics
	newID       func() string
	now         func() time.Time
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// WithMetrics records generation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) {
		s.metrics = m
	}
}

// WithIDGenerator sets the action id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Synthesizer) {
		s.newID = fn
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Synthesizer) {
		s.now = fn
	}
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.timeout = d
	}
}

// WithGenerationParams sets the token budget and sampling temperature.
func WithGenerationParams(maxTokens int, temperature float64) Option {
	return func(s *Synthesizer) {
		s.maxTokens = maxTokens
		s.temperature = temperature
	}
}

// NewSynthesizer creates a Synthesizer. A nil generator always produces the
// rule-based plan.
func NewSynthesizer(forecaster weather.Forecaster, generator llm.TextGenerator, catalog treatment.Catalog, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		forecaster:  forecaster,
		generator:   generator,
		catalog:     catalog,
		logger:      slog.Default(),
		newID:       uuid.NewString,
		now:         time.Now,
		timeout:     DefaultTimeout,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize builds a full replacement plan for the plant. Actions identical
// to ones in the plant's current plan on the same date keep their id,
// completion state and cached analysis.
func (s *Synthesizer) Synthesize(ctx context.Context, plant *models.Plant) (*models.CarePlan, error) {
	if plant == nil {
		return nil, fmt.Errorf("%w: plant is required", models.ErrValidation)
	}

	forecast, err := s.forecaster.FetchForecast(ctx, plant.Location.Lat, plant.Location.Lon)
	if err != nil {
		if errors.Is(err, models.ErrUpstreamUnavailable) {
			return nil, fmt.Errorf("forecast for plant %s: %w", plant.ID, err)
		}
		return nil, fmt.Errorf("%w: forecast for plant %s: %v", models.ErrUpstreamUnavailable, plant.ID, err)
	}
	if len(forecast) != models.PlanDays {
		return nil, fmt.Errorf("%w: forecast returned %d days, want %d", models.ErrUpstreamUnavailable, len(forecast), models.PlanDays)
	}

	now := s.now()
	pc := BuildContext(ctx, s.catalog, s.logger, plant, forecast, now)

	plan := s.generate(ctx, pc)
	if plan == nil {
		plan = GenerateFallback(pc, s.newID)
	}

	if n := ensureTreatment(pc, plan, s.newID); n > 0 {
		s.logger.Info("Injected treatment actions",
			"plant_id", plant.ID,
			"count", n,
			"tier", pc.Tier())
	}
	overwriteWeather(pc, plan)
	preserveActions(plant.CarePlan, plan)
	plan.LastUpdated = now

	s.metrics.PlanGenerated(string(plan.Source))
	s.logger.Info("Plan synthesized",
		"plant_id", plant.ID,
		"source", plan.Source,
		"diseases", len(pc.Diseases))
	return plan, nil
}

// generate asks the generator for a plan. It returns nil on any failure so
// the caller takes the rule-based path.
func (s *Synthesizer) generate(ctx context.Context, pc PlanContext) *models.CarePlan {
	if s.generator == nil {
		return nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.generator.GenerateText(gctx, BuildPlanPrompt(pc), s.maxTokens, s.temperature)
	if err != nil {
		s.metrics.ObserveGeneration("plan", "error", time.Since(start))
		s.logger.Warn("Plan generation failed, using rule-based plan",
			"plant_id", pc.Plant.ID,
			"error", err)
		return nil
	}

	gen, err := ParsePlanResponse(text)
	if err != nil {
		s.metrics.ObserveGeneration("plan", "malformed", time.Since(start))
		s.logger.Warn("Plan response malformed, using rule-based plan",
			"plant_id", pc.Plant.ID,
			"error", err)
		return nil
	}
	s.metrics.ObserveGeneration("plan", "ok", time.Since(start))

	return assemble(pc, gen, s.newID)
}

// assemble aligns generated days to the forecast, padding or truncating to
// exactly PlanDays, and normalizes every action.
func assemble(pc PlanContext, gen *GeneratedPlan, newID func() string) *models.CarePlan {
	slots := alignDays(pc, gen.Days)
	days := make([]models.DayPlan, models.PlanDays)
	for i := range days {
		days[i] = models.DayPlan{Date: dateAt(pc, i), Actions: []models.Action{}}
		for j, ga := range slots[i].Actions {
			if j >= maxActionsPerDay {
				break
			}
			days[i].Actions = append(days[i].Actions, normalizeAction(ga, newID))
		}
	}

	summary := gen.Summary
	if summary == "" {
		summary = fmt.Sprintf("7-day care plan for %s.", pc.Plant.CropName)
	}
	return &models.CarePlan{Days: days, Summary: summary, Source: models.SourceLLM}
}

// alignDays places generated days by date when every generated date matches a
// distinct forecast date, and by position otherwise.
func alignDays(pc PlanContext, gen []GeneratedDay) []GeneratedDay {
	slots := make([]GeneratedDay, models.PlanDays)

	index := make(map[string]int, models.PlanDays)
	for i := 0; i < models.PlanDays; i++ {
		index[dateAt(pc, i)] = i
	}
	byDate := len(gen) > 0 && len(gen) <= models.PlanDays
	seen := make(map[int]bool, len(gen))
	for _, d := range gen {
		i, ok := index[d.Date]
		if !ok || seen[i] {
			byDate = false
			break
		}
		seen[i] = true
	}

	for pos, d := range gen {
		if byDate {
			slots[index[d.Date]] = d
			continue
		}
		if pos >= models.PlanDays {
			break
		}
		slots[pos] = d
	}
	return slots
}

// ensureTreatment injects protect actions when diseases are active but no
// protect action falls inside the tier's window. It returns the number of
// actions injected.
func ensureTreatment(pc PlanContext, plan *models.CarePlan, newID func() string) int {
	if len(pc.Diseases) == 0 {
		return 0
	}
	in := disease.IntensityFor(pc.Tier())
	window := max(1, min(4, in.Window))
	for i := 0; i < window && i < len(plan.Days); i++ {
		for _, a := range plan.Days[i].Actions {
			if a.Type == models.ActionProtect {
				return 0
			}
		}
	}

	injected := 0
	for _, d := range in.TreatmentDays {
		if d >= window || d >= 3 || d >= len(plan.Days) {
			continue
		}
		a := treatmentAction(pc, in, d, 0, newID)
		plan.Days[d].Actions = append([]models.Action{a}, plan.Days[d].Actions...)
		injected++
	}
	if injected == 0 && len(plan.Days) > 0 {
		a := treatmentAction(pc, in, 0, 0, newID)
		plan.Days[0].Actions = append([]models.Action{a}, plan.Days[0].Actions...)
		injected++
	}
	return injected
}

// overwriteWeather replaces every day's date and weather with the fetched
// forecast.
func overwriteWeather(pc PlanContext, plan *models.CarePlan) {
	for i := range plan.Days {
		plan.Days[i].Date = dateAt(pc, i)
		plan.Days[i].Weather = dayWeather(pc, i).Snapshot()
	}
}

// PreserveActions carries ids, completion and cached analyses over from the
// previous plan for actions that are unchanged on the same date. Callers
// persisting a synthesized plan re-apply it against the stored record so
// completions made during generation survive.
func PreserveActions(previous, plan *models.CarePlan) {
	preserveActions(previous, plan)
}

func preserveActions(previous, plan *models.CarePlan) {
	if previous == nil {
		return
	}
	old := make(map[string][]models.Action, len(previous.Days))
	for _, d := range previous.Days {
		old[d.Date] = d.Actions
	}

	for i := range plan.Days {
		prior := old[plan.Days[i].Date]
		if len(prior) == 0 {
			continue
		}
		used := make([]bool, len(prior))
		for j := range plan.Days[i].Actions {
			a := &plan.Days[i].Actions[j]
			for k, p := range prior {
				if used[k] || !sameAction(p, *a) {
					continue
				}
				used[k] = true
				a.ID = p.ID
				a.Completed = p.Completed
				a.CompletedAt = p.CompletedAt
				a.ReminderSent = p.ReminderSent
				a.MissedWarned = p.MissedWarned
				a.TaskAnalysis = p.TaskAnalysis
				break
			}
		}
	}
}

func sameAction(a, b models.Action) bool {
	if a.Type != b.Type || a.Time != b.Time || len(a.Products) != len(b.Products) {
		return false
	}
	if normalizeText(a.Description) != normalizeText(b.Description) {
		return false
	}
	for i := range a.Products {
		if !strings.EqualFold(a.Products[i], b.Products[i]) {
			return false
		}
	}
	return true
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
