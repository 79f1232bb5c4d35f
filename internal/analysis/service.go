// Package analysis produces detailed execution guidance for single plan
// actions and caches it on the action for a day.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/llm"
	"github.com/fentz26/cropcare/internal/metrics"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/treatment"
	"github.com/fentz26/cropcare/internal/weather"
)

// CacheTTL is how long a stored analysis is served without regeneration.
const CacheTTL = 24 * time.Hour

// Default generation parameters.
const (
	DefaultTimeout     = 20 * time.Second
	DefaultMaxTokens   = 1200
	DefaultTemperature = 0.3
)

// PlantStore reads plants and applies atomic per-plant updates.
type PlantStore interface {
	GetPlant(ctx context.Context, id string) (*models.Plant, error)
	UpdatePlant(ctx context.Context, id string, fn func(p *models.Plant) error) (*models.Plant, error)
}

// Catalog resolves treatment candidates and product dosages.
type Catalog interface {
	treatment.Catalog
	treatment.ProductLookup
}

// Service analyzes plan actions.
type Service struct {
	store      PlantStore
	forecaster weather.Forecaster
	generator  llm.TextGenerator
	catalog    Catalog

	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records analysis outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithGenerationParams sets the token budget and sampling temperature.
func WithGenerationParams(maxTokens int, temperature float64) Option {
	return func(s *Service) {
		s.maxTokens = maxTokens
		s.temperature = temperature
	}
}

// NewService creates a Service. A nil generator always yields the fixed
// fallback analysis.
func NewService(store PlantStore, forecaster weather.Forecaster, generator llm.TextGenerator, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		store:       store,
		forecaster:  forecaster,
		generator:   generator,
		catalog:     catalog,
		logger:      slog.Default(),
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

// Analyze returns guidance for the action at actionIndex on day dayIndex. A
// cached analysis younger than CacheTTL is returned unchanged. Otherwise the
// analysis is regenerated, attached to the action by its id and persisted.
// Generation failures yield a fixed minimal analysis instead of an error.
func (s *Service) Analyze(ctx context.Context, plantID string, dayIndex, actionIndex int) (*models.TaskAnalysis, error) {
	if plantID == "" {
		return nil, fmt.Errorf("%w: plant id is required", models.ErrValidation)
	}
	if dayIndex < 0 || dayIndex >= models.PlanDays {
		return nil, fmt.Errorf("%w: day index %d outside [0,%d]", models.ErrValidation, dayIndex, models.PlanDays-1)
	}
	if actionIndex < 0 {
		return nil, fmt.Errorf("%w: action index %d is negative", models.ErrValidation, actionIndex)
	}

	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if plant == nil {
		return nil, fmt.Errorf("%w: plant %s", models.ErrNotFound, plantID)
	}
	if plant.CarePlan == nil {
		return nil, fmt.Errorf("%w: plant %s has no care plan", models.ErrNotFound, plantID)
	}
	day, err := plant.CarePlan.Day(dayIndex)
	if err != nil {
		return nil, err
	}
	if actionIndex >= len(day.Actions) {
		return nil, fmt.Errorf("%w: action %d on day %d", models.ErrNotFound, actionIndex, dayIndex)
	}
	action := day.Actions[actionIndex]

	now := s.now()
	if cached := action.TaskAnalysis; cached != nil && now.Sub(cached.AnalyzedAt) < CacheTTL {
		s.metrics.TaskAnalyzed("cached")
		return cached, nil
	}

	in := taskInput{
		Plant:  plant,
		Action: action,
		Day:    s.dayWeather(ctx, plant, day),
	}
	in.Products = s.lookupProducts(ctx, action.Products)
	if action.Type == models.ActionProtect {
		in.Treatments = s.lookupTreatments(ctx, plant)
	}

	analysis := s.generate(ctx, in)
	if analysis == nil {
		analysis = fallbackAnalysis(action)
		s.metrics.TaskAnalyzed(string(models.SourceFallback))
	} else {
		s.metrics.TaskAnalyzed(string(models.SourceLLM))
	}
	if len(in.Products) > 0 {
		prod := in.Products[0]
		analysis.Dosage = ComputeDosage(prod.Name, prod.BasePerPlant, prod.Unit, plant.Quantity, plant.PrimarySoil())
	}
	analysis.AnalyzedAt = now

	_, err = s.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		if p.CarePlan == nil {
			return fmt.Errorf("%w: plant %s has no care plan", models.ErrNotFound, plantID)
		}
		d, err := p.CarePlan.Day(dayIndex)
		if err != nil {
			return err
		}
		a, ok := d.ActionByID(action.ID)
		if !ok {
			return fmt.Errorf("%w: action %s on day %d", models.ErrNotFound, action.ID, dayIndex)
		}
		a.TaskAnalysis = analysis
		return nil
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.logger.Warn("Action replaced before analysis was stored",
			"plant_id", plantID,
			"day_index", dayIndex,
			"action_id", action.ID)
	case err != nil:
		return nil, fmt.Errorf("storing analysis: %w", err)
	}

	s.logger.Info("Action analyzed",
		"plant_id", plantID,
		"day_index", dayIndex,
		"action_id", action.ID,
		"source", analysis.Source)
	return analysis, nil
}

// dayWeather refreshes the day's forecast, falling back to the weather stored
// on the plan when the forecast is unavailable.
func (s *Service) dayWeather(ctx context.Context, plant *models.Plant, day *models.DayPlan) weather.Classification {
	stored := models.ForecastDay{
		Date:     day.Date,
		TempMin:  day.Weather.TempMin,
		TempMax:  day.Weather.TempMax,
		Humidity: day.Weather.Humidity,
		RainMm:   day.Weather.RainMm,
	}
	if s.forecaster == nil {
		return weather.Classify(stored)
	}

	forecast, err := s.forecaster.FetchForecast(ctx, plant.Location.Lat, plant.Location.Lon)
	if err != nil {
		s.logger.Warn("Forecast refresh failed, using stored weather",
			"plant_id", plant.ID,
			"date", day.Date,
			"error", err)
		return weather.Classify(stored)
	}
	fresh, ok := weather.DayFor(forecast, day.Date)
	if !ok {
		return weather.Classify(stored)
	}
	return weather.Classify(fresh)
}

func (s *Service) lookupProducts(ctx context.Context, names []string) []treatment.Product {
	if s.catalog == nil {
		return nil
	}
	var out []treatment.Product
	for _, name := range names {
		if p, ok := s.catalog.LookupProduct(ctx, name); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) lookupTreatments(ctx context.Context, plant *models.Plant) []diseaseOptions {
	if s.catalog == nil {
		return nil
	}
	var out []diseaseOptions
	for _, rec := range disease.Active(plant.Diseases) {
		groups, err := s.catalog.LookupTreatments(ctx, rec.Name, plant.CropName)
		if err != nil {
			s.logger.Warn("Treatment lookup failed",
				"plant_id", plant.ID,
				"disease", rec.Name,
				"error", err)
			continue
		}
		out = append(out, diseaseOptions{Disease: rec.Name, Groups: groups})
	}
	return out
}

type generatedAnalysis struct {
	Steps       []string `json:"steps"`
	Materials   []string `json:"materials"`
	Precautions []string `json:"precautions"`
	Tips        []string `json:"tips"`
	Duration    string   `json:"duration"`
}

// generate returns nil on any generation or parse failure.
func (s *Service) generate(ctx context.Context, in taskInput) *models.TaskAnalysis {
	if s.generator == nil {
		return nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.generator.GenerateText(gctx, buildTaskPrompt(in), s.maxTokens, s.temperature)
	if err != nil {
		s.metrics.ObserveGeneration("analysis", "error", time.Since(start))
		s.logger.Warn("Task analysis generation failed, using fallback",
			"plant_id", in.Plant.ID,
			"action_id", in.Action.ID,
			"error", err)
		return nil
	}

	var gen generatedAnalysis
	if err := llm.Decode(text, &gen); err != nil || len(trimAll(gen.Steps)) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: no steps", models.ErrGenerationMalformed)
		}
		s.metrics.ObserveGeneration("analysis", "malformed", time.Since(start))
		s.logger.Warn("Task analysis malformed, using fallback",
			"plant_id", in.Plant.ID,
			"action_id", in.Action.ID,
			"error", err)
		return nil
	}
	s.metrics.ObserveGeneration("analysis", "ok", time.Since(start))

	materials := trimAll(gen.Materials)
	if len(materials) == 0 {
		materials = append([]string(nil), in.Action.Products...)
	}
	duration := strings.TrimSpace(gen.Duration)
	if duration == "" {
		duration = defaultDuration
	}
	return &models.TaskAnalysis{
		Steps:       trimAll(gen.Steps),
		Materials:   materials,
		Precautions: trimAll(gen.Precautions),
		Tips:        trimAll(gen.Tips),
		Duration:    duration,
		Source:      models.SourceLLM,
	}
}

func trimAll(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
