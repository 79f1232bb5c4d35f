package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cropcare/internal/llm/testutil"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/store"
	"github.com/fentz26/cropcare/internal/treatment"
)

var testNow = time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)

const goodAnalysis = "```json\n{\"steps\": [\"Mix 2.5 g per litre\", \"Spray both leaf surfaces\",], \"materials\": [\"Sprayer\"], \"precautions\": [\"Wear gloves\"], \"tips\": [\"Spray in the morning\"], \"duration\": \"30 minutes\"}\n```"

type stubForecaster struct {
	days []models.ForecastDay
	err  error
}

func (f *stubForecaster) FetchForecast(_ context.Context, _, _ float64) ([]models.ForecastDay, error) {
	return f.days, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPlant(t *testing.T, s *store.Store, soil string) *models.Plant {
	t.Helper()
	plan := &models.CarePlan{LastUpdated: testNow, Source: models.SourceFallback}
	for i := 0; i < models.PlanDays; i++ {
		plan.Days = append(plan.Days, models.DayPlan{
			Date:    testNow.AddDate(0, 0, i).Format(models.DateLayout),
			Weather: models.WeatherSnapshot{TempMin: 18, TempMax: 27, Humidity: 65},
			Actions: []models.Action{
				{ID: "water-" + string(rune('0'+i)), Type: models.ActionWater, Category: models.CategoryCare, Time: "07:00", Description: "Water at the base"},
				{ID: "spray-" + string(rune('0'+i)), Type: models.ActionProtect, Category: models.CategoryTreatment, Time: "08:00",
					Description: "Treat Early blight", Products: []string{"Mancozeb 75% WP"}},
			},
		})
	}
	p := &models.Plant{
		OwnerID:  "user-1",
		CropName: "Tomato",
		Location: models.Location{Lat: 10.8, Lon: 106.6, SoilTypes: []string{soil}},
		Quantity: 10,
		Diseases: []models.DiseaseRecord{{Name: "Early blight", SeverityScore: 6, Status: models.DiseaseActive}},
		CarePlan: plan,
		Active:   true,
	}
	require.NoError(t, s.CreatePlant(context.Background(), p))
	return p
}

func newTestService(s *store.Store, f *stubForecaster, gen *testutil.ScriptedGenerator, clock *time.Time) *Service {
	opts := []Option{WithClock(func() time.Time { return *clock }), WithTimeout(50 * time.Millisecond)}
	if gen == nil {
		return NewService(s, f, nil, treatment.Default(), opts...)
	}
	return NewService(s, f, gen, treatment.Default(), opts...)
}

func TestComputeDosage(t *testing.T) {
	tests := []struct {
		soil      string
		wantPct   float64
		wantTotal float64
	}{
		{"sandy", 15, 28.75},
		{"Sandy loam", 15, 28.75},
		{"clay", -15, 21.25},
		{"loam", 0, 25},
		{"alluvial", 0, 25},
		{"", 0, 25},
	}

	for _, tt := range tests {
		t.Run(tt.soil, func(t *testing.T) {
			d := ComputeDosage("Mancozeb 75% WP", 2.5, "g", 10, tt.soil)
			assert.Equal(t, tt.wantPct, d.SoilAdjustmentPct)
			assert.InDelta(t, tt.wantTotal, d.Total, 0.001)
			assert.Equal(t, 10, d.Quantity)
			assert.Contains(t, d.Explanation, "g")
		})
	}

	assert.Equal(t, 1, ComputeDosage("x", 1, "ml", 0, "loam").Quantity)
}

func TestAnalyze_GeneratesAndPersists(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "sandy")
	gen := &testutil.ScriptedGenerator{Responses: []string{goodAnalysis}}
	clock := testNow
	svc := newTestService(s, &stubForecaster{err: errors.New("offline")}, gen, &clock)

	a, err := svc.Analyze(context.Background(), p.ID, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, models.SourceLLM, a.Source)
	assert.Equal(t, []string{"Mix 2.5 g per litre", "Spray both leaf surfaces"}, a.Steps)
	assert.Equal(t, "30 minutes", a.Duration)
	require.NotNil(t, a.Dosage)
	assert.Equal(t, "Mancozeb 75% WP", a.Dosage.Product)
	assert.InDelta(t, 28.75, a.Dosage.Total, 0.001)
	assert.Equal(t, testNow, a.AnalyzedAt)

	prompt := gen.LastPrompt()
	assert.Contains(t, prompt, "Treat Early blight")
	assert.Contains(t, prompt, "Mancozeb 75% WP (chemical): 2.5 g per plant")
	assert.Contains(t, prompt, "Soil: sandy")

	stored, err := s.GetPlant(context.Background(), p.ID)
	require.NoError(t, err)
	action, ok := stored.CarePlan.Days[0].ActionByID("spray-0")
	require.True(t, ok)
	require.NotNil(t, action.TaskAnalysis)
	assert.Equal(t, a.Steps, action.TaskAnalysis.Steps)
}

func TestAnalyze_CacheHitWithin24h(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "loam")
	gen := &testutil.ScriptedGenerator{Responses: []string{goodAnalysis}}
	clock := testNow
	svc := newTestService(s, &stubForecaster{err: errors.New("offline")}, gen, &clock)

	first, err := svc.Analyze(context.Background(), p.ID, 2, 0)
	require.NoError(t, err)

	clock = testNow.Add(23 * time.Hour)
	second, err := svc.Analyze(context.Background(), p.ID, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.CallCount())
	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	assert.Equal(t, string(firstJSON), string(secondJSON))

	clock = testNow.Add(25 * time.Hour)
	_, err = svc.Analyze(context.Background(), p.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, gen.CallCount())
}

func TestAnalyze_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		gen  *testutil.ScriptedGenerator
	}{
		{"malformed", &testutil.ScriptedGenerator{Responses: []string{"Just water it."}}},
		{"no steps", &testutil.ScriptedGenerator{Responses: []string{`{"steps": [], "duration": "5 minutes"}`}}},
		{"error", &testutil.ScriptedGenerator{Err: errors.New("rate limited")}},
		{"timeout", &testutil.ScriptedGenerator{Delay: time.Second}},
		{"no generator", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			p := seedPlant(t, s, "clay")
			clock := testNow
			svc := newTestService(s, &stubForecaster{err: errors.New("offline")}, tt.gen, &clock)

			a, err := svc.Analyze(context.Background(), p.ID, 1, 1)
			require.NoError(t, err)

			assert.Equal(t, models.SourceFallback, a.Source)
			assert.NotEmpty(t, a.Steps)
			assert.Equal(t, []string{"Mancozeb 75% WP"}, a.Materials)
			require.NotNil(t, a.Dosage)
			assert.Equal(t, -15.0, a.Dosage.SoilAdjustmentPct)
		})
	}
}

func TestAnalyze_RefreshesWeather(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "loam")
	gen := &testutil.ScriptedGenerator{Responses: []string{goodAnalysis}}
	clock := testNow
	fresh := []models.ForecastDay{{Date: testNow.Format(models.DateLayout), TempMin: 25, TempMax: 37, Humidity: 40}}
	svc := newTestService(s, &stubForecaster{days: fresh}, gen, &clock)

	_, err := svc.Analyze(context.Background(), p.ID, 0, 0)
	require.NoError(t, err)

	assert.Contains(t, gen.LastPrompt(), "25–37°C [very_high]")
}

func TestAnalyze_UsesStoredWeatherWhenForecastFails(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "loam")
	gen := &testutil.ScriptedGenerator{Responses: []string{goodAnalysis}}
	clock := testNow
	svc := newTestService(s, &stubForecaster{err: models.ErrUpstreamUnavailable}, gen, &clock)

	_, err := svc.Analyze(context.Background(), p.ID, 0, 0)
	require.NoError(t, err)

	assert.Contains(t, gen.LastPrompt(), "18–27°C")
}

func TestAnalyze_WateringHasNoDosage(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "loam")
	clock := testNow
	svc := newTestService(s, &stubForecaster{err: errors.New("offline")}, nil, &clock)

	a, err := svc.Analyze(context.Background(), p.ID, 3, 0)
	require.NoError(t, err)
	assert.Nil(t, a.Dosage)
	assert.True(t, strings.Contains(strings.Join(a.Steps, " "), "Water"))
}

func TestAnalyze_Errors(t *testing.T) {
	s := newTestStore(t)
	p := seedPlant(t, s, "loam")
	clock := testNow
	svc := newTestService(s, &stubForecaster{}, nil, &clock)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, p.ID, 7, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Analyze(ctx, p.ID, -1, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Analyze(ctx, p.ID, 0, -1)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Analyze(ctx, "", 0, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Analyze(ctx, p.ID, 0, 5)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Analyze(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	bare := &models.Plant{OwnerID: "user-1", CropName: "Chili", Quantity: 1, Active: true}
	require.NoError(t, s.CreatePlant(ctx, bare))
	_, err = svc.Analyze(ctx, bare.ID, 0, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
