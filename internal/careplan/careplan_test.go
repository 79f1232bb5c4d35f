package careplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/llm/testutil"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/weather"
)

var testNow = time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)

type stubForecaster struct {
	days  []models.ForecastDay
	err   error
	calls int
}

func (f *stubForecaster) FetchForecast(_ context.Context, _, _ float64) ([]models.ForecastDay, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.days, nil
}

type stubCatalog struct {
	err error
}

func (c stubCatalog) LookupTreatments(_ context.Context, _, _ string) ([]models.TreatmentGroup, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []models.TreatmentGroup{
		{Kind: models.TreatmentChemical, Items: []string{"Mancozeb 75% WP"}},
		{Kind: models.TreatmentBiological, Items: []string{"Trichoderma"}},
		{Kind: models.TreatmentCultural, Items: []string{"Remove infected leaves"}},
	}, nil
}

// mildForecast is a dry week with normal watering need on every day.
func mildForecast() []models.ForecastDay {
	days := make([]models.ForecastDay, models.PlanDays)
	for i := range days {
		days[i] = models.ForecastDay{
			Date:     testNow.AddDate(0, 0, i).Format(models.DateLayout),
			TempMin:  16,
			TempMax:  26,
			Humidity: 60,
			RainMm:   0,
		}
	}
	return days
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("act-%d", n)
	}
}

func testPlant(diseases ...models.DiseaseRecord) *models.Plant {
	return &models.Plant{
		ID:           "plant-1",
		OwnerID:      "user-1",
		CropName:     "Tomato",
		PlantingDate: testNow.AddDate(0, 0, -40),
		Location:     models.Location{Lat: 10.8, Lon: 106.6, SoilTypes: []string{"loam"}},
		Quantity:     4,
		Diseases:     diseases,
		Active:       true,
	}
}

func diseaseWithScore(name string, score int) models.DiseaseRecord {
	status := models.DiseaseActive
	if score == 0 {
		status = models.DiseaseResolved
	}
	return models.DiseaseRecord{Name: name, SeverityScore: score, Status: status, Severity: models.SeverityModerate}
}

func contextFor(plant *models.Plant, forecast []models.ForecastDay) PlanContext {
	return BuildContext(context.Background(), stubCatalog{}, nil, plant, forecast, testNow)
}

func actionDays(plan *models.CarePlan, t models.ActionType) []int {
	var out []int
	for i, d := range plan.Days {
		for _, a := range d.Actions {
			if a.Type == t {
				out = append(out, i)
			}
		}
	}
	return out
}

func planJSON(days int) string {
	type action struct {
		Type        string   `json:"type"`
		Time        string   `json:"time"`
		Description string   `json:"description"`
		Products    []string `json:"products,omitempty"`
	}
	type day struct {
		Date    string   `json:"date"`
		Actions []action `json:"actions"`
	}
	out := struct {
		Next7Days []day  `json:"next7Days"`
		Summary   string `json:"summary"`
	}{Next7Days: []day{}, Summary: "Keep the soil evenly moist."}
	for i := 0; i < days; i++ {
		out.Next7Days = append(out.Next7Days, day{
			Actions: []action{{Type: "water", Time: "07:00", Description: "Water at the base"}},
		})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func newTestSynthesizer(f *stubForecaster, gen *testutil.ScriptedGenerator, opts ...Option) *Synthesizer {
	opts = append([]Option{
		WithIDGenerator(seqIDs()),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	if gen == nil {
		return NewSynthesizer(f, nil, stubCatalog{}, opts...)
	}
	return NewSynthesizer(f, gen, stubCatalog{}, opts...)
}

func TestGenerateFallback_DryWeekNoDisease(t *testing.T) {
	plan := GenerateFallback(contextFor(testPlant(), mildForecast()), seqIDs())

	require.Len(t, plan.Days, models.PlanDays)
	assert.Equal(t, []int{0, 2, 4}, actionDays(plan, models.ActionWater))
	assert.Empty(t, actionDays(plan, models.ActionProtect))
	assert.Equal(t, models.SourceFallback, plan.Source)
	assert.NotEmpty(t, plan.Summary)
}

func TestGenerateFallback_RainShiftsCadence(t *testing.T) {
	forecast := mildForecast()
	forecast[2].RainMm = 8

	plan := GenerateFallback(contextFor(testPlant(), forecast), seqIDs())

	assert.Equal(t, []int{0, 4, 6}, actionDays(plan, models.ActionWater))
}

func TestGenerateFallback_LightRainKeepsCadence(t *testing.T) {
	forecast := mildForecast()
	forecast[2].RainMm = 3

	plan := GenerateFallback(contextFor(testPlant(), forecast), seqIDs())

	assert.Equal(t, []int{0, 2, 4}, actionDays(plan, models.ActionWater))
}

func TestGenerateFallback_ExtraWateringOnHighNeed(t *testing.T) {
	forecast := mildForecast()
	forecast[1].TempMax = 36
	forecast[1].Humidity = 20

	plan := GenerateFallback(contextFor(testPlant(), forecast), seqIDs())

	assert.Equal(t, []int{0, 1, 2, 4}, actionDays(plan, models.ActionWater))
	var deep bool
	for _, a := range plan.Days[1].Actions {
		if a.Type == models.ActionWater {
			deep = strings.HasPrefix(a.Description, "Deep-water")
		}
	}
	assert.True(t, deep)
}

func TestGenerateFallback_HumidDaysMonitorOnly(t *testing.T) {
	forecast := mildForecast()
	for i := range forecast {
		forecast[i].Humidity = 90
	}

	plan := GenerateFallback(contextFor(testPlant(), forecast), seqIDs())

	assert.Empty(t, actionDays(plan, models.ActionProtect))
	for i, d := range plan.Days {
		var monitored bool
		for _, a := range d.Actions {
			if a.Type == models.ActionCheck && a.Category == models.CategoryMonitoring {
				monitored = true
			}
		}
		assert.True(t, monitored, "day %d", i)
	}
}

func TestGenerateFallback_TierSchedules(t *testing.T) {
	tests := []struct {
		score    int
		wantDays []int
		chemical bool
	}{
		{score: 10, wantDays: []int{0, 0, 1, 1, 2, 2, 3, 3}, chemical: true},
		{score: 8, wantDays: []int{0, 1, 3}, chemical: true},
		{score: 5, wantDays: []int{0, 2}, chemical: true},
		{score: 3, wantDays: []int{0}, chemical: false},
		{score: 1, wantDays: []int{0}, chemical: false},
	}

	for _, tt := range tests {
		t.Run(string(disease.TierFor(tt.score)), func(t *testing.T) {
			plant := testPlant(diseaseWithScore("Early blight", tt.score))
			plan := GenerateFallback(contextFor(plant, mildForecast()), seqIDs())

			assert.Equal(t, tt.wantDays, actionDays(plan, models.ActionProtect))
			for _, d := range plan.Days {
				for _, a := range d.Actions {
					if a.Type != models.ActionProtect {
						continue
					}
					assert.Equal(t, models.CategoryTreatment, a.Category)
					assert.Contains(t, a.Description, "Early blight")
					assert.Equal(t, tt.chemical, contains(a.Products, "Mancozeb 75% WP"))
				}
			}
		})
	}
}

func TestGenerateFallback_AlmostResolvedIsCulturalOnly(t *testing.T) {
	plant := testPlant(diseaseWithScore("Rust", 2))
	plan := GenerateFallback(contextFor(plant, mildForecast()), seqIDs())

	protect := actionDays(plan, models.ActionProtect)
	require.Equal(t, []int{0}, protect)
	for _, a := range plan.Days[0].Actions {
		if a.Type == models.ActionProtect {
			assert.Equal(t, []string{"Remove infected leaves"}, a.Products)
		}
	}
}

func TestGenerateFallback_FertilizeOnDryDayFive(t *testing.T) {
	plant := testPlant()
	plant.GrowthStage = "Flowering"

	plan := GenerateFallback(contextFor(plant, mildForecast()), seqIDs())
	assert.Equal(t, []int{5}, actionDays(plan, models.ActionFertilize))

	wet := mildForecast()
	wet[5].RainMm = 12
	plan = GenerateFallback(contextFor(plant, wet), seqIDs())
	assert.Empty(t, actionDays(plan, models.ActionFertilize))
}

func TestBuildContext_PrefersSelectedChemical(t *testing.T) {
	rec := diseaseWithScore("Early blight", 6)
	rec.SelectedTreatments = []string{"Copper oxychloride"}
	pc := contextFor(testPlant(rec), mildForecast())

	require.Len(t, pc.Diseases, 1)
	chem := pc.Diseases[0].Candidates(models.TreatmentChemical)
	assert.Equal(t, []string{"Copper oxychloride", "Mancozeb 75% WP"}, chem)
	assert.NotEmpty(t, pc.Diseases[0].Candidates(models.TreatmentBiological))
	assert.NotEmpty(t, pc.Diseases[0].Candidates(models.TreatmentCultural))
}

func TestBuildContext_SkipsResolvedAndChemicalForMildTiers(t *testing.T) {
	pc := contextFor(testPlant(
		diseaseWithScore("Rust", 0),
		diseaseWithScore("Leaf spot", 2),
	), mildForecast())

	require.Len(t, pc.Diseases, 1)
	assert.Equal(t, "Leaf spot", pc.Diseases[0].Name)
	assert.Equal(t, disease.TierAlmostResolved, pc.Diseases[0].Tier)
	assert.Nil(t, pc.Diseases[0].Candidates(models.TreatmentChemical))
	assert.Len(t, pc.Days, models.PlanDays)
}

func TestBuildContext_CatalogErrorIsNonFatal(t *testing.T) {
	plant := testPlant(diseaseWithScore("Early blight", 7))
	pc := BuildContext(context.Background(), stubCatalog{err: errors.New("catalog down")}, nil, plant, mildForecast(), testNow)

	require.Len(t, pc.Diseases, 1)
	assert.Empty(t, pc.Diseases[0].Treatments)
}

func TestBuildPlanPrompt(t *testing.T) {
	t.Run("with disease", func(t *testing.T) {
		pc := contextFor(testPlant(diseaseWithScore("Early blight", 9)), mildForecast())
		prompt := BuildPlanPrompt(pc)

		assert.Contains(t, prompt, "next7Days")
		assert.Contains(t, prompt, "Do not include weather")
		assert.Contains(t, prompt, "Early blight (severity 9/10, critical)")
		assert.Contains(t, prompt, "CRITICAL")
		assert.Contains(t, prompt, "Mancozeb 75% WP")
		assert.Contains(t, prompt, testNow.Format(models.DateLayout))
		assert.NotContains(t, prompt, `"weather"`)
	})

	t.Run("no disease", func(t *testing.T) {
		prompt := BuildPlanPrompt(contextFor(testPlant(), mildForecast()))
		assert.Contains(t, prompt, "None reported")
		assert.Contains(t, prompt, "Crop: Tomato")
		assert.Contains(t, prompt, "40 days ago")
	})
}

func TestParsePlanResponse(t *testing.T) {
	t.Run("repairs wrapped JSON", func(t *testing.T) {
		text := "Here is the plan:\n```json\n{\n  // plan\n  \"next7Days\": [\n    {\"date\": \"2026-06-01\", \"actions\": [{\"type\": \"water\", \"products\": \"Compost tea\",},],},\n  ],\n  \"summary\": \"ok\",\n}\n```"
		plan, err := ParsePlanResponse(text)
		require.NoError(t, err)
		require.Len(t, plan.Days, 1)
		assert.Equal(t, "ok", plan.Summary)
		require.Len(t, plan.Days[0].Actions, 1)
		assert.Equal(t, []string{"Compost tea"}, []string(plan.Days[0].Actions[0].Products))
	})

	t.Run("keeps undecodable days as empty slots", func(t *testing.T) {
		plan, err := ParsePlanResponse(`{"next7Days": [{"actions": []}, "garbage", {"actions": [{"type": "check"}]}]}`)
		require.NoError(t, err)
		require.Len(t, plan.Days, 3)
		assert.Empty(t, plan.Days[1].Actions)
		assert.Len(t, plan.Days[2].Actions, 1)
	})

	for name, text := range map[string]string{
		"missing next7Days": `{"summary": "nothing"}`,
		"next7Days object":  `{"next7Days": {"date": "2026-06-01"}}`,
		"not JSON":          "I cannot help with that.",
		"empty":             "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlanResponse(text)
			assert.ErrorIs(t, err, models.ErrGenerationMalformed)
		})
	}
}

func TestNormalizeAction(t *testing.T) {
	ids := seqIDs()
	tests := []struct {
		name     string
		in       GeneratedAction
		wantType models.ActionType
		wantCat  models.ActionCategory
		wantTime string
	}{
		{"protect", GeneratedAction{Type: "protect", Time: "7:30", Description: "Spray"}, models.ActionProtect, models.CategoryTreatment, "07:30"},
		{"alias", GeneratedAction{Type: "Irrigation", Time: "06:15"}, models.ActionWater, models.CategoryCare, "06:15"},
		{"unknown type", GeneratedAction{Type: "sing", Time: "noon", Description: "Talk to plants"}, models.ActionCheck, models.CategoryMonitoring, "09:00"},
		{"unknown type with treatment text", GeneratedAction{Type: "misc", Description: "Apply neem oil"}, models.ActionProtect, models.CategoryTreatment, "08:00"},
		{"bad hour", GeneratedAction{Type: "prune", Time: "25:00"}, models.ActionPrune, models.CategoryCare, "16:00"},
		{"trailing junk", GeneratedAction{Type: "water", Time: "07:00am"}, models.ActionWater, models.CategoryCare, "07:00"},
		{"check as care", GeneratedAction{Type: "check", Category: "care", Time: "10:00"}, models.ActionCheck, models.CategoryCare, "10:00"},
		{"treatment category on water", GeneratedAction{Type: "water", Category: "treatment", Time: "07:00"}, models.ActionWater, models.CategoryCare, "07:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := normalizeAction(tt.in, ids)
			assert.NotEmpty(t, a.ID)
			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.wantCat, a.Category)
			assert.Equal(t, tt.wantTime, a.Time)
			assert.NotEmpty(t, a.Description)
		})
	}
}

func TestSynthesize_AlwaysSevenDays(t *testing.T) {
	for _, n := range []int{0, 3, 7, 12} {
		t.Run(fmt.Sprintf("%d days", n), func(t *testing.T) {
			forecast := mildForecast()
			gen := &testutil.ScriptedGenerator{Responses: []string{planJSON(n)}}
			s := newTestSynthesizer(&stubForecaster{days: forecast}, gen)

			plan, err := s.Synthesize(context.Background(), testPlant())
			require.NoError(t, err)

			require.Len(t, plan.Days, models.PlanDays)
			assert.Equal(t, models.SourceLLM, plan.Source)
			assert.Equal(t, testNow, plan.LastUpdated)
			for i, d := range plan.Days {
				assert.Equal(t, forecast[i].Date, d.Date)
				if i < n {
					assert.Len(t, d.Actions, 1)
				} else {
					assert.Empty(t, d.Actions)
				}
			}
		})
	}
}

func TestSynthesize_CapsActionsPerDayAtPromptLimit(t *testing.T) {
	var actions []string
	for i := 0; i < maxActionsPerDay+2; i++ {
		actions = append(actions, fmt.Sprintf(`{"type": "check", "time": "%02d:00", "description": "Inspect leaves %d"}`, 6+i, i))
	}
	response := `{"next7Days": [{"actions": [` + strings.Join(actions, ",") + `]}], "summary": "Busy day."}`
	gen := &testutil.ScriptedGenerator{Responses: []string{response}}
	s := newTestSynthesizer(&stubForecaster{days: mildForecast()}, gen)

	plan, err := s.Synthesize(context.Background(), testPlant())
	require.NoError(t, err)

	assert.Equal(t, models.SourceLLM, plan.Source)
	assert.Len(t, plan.Days[0].Actions, maxActionsPerDay)
	assert.Contains(t, gen.LastPrompt(), fmt.Sprintf("at most %d actions per day", maxActionsPerDay))
}

func TestSynthesize_AlignsByDate(t *testing.T) {
	forecast := mildForecast()
	text := fmt.Sprintf(`{"next7Days": [{"date": %q, "actions": [{"type": "prune", "time": "16:00"}]}], "summary": "x"}`, forecast[3].Date)
	gen := &testutil.ScriptedGenerator{Responses: []string{text}}

	plan, err := newTestSynthesizer(&stubForecaster{days: forecast}, gen).Synthesize(context.Background(), testPlant())
	require.NoError(t, err)

	assert.Equal(t, []int{3}, actionDays(plan, models.ActionPrune))
}

func TestSynthesize_IgnoresGeneratedWeather(t *testing.T) {
	forecast := mildForecast()
	forecast[0].RainMm = 12
	text := `{"next7Days": [{"date": "1999-01-01", "weather": {"temp_max": 99, "rain_mm": 0}, "actions": []}], "summary": "x"}`
	gen := &testutil.ScriptedGenerator{Responses: []string{text}}

	plan, err := newTestSynthesizer(&stubForecaster{days: forecast}, gen).Synthesize(context.Background(), testPlant())
	require.NoError(t, err)

	for i, d := range plan.Days {
		assert.Equal(t, weather.Classify(forecast[i]).Snapshot(), d.Weather)
		assert.Equal(t, forecast[i].Date, d.Date)
	}
}

func TestSynthesize_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *testutil.ScriptedGenerator
		opts []Option
	}{
		{name: "malformed", gen: &testutil.ScriptedGenerator{Responses: []string{"Sorry, here is some prose."}}},
		{name: "structural", gen: &testutil.ScriptedGenerator{Responses: []string{`{"next7Days": "soon"}`}}},
		{name: "null days", gen: &testutil.ScriptedGenerator{Responses: []string{`{"next7Days": null, "summary": "x"}`}}},
		{name: "error", gen: &testutil.ScriptedGenerator{Err: errors.New("connection refused")}},
		{name: "timeout", gen: &testutil.ScriptedGenerator{Delay: time.Second}, opts: []Option{WithTimeout(20 * time.Millisecond)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSynthesizer(&stubForecaster{days: mildForecast()}, tt.gen, tt.opts...)

			plan, err := s.Synthesize(context.Background(), testPlant())
			require.NoError(t, err)

			assert.Equal(t, models.SourceFallback, plan.Source)
			assert.Len(t, plan.Days, models.PlanDays)
			assert.Equal(t, 1, tt.gen.CallCount())
		})
	}
}

func TestSynthesize_NoGeneratorUsesRules(t *testing.T) {
	plan, err := newTestSynthesizer(&stubForecaster{days: mildForecast()}, nil).Synthesize(context.Background(), testPlant())
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, plan.Source)
}

func TestSynthesize_ForecastFailureIsFatal(t *testing.T) {
	tests := []struct {
		name string
		f    *stubForecaster
	}{
		{"error", &stubForecaster{err: errors.New("dial tcp: timeout")}},
		{"short", &stubForecaster{days: mildForecast()[:5]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &testutil.ScriptedGenerator{Responses: []string{planJSON(7)}}
			_, err := newTestSynthesizer(tt.f, gen).Synthesize(context.Background(), testPlant())

			assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
			assert.Zero(t, gen.CallCount())
		})
	}
}

func TestSynthesize_InjectsMissingTreatment(t *testing.T) {
	gen := &testutil.ScriptedGenerator{Responses: []string{planJSON(7)}}
	plant := testPlant(diseaseWithScore("Late blight", 8))

	plan, err := newTestSynthesizer(&stubForecaster{days: mildForecast()}, gen).Synthesize(context.Background(), plant)
	require.NoError(t, err)

	assert.Equal(t, models.SourceLLM, plan.Source)
	assert.Equal(t, []int{0, 1}, actionDays(plan, models.ActionProtect))
	a := plan.Days[0].Actions[0]
	assert.Equal(t, models.ActionProtect, a.Type)
	assert.Contains(t, a.Description, "Late blight")
}

func TestSynthesize_KeepsGeneratedTreatment(t *testing.T) {
	text := `{"next7Days": [{"actions": []}, {"actions": [{"type": "protect", "time": "08:00", "description": "Spray copper", "products": ["Copper oxychloride"]}]}], "summary": "x"}`
	gen := &testutil.ScriptedGenerator{Responses: []string{text}}
	plant := testPlant(diseaseWithScore("Late blight", 6))

	plan, err := newTestSynthesizer(&stubForecaster{days: mildForecast()}, gen).Synthesize(context.Background(), plant)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, actionDays(plan, models.ActionProtect))
}

func TestSynthesize_PreservesUnchangedActions(t *testing.T) {
	gen := &testutil.ScriptedGenerator{Responses: []string{planJSON(7)}}
	s := newTestSynthesizer(&stubForecaster{days: mildForecast()}, gen)
	plant := testPlant()

	first, err := s.Synthesize(context.Background(), plant)
	require.NoError(t, err)
	done := testNow.Add(time.Hour)
	first.Days[0].Actions[0].Completed = true
	first.Days[0].Actions[0].CompletedAt = &done
	first.Days[0].Actions[0].TaskAnalysis = &models.TaskAnalysis{Steps: []string{"step"}}
	plant.CarePlan = first

	second, err := s.Synthesize(context.Background(), plant)
	require.NoError(t, err)

	kept := second.Days[0].Actions[0]
	assert.Equal(t, first.Days[0].Actions[0].ID, kept.ID)
	assert.True(t, kept.Completed)
	assert.Equal(t, &done, kept.CompletedAt)
	assert.NotNil(t, kept.TaskAnalysis)
	assert.False(t, second.Days[1].Actions[0].Completed)
}

func TestSynthesize_TreatmentWindowProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	responses := []string{planJSON(0), planJSON(2), planJSON(7), planJSON(12), "garbage", `{"next7Days": null}`}

	for i := 0; i < 200; i++ {
		var records []models.DiseaseRecord
		for j := rng.Intn(3); j > 0; j-- {
			records = append(records, diseaseWithScore(fmt.Sprintf("Disease %d", j), rng.Intn(11)))
		}
		gen := &testutil.ScriptedGenerator{Responses: []string{responses[rng.Intn(len(responses))]}}
		plant := testPlant(records...)

		plan, err := newTestSynthesizer(&stubForecaster{days: mildForecast()}, gen).Synthesize(context.Background(), plant)
		require.NoError(t, err)
		require.Len(t, plan.Days, models.PlanDays)

		worst := 0
		for _, r := range records {
			worst = max(worst, r.SeverityScore)
		}
		protect := actionDays(plan, models.ActionProtect)
		if worst == 0 {
			assert.Empty(t, protect, "iteration %d", i)
			continue
		}
		window := min(4, disease.IntensityFor(disease.TierFor(worst)).Window)
		require.NotEmpty(t, protect, "iteration %d", i)
		assert.Less(t, protect[0], window, "iteration %d", i)
	}
}
