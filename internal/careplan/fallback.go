package careplan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/weather"
)

// wateringsPerWeek is the cadence of scheduled waterings on even day indices.
const wateringsPerWeek = 3

// frostC is the overnight minimum at or below which plants need covering.
const frostC = 2.0

// treatmentTimes are the application times for one, or two, treatments a day.
var treatmentTimes = []string{"07:30", "17:30"}

// litersPerPlant is the watering volume per plant by need.
var litersPerPlant = map[weather.WateringNeed]float64{
	weather.WateringNormal:   1.0,
	weather.WateringModerate: 1.5,
	weather.WateringHigh:     2.0,
}

// GenerateFallback derives a complete 7-day plan from classified weather and
// disease tiers alone. It never calls the generator.
func GenerateFallback(pc PlanContext, newID func() string) *models.CarePlan {
	days := make([]models.DayPlan, models.PlanDays)
	for i := range days {
		days[i] = models.DayPlan{
			Date:    dateAt(pc, i),
			Weather: dayWeather(pc, i).Snapshot(),
			Actions: []models.Action{},
		}
	}

	waterings := scheduleWatering(pc, days, newID)

	tier := pc.Tier()
	in := disease.IntensityFor(tier)
	for _, d := range in.TreatmentDays {
		for slot := 0; slot < in.PerDay; slot++ {
			days[d].Actions = append(days[d].Actions, treatmentAction(pc, in, d, slot, newID))
		}
	}
	for _, d := range in.MonitorDays {
		days[d].Actions = append(days[d].Actions, models.Action{
			ID:          newID(),
			Type:        models.ActionCheck,
			Category:    models.CategoryMonitoring,
			Time:        "09:00",
			Description: fmt.Sprintf("Inspect leaves for %s and note any spread or new spots", strings.Join(pc.DiseaseNames(), ", ")),
			Reason:      fmt.Sprintf("Track %s progress before the next feedback", tierLabel(tier)),
		})
	}

	for i := range days {
		c := dayWeather(pc, i)
		if tier == disease.TierResolved && (c.Humidity == weather.HumidityHigh || c.Humidity == weather.HumidityVeryHigh) {
			days[i].Actions = append(days[i].Actions, models.Action{
				ID:          newID(),
				Type:        models.ActionCheck,
				Category:    models.CategoryMonitoring,
				Time:        "09:00",
				Description: "Check lower leaves for early fungal spots",
				Reason:      fmt.Sprintf("Humidity around %.0f%% raises fungal risk", c.Raw.Humidity),
			})
		}
		if c.Temperature == weather.TempVeryHigh {
			days[i].Actions = append(days[i].Actions, models.Action{
				ID:          newID(),
				Type:        models.ActionCheck,
				Category:    models.CategoryCare,
				Time:        "11:00",
				Description: "Shade plants during the afternoon and mulch to keep roots cool",
				Reason:      fmt.Sprintf("Heat stress expected (%.0f°C)", c.Raw.TempMax),
			})
		}
		if c.Raw.Date != "" && c.Raw.TempMin <= frostC {
			days[i].Actions = append(days[i].Actions, models.Action{
				ID:          newID(),
				Type:        models.ActionCheck,
				Category:    models.CategoryCare,
				Time:        "18:00",
				Description: "Cover plants overnight",
				Reason:      fmt.Sprintf("Frost risk (minimum %.0f°C)", c.Raw.TempMin),
			})
		}
	}

	if fertilizeStage(pc.Plant.GrowthStage) && tier != disease.TierSevere && tier != disease.TierCritical {
		const fertilizeDay = 5
		if c := dayWeather(pc, fertilizeDay); c.Raw.RainMm < weather.SkipWateringRainMm {
			days[fertilizeDay].Actions = append(days[fertilizeDay].Actions, models.Action{
				ID:          newID(),
				Type:        models.ActionFertilize,
				Category:    models.CategoryCare,
				Time:        "08:30",
				Description: "Apply balanced NPK fertilizer around the root zone and water it in lightly",
				Reason:      fmt.Sprintf("Supports the %s stage", pc.Plant.GrowthStage),
			})
		}
	}

	for i := range days {
		slices.SortStableFunc(days[i].Actions, func(a, b models.Action) int {
			return strings.Compare(a.Time, b.Time)
		})
	}

	return &models.CarePlan{
		Days:    days,
		Summary: fallbackSummary(pc, tier, waterings),
		Source:  models.SourceFallback,
	}
}

// scheduleWatering waters on even day indices until the weekly cadence is
// met, skipping rainy days, and adds a watering on any high-need day.
func scheduleWatering(pc PlanContext, days []models.DayPlan, newID func() string) int {
	cadence, total := 0, 0
	for i := range days {
		c := dayWeather(pc, i)
		if c.Raw.RainMm >= weather.SkipWateringRainMm || c.Watering == weather.WateringNo {
			continue
		}
		onCadence := i%2 == 0 && cadence < wateringsPerWeek
		if !onCadence && c.Watering != weather.WateringHigh {
			continue
		}
		if onCadence {
			cadence++
		}
		total++
		days[i].Actions = append(days[i].Actions, wateringAction(pc, c, newID))
	}
	return total
}

func wateringAction(pc PlanContext, c weather.Classification, newID func() string) models.Action {
	need := c.Watering
	if _, ok := litersPerPlant[need]; !ok {
		need = weather.WateringNormal
	}
	desc := fmt.Sprintf("Water at the base, about %.1f L per plant", litersPerPlant[need])
	if need == weather.WateringHigh {
		desc = "Deep-" + strings.ToLower(desc[:1]) + desc[1:]
	}
	if pc.Plant.Quantity > 1 {
		desc += fmt.Sprintf(" (%.0f L for %d plants)", litersPerPlant[need]*float64(pc.Plant.Quantity), pc.Plant.Quantity)
	}
	reason := c.WateringReason
	if reason == "" {
		reason = "Regular watering cadence"
	}
	return models.Action{
		ID:          newID(),
		Type:        models.ActionWater,
		Category:    models.CategoryCare,
		Time:        "07:00",
		Description: desc,
		Reason:      reason,
	}
}

// treatmentAction builds one protect action naming every active disease and
// the products appropriate for the tier.
func treatmentAction(pc PlanContext, in disease.Intensity, day, slot int, newID func() string) models.Action {
	var products []string
	for _, d := range pc.Diseases {
		products = appendFirst(products, treatmentProducts(d, in)...)
	}

	names := strings.Join(pc.DiseaseNames(), ", ")
	var desc string
	switch {
	case len(products) == 0:
		desc = fmt.Sprintf("Remove and destroy leaves affected by %s", names)
	case in.Tier == disease.TierAlmostResolved:
		desc = fmt.Sprintf("Preventive care for %s: %s", names, strings.Join(products, "; "))
	default:
		desc = fmt.Sprintf("Treat %s: apply %s", names, strings.Join(products, " + "))
	}

	reason := fmt.Sprintf("Severity tier: %s", tierLabel(in.Tier))
	if c := dayWeather(pc, day); c.Raw.RainMm >= weather.SkipWateringRainMm {
		reason += "; rain expected, apply once foliage is dry"
	}
	return models.Action{
		ID:          newID(),
		Type:        models.ActionProtect,
		Category:    models.CategoryTreatment,
		Time:        treatmentTimes[min(slot, len(treatmentTimes)-1)],
		Description: desc,
		Reason:      reason,
		Products:    products,
	}
}

// treatmentProducts picks the leading candidates of each kind the tier
// allows. User selections lead the chemical group.
func treatmentProducts(d DiseaseContext, in disease.Intensity) []string {
	var out []string
	first := func(kind models.TreatmentKind) {
		if items := d.Candidates(kind); len(items) > 0 {
			out = append(out, items[0])
		}
	}
	switch in.Tier {
	case disease.TierAlmostResolved:
		first(models.TreatmentCultural)
	case disease.TierImproving:
		first(models.TreatmentBiological)
		first(models.TreatmentCultural)
	default:
		if in.Chemical {
			first(models.TreatmentChemical)
		}
		first(models.TreatmentBiological)
	}
	return out
}

func appendFirst(dst []string, items ...string) []string {
	for _, it := range items {
		if !contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}

func fertilizeStage(stage string) bool {
	s := strings.ToLower(stage)
	return strings.Contains(s, "vegetative") || strings.Contains(s, "flowering")
}

func fallbackSummary(pc PlanContext, tier disease.Tier, waterings int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weather-based plan for %s with %d waterings this week.", pc.Plant.CropName, waterings)
	if len(pc.Diseases) > 0 {
		fmt.Fprintf(&b, " %s: %s treatment schedule.", strings.Join(pc.DiseaseNames(), ", "), tierLabel(tier))
	}
	b.WriteString(" Generated without the planning assistant; refresh later for a detailed plan.")
	return b.String()
}

// dayWeather returns the classification for day i, or a neutral day when the
// forecast is short.
func dayWeather(pc PlanContext, i int) weather.Classification {
	if i < len(pc.Days) {
		return pc.Days[i]
	}
	return weather.Classification{Watering: weather.WateringNormal}
}

func dateAt(pc PlanContext, i int) string {
	if i < len(pc.Days) && pc.Days[i].Date != "" {
		return pc.Days[i].Date
	}
	return pc.Now.AddDate(0, 0, i).Format(models.DateLayout)
}
