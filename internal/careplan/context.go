// Package careplan synthesizes 7-day care plans. A plan is generated from a
// prompt built over classified weather and disease state, validated and
// repaired against the plan invariants, and replaced by a rule-based plan
// whenever generation fails.
package careplan

import (
	"context"
	"log/slog"
	"time"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/treatment"
	"github.com/fentz26/cropcare/internal/weather"
)

// DiseaseContext is one active disease with its tier and treatment candidates.
type DiseaseContext struct {
	Name      string
	Symptoms  []string
	Score     int
	Tier      disease.Tier
	Intensity disease.Intensity
	// Treatments holds chemical (only when the tier allows it), biological and
	// cultural candidates, user-selected chemicals first.
	Treatments []models.TreatmentGroup
	Selected   []string
}

// Candidates returns the items of one treatment kind.
func (d DiseaseContext) Candidates(kind models.TreatmentKind) []string {
	for _, g := range d.Treatments {
		if g.Kind == kind {
			return g.Items
		}
	}
	return nil
}

// PlanContext is everything a plan is derived from.
type PlanContext struct {
	Plant    *models.Plant
	Days     []weather.Classification
	Diseases []DiseaseContext
	Now      time.Time
}

// Tier returns the most severe tier among the active diseases.
func (pc PlanContext) Tier() disease.Tier {
	scores := make([]int, len(pc.Diseases))
	for i, d := range pc.Diseases {
		scores[i] = d.Score
	}
	return disease.Severest(scores...)
}

// DiseaseNames lists the active disease names in record order.
func (pc PlanContext) DiseaseNames() []string {
	names := make([]string, len(pc.Diseases))
	for i, d := range pc.Diseases {
		names[i] = d.Name
	}
	return names
}

// BuildContext classifies the forecast and collects treatment candidates for
// every unresolved disease. A catalog failure is logged and leaves that
// disease with only its user selection.
func BuildContext(ctx context.Context, catalog treatment.Catalog, logger *slog.Logger, plant *models.Plant, forecast []models.ForecastDay, now time.Time) PlanContext {
	if logger == nil {
		logger = slog.Default()
	}
	pc := PlanContext{
		Plant: plant,
		Days:  weather.ClassifyAll(forecast),
		Now:   now,
	}

	for _, rec := range disease.Active(plant.Diseases) {
		score := disease.CurrentScore(&rec)
		if score <= 0 {
			continue
		}
		tier := disease.TierFor(score)
		dc := DiseaseContext{
			Name:      rec.Name,
			Symptoms:  rec.Symptoms,
			Score:     score,
			Tier:      tier,
			Intensity: disease.IntensityFor(tier),
			Selected:  rec.SelectedTreatments,
		}

		var groups []models.TreatmentGroup
		if catalog != nil {
			var err error
			groups, err = catalog.LookupTreatments(ctx, rec.Name, plant.CropName)
			if err != nil {
				logger.Warn("Treatment lookup failed",
					"plant_id", plant.ID,
					"disease", rec.Name,
					"error", err)
				groups = nil
			}
		}
		dc.Treatments = mergeTreatments(groups, rec.SelectedTreatments, dc.Intensity.Chemical)
		pc.Diseases = append(pc.Diseases, dc)
	}
	return pc
}

// mergeTreatments puts user-selected chemicals ahead of catalog chemicals and
// drops the chemical group entirely when the tier does not allow it.
func mergeTreatments(groups []models.TreatmentGroup, selected []string, chemical bool) []models.TreatmentGroup {
	var out []models.TreatmentGroup
	if chemical {
		items := append([]string(nil), selected...)
		for _, g := range groups {
			if g.Kind != models.TreatmentChemical {
				continue
			}
			for _, it := range g.Items {
				if !contains(items, it) {
					items = append(items, it)
				}
			}
		}
		if len(items) > 0 {
			out = append(out, models.TreatmentGroup{Kind: models.TreatmentChemical, Items: items})
		}
	}
	for _, g := range groups {
		if g.Kind == models.TreatmentBiological || g.Kind == models.TreatmentCultural {
			out = append(out, g)
		}
	}
	return out
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
