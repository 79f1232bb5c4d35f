package careplan

import (
	"fmt"
	"strings"

	"github.com/fentz26/cropcare/internal/disease"
	"github.com/fentz26/cropcare/internal/models"
)

// BuildPlanPrompt renders the generation request for a 7-day plan. Weather is
// given to the generator as input only; the output format never asks for it.
func BuildPlanPrompt(pc PlanContext) string {
	var b strings.Builder
	p := pc.Plant

	b.WriteString("You are an agronomist preparing a 7-day care plan for a home or smallholder grower.\n\n")

	b.WriteString("## Plant\n")
	fmt.Fprintf(&b, "- Crop: %s\n", p.CropName)
	if !p.PlantingDate.IsZero() {
		age := int(pc.Now.Sub(p.PlantingDate).Hours() / 24)
		fmt.Fprintf(&b, "- Planted: %s (%d days ago)\n", p.PlantingDate.Format(models.DateLayout), max(age, 0))
	}
	writeOptional(&b, "Growth stage", p.GrowthStage)
	writeOptional(&b, "Current health", p.CurrentHealth)
	fmt.Fprintf(&b, "- Quantity: %d plants\n", p.Quantity)
	if p.Location.AreaSqM > 0 {
		fmt.Fprintf(&b, "- Area: %.0f m²\n", p.Location.AreaSqM)
	}
	if len(p.Location.SoilTypes) > 0 {
		fmt.Fprintf(&b, "- Soil: %s\n", strings.Join(p.Location.SoilTypes, ", "))
	}
	writeOptional(&b, "Sunlight", p.Location.Sunlight)
	fmt.Fprintf(&b, "- Location: %.4f, %.4f\n\n", p.Location.Lat, p.Location.Lon)

	b.WriteString("## Weather for the next 7 days (already fetched; do not repeat it)\n")
	for i, d := range pc.Days {
		fmt.Fprintf(&b, "Day %d (%s): %.0f–%.0f°C [%s], humidity %.0f%% [%s], rain %.1f mm [%s]. Watering: %s (%s).",
			i+1, d.Date, d.Raw.TempMin, d.Raw.TempMax, d.Temperature,
			d.Raw.Humidity, d.Humidity, d.Raw.RainMm, d.Rain, d.Watering, d.WateringReason)
		if len(d.Alerts) > 0 {
			fmt.Fprintf(&b, " Alerts: %s.", strings.Join(d.Alerts, "; "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(pc.Diseases) > 0 {
		b.WriteString("## Active diseases and required treatment intensity\n")
		for _, d := range pc.Diseases {
			fmt.Fprintf(&b, "### %s (severity %d/10, %s)\n", d.Name, d.Score, d.Tier)
			if len(d.Symptoms) > 0 {
				fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(d.Symptoms, ", "))
			}
			b.WriteString(d.Intensity.Guidance + "\n")
			if len(d.Selected) > 0 && d.Intensity.Chemical {
				fmt.Fprintf(&b, "The grower selected: %s. Use these for chemical applications.\n", strings.Join(d.Selected, ", "))
			}
			for _, g := range d.Treatments {
				fmt.Fprintf(&b, "- %s options: %s\n", g.Kind, strings.Join(g.Items, "; "))
			}
			b.WriteString("\n")
		}
		b.WriteString("Every treatment action must use type \"protect\" and category \"treatment\", name the disease, and list the products used.\n\n")
	} else {
		b.WriteString("## Diseases\nNone reported. Do not schedule treatment (protect) actions; use monitoring checks on humid days instead.\n\n")
	}

	b.WriteString("## Rules\n")
	fmt.Fprintf(&b, "- Skip watering on days with %.0f mm rain or more.\n", 5.0)
	fmt.Fprintf(&b, "- Schedule at most %d actions per day and give each a 24-hour HH:MM time.\n", maxActionsPerDay)
	b.WriteString("- Allowed action types: water, fertilize, prune, check, protect.\n")
	b.WriteString("- Allowed categories: treatment, monitoring, care.\n\n")

	b.WriteString("## Output format\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{
  "next7Days": [
    {
      "date": "YYYY-MM-DD",
      "actions": [
        {
          "type": "water|fertilize|prune|check|protect",
          "category": "treatment|monitoring|care",
          "time": "HH:MM",
          "description": "what to do",
          "reason": "why, referencing weather or disease",
          "products": ["product name"]
        }
      ]
    }
  ],
  "summary": "two or three sentences for the grower"
}
`)
	fmt.Fprintf(&b, "next7Days must contain exactly %d entries, one per date above, in order. Do not include weather in the output.\n", models.PlanDays)
	return b.String()
}

func writeOptional(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, value)
	}
}

// tierLabel is the human-readable name of a tier used in generated text.
func tierLabel(t disease.Tier) string {
	return strings.ReplaceAll(string(t), "_", " ")
}
