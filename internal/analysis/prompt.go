package analysis

import (
	"fmt"
	"strings"

	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/treatment"
	"github.com/fentz26/cropcare/internal/weather"
)

// taskInput is everything the analysis prompt covers for one action.
type taskInput struct {
	Plant      *models.Plant
	Action     models.Action
	Day        weather.Classification
	Products   []treatment.Product
	Treatments []diseaseOptions
}

type diseaseOptions struct {
	Disease string
	Groups  []models.TreatmentGroup
}

// buildTaskPrompt renders the narrow request for a single action.
func buildTaskPrompt(in taskInput) string {
	var b strings.Builder
	p := in.Plant

	b.WriteString("You are an agronomist explaining how to carry out one scheduled task.\n\n")

	b.WriteString("## Task\n")
	fmt.Fprintf(&b, "- Type: %s\n", in.Action.Type)
	fmt.Fprintf(&b, "- Time: %s\n", in.Action.Time)
	fmt.Fprintf(&b, "- Description: %s\n", in.Action.Description)
	if in.Action.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", in.Action.Reason)
	}
	if len(in.Action.Products) > 0 {
		fmt.Fprintf(&b, "- Products: %s\n", strings.Join(in.Action.Products, "; "))
	}

	b.WriteString("\n## Planting\n")
	fmt.Fprintf(&b, "- Crop: %s\n", p.CropName)
	fmt.Fprintf(&b, "- Quantity: %d plants\n", p.Quantity)
	if p.Location.AreaSqM > 0 {
		fmt.Fprintf(&b, "- Area: %.0f m²\n", p.Location.AreaSqM)
	}
	if soil := p.PrimarySoil(); soil != "" {
		fmt.Fprintf(&b, "- Soil: %s\n", soil)
	}

	d := in.Day
	b.WriteString("\n## Weather that day\n")
	fmt.Fprintf(&b, "%.0f–%.0f°C [%s], humidity %.0f%% [%s], rain %.1f mm [%s].",
		d.Raw.TempMin, d.Raw.TempMax, d.Temperature, d.Raw.Humidity, d.Humidity, d.Raw.RainMm, d.Rain)
	if len(d.Alerts) > 0 {
		fmt.Fprintf(&b, " Alerts: %s.", strings.Join(d.Alerts, "; "))
	}
	b.WriteString("\n")

	if len(in.Products) > 0 {
		b.WriteString("\n## Product reference dosages\n")
		for _, prod := range in.Products {
			fmt.Fprintf(&b, "- %s (%s): %g %s per plant", prod.Name, prod.Kind, prod.BasePerPlant, prod.Unit)
			if prod.Per != "" {
				fmt.Fprintf(&b, ", mixed in %s", prod.Per)
			}
			b.WriteString("\n")
		}
		b.WriteString("The dosage total is computed separately; do not calculate it.\n")
	}

	if len(in.Treatments) > 0 {
		b.WriteString("\n## Related treatment options\n")
		for _, opt := range in.Treatments {
			for _, g := range opt.Groups {
				fmt.Fprintf(&b, "- %s, %s: %s\n", opt.Disease, g.Kind, strings.Join(g.Items, "; "))
			}
		}
	}

	b.WriteString("\n## Output format\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{
  "steps": ["step 1", "step 2"],
  "materials": ["item"],
  "precautions": ["precaution"],
  "tips": ["tip"],
  "duration": "e.g. 20-30 minutes"
}
`)
	return b.String()
}
