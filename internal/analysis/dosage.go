package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/fentz26/cropcare/internal/models"
)

// Soil adjustments in percent of the base dosage.
const (
	sandyAdjustmentPct = 15.0
	clayAdjustmentPct  = -15.0
)

// SoilAdjustmentPct returns the dosage adjustment for a soil type. Sandy
// soils drain and leach faster, clay soils hold product longer, loam and
// alluvial soils are the baseline.
func SoilAdjustmentPct(soil string) float64 {
	s := strings.ToLower(soil)
	switch {
	case strings.Contains(s, "sand"):
		return sandyAdjustmentPct
	case strings.Contains(s, "clay"):
		return clayAdjustmentPct
	default:
		return 0
	}
}

// ComputeDosage scales a per-plant base dosage to the planting and soil.
func ComputeDosage(product string, basePerUnit float64, unit string, quantity int, soil string) *models.DosageCalculation {
	quantity = max(quantity, 1)
	pct := SoilAdjustmentPct(soil)
	total := basePerUnit * float64(quantity) * (1 + pct/100)
	total = math.Round(total*100) / 100

	explanation := fmt.Sprintf("%g %s × %d plants", basePerUnit, unit, quantity)
	if pct != 0 {
		explanation += fmt.Sprintf(" × %.2f (%s soil)", 1+pct/100, soil)
	}
	explanation += fmt.Sprintf(" = %.2f %s", total, unit)

	return &models.DosageCalculation{
		Product:           product,
		BasePerUnit:       basePerUnit,
		Unit:              unit,
		Quantity:          quantity,
		SoilType:          soil,
		SoilAdjustmentPct: pct,
		Total:             total,
		Explanation:       explanation,
	}
}
