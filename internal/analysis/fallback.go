package analysis

import "github.com/fentz26/cropcare/internal/models"

const defaultDuration = "15-30 minutes"

var fallbackSteps = map[models.ActionType][]string{
	models.ActionWater: {
		"Check soil moisture a few centimetres below the surface",
		"Water slowly at the base of each plant, avoiding the leaves",
		"Stop when the top layer is evenly moist",
	},
	models.ActionFertilize: {
		"Measure the fertilizer according to the label",
		"Spread it evenly around the root zone, away from the stem",
		"Water lightly to move it into the soil",
	},
	models.ActionPrune: {
		"Disinfect the pruning tool",
		"Remove damaged, diseased or crowded growth",
		"Dispose of cuttings away from the planting",
	},
	models.ActionCheck: {
		"Inspect both sides of the leaves and the stems",
		"Note any spots, wilting or pests",
		"Record what you see for the next update",
	},
	models.ActionProtect: {
		"Prepare the product according to the label",
		"Apply evenly in calm, dry conditions",
		"Clean equipment and wash hands afterwards",
	},
}

var fallbackPrecautions = []string{
	"Follow the product label and local regulations",
	"Wear gloves when handling products",
}

// fallbackAnalysis is the fixed minimal analysis used when generation fails.
func fallbackAnalysis(a models.Action) *models.TaskAnalysis {
	steps, ok := fallbackSteps[a.Type]
	if !ok {
		steps = fallbackSteps[models.ActionCheck]
	}
	return &models.TaskAnalysis{
		Steps:       append([]string(nil), steps...),
		Materials:   append([]string{}, a.Products...),
		Precautions: append([]string(nil), fallbackPrecautions...),
		Duration:    defaultDuration,
		Source:      models.SourceFallback,
	}
}
