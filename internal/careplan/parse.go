package careplan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fentz26/cropcare/internal/llm"
	"github.com/fentz26/cropcare/internal/models"
)

// maxActionsPerDay caps generated actions on a single day. The prompt asks
// for the same limit.
const maxActionsPerDay = 6

// GeneratedDay is one day of generator output before normalization.
type GeneratedDay struct {
	Date    string            `json:"date"`
	Actions []GeneratedAction `json:"actions"`
}

// GeneratedAction is one generated action before normalization.
type GeneratedAction struct {
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Time        string     `json:"time"`
	Description string     `json:"description"`
	Reason      string     `json:"reason"`
	Products    stringList `json:"products"`
}

// GeneratedPlan is the structurally valid part of a generator response.
type GeneratedPlan struct {
	Days    []GeneratedDay
	Summary string
}

type planEnvelope struct {
	Next7Days json.RawMessage `json:"next7Days"`
	Summary   string          `json:"summary"`
}

// ParsePlanResponse repairs and decodes a generator response. It fails with
// models.ErrGenerationMalformed when next7Days is missing or not a list. Days
// or actions that do not decode are kept as empty slots so the positional
// alignment with the forecast survives.
func ParsePlanResponse(text string) (*GeneratedPlan, error) {
	var env planEnvelope
	if err := llm.Decode(text, &env); err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(string(env.Next7Days))
	if raw == "" || raw == "null" {
		return nil, fmt.Errorf("%w: next7Days missing", models.ErrGenerationMalformed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(env.Next7Days, &items); err != nil {
		return nil, fmt.Errorf("%w: next7Days is not a list", models.ErrGenerationMalformed)
	}

	plan := &GeneratedPlan{Summary: strings.TrimSpace(env.Summary)}
	for _, item := range items {
		plan.Days = append(plan.Days, decodeDay(item))
	}
	return plan, nil
}

func decodeDay(item json.RawMessage) GeneratedDay {
	var shell struct {
		Date    string            `json:"date"`
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(item, &shell); err != nil {
		return GeneratedDay{}
	}
	day := GeneratedDay{Date: strings.TrimSpace(shell.Date)}
	for _, a := range shell.Actions {
		var ga GeneratedAction
		if err := json.Unmarshal(a, &ga); err != nil {
			continue
		}
		day.Actions = append(day.Actions, ga)
	}
	return day
}

// stringList accepts either a JSON string or a list of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			*s = stringList{one}
		}
		return nil
	}
	var many []any
	if err := json.Unmarshal(data, &many); err != nil {
		return nil
	}
	for _, v := range many {
		if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
			*s = append(*s, strings.TrimSpace(str))
		}
	}
	return nil
}

var typeAliases = map[string]models.ActionType{
	"water":      models.ActionWater,
	"watering":   models.ActionWater,
	"irrigate":   models.ActionWater,
	"irrigation": models.ActionWater,
	"fertilize":  models.ActionFertilize,
	"fertilise":  models.ActionFertilize,
	"fertilizer": models.ActionFertilize,
	"feed":       models.ActionFertilize,
	"prune":      models.ActionPrune,
	"pruning":    models.ActionPrune,
	"check":      models.ActionCheck,
	"inspect":    models.ActionCheck,
	"monitor":    models.ActionCheck,
	"monitoring": models.ActionCheck,
	"protect":    models.ActionProtect,
	"protection": models.ActionProtect,
	"spray":      models.ActionProtect,
	"treat":      models.ActionProtect,
	"treatment":  models.ActionProtect,
}

// treatmentWords flags free text that describes a treatment. It only decides
// the type of actions whose declared type is unknown; coverage checks use the
// structured type and category.
var treatmentWords = []string{"spray", "fungicide", "insecticide", "pesticide", "bactericide", "treat", "neem", "copper"}

var defaultTimes = map[models.ActionType]string{
	models.ActionWater:     "07:00",
	models.ActionProtect:   "08:00",
	models.ActionFertilize: "08:30",
	models.ActionCheck:     "09:00",
	models.ActionPrune:     "16:00",
}

var defaultDescriptions = map[models.ActionType]string{
	models.ActionWater:     "Water at the base of the plants",
	models.ActionProtect:   "Apply protective treatment",
	models.ActionFertilize: "Apply fertilizer",
	models.ActionCheck:     "Inspect plants",
	models.ActionPrune:     "Prune damaged growth",
}

// normalizeAction turns a generated action into a valid Action with a fresh id.
func normalizeAction(ga GeneratedAction, newID func() string) models.Action {
	desc := strings.TrimSpace(ga.Description)
	t := normalizeType(ga.Type, desc)
	if desc == "" {
		desc = defaultDescriptions[t]
	}
	return models.Action{
		ID:          newID(),
		Type:        t,
		Category:    normalizeCategory(ga.Category, t),
		Time:        normalizeTime(ga.Time, t),
		Description: desc,
		Reason:      strings.TrimSpace(ga.Reason),
		Products:    []string(ga.Products),
	}
}

func normalizeType(raw, desc string) models.ActionType {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	if t, ok := typeAliases[key]; ok {
		return t
	}
	lower := strings.ToLower(desc)
	for _, w := range treatmentWords {
		if strings.Contains(lower, w) {
			return models.ActionProtect
		}
	}
	return models.ActionCheck
}

func normalizeCategory(raw string, t models.ActionType) models.ActionCategory {
	if t == models.ActionProtect {
		return models.CategoryTreatment
	}
	switch c := models.ActionCategory(strings.ToLower(strings.TrimSpace(raw))); c {
	case models.CategoryMonitoring, models.CategoryCare:
		return c
	}
	if t == models.ActionCheck {
		return models.CategoryMonitoring
	}
	return models.CategoryCare
}

// normalizeTime accepts H:MM or HH:MM in 24-hour form and returns HH:MM, or
// the per-type default when the input is not a valid time.
func normalizeTime(raw string, t models.ActionType) string {
	var h, m int
	var rest string
	n, _ := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d%s", &h, &m, &rest)
	if n == 2 && h >= 0 && h < 24 && m >= 0 && m < 60 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return defaultTimes[t]
}
