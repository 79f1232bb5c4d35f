package disease

// Tier buckets a severity score into a treatment intensity class.
type Tier string

const (
	TierResolved       Tier = "resolved"
	TierAlmostResolved Tier = "almost_resolved"
	TierImproving      Tier = "improving"
	TierModerate       Tier = "moderate"
	TierSevere         Tier = "severe"
	TierCritical       Tier = "critical"
)

// TierFor returns the tier for a score.
func TierFor(score int) Tier {
	switch {
	case score <= 0:
		return TierResolved
	case score <= 2:
		return TierAlmostResolved
	case score <= 4:
		return TierImproving
	case score <= 6:
		return TierModerate
	case score <= 8:
		return TierSevere
	default:
		return TierCritical
	}
}

// tierRank orders tiers from mildest to most severe.
var tierRank = map[Tier]int{
	TierResolved:       0,
	TierAlmostResolved: 1,
	TierImproving:      2,
	TierModerate:       3,
	TierSevere:         4,
	TierCritical:       5,
}

// Intensity is the action density a tier requires over the plan horizon.
type Intensity struct {
	Tier Tier
	// Window is the number of leading days in which treatment must appear.
	Window int
	// TreatmentDays are the day indices that carry treatment actions.
	TreatmentDays []int
	// PerDay is the number of treatment applications on each treatment day.
	PerDay int
	// Chemical reports whether chemical products are appropriate.
	Chemical bool
	// MonitorDays are the day indices that carry a monitoring check.
	MonitorDays []int
	// Guidance is the instruction handed to the generator.
	Guidance string
}

var intensities = map[Tier]Intensity{
	TierCritical: {
		Tier: TierCritical, Window: 4, TreatmentDays: []int{0, 1, 2, 3}, PerDay: 2, Chemical: true,
		MonitorDays: []int{4, 5, 6},
		Guidance:    "CRITICAL: schedule protect (treatment) actions on 4 of the first 4 days, twice daily (morning and evening). Use the strongest suitable chemical treatment combined with biological and cultural measures. Add daily checks afterwards.",
	},
	TierSevere: {
		Tier: TierSevere, Window: 4, TreatmentDays: []int{0, 1, 3}, PerDay: 1, Chemical: true,
		MonitorDays: []int{2, 5},
		Guidance:    "SEVERE: schedule protect (treatment) actions on 3 of the first 4 days, once daily. Prefer the selected chemical treatment and support it with biological and cultural measures.",
	},
	TierModerate: {
		Tier: TierModerate, Window: 4, TreatmentDays: []int{0, 2}, PerDay: 1, Chemical: true,
		MonitorDays: []int{4},
		Guidance:    "MODERATE: schedule protect (treatment) actions on 2 of the first 4 days. Start with biological options; use chemical treatment only if symptoms spread.",
	},
	TierImproving: {
		Tier: TierImproving, Window: 3, TreatmentDays: []int{0}, PerDay: 1, Chemical: false,
		MonitorDays: []int{2, 5},
		Guidance:    "IMPROVING: schedule one protect (treatment) action within the first 3 days using biological or cultural measures only, then monitor.",
	},
	TierAlmostResolved: {
		Tier: TierAlmostResolved, Window: 1, TreatmentDays: []int{0}, PerDay: 1, Chemical: false,
		MonitorDays: []int{3},
		Guidance:    "ALMOST RESOLVED: zero chemical treatment actions. Add a single preventive cultural protect action on day 1 (e.g. remove affected leaves) and otherwise only monitoring checks.",
	},
	TierResolved: {
		Tier: TierResolved,
	},
}

// IntensityFor returns the action density table entry for a tier.
func IntensityFor(t Tier) Intensity {
	return intensities[t]
}

// Severest returns the most severe tier among the given scores.
func Severest(scores ...int) Tier {
	worst := TierResolved
	for _, s := range scores {
		if t := TierFor(s); tierRank[t] > tierRank[worst] {
			worst = t
		}
	}
	return worst
}
