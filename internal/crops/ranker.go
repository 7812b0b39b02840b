package crops

import (
	"sort"
	"strings"

	"github.com/agsys/soil-advisor/internal/soil"
)

// Factor point budgets
const (
	pointsPHOptimal     = 20
	pointsPHAcceptable  = 10
	pointsNutrientGood  = 15
	pointsNutrientFair  = 8
	pointsMoistureFit   = 20
	pointsMoistureOff   = 5
	pointsOrganicRich   = 15
	pointsOrganicLow    = 5
	maxSuitabilityScore = 100
)

// Suggestion is a catalog profile scored against one measurement.
// It is recomputed on every request and never persisted.
type Suggestion struct {
	Profile
	SuitabilityScore int      `json:"suitabilityScore"`
	Reasons          []string `json:"reasons"`
}

// Ranker scores a catalog against soil measurements
type Ranker struct {
	catalog []Profile
}

// NewRanker creates a ranker over the given profiles; nil means the reference catalog
func NewRanker(profiles []Profile) *Ranker {
	if profiles == nil {
		profiles = Catalog()
	}
	return &Ranker{catalog: profiles}
}

// Rank scores every profile and sorts by descending suitability.
// Ties keep catalog order.
func (r *Ranker) Rank(m *soil.Measurement) []Suggestion {
	out := make([]Suggestion, 0, len(r.catalog))
	for _, p := range r.catalog {
		out = append(out, Score(p, m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SuitabilityScore > out[j].SuitabilityScore
	})
	return out
}

// Score evaluates one profile. Factors run in a fixed order
// (pH, nitrogen, phosphorus, potassium, moisture fit, organic matter)
// and each adds at most one reason.
//
// The nitrogen and potassium thresholds sit on a different scale from the
// 0-100 inputs the health scorer assumes; they are applied as written.
func Score(p Profile, m *soil.Measurement) Suggestion {
	score := 0
	reasons := make([]string, 0, 6)
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	switch {
	case m.PH >= 6.0 && m.PH <= 7.5:
		add(pointsPHOptimal, "Optimal soil pH")
	case m.PH >= 5.5 && m.PH <= 8.0:
		add(pointsPHAcceptable, "Acceptable soil pH")
	}

	switch {
	case m.Nitrogen >= 200:
		add(pointsNutrientGood, "Good nitrogen levels")
	case m.Nitrogen >= 100:
		add(pointsNutrientFair, "Moderate nitrogen")
	}

	switch {
	case m.Phosphorus >= 20:
		add(pointsNutrientGood, "Adequate phosphorus")
	case m.Phosphorus >= 10:
		add(pointsNutrientFair, "Low phosphorus - may need fertilizer")
	}

	switch {
	case m.Potassium >= 150:
		add(pointsNutrientGood, "Good potassium levels")
	case m.Potassium >= 75:
		add(pointsNutrientFair, "Moderate potassium")
	}

	switch {
	case p.WaterRequirement == TierHigh && m.Moisture >= 60:
		add(pointsMoistureFit, "High moisture suits water-loving crop")
	case p.WaterRequirement == TierMedium && m.Moisture >= 40 && m.Moisture <= 70:
		add(pointsMoistureFit, "Balanced moisture levels")
	case p.WaterRequirement == TierLow && m.Moisture <= 50:
		add(pointsMoistureFit, "Low water requirement matches soil moisture")
	default:
		add(pointsMoistureOff, "Moisture management needed")
	}

	if m.OrganicMatter >= 2 {
		add(pointsOrganicRich, "Rich organic matter")
	} else {
		add(pointsOrganicLow, "Low organic matter - add compost")
	}

	if score > maxSuitabilityScore {
		score = maxSuitabilityScore
	}
	if score < 0 {
		score = 0
	}

	return Suggestion{
		Profile:          p,
		SuitabilityScore: score,
		Reasons:          reasons,
	}
}

// FilterByWater keeps suggestions with the given water requirement, preserving order
func FilterByWater(list []Suggestion, tier Tier) []Suggestion {
	return filter(list, func(s Suggestion) bool { return s.WaterRequirement == tier })
}

// FilterBySeason keeps suggestions whose best season mentions season (case-insensitive).
// "Year-round" crops always match.
func FilterBySeason(list []Suggestion, season string) []Suggestion {
	want := strings.ToLower(strings.TrimSpace(season))
	return filter(list, func(s Suggestion) bool {
		best := strings.ToLower(s.BestSeason)
		return best == "year-round" || strings.Contains(best, want)
	})
}

func filter(list []Suggestion, keep func(Suggestion) bool) []Suggestion {
	out := make([]Suggestion, 0, len(list))
	for _, s := range list {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
