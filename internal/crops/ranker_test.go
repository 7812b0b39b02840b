package crops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/soil-advisor/internal/soil"
)

func ids(list []Suggestion) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func byID(t *testing.T, list []Suggestion, id string) Suggestion {
	t.Helper()
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("crop %s not in ranking", id)
	return Suggestion{}
}

func TestCatalog_ReferenceEntries(t *testing.T) {
	c := Catalog()
	require.Len(t, c, 7)
	assert.Equal(t, []string{"rice", "wheat", "cotton", "sugarcane", "maize", "soybean", "groundnut"},
		[]string{c[0].ID, c[1].ID, c[2].ID, c[3].ID, c[4].ID, c[5].ID, c[6].ID})

	// Mutating the copy leaves the catalog untouched.
	c[0].Name = "changed"
	p, ok := Lookup("rice")
	require.True(t, ok)
	assert.Equal(t, "Rice", p.Name)
	assert.Equal(t, TierHigh, p.WaterRequirement)

	_, ok = Lookup("quinoa")
	assert.False(t, ok)
}

func TestRank_ReferenceScenario(t *testing.T) {
	m := &soil.Measurement{PH: 6.5, Nitrogen: 220, Phosphorus: 25, Potassium: 160, Moisture: 65, OrganicMatter: 3}

	ranked := NewRanker(nil).Rank(m)
	require.Len(t, ranked, 7)

	rice := byID(t, ranked, "rice")
	assert.Equal(t, 100, rice.SuitabilityScore)
	assert.Equal(t, []string{
		"Optimal soil pH",
		"Good nitrogen levels",
		"Adequate phosphorus",
		"Good potassium levels",
		"High moisture suits water-loving crop",
		"Rich organic matter",
	}, rice.Reasons)

	groundnut := byID(t, ranked, "groundnut")
	assert.Equal(t, 85, groundnut.SuitabilityScore)
	assert.Equal(t, "Moisture management needed", groundnut.Reasons[4])

	// Six crops tie at 100 and keep catalog order; groundnut is last.
	assert.Equal(t, []string{"rice", "wheat", "cotton", "sugarcane", "maize", "soybean", "groundnut"}, ids(ranked))
}

func TestRank_StableForTies(t *testing.T) {
	m := &soil.Measurement{PH: 6.5, Nitrogen: 220, Phosphorus: 25, Potassium: 160, Moisture: 80, OrganicMatter: 3}

	ranked := NewRanker(nil).Rank(m)
	assert.Equal(t, []string{"rice", "sugarcane", "wheat", "cotton", "maize", "soybean", "groundnut"}, ids(ranked))
	assert.Equal(t, 100, ranked[0].SuitabilityScore)
	assert.Equal(t, 85, ranked[2].SuitabilityScore)
}

func TestRank_PoorSoil(t *testing.T) {
	m := &soil.Measurement{PH: 4, Moisture: 30}

	ranked := NewRanker(nil).Rank(m)
	assert.Equal(t, "groundnut", ranked[0].ID)
	assert.Equal(t, 25, ranked[0].SuitabilityScore)
	assert.Equal(t, []string{
		"Low water requirement matches soil moisture",
		"Low organic matter - add compost",
	}, ranked[0].Reasons)

	for _, s := range ranked[1:] {
		assert.Equal(t, 10, s.SuitabilityScore, s.ID)
		assert.Len(t, s.Reasons, 2, s.ID)
	}
}

func TestScore_PartialTiers(t *testing.T) {
	wheat, ok := Lookup("wheat")
	require.True(t, ok)

	m := &soil.Measurement{PH: 5.6, Nitrogen: 150, Phosphorus: 12, Potassium: 80, Moisture: 50, OrganicMatter: 1}
	s := Score(wheat, m)

	assert.Equal(t, 10+8+8+8+20+5, s.SuitabilityScore)
	assert.Equal(t, []string{
		"Acceptable soil pH",
		"Moderate nitrogen",
		"Low phosphorus - may need fertilizer",
		"Moderate potassium",
		"Balanced moisture levels",
		"Low organic matter - add compost",
	}, s.Reasons)
}

// The nitrogen threshold is on a larger scale than the 0-100 input range, so a
// reading that is "excellent" for the health scorer earns no nitrogen points here.
func TestScore_NitrogenThresholdIsLiteral(t *testing.T) {
	rice, _ := Lookup("rice")
	m := &soil.Measurement{PH: 6.5, Nitrogen: 95, Phosphorus: 25, Potassium: 160, Moisture: 65, OrganicMatter: 3}

	assert.Equal(t, soil.Excellent, soil.CategorizeNutrients(m.Nitrogen, 95, 95))
	s := Score(rice, m)
	assert.Equal(t, 85, s.SuitabilityScore)
	assert.NotContains(t, s.Reasons, "Good nitrogen levels")
	assert.NotContains(t, s.Reasons, "Moderate nitrogen")
}

func TestRank_Invariants(t *testing.T) {
	ranker := NewRanker(nil)
	for _, ph := range []float64{0, 4.9, 5.5, 6.0, 7.5, 8.0, 14, 20} {
		for _, moisture := range []float64{0, 35, 45, 60, 75, 100} {
			for _, nutrient := range []float64{0, 10, 80, 200} {
				m := &soil.Measurement{
					PH: ph, Nitrogen: nutrient, Phosphorus: nutrient, Potassium: nutrient,
					Moisture: moisture, OrganicMatter: nutrient / 40,
				}
				ranked := ranker.Rank(m)
				require.Len(t, ranked, 7)
				for i, s := range ranked {
					assert.GreaterOrEqual(t, s.SuitabilityScore, 0)
					assert.LessOrEqual(t, s.SuitabilityScore, 100)
					assert.GreaterOrEqual(t, len(s.Reasons), 2)
					assert.LessOrEqual(t, len(s.Reasons), 6)
					if i > 0 {
						assert.GreaterOrEqual(t, ranked[i-1].SuitabilityScore, s.SuitabilityScore)
					}
				}
				if ph >= 5.5 && ph <= 8.0 {
					assert.Contains(t, []string{"Optimal soil pH", "Acceptable soil pH"}, ranked[0].Reasons[0])
				}
			}
		}
	}
}

func TestFilters(t *testing.T) {
	m := &soil.Measurement{PH: 6.5, Nitrogen: 220, Phosphorus: 25, Potassium: 160, Moisture: 65, OrganicMatter: 3}
	ranked := NewRanker(nil).Rank(m)

	low := FilterByWater(ranked, TierLow)
	assert.Equal(t, []string{"groundnut"}, ids(low))

	rabi := FilterBySeason(ranked, "rabi")
	assert.Equal(t, []string{"wheat", "sugarcane", "maize"}, ids(rabi))
}
