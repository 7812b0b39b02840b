// Package crops ranks a fixed crop catalog against a soil measurement.
package crops

// Tier is a low/medium/high grade used for water need and market demand
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// LocalName holds a crop's display name per supported locale
type LocalName struct {
	En string `json:"en"`
	Hi string `json:"hi"`
	Te string `json:"te"`
	Ta string `json:"ta"`
}

// Profile is a read-only catalog entry
type Profile struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	LocalName            LocalName `json:"localName"`
	ExpectedYield        string    `json:"expectedYield"`
	ExpectedProfit       string    `json:"expectedProfit"`
	WaterRequirement     Tier      `json:"waterRequirement"`
	SoilSuitability      int       `json:"soilSuitability"` // base suitability
	MarketDemand         Tier      `json:"marketDemand"`
	SustainabilityRating int       `json:"sustainabilityRating"` // 0-10
	GrowthPeriod         int       `json:"growthPeriod"`         // days
	BestSeason           string    `json:"bestSeason"`
}

var catalog = []Profile{
	{
		ID:                   "rice",
		Name:                 "Rice",
		LocalName:            LocalName{En: "Rice", Hi: "चावल", Te: "వరి", Ta: "அரிசி"},
		ExpectedYield:        "4-6 tons/hectare",
		ExpectedProfit:       "₹40,000-60,000/acre",
		WaterRequirement:     TierHigh,
		SoilSuitability:      85,
		MarketDemand:         TierHigh,
		SustainabilityRating: 7,
		GrowthPeriod:         120,
		BestSeason:           "Kharif",
	},
	{
		ID:                   "wheat",
		Name:                 "Wheat",
		LocalName:            LocalName{En: "Wheat", Hi: "गेहूं", Te: "గోధుమ", Ta: "கோதுமை"},
		ExpectedYield:        "3-5 tons/hectare",
		ExpectedProfit:       "₹35,000-50,000/acre",
		WaterRequirement:     TierMedium,
		SoilSuitability:      80,
		MarketDemand:         TierHigh,
		SustainabilityRating: 8,
		GrowthPeriod:         110,
		BestSeason:           "Rabi",
	},
	{
		ID:                   "cotton",
		Name:                 "Cotton",
		LocalName:            LocalName{En: "Cotton", Hi: "कपास", Te: "పత్తి", Ta: "பருத்தி"},
		ExpectedYield:        "500-800 kg/hectare",
		ExpectedProfit:       "₹50,000-80,000/acre",
		WaterRequirement:     TierMedium,
		SoilSuitability:      75,
		MarketDemand:         TierMedium,
		SustainabilityRating: 6,
		GrowthPeriod:         180,
		BestSeason:           "Kharif",
	},
	{
		ID:                   "sugarcane",
		Name:                 "Sugarcane",
		LocalName:            LocalName{En: "Sugarcane", Hi: "गन्ना", Te: "చెరకు", Ta: "கரும்பு"},
		ExpectedYield:        "70-100 tons/hectare",
		ExpectedProfit:       "₹80,000-120,000/acre",
		WaterRequirement:     TierHigh,
		SoilSuitability:      90,
		MarketDemand:         TierHigh,
		SustainabilityRating: 7,
		GrowthPeriod:         365,
		BestSeason:           "Year-round",
	},
	{
		ID:                   "maize",
		Name:                 "Maize",
		LocalName:            LocalName{En: "Maize", Hi: "मक्का", Te: "మొక్కజొన్న", Ta: "சோளம்"},
		ExpectedYield:        "6-8 tons/hectare",
		ExpectedProfit:       "₹30,000-45,000/acre",
		WaterRequirement:     TierMedium,
		SoilSuitability:      85,
		MarketDemand:         TierMedium,
		SustainabilityRating: 8,
		GrowthPeriod:         90,
		BestSeason:           "Both Kharif & Rabi",
	},
	{
		ID:                   "soybean",
		Name:                 "Soybean",
		LocalName:            LocalName{En: "Soybean", Hi: "सोयाबीन", Te: "సోయాబీన్", Ta: "சோயாபீன்"},
		ExpectedYield:        "2-3 tons/hectare",
		ExpectedProfit:       "₹25,000-40,000/acre",
		WaterRequirement:     TierMedium,
		SoilSuitability:      80,
		MarketDemand:         TierHigh,
		SustainabilityRating: 9,
		GrowthPeriod:         100,
		BestSeason:           "Kharif",
	},
	{
		ID:                   "groundnut",
		Name:                 "Groundnut",
		LocalName:            LocalName{En: "Groundnut", Hi: "मूंगफली", Te: "వేరుశనగ", Ta: "நிலக்கடலை"},
		ExpectedYield:        "2-3 tons/hectare",
		ExpectedProfit:       "₹35,000-55,000/acre",
		WaterRequirement:     TierLow,
		SoilSuitability:      75,
		MarketDemand:         TierMedium,
		SustainabilityRating: 8,
		GrowthPeriod:         120,
		BestSeason:           "Kharif",
	},
}

// Catalog returns a copy of the reference crop catalog in its canonical order
func Catalog() []Profile {
	out := make([]Profile, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a catalog profile by id
func Lookup(id string) (Profile, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}
