package soil

import "math"

// Category is a qualitative health grade for one soil dimension
type Category string

const (
	Excellent Category = "excellent"
	Good      Category = "good"
	Moderate  Category = "moderate"
	Poor      Category = "poor"
	Critical  Category = "critical"
)

// Anchor returns the numeric equivalent used when averaging categories
func (c Category) Anchor() float64 {
	switch c {
	case Excellent:
		return 90
	case Good:
		return 75
	case Moderate:
		return 60
	default:
		return 40
	}
}

// HealthRating summarizes a measurement on three axes plus an overall score
type HealthRating struct {
	PH        Category `json:"ph"`
	Nutrients Category `json:"nutrients"`
	Moisture  Category `json:"moisture"`
	Overall   float64  `json:"overall"` // mean of the three anchors
}

// CategorizePH grades soil pH
func CategorizePH(ph float64) Category {
	switch {
	case ph >= 6.0 && ph <= 7.5:
		return Excellent
	case ph >= 5.5 && ph <= 8.0:
		return Good
	case ph >= 5.0 && ph <= 8.5:
		return Moderate
	default:
		return Poor
	}
}

// CategorizeNutrients grades the mean of the N, P and K readings
func CategorizeNutrients(nitrogen, phosphorus, potassium float64) Category {
	avg := (nitrogen + phosphorus + potassium) / 3
	switch {
	case avg >= 80:
		return Excellent
	case avg >= 60:
		return Good
	case avg >= 40:
		return Moderate
	default:
		return Poor
	}
}

// CategorizeMoisture grades soil moisture percentage
func CategorizeMoisture(moisture float64) Category {
	switch {
	case moisture >= 60 && moisture <= 80:
		return Excellent
	case moisture >= 40 && moisture <= 90:
		return Good
	case moisture >= 20 && moisture <= 95:
		return Moderate
	default:
		return Poor
	}
}

// Rate derives the health rating of a measurement
func Rate(m *Measurement) HealthRating {
	r := HealthRating{
		PH:        CategorizePH(m.PH),
		Nutrients: CategorizeNutrients(m.Nitrogen, m.Phosphorus, m.Potassium),
		Moisture:  CategorizeMoisture(m.Moisture),
	}
	r.Overall = (r.PH.Anchor() + r.Nutrients.Anchor() + r.Moisture.Anchor()) / 3
	return r
}

// optimalRange is one weighted term of RangeIndex
type optimalRange struct {
	min, max, weight float64
	value            func(*Measurement) float64
}

var optimalRanges = []optimalRange{
	{6.0, 7.5, 0.20, func(m *Measurement) float64 { return m.PH }},
	{200, 400, 0.15, func(m *Measurement) float64 { return m.Nitrogen }},
	{20, 50, 0.15, func(m *Measurement) float64 { return m.Phosphorus }},
	{150, 300, 0.15, func(m *Measurement) float64 { return m.Potassium }},
	{40, 70, 0.20, func(m *Measurement) float64 { return m.Moisture }},
	{2, 5, 0.15, func(m *Measurement) float64 { return m.OrganicMatter }},
}

// RangeIndex scores how close each reading sits to its optimal band, 0-100.
// In-band readings score 100; readings below fall off linearly toward 0,
// readings above lose half a point per percent of overshoot.
func RangeIndex(m *Measurement) int {
	var total, weights float64
	for _, r := range optimalRanges {
		v := r.value(m)
		var score float64
		switch {
		case v >= r.min && v <= r.max:
			score = 100
		case v < r.min:
			score = math.Max(0, v/r.min*100)
		default:
			score = math.Max(0, 100-(v-r.max)/r.max*50)
		}
		total += score * r.weight
		weights += r.weight
	}
	return int(math.Floor(total/weights + 0.5))
}
