// Package soil validates raw soil measurements and derives a health rating from them.
package soil

import "time"

// Location is an optional geocoordinate attached to a measurement
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Measurement is one recorded set of soil readings for a field.
// Values are stored as entered; nothing is clamped.
type Measurement struct {
	ID            string    `json:"id"`
	FieldName     string    `json:"fieldName"`     // user label, not unique
	PH            float64   `json:"ph"`            // 0-14
	Nitrogen      float64   `json:"nitrogen"`      // percent of optimal
	Phosphorus    float64   `json:"phosphorus"`    // percent of optimal
	Potassium     float64   `json:"potassium"`     // percent of optimal
	Moisture      float64   `json:"moisture"`      // percent
	OrganicMatter float64   `json:"organicMatter"` // percent
	Temperature   float64   `json:"temperature"`   // Celsius
	CapturedAt    time.Time `json:"capturedAt"`
	Location      *Location `json:"location,omitempty"`
}

// StoreKey returns the offline store key for the measurement
func (m *Measurement) StoreKey() string {
	return KeyPrefix + m.ID
}

// KeyPrefix prefixes every measurement key in the offline store
const KeyPrefix = "soil_"

// Input field names accepted by the validator
const (
	FieldName          = "fieldName"
	FieldPH            = "ph"
	FieldNitrogen      = "nitrogen"
	FieldPhosphorus    = "phosphorus"
	FieldPotassium     = "potassium"
	FieldMoisture      = "moisture"
	FieldOrganicMatter = "organicMatter"
	FieldTemperature   = "temperature"

	// Optional geocoordinate extras
	FieldLat = "lat"
	FieldLng = "lng"
)

// Fields lists the eight measurement input fields in form order
var Fields = []string{
	FieldName,
	FieldPH,
	FieldNitrogen,
	FieldPhosphorus,
	FieldPotassium,
	FieldMoisture,
	FieldOrganicMatter,
	FieldTemperature,
}
