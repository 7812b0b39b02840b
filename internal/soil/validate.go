package soil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports a missing or malformed measurement field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validator turns raw form input into a Measurement
type Validator struct {
	now   func() time.Time
	newID func() string
}

// NewValidator creates a validator stamping measurements with the wall clock and random UUIDs
func NewValidator() *Validator {
	return &Validator{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewValidatorWith creates a validator with an explicit clock and id source
func NewValidatorWith(now func() time.Time, newID func() string) *Validator {
	return &Validator{now: now, newID: newID}
}

// Parse validates raw input keyed by the names in Fields.
// fieldName, ph, nitrogen, phosphorus, potassium and moisture are required;
// organicMatter and temperature default to 0 when absent.
// Out-of-domain numbers such as pH 20 are accepted unchanged.
func (v *Validator) Parse(raw map[string]string) (*Measurement, error) {
	name := strings.TrimSpace(raw[FieldName])
	if name == "" {
		return nil, &ValidationError{Field: FieldName, Reason: "required"}
	}

	m := &Measurement{FieldName: name}

	required := []struct {
		field string
		dst   *float64
	}{
		{FieldPH, &m.PH},
		{FieldNitrogen, &m.Nitrogen},
		{FieldPhosphorus, &m.Phosphorus},
		{FieldPotassium, &m.Potassium},
		{FieldMoisture, &m.Moisture},
	}
	for _, r := range required {
		val, ok, err := parseNumber(raw, r.field)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ValidationError{Field: r.field, Reason: "required"}
		}
		*r.dst = val
	}

	optional := []struct {
		field string
		dst   *float64
	}{
		{FieldOrganicMatter, &m.OrganicMatter},
		{FieldTemperature, &m.Temperature},
	}
	for _, o := range optional {
		val, _, err := parseNumber(raw, o.field)
		if err != nil {
			return nil, err
		}
		*o.dst = val
	}

	loc, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}
	m.Location = loc

	m.ID = v.newID()
	m.CapturedAt = v.now()
	return m, nil
}

// parseNumber reports ok=false when the field is absent or blank
func parseNumber(raw map[string]string, field string) (float64, bool, error) {
	s := strings.TrimSpace(raw[field])
	if s == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, false, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", s)}
	}
	return val, true, nil
}

func parseLocation(raw map[string]string) (*Location, error) {
	lat, hasLat, err := parseNumber(raw, FieldLat)
	if err != nil {
		return nil, err
	}
	lng, hasLng, err := parseNumber(raw, FieldLng)
	if err != nil {
		return nil, err
	}
	switch {
	case hasLat && hasLng:
		return &Location{Lat: lat, Lng: lng}, nil
	case hasLat:
		return nil, &ValidationError{Field: FieldLng, Reason: "required when lat is set"}
	case hasLng:
		return nil, &ValidationError{Field: FieldLat, Reason: "required when lng is set"}
	}
	return nil, nil
}
