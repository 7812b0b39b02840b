package voice

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agsys/soil-advisor/internal/crops"
	"github.com/agsys/soil-advisor/internal/soil"
)

// keywords maps spoken words to the numeric field they introduce
var keywords = map[string]string{
	"ph":          soil.FieldPH,
	"acidity":     soil.FieldPH,
	"nitrogen":    soil.FieldNitrogen,
	"n":           soil.FieldNitrogen,
	"phosphorus":  soil.FieldPhosphorus,
	"p":           soil.FieldPhosphorus,
	"potassium":   soil.FieldPotassium,
	"k":           soil.FieldPotassium,
	"moisture":    soil.FieldMoisture,
	"water":       soil.FieldMoisture,
	"organic":     soil.FieldOrganicMatter,
	"carbon":      soil.FieldOrganicMatter,
	"temperature": soil.FieldTemperature,
	"temp":        soil.FieldTemperature,
}

var (
	// Numbers keep a leading minus; anything else splits words
	tokenRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?|[a-z0-9]+`)
	numberRe    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	fieldNameRe = regexp.MustCompile(`(?i)^\s*field\s+name\s+(?:is\s+)?(.+?)\s*$`)
)

// ExtractFields pulls field values out of a spoken transcript. A transcript
// starting with "field name" sets the field label. Otherwise each keyword
// claims the first number that follows it; later mentions of a field that
// already has a value are ignored.
func ExtractFields(transcript string) map[string]string {
	out := map[string]string{}
	if m := fieldNameRe.FindStringSubmatch(transcript); m != nil {
		out[soil.FieldName] = m[1]
		return out
	}
	pending := ""
	for _, tok := range tokenRe.FindAllString(strings.ToLower(transcript), -1) {
		if field, ok := keywords[tok]; ok {
			pending = field
			continue
		}
		if pending != "" && numberRe.MatchString(tok) {
			if _, seen := out[pending]; !seen {
				out[pending] = tok
			}
			pending = ""
		}
	}
	return out
}

// Summarize renders an assessment as one spoken sentence
func Summarize(loc Locale, rating soil.HealthRating, top *crops.Suggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Soil health score %.0f. pH is %s, nutrients are %s, moisture is %s.",
		rating.Overall, rating.PH, rating.Nutrients, rating.Moisture)
	if top != nil {
		fmt.Fprintf(&b, " Best crop: %s, suitability %d.", cropName(loc, top.Profile), top.SuitabilityScore)
	}
	return b.String()
}

func cropName(loc Locale, p crops.Profile) string {
	var name string
	switch loc {
	case Hindi:
		name = p.LocalName.Hi
	case Telugu:
		name = p.LocalName.Te
	case Tamil:
		name = p.LocalName.Ta
	default:
		name = p.LocalName.En
	}
	if name == "" {
		return p.Name
	}
	return name
}
