package types

import "strings"

type DisasterType string

const (
	Fire             DisasterType = "fire"
	Earthquake       DisasterType = "earthquake"
	Hurricane        DisasterType = "hurricane"
	Flood            DisasterType = "flood"
	Tornado          DisasterType = "tornado"
	Wildfire         DisasterType = "wildfire"
	Explosion        DisasterType = "explosion"
	BuildingCollapse DisasterType = "building_collapse"
	OtherDisaster    DisasterType = "other_disaster"
	NotDisaster      DisasterType = "not_disaster"
)

var DisasterTypes = []DisasterType{
	Fire, Earthquake, Hurricane, Flood, Tornado, Wildfire,
	Explosion, BuildingCollapse, OtherDisaster, NotDisaster,
}

const (
	Informative    = "informative"
	NotInformative = "not_informative"
)

const (
	SevereDamage       = "severe_damage"
	MildDamage         = "mild_damage"
	LittleOrNoDamage   = "little_or_no_damage"
	CannotAssessDamage = "cannot_assess"
)

// Humanitarian categories. CategoryNone is a sentinel and never counts as a tag.
const (
	CategoryCasualties           = "casualties"
	CategoryMissingPersons       = "missing_persons"
	CategoryDisplacedPeople      = "displaced_people"
	CategoryInfrastructureDamage = "infrastructure_damage"
	CategoryVehicleDamage        = "vehicle_damage"
	CategoryRescueOperations     = "rescue_operations"
	CategoryDonationsAid         = "donations_aid"
	CategoryEmergencyServices    = "emergency_services"
	CategoryPublicSafety         = "public_safety"
	CategoryNone                 = "none"
)

var HumanitarianCategories = []string{
	CategoryCasualties, CategoryMissingPersons, CategoryDisplacedPeople,
	CategoryInfrastructureDamage, CategoryVehicleDamage, CategoryRescueOperations,
	CategoryDonationsAid, CategoryEmergencyServices, CategoryPublicSafety,
}

// NoLocation is what the classifier returns when a report names no place.
const NoLocation = "no_location_identified"

// ClassifiedReport is the structured output of the classifier for one report.
// It is never mutated after classification.
type ClassifiedReport struct {
	DisasterType           DisasterType `json:"disaster_type" firestore:"disasterType"`
	Informativeness        string       `json:"informativeness" firestore:"informativeness"`
	HumanitarianCategories []string     `json:"humanitarian_categories" firestore:"humanitarianCategories"`
	Location               string       `json:"location" firestore:"location"`
	DamageSeverity         string       `json:"damage_severity" firestore:"damageSeverity"`
	SeriousnessScore       float64      `json:"seriousness_score" firestore:"seriousnessScore"`
	TweetText              string       `json:"tweet_text" firestore:"tweetText"`
	ImageURL               string       `json:"image_url" firestore:"imageURL"`
	Timestamp              string       `json:"timestamp,omitempty" firestore:"timestamp,omitempty"`
}

// HasLocation reports whether the classifier resolved a place name.
func (r ClassifiedReport) HasLocation() bool {
	loc := strings.TrimSpace(r.Location)
	return loc != "" && loc != NoLocation
}

// Normalize maps model output onto the fixed vocabularies. Unknown values fall
// back to their least severe member.
func (r ClassifiedReport) Normalize() ClassifiedReport {
	out := r

	dt := DisasterType(strings.ToLower(strings.TrimSpace(string(r.DisasterType))))
	out.DisasterType = OtherDisaster
	for _, known := range DisasterTypes {
		if dt == known {
			out.DisasterType = known
			break
		}
	}

	switch strings.ToLower(strings.TrimSpace(r.Informativeness)) {
	case Informative:
		out.Informativeness = Informative
	default:
		out.Informativeness = NotInformative
	}

	switch sev := strings.ToLower(strings.TrimSpace(r.DamageSeverity)); sev {
	case SevereDamage, MildDamage, LittleOrNoDamage:
		out.DamageSeverity = sev
	default:
		out.DamageSeverity = CannotAssessDamage
	}

	seen := make(map[string]bool)
	var cats []string
	for _, c := range r.HumanitarianCategories {
		c = strings.ToLower(strings.TrimSpace(c))
		if seen[c] || !isCategory(c) {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	if len(cats) == 0 {
		cats = []string{CategoryNone}
	}
	out.HumanitarianCategories = cats

	out.Location = strings.TrimSpace(r.Location)
	if out.Location == "" {
		out.Location = NoLocation
	}
	return out
}

func isCategory(c string) bool {
	for _, known := range HumanitarianCategories {
		if c == known {
			return true
		}
	}
	return false
}
