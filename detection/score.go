package detection

import (
	"math"

	"go-redzone/types"
)

// Contribution weights. They sum to 1 so the blend stays inside [0,1].
const (
	seriousnessWeight     = 0.5
	informativenessWeight = 0.2
	damageWeight          = 0.2
	categoryWeight        = 0.1

	// The vocabulary has nine meaningful tags.
	maxCategoryCount = 9
)

var damageWeights = map[string]float64{
	types.SevereDamage:     1.0,
	types.MildDamage:       0.5,
	types.LittleOrNoDamage: 0.1,
}

// ComputeContribution scores a single report in [0,1], rounded to four
// decimals. Missing or unknown fields count as their least severe value.
func ComputeContribution(report types.ClassifiedReport) float64 {
	seriousness := report.SeriousnessScore
	if math.IsNaN(seriousness) {
		seriousness = 0
	}
	seriousness = math.Max(0, math.Min(1, seriousness))

	informative := 0.0
	if report.Informativeness == types.Informative {
		informative = 1.0
	}

	damage := damageWeights[report.DamageSeverity]

	categories := math.Min(float64(countCategories(report.HumanitarianCategories)), maxCategoryCount) / maxCategoryCount

	score := seriousnessWeight*seriousness +
		informativenessWeight*informative +
		damageWeight*damage +
		categoryWeight*categories

	return round4(score)
}

// countCategories counts distinct tags, ignoring the "none" sentinel and blanks.
func countCategories(categories []string) int {
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c == "" || c == types.CategoryNone {
			continue
		}
		seen[c] = true
	}
	return len(seen)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
