package detection

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"go-redzone/types"
)

func TestComputeContribution(t *testing.T) {
	tests := []struct {
		name   string
		report types.ClassifiedReport
		want   float64
	}{
		{
			name:   "all fields missing",
			report: types.ClassifiedReport{},
			want:   0,
		},
		{
			name: "houston report",
			report: types.ClassifiedReport{
				SeriousnessScore:       0.9,
				Informativeness:        types.Informative,
				DamageSeverity:         types.SevereDamage,
				HumanitarianCategories: []string{types.CategoryCasualties},
			},
			want: 0.8611,
		},
		{
			name: "mild damage, not informative",
			report: types.ClassifiedReport{
				SeriousnessScore: 0.4,
				Informativeness:  types.NotInformative,
				DamageSeverity:   types.MildDamage,
			},
			want: 0.3,
		},
		{
			name: "little damage with none sentinel",
			report: types.ClassifiedReport{
				SeriousnessScore:       0.2,
				Informativeness:        types.Informative,
				DamageSeverity:         types.LittleOrNoDamage,
				HumanitarianCategories: []string{types.CategoryNone},
			},
			want: 0.32,
		},
		{
			name: "seriousness clamped above one",
			report: types.ClassifiedReport{
				SeriousnessScore: 3,
				DamageSeverity:   types.CannotAssessDamage,
			},
			want: 0.5,
		},
		{
			name:   "negative seriousness clamped to zero",
			report: types.ClassifiedReport{SeriousnessScore: -1},
			want:   0,
		},
		{
			name:   "nan seriousness",
			report: types.ClassifiedReport{SeriousnessScore: math.NaN()},
			want:   0,
		},
		{
			name: "category term caps at nine",
			report: types.ClassifiedReport{
				HumanitarianCategories: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
			},
			want: 0.1,
		},
		{
			name: "duplicate categories count once",
			report: types.ClassifiedReport{
				HumanitarianCategories: []string{types.CategoryCasualties, types.CategoryCasualties, types.CategoryNone},
			},
			want: 0.0111,
		},
		{
			name: "unknown damage label",
			report: types.ClassifiedReport{
				SeriousnessScore: 1,
				Informativeness:  types.Informative,
				DamageSeverity:   "catastrophic",
			},
			want: 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeContribution(tt.report), 1e-9)
		})
	}
}

func TestComputeContributionBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	infoLabels := []string{types.Informative, types.NotInformative, "", "garbage"}
	damageLabels := []string{types.SevereDamage, types.MildDamage, types.LittleOrNoDamage, types.CannotAssessDamage, "", "garbage"}
	categoryLabels := append([]string{types.CategoryNone, ""}, types.HumanitarianCategories...)

	properties.Property("contribution stays in [0,1] with four decimals", prop.ForAll(
		func(seriousness float64, info int, dmg int, cats []int) bool {
			report := types.ClassifiedReport{
				SeriousnessScore: seriousness,
				Informativeness:  infoLabels[info],
				DamageSeverity:   damageLabels[dmg],
			}
			for _, c := range cats {
				report.HumanitarianCategories = append(report.HumanitarianCategories, categoryLabels[c])
			}
			got := ComputeContribution(report)
			if got < 0 || got > 1 {
				return false
			}
			return math.Abs(got*10000-math.Round(got*10000)) < 1e-6
		},
		gen.Float64Range(-5, 5),
		gen.IntRange(0, len(infoLabels)-1),
		gen.IntRange(0, len(damageLabels)-1),
		gen.SliceOf(gen.IntRange(0, len(categoryLabels)-1)),
	))

	properties.TestingRun(t)
}
