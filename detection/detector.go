package detection

import "go-redzone/types"

const (
	// --- Alert Thresholds ---
	// Volume and severity must both be exceeded before anyone is called.
	defaultMinCount = 7
	defaultMinScore = 0.75

	// --- Crisis map bands (percent scale) ---
	extremeBand  = 80.0
	highBand     = 60.0
	moderateBand = 40.0
)

// DefaultThresholds returns the operational alert thresholds.
func DefaultThresholds() types.AlertThresholds {
	return types.AlertThresholds{MinCount: defaultMinCount, MinScore: defaultMinScore}
}

// ShouldAlert reports whether an aggregate warrants outbound notification.
// Both comparisons are strict.
func ShouldAlert(tweetCount int, aggregateScore float64) bool {
	return DefaultThresholds().Exceeded(tweetCount, aggregateScore)
}

// Evaluator applies a configured threshold pair.
type Evaluator struct {
	Thresholds types.AlertThresholds
}

func NewEvaluator(t types.AlertThresholds) Evaluator {
	if t.MinCount <= 0 && t.MinScore <= 0 {
		t = DefaultThresholds()
	}
	return Evaluator{Thresholds: t}
}

func (e Evaluator) ShouldAlert(agg types.LocationAggregate) bool {
	return e.Thresholds.Exceeded(agg.TweetCount, agg.AggregateScore)
}

// MapScore converts an aggregate score to the 0-100 scale used by the crisis map.
func MapScore(aggregateScore float64) float64 {
	return round4(aggregateScore * 100)
}

// MapSeverity is the two-level severity shown as a pin color.
func MapSeverity(percent float64) (severity, color string) {
	if percent >= highBand {
		return "high", "#ef4444"
	}
	return "low", "#eab308"
}

// ScoreBand buckets a percent score for the crisis map summary.
func ScoreBand(percent float64) string {
	switch {
	case percent >= extremeBand:
		return "extreme"
	case percent >= highBand:
		return "high"
	case percent >= moderateBand:
		return "moderate"
	default:
		return "low"
	}
}
