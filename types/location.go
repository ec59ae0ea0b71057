package types

import "time"

// LocationAggregate is the running severity statistic for one location key.
type LocationAggregate struct {
	ID             string       `json:"-" firestore:"-"` // tell firestore to ignore
	Location       string       `json:"location" firestore:"location"`
	DisasterType   DisasterType `json:"disaster_type" firestore:"disasterType"`
	AggregateScore float64      `json:"aggregate_score" firestore:"aggregateScore"`
	TweetCount     int          `json:"tweet_count" firestore:"tweetCount"`
	UpdatedAt      time.Time    `json:"updated_at,omitempty" firestore:"updatedAt"`

	// Filled by the geocode sweep. NewLocation stays true until then.
	FormattedAddress string  `json:"formatted_address,omitempty" firestore:"formattedAddress"`
	Lat              float64 `json:"lat,omitempty" firestore:"lat"`
	Lng              float64 `json:"lng,omitempty" firestore:"lng"`
	NewLocation      bool    `json:"-" firestore:"newLocation"`
}

type GeoPoint struct {
	FormattedAddress string
	Lat              float64
	Lng              float64
}

// AlertThresholds gates outbound notification. Both comparisons are strict.
type AlertThresholds struct {
	MinCount int     `yaml:"min_count"`
	MinScore float64 `yaml:"min_score"`
}

func (t AlertThresholds) Exceeded(count int, score float64) bool {
	return count > t.MinCount && score > t.MinScore
}
