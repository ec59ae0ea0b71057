package processor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go-redzone/db"
	"go-redzone/types"
)

var ErrMissingLocation = errors.New("location is required")

// Aggregator maintains the running mean of contribution scores per location.
type Aggregator struct {
	store db.AggregateStore
}

func NewAggregator(store db.AggregateStore) *Aggregator {
	return &Aggregator{store: store}
}

// Upsert folds one contribution into the location's aggregate and returns the
// new state. The fold runs inside the store's atomic update; concurrent calls
// for one location never lose a report.
func (a *Aggregator) Upsert(ctx context.Context, location string, contribution float64, disasterType types.DisasterType) (types.LocationAggregate, error) {
	if location == "" {
		return types.LocationAggregate{}, ErrMissingLocation
	}

	agg, err := a.store.Update(ctx, location, func(current *types.LocationAggregate) types.LocationAggregate {
		return foldContribution(current, contribution, disasterType)
	})
	if err != nil {
		return types.LocationAggregate{}, fmt.Errorf("aggregate upsert for %s: %w", location, err)
	}
	log.Printf("Aggregator: %s -> score=%.4f count=%d type=%s", location, agg.AggregateScore, agg.TweetCount, agg.DisasterType)
	return agg, nil
}

// Get returns the stored aggregate, or nil if the location was never seen.
func (a *Aggregator) Get(ctx context.Context, location string) (*types.LocationAggregate, error) {
	return a.store.Get(ctx, location)
}

func foldContribution(current *types.LocationAggregate, contribution float64, disasterType types.DisasterType) types.LocationAggregate {
	if current == nil || current.TweetCount <= 0 {
		return types.LocationAggregate{
			DisasterType:   disasterType,
			AggregateScore: contribution,
			TweetCount:     1,
		}
	}
	n := float64(current.TweetCount)
	next := *current
	next.TweetCount = current.TweetCount + 1
	next.AggregateScore = ((current.AggregateScore * n) + contribution) / float64(next.TweetCount)
	next.DisasterType = disasterType // most recent report wins
	return next
}
