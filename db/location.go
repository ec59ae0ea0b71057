package db

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"go-redzone/types"
)

const aggregatesCollection = "crisis_location_aggregate"

// FirestoreAggregates keeps one document per location, keyed by the hash of
// the exact location string.
type FirestoreAggregates struct {
	client *firestore.Client
}

func NewFirestoreAggregates(client *firestore.Client) *FirestoreAggregates {
	return &FirestoreAggregates{client: client}
}

func (s *FirestoreAggregates) doc(location string) *firestore.DocumentRef {
	return s.client.Collection(aggregatesCollection).Doc(HashString(location))
}

func (s *FirestoreAggregates) Get(ctx context.Context, location string) (*types.LocationAggregate, error) {
	snap, err := s.doc(location).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting aggregate for %s: %w", location, err)
	}
	var agg types.LocationAggregate
	if err := snap.DataTo(&agg); err != nil {
		return nil, fmt.Errorf("error converting document to LocationAggregate: %w", err)
	}
	agg.ID = snap.Ref.ID
	return &agg, nil
}

// Update runs fn inside a Firestore transaction. Firestore retries the
// transaction on contention, so fn may be called more than once.
func (s *FirestoreAggregates) Update(ctx context.Context, location string, fn UpdateFunc) (types.LocationAggregate, error) {
	if location == "" {
		return types.LocationAggregate{}, ErrEmptyLocation
	}
	ref := s.doc(location)

	var next types.LocationAggregate
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *types.LocationAggregate
		snap, err := tx.Get(ref)
		if err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("error getting aggregate doc for %s: %w", location, err)
			}
		} else {
			var agg types.LocationAggregate
			if err := snap.DataTo(&agg); err != nil {
				return fmt.Errorf("error converting document to LocationAggregate: %w", err)
			}
			current = &agg
		}

		next = fn(current)
		next.Location = location
		next.UpdatedAt = time.Now().UTC()

		data := map[string]interface{}{
			"location":       next.Location,
			"disasterType":   string(next.DisasterType),
			"aggregateScore": next.AggregateScore,
			"tweetCount":     next.TweetCount,
			"updatedAt":      next.UpdatedAt,
		}
		if current == nil {
			data["newLocation"] = true
			next.NewLocation = true
		}
		if err := tx.Set(ref, data, firestore.MergeAll); err != nil {
			return fmt.Errorf("failed to set aggregate doc for %s: %w", location, err)
		}
		return nil
	})
	if err != nil {
		return types.LocationAggregate{}, err
	}
	next.ID = ref.ID
	return next, nil
}

func (s *FirestoreAggregates) List(ctx context.Context, q AggregateQuery) ([]types.LocationAggregate, error) {
	query := s.client.Collection(aggregatesCollection).Query
	if q.OnlyNew {
		query = query.Where("newLocation", "==", true)
	}
	if q.DisasterType != "" {
		query = query.Where("disasterType", "==", q.DisasterType)
	}
	if q.MinScore > 0 {
		query = query.Where("aggregateScore", ">=", q.MinScore)
	}
	query = query.OrderBy("aggregateScore", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("error querying aggregates: %w", err)
	}

	var out []types.LocationAggregate
	for _, doc := range docs {
		var agg types.LocationAggregate
		if err := doc.DataTo(&agg); err != nil {
			return nil, fmt.Errorf("error converting document to LocationAggregate: %w", err)
		}
		agg.ID = doc.Ref.ID
		out = append(out, agg)
	}
	return out, nil
}

// uses newLocation flag to determine if an update is needed
func (s *FirestoreAggregates) SetGeocode(ctx context.Context, location string, point types.GeoPoint) error {
	geoData := map[string]interface{}{
		"formattedAddress": point.FormattedAddress,
		"lat":              point.Lat,
		"lng":              point.Lng,
		"newLocation":      false,
	}
	if _, err := s.doc(location).Set(ctx, geoData, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to update geocoding data for %s: %w", location, err)
	}
	return nil
}
