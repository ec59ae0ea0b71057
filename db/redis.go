package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-redzone/types"
)

const (
	redisAggregatePrefix = "redzone:aggregate:"
	// redisScoreIndex is a sorted set of locations by aggregate score.
	redisScoreIndex = "redzone:aggregates:by_score"
	redisMaxRetries = 16
)

var ErrContention = errors.New("aggregate update retries exhausted")

// RedisAggregates keeps each aggregate in a hash and updates it with an
// optimistic WATCH/MULTI transaction, retrying when another writer wins.
type RedisAggregates struct {
	client *redis.Client
}

var _ AggregateStore = (*RedisAggregates)(nil)

// NewRedisClient creates a new client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisAggregates(client *redis.Client) *RedisAggregates {
	return &RedisAggregates{client: client}
}

func redisAggregateKey(location string) string {
	return redisAggregatePrefix + HashString(location)
}

func (s *RedisAggregates) Get(ctx context.Context, location string) (*types.LocationAggregate, error) {
	vals, err := s.client.HGetAll(ctx, redisAggregateKey(location)).Result()
	if err != nil {
		return nil, fmt.Errorf("get aggregate %s: %w", location, err)
	}
	return aggregateFromHash(vals)
}

func (s *RedisAggregates) Update(ctx context.Context, location string, fn UpdateFunc) (types.LocationAggregate, error) {
	if location == "" {
		return types.LocationAggregate{}, ErrEmptyLocation
	}
	key := redisAggregateKey(location)

	var next types.LocationAggregate
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := aggregateFromHash(vals)
		if err != nil {
			return err
		}

		next = fn(current)
		next.Location = location
		next.UpdatedAt = time.Now().UTC()
		if current == nil {
			next.NewLocation = true
		} else {
			next.FormattedAddress = current.FormattedAddress
			next.Lat, next.Lng = current.Lat, current.Lng
			next.NewLocation = current.NewLocation
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, aggregateToHash(next))
			pipe.ZAdd(ctx, redisScoreIndex, redis.Z{Score: next.AggregateScore, Member: location})
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return types.LocationAggregate{}, fmt.Errorf("update aggregate %s: %w", location, err)
	}
	return types.LocationAggregate{}, fmt.Errorf("update aggregate %s: %w", location, ErrContention)
}

func (s *RedisAggregates) List(ctx context.Context, q AggregateQuery) ([]types.LocationAggregate, error) {
	locations, err := s.client.ZRevRangeByScore(ctx, redisScoreIndex, &redis.ZRangeBy{
		Min: strconv.FormatFloat(q.MinScore, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}

	var all []types.LocationAggregate
	for _, loc := range locations {
		agg, err := s.Get(ctx, loc)
		if err != nil {
			return nil, err
		}
		if agg != nil {
			all = append(all, *agg)
		}
	}
	return filterAggregates(all, q), nil
}

// SetGeocode is a no-op for a location with no aggregate.
func (s *RedisAggregates) SetGeocode(ctx context.Context, location string, point types.GeoPoint) error {
	key := redisAggregateKey(location)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n == 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"formatted_address", point.FormattedAddress,
				"lat", strconv.FormatFloat(point.Lat, 'g', -1, 64),
				"lng", strconv.FormatFloat(point.Lng, 'g', -1, 64),
				"new_location", "0",
			)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("update geocode %s: %w", location, err)
	}
	return fmt.Errorf("update geocode %s: %w", location, ErrContention)
}

func aggregateToHash(agg types.LocationAggregate) map[string]interface{} {
	newLoc := "0"
	if agg.NewLocation {
		newLoc = "1"
	}
	return map[string]interface{}{
		"location":          agg.Location,
		"disaster_type":     string(agg.DisasterType),
		"aggregate_score":   strconv.FormatFloat(agg.AggregateScore, 'g', -1, 64),
		"tweet_count":       agg.TweetCount,
		"formatted_address": agg.FormattedAddress,
		"lat":               strconv.FormatFloat(agg.Lat, 'g', -1, 64),
		"lng":               strconv.FormatFloat(agg.Lng, 'g', -1, 64),
		"new_location":      newLoc,
		"updated_at":        agg.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// aggregateFromHash returns nil for an empty hash, which is how Redis reports
// a missing key.
func aggregateFromHash(vals map[string]string) (*types.LocationAggregate, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	agg := types.LocationAggregate{
		Location:         vals["location"],
		DisasterType:     types.DisasterType(vals["disaster_type"]),
		FormattedAddress: vals["formatted_address"],
		NewLocation:      vals["new_location"] == "1",
	}

	var err error
	if agg.AggregateScore, err = strconv.ParseFloat(vals["aggregate_score"], 64); err != nil {
		return nil, fmt.Errorf("bad aggregate_score for %s: %w", agg.Location, err)
	}
	if agg.TweetCount, err = strconv.Atoi(vals["tweet_count"]); err != nil {
		return nil, fmt.Errorf("bad tweet_count for %s: %w", agg.Location, err)
	}
	agg.Lat, _ = strconv.ParseFloat(vals["lat"], 64)
	agg.Lng, _ = strconv.ParseFloat(vals["lng"], 64)
	agg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	return &agg, nil
}
