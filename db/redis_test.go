package db

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-redzone/types"
)

func newTestRedis(t *testing.T) (*RedisAggregates, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisAggregates(client), mr
}

// foldMean is the running-mean update the aggregator applies.
func foldMean(x float64) UpdateFunc {
	return func(cur *types.LocationAggregate) types.LocationAggregate {
		if cur == nil {
			return types.LocationAggregate{DisasterType: types.Flood, AggregateScore: x, TweetCount: 1}
		}
		next := *cur
		next.AggregateScore = (cur.AggregateScore*float64(cur.TweetCount) + x) / float64(cur.TweetCount+1)
		next.TweetCount++
		return next
	}
}

func TestRedisUpdateFirstInsert(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	missing, err := s.Get(ctx, "Houston")
	require.NoError(t, err)
	assert.Nil(t, missing)

	agg, err := s.Update(ctx, "Houston", foldMean(0.8611))
	require.NoError(t, err)
	assert.Equal(t, "Houston", agg.Location)
	assert.Equal(t, 1, agg.TweetCount)
	assert.True(t, agg.NewLocation)
	assert.False(t, agg.UpdatedAt.IsZero())

	got, err := s.Get(ctx, "Houston")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.8611, got.AggregateScore)
	assert.Equal(t, types.Flood, got.DisasterType)

	_, err = s.Update(ctx, "", foldMean(0.5))
	assert.ErrorIs(t, err, ErrEmptyLocation)
}

func TestRedisUpdateRunningMean(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	var agg types.LocationAggregate
	var err error
	for _, x := range []float64{0.2, 0.8, 0.5} {
		agg, err = s.Update(ctx, "Miami", foldMean(x))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, agg.TweetCount)
	assert.InDelta(t, 0.5, agg.AggregateScore, 1e-9)

	got, err := s.Get(ctx, "Miami")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TweetCount)
	assert.InDelta(t, 0.5, got.AggregateScore, 1e-9)
}

func TestRedisConcurrentUpdatesLoseNothing(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	const writers = 2
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "Houston", foldMean(0.9))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "Houston")
	require.NoError(t, err)
	assert.Equal(t, writers, got.TweetCount)
}

func TestRedisUpdateKeepsGeocode(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "Houston", foldMean(0.9))
	require.NoError(t, err)
	require.NoError(t, s.SetGeocode(ctx, "Houston", types.GeoPoint{FormattedAddress: "Houston, TX, USA", Lat: 29.76, Lng: -95.37}))

	agg, err := s.Update(ctx, "Houston", foldMean(0.7))
	require.NoError(t, err)
	assert.Equal(t, "Houston, TX, USA", agg.FormattedAddress)
	assert.Equal(t, 29.76, agg.Lat)
	assert.Equal(t, -95.37, agg.Lng)
	assert.False(t, agg.NewLocation)

	got, err := s.Get(ctx, "Houston")
	require.NoError(t, err)
	assert.Equal(t, 29.76, got.Lat)
	assert.Equal(t, 2, got.TweetCount)
}

func TestRedisSetGeocodeUnknownLocation(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SetGeocode(ctx, "Atlantis", types.GeoPoint{Lat: 1, Lng: 2}))
	assert.False(t, mr.Exists(redisAggregateKey("Atlantis")))

	got, err := s.Get(ctx, "Atlantis")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisList(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	set := func(loc string, dt types.DisasterType, score float64) {
		_, err := s.Update(ctx, loc, func(*types.LocationAggregate) types.LocationAggregate {
			return types.LocationAggregate{DisasterType: dt, AggregateScore: score, TweetCount: 1}
		})
		require.NoError(t, err)
	}
	set("Houston", types.Flood, 0.9)
	set("Austin", types.Fire, 0.4)
	set("Dallas", types.Flood, 0.6)

	out, err := s.List(ctx, AggregateQuery{MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Houston", out[0].Location)
	assert.Equal(t, "Dallas", out[1].Location)

	out, err = s.List(ctx, AggregateQuery{DisasterType: "fire"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Austin", out[0].Location)
}

func TestRedisHashRoundTrip(t *testing.T) {
	agg := types.LocationAggregate{
		Location:       "Houston",
		DisasterType:   types.Flood,
		AggregateScore: 0.8611,
		TweetCount:     8,
		NewLocation:    true,
	}
	vals := map[string]string{}
	for k, v := range aggregateToHash(agg) {
		switch x := v.(type) {
		case string:
			vals[k] = x
		case int:
			vals[k] = strconv.Itoa(x)
		}
	}
	got, err := aggregateFromHash(vals)
	require.NoError(t, err)
	assert.Equal(t, agg.AggregateScore, got.AggregateScore)
	assert.Equal(t, agg.TweetCount, got.TweetCount)
	assert.True(t, got.NewLocation)

	missing, err := aggregateFromHash(map[string]string{})
	require.NoError(t, err)
	assert.Nil(t, missing)
}
