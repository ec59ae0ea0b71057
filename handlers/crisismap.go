package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/geocode"
	"go-redzone/types"
)

const (
	defaultMapLimit = 100
	topLocations    = 5
)

type crisisPoint struct {
	Location     string             `json:"location"`
	DisasterType types.DisasterType `json:"disaster_type"`
	Score        float64            `json:"aggregate_score"`
	RawScore     float64            `json:"raw_score"`
	TweetCount   int                `json:"tweet_count"`
	Severity     string             `json:"severity"`
	Color        string             `json:"color"`
	Lat          float64            `json:"lat,omitempty"`
	Lng          float64            `json:"lng,omitempty"`
}

func toCrisisPoint(agg types.LocationAggregate) crisisPoint {
	score := detection.MapScore(agg.AggregateScore)
	severity, color := detection.MapSeverity(score)
	return crisisPoint{
		Location:     agg.Location,
		DisasterType: agg.DisasterType,
		Score:        score,
		RawScore:     agg.AggregateScore,
		TweetCount:   agg.TweetCount,
		Severity:     severity,
		Color:        color,
		Lat:          agg.Lat,
		Lng:          agg.Lng,
	}
}

// CrisisMapDataHandler lists aggregates for the heat map, highest score first.
// min_score is on the raw 0-1 scale.
func CrisisMapDataHandler(c *gin.Context, store db.AggregateStore) {
	q := db.AggregateQuery{
		DisasterType: c.Query("disaster_type"),
		Limit:        defaultMapLimit,
	}
	if v := c.Query("min_score"); v != "" {
		minScore, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(c, fmt.Errorf("%w: invalid min_score %q", errBadRequest, v))
			return
		}
		q.MinScore = minScore
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(c, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		q.Limit = limit
	}

	aggs, err := store.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, fmt.Errorf("failed to fetch crisis data: %w", err))
		return
	}

	data := make([]crisisPoint, 0, len(aggs))
	for _, agg := range aggs {
		data = append(data, toCrisisPoint(agg))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"data":            data,
		"total_locations": len(data),
		"filters": gin.H{
			"min_score":     q.MinScore,
			"disaster_type": q.DisasterType,
			"limit":         q.Limit,
		},
	})
}

// CrisisMapSummaryHandler reports totals and the score distribution across
// every location.
func CrisisMapSummaryHandler(c *gin.Context, store db.AggregateStore) {
	aggs, err := store.List(c.Request.Context(), db.AggregateQuery{})
	if err != nil {
		respondError(c, fmt.Errorf("failed to get crisis summary: %w", err))
		return
	}

	ranges := map[string]int{"extreme": 0, "high": 0, "moderate": 0, "low": 0}
	totalTweets := 0
	for _, agg := range aggs {
		ranges[detection.ScoreBand(detection.MapScore(agg.AggregateScore))]++
		totalTweets += agg.TweetCount
	}

	// List returns highest score first.
	top := make([]crisisPoint, 0, topLocations)
	for i := 0; i < len(aggs) && i < topLocations; i++ {
		top = append(top, toCrisisPoint(aggs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"summary": gin.H{
			"total_locations":        len(aggs),
			"disaster_types":         disasterTypes(aggs),
			"score_ranges":           ranges,
			"total_tweets":           totalTweets,
			"top_affected_locations": top,
		},
	})
}

// DisasterTypesHandler lists the distinct disaster types on the map.
func DisasterTypesHandler(c *gin.Context, store db.AggregateStore) {
	aggs, err := store.List(c.Request.Context(), db.AggregateQuery{})
	if err != nil {
		respondError(c, fmt.Errorf("failed to get disaster types: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "disaster_types": disasterTypes(aggs)})
}

func disasterTypes(aggs []types.LocationAggregate) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, agg := range aggs {
		dt := string(agg.DisasterType)
		if dt == "" || seen[dt] {
			continue
		}
		seen[dt] = true
		out = append(out, dt)
	}
	sort.Strings(out)
	return out
}

type pointGeocoder interface {
	Geocode(ctx context.Context, address string) (types.GeoPoint, error)
}

// GeocodeLocationHandler returns coordinates for a location, preferring what
// the geocode sweep already stored. geocoder may be nil.
func GeocodeLocationHandler(c *gin.Context, store db.AggregateStore, geocoder pointGeocoder) {
	location := strings.TrimSpace(c.Param("location"))
	if location == "" {
		respondError(c, fmt.Errorf("%w: location is required", errBadRequest))
		return
	}

	agg, err := store.Get(c.Request.Context(), location)
	if err != nil {
		respondError(c, err)
		return
	}
	if agg != nil && !agg.NewLocation && (agg.Lat != 0 || agg.Lng != 0) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "success",
			"location":          location,
			"formatted_address": agg.FormattedAddress,
			"coordinates":       gin.H{"lat": agg.Lat, "lng": agg.Lng},
			"source":            "stored",
		})
		return
	}

	if geocoder == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "location has not been geocoded"})
		return
	}
	point, err := geocoder.Geocode(c.Request.Context(), location)
	if errors.Is(err, geocode.ErrNoResults) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"location":          location,
		"formatted_address": point.FormattedAddress,
		"coordinates":       gin.H{"lat": point.Lat, "lng": point.Lng},
		"source":            "geocoder",
	})
}
