package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/dispatch"
	"go-redzone/processor"
	"go-redzone/types"
)

const unknownDisasterType types.DisasterType = "unknown"

// PushToStoreHandler stores an already classified report. Report text is the
// uniqueness key, so a resend answers inserted=false.
func PushToStoreHandler(c *gin.Context, reports db.ReportStore) {
	var report types.ClassifiedReport
	if err := c.ShouldBindJSON(&report); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var missing []string
	if strings.TrimSpace(string(report.DisasterType)) == "" {
		missing = append(missing, "disaster_type")
	}
	if strings.TrimSpace(report.Informativeness) == "" {
		missing = append(missing, "informativeness")
	}
	if strings.TrimSpace(report.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(report.TweetText) == "" {
		missing = append(missing, "tweet_text")
	}
	if len(missing) > 0 {
		respondError(c, fmt.Errorf("%w: missing required fields: %s", errBadRequest, strings.Join(missing, ", ")))
		return
	}

	inserted, err := reports.InsertIfAbsent(c.Request.Context(), report)
	if err != nil {
		respondError(c, fmt.Errorf("database operation failed: %w", err))
		return
	}

	message := "Data inserted successfully"
	if !inserted {
		message = "Report already exists in database"
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted, "message": message})
}

// GetAggregateHandler scores the posted report fields and folds the score
// into the location's running mean.
func GetAggregateHandler(c *gin.Context, aggregator *processor.Aggregator) {
	var report types.ClassifiedReport
	if err := c.ShouldBindJSON(&report); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	report.Location = strings.TrimSpace(report.Location)
	if report.Location == "" {
		respondError(c, fmt.Errorf("%w: missing required field: location", errBadRequest))
		return
	}
	if strings.TrimSpace(string(report.DisasterType)) == "" {
		log.Println("No disaster_type provided, using 'unknown'")
		report.DisasterType = unknownDisasterType
	}

	contribution := detection.ComputeContribution(report)
	agg, err := aggregator.Upsert(c.Request.Context(), report.Location, contribution, report.DisasterType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"location":        agg.Location,
		"disaster_type":   agg.DisasterType,
		"aggregate_score": agg.AggregateScore,
		"tweet_count":     agg.TweetCount,
	})
}

type triggerCallRequest struct {
	Location       string `json:"location"`
	DisasterType   string `json:"disaster_type"`
	TimeoutMinutes int    `json:"timeout_minutes"`
}

// TriggerCallHandler calls everyone registered at a location and waits for
// the whole batch. A client that goes away does not stop calls already
// placed; the batch runs to completion or per-call timeout.
func TriggerCallHandler(c *gin.Context, dispatcher dispatch.LocationDispatcher) {
	var req triggerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	req.Location = strings.TrimSpace(req.Location)
	req.DisasterType = strings.TrimSpace(req.DisasterType)
	if req.Location == "" || req.DisasterType == "" {
		respondError(c, fmt.Errorf("%w: location and disaster_type are required", errBadRequest))
		return
	}
	if req.TimeoutMinutes <= 0 {
		req.TimeoutMinutes = int(dispatch.DefaultCallTimeout / time.Minute)
	}

	ctx := context.WithoutCancel(c.Request.Context())
	result, err := dispatcher.DispatchLocationAlert(ctx, req.Location, types.DisasterType(req.DisasterType), time.Duration(req.TimeoutMinutes)*time.Minute)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
