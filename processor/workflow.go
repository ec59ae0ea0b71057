package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go-redzone/classifier"
	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/types"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// AlertScheduler starts a background dispatch. *dispatch.Runner implements it.
type AlertScheduler interface {
	Schedule(agg types.LocationAggregate) types.AlertTicket
}

// Workflow runs one report through classification, storage, aggregation and
// alert evaluation.
type Workflow struct {
	classifier      classifier.Classifier
	reports         db.ReportStore
	aggregator      *Aggregator
	evaluator       detection.Evaluator
	alerts          AlertScheduler
	classifyTimeout time.Duration
	now             func() time.Time
}

func NewWorkflow(c classifier.Classifier, reports db.ReportStore, aggregator *Aggregator, evaluator detection.Evaluator, alerts AlertScheduler) *Workflow {
	return &Workflow{
		classifier:      c,
		reports:         reports,
		aggregator:      aggregator,
		evaluator:       evaluator,
		alerts:          alerts,
		classifyTimeout: classifier.DefaultTimeout,
		now:             time.Now,
	}
}

// Run returns an error only when classification fails. Later failures are
// reported in the result's Errors map with Status "partial".
func (w *Workflow) Run(ctx context.Context, in classifier.Input) (*types.OrchestrationResult, error) {
	var logBuilder strings.Builder
	addLog := func(format string, args ...interface{}) {
		logBuilder.WriteString(fmt.Sprintf(format, args...))
		logBuilder.WriteString("\n")
	}
	defer func() { log.Print("Workflow:\n" + logBuilder.String()) }()

	result := &types.OrchestrationResult{
		Status:    StatusSuccess,
		State:     types.StateReceived,
		Timestamp: w.now().UTC(),
		Errors:    map[string]string{},
	}
	addLog("Received %s input (%d chars of text, image=%v)", in.Kind, len(in.Text), in.HasImage())

	// 1. Classify
	classifyCtx, cancel := context.WithTimeout(ctx, w.classifyTimeout)
	report, err := w.classifier.Classify(classifyCtx, in)
	cancel()
	if err != nil {
		addLog("Classification failed: %v", err)
		return nil, err
	}
	result.Classification = report
	result.Contribution = detection.ComputeContribution(report)
	result.State = types.StateClassified
	addLog("Classified as %s at %q, contribution %.4f", report.DisasterType, report.Location, result.Contribution)

	// 2. Store, deduplicated on report text
	if strings.TrimSpace(report.TweetText) == "" {
		report.TweetText = imageReportKey(in)
		result.Classification.TweetText = report.TweetText
	}
	inserted, err := w.reports.InsertIfAbsent(ctx, report)
	if err != nil {
		addLog("Store failed: %v", err)
		result.Errors["store"] = err.Error()
		result.Status = StatusPartial
		return result, nil
	}
	result.Inserted = inserted
	if !inserted {
		addLog("Duplicate report, skipping aggregation")
		result.State = types.StateDuplicate
		return result, nil
	}
	result.State = types.StateStored

	// 3. Aggregate and evaluate
	if !report.HasLocation() {
		addLog("No location identified, skipping aggregation")
		result.Alert = types.AlertTicket{Reason: types.ReasonNoLocation}
		return result, nil
	}
	agg, err := w.aggregator.Upsert(ctx, report.Location, result.Contribution, report.DisasterType)
	if err != nil {
		addLog("Aggregation failed: %v", err)
		result.Errors["aggregate"] = err.Error()
		result.Status = StatusPartial
		if errors.Is(err, ErrMissingLocation) {
			result.Alert = types.AlertTicket{Reason: types.ReasonNoLocation}
		}
		return result, nil
	}
	result.Aggregate = &agg
	result.State = types.StateAggregated
	addLog("Aggregate for %s: score %.4f over %d reports", agg.Location, agg.AggregateScore, agg.TweetCount)

	if !w.evaluator.ShouldAlert(agg) {
		result.State = types.StateAlertSkipped
		result.Alert = types.AlertTicket{Reason: types.ReasonThresholdsNotMet}
		addLog("Thresholds not met")
		return result, nil
	}

	result.Alert = w.alerts.Schedule(agg)
	result.AlertTriggered = result.Alert.Scheduled
	if result.AlertTriggered {
		result.State = types.StateAlertTriggered
		addLog("Alert triggered, dispatch %s", result.Alert.DispatchID)
	} else {
		result.State = types.StateAlertSkipped
		addLog("Thresholds met but dispatch not scheduled: %s", result.Alert.Reason)
	}
	return result, nil
}

// imageReportKey stands in for the text of an image-only report so the
// stores can still deduplicate it: the image URL when there is one,
// otherwise a hash of the image bytes.
func imageReportKey(in classifier.Input) string {
	if in.ImageURL != "" {
		return "[image] " + in.ImageURL
	}
	if in.Image != nil {
		return "[image sha256:" + db.HashString(string(in.Image.Data)) + "]"
	}
	return ""
}
