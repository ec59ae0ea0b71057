package types

import "time"

// Workflow states for a single report.
const (
	StateReceived       = "received"
	StateClassified     = "classified"
	StateDuplicate      = "duplicate"
	StateStored         = "stored"
	StateAggregated     = "aggregated"
	StateAlertSkipped   = "alert_skipped"
	StateAlertTriggered = "alert_triggered"
)

// Alert reasons reported back to the caller.
const (
	ReasonThresholdsMet      = "thresholds_met"
	ReasonThresholdsNotMet   = "thresholds_not_met"
	ReasonDispatchInProgress = "dispatch_in_progress"
	ReasonCooldown           = "cooldown"
	ReasonNoLocation         = "no_location"
	ReasonShuttingDown       = "shutting_down"
)

// AlertTicket is what scheduling a background dispatch hands back.
type AlertTicket struct {
	Scheduled  bool   `json:"triggered"`
	Reason     string `json:"reason"`
	DispatchID string `json:"dispatch_id,omitempty"`
}

// OrchestrationResult reports every step of one workflow run, including
// steps that failed after classification succeeded.
type OrchestrationResult struct {
	Status         string             `json:"status"`
	State          string             `json:"state"`
	Timestamp      time.Time          `json:"timestamp"`
	Classification ClassifiedReport   `json:"classification"`
	Contribution   float64            `json:"contribution"`
	Inserted       bool               `json:"inserted"`
	Aggregate      *LocationAggregate `json:"aggregate"`
	AlertTriggered bool               `json:"alert_triggered"`
	Alert          AlertTicket        `json:"alert"`
	Errors         map[string]string  `json:"errors,omitempty"`
}
