package models

import "time"

// SessionStatus tracks a diagnosis session through its state machine.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// StepStatus tracks one pipeline stage.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is the progress record for one of the four pipeline stages.
type Step struct {
	Stage       int        `json:"stage"`
	Label       string     `json:"label"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// Session is the aggregate root for one diagnosis run. It is owned and
// mutated exclusively by the pipeline goroutine that runs it.
type Session struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"organizationId"`
	Query        string        `json:"query"`
	SignalID     string        `json:"signalId,omitempty"`
	Status       SessionStatus `json:"status"`
	Steps        []Step        `json:"steps"`
	Result       *ResultData   `json:"result,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// RootCause is a hypothesis that cleared the confidence bar, re-expressed
// with a normalized contribution share for presentation.
type RootCause struct {
	ID                  string         `json:"id"`
	TemplateID          string         `json:"templateId"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Contribution        int            `json:"contribution"`
	Confidence          float64        `json:"confidence"`
	MonitorType         string         `json:"monitorType"`
	ContributingFactors []string       `json:"contributingFactors"`
	Evidence            RootCauseProof `json:"evidence"`
}

// RootCauseProof bundles the raw evidence trail and impact estimate backing
// a ranked root cause.
type RootCauseProof struct {
	Tests  []Evidence     `json:"tests"`
	Impact ImpactEstimate `json:"impact"`
}

// BusinessImpact aggregates the damage across confirmed hypotheses.
type BusinessImpact struct {
	LostRevenue          float64 `json:"lostRevenue"`
	LostRevenueFormatted string  `json:"lostRevenueFormatted"`
	ConversionDrop       float64 `json:"conversionDrop"`
	OOSSKUs              int     `json:"oosSkus"`
	SLABreaches          int     `json:"slaBreaches"`
	StockAtHQ            float64 `json:"stockAtHQ"`
	StockAtTarget        float64 `json:"stockAtTarget"`
}

// ActionPriority orders remediation urgency.
type ActionPriority string

const (
	PriorityUrgent ActionPriority = "urgent"
	PriorityHigh   ActionPriority = "high"
	PriorityMedium ActionPriority = "medium"
	PriorityLow    ActionPriority = "low"
)

// Action is a templated remediation step tied to a ranked root cause.
type Action struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Priority       ActionPriority `json:"priority"`
	Effort         string         `json:"effort"`
	ExpectedImpact string         `json:"expectedImpact"`
	Owner          string         `json:"owner"`
	Type           string         `json:"type"`
}

// GeoOpportunity describes a stock-rebalancing move between two locations.
type GeoOpportunity struct {
	Origin           string `json:"origin"`
	OriginLabel      string `json:"originLabel"`
	Destination      string `json:"destination"`
	DestinationLabel string `json:"destinationLabel"`
	Narrative        string `json:"narrative"`
}

// ChartPoint is one day of the revenue-vs-traffic series used for charting.
type ChartPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Traffic float64 `json:"traffic"`
}

// Charts groups the time series shipped with a completed diagnosis.
type Charts struct {
	RevenueVsTraffic []ChartPoint `json:"revenueVsTraffic"`
	ExternalFactors  []ChartPoint `json:"externalFactors"`
}

// ResultData is the complete output of a successful diagnosis run.
type ResultData struct {
	RootCauses     []RootCause     `json:"rootCauses"`
	BusinessImpact BusinessImpact  `json:"businessImpact"`
	Actions        []Action        `json:"actions"`
	GeoOpportunity *GeoOpportunity `json:"geoOpportunity"`
	Charts         Charts          `json:"charts"`
	MemoMarkdown   string          `json:"memoMarkdown"`
}

// StepEvent is one append-only progress entry for a session. The current
// step array is derived by folding a session's events in order.
type StepEvent struct {
	SessionID string     `json:"sessionId"`
	Stage     int        `json:"stage"`
	Label     string     `json:"label"`
	Status    StepStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	At        time.Time  `json:"at"`
}

// FoldSteps derives the current step state from an append-only event log.
// Events must be ordered; later events for a stage win.
func FoldSteps(events []StepEvent) []Step {
	byStage := make(map[int]int)
	steps := make([]Step, 0, 4)
	for _, ev := range events {
		idx, ok := byStage[ev.Stage]
		if !ok {
			steps = append(steps, Step{Stage: ev.Stage, Label: ev.Label})
			idx = len(steps) - 1
			byStage[ev.Stage] = idx
		}
		step := &steps[idx]
		step.Status = ev.Status
		if ev.Label != "" {
			step.Label = ev.Label
		}
		if ev.Detail != "" {
			step.Detail = ev.Detail
		}
		at := ev.At
		switch ev.Status {
		case StepRunning:
			step.StartedAt = &at
		case StepCompleted, StepFailed:
			step.CompletedAt = &at
		}
	}
	return steps
}
