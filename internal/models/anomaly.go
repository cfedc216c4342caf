package models

// Severity captures how far a KPI has deviated from its baseline.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DetectedAnomaly is a statistically significant KPI deviation found during a
// diagnosis run. Severity is derived solely from the deviation magnitude.
type DetectedAnomaly struct {
	KPIName          string            `json:"kpiName"`
	Severity         Severity          `json:"severity"`
	CurrentValue     float64           `json:"currentValue"`
	ExpectedValue    float64           `json:"expectedValue"`
	DeviationPercent float64           `json:"deviationPercent"`
	Dimensions       map[string]string `json:"dimensions"`
}
