package models

// Template is a pre-authored causal explanation with declared data
// prerequisites. The catalog is fixed at process start.
type Template struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	TriggerKPIs    []string  `json:"triggerKpis"`
	RequiredData   []Dataset `json:"requiredData"`
	OptionalData   []Dataset `json:"optionalData"`
	TestQueries    []string  `json:"testQueries"`
	ConfoundChecks []string  `json:"confoundChecks"`
}

// HypothesisStatus is the outcome of testing a hypothesis.
type HypothesisStatus string

const (
	HypothesisConfirmed    HypothesisStatus = "confirmed"
	HypothesisRejected     HypothesisStatus = "rejected"
	HypothesisInconclusive HypothesisStatus = "inconclusive"
)

// Evidence is one query/result pair recorded while testing a hypothesis.
type Evidence struct {
	Query    string `json:"query"`
	Result   string `json:"result"`
	Supports bool   `json:"supports"`
}

// ImpactEstimate quantifies the business damage a hypothesis explains.
type ImpactEstimate struct {
	LostRevenue     float64  `json:"lostRevenue"`
	AffectedSKUs    []string `json:"affectedSkus"`
	AffectedRegions []string `json:"affectedRegions"`
}

// Signal names for TestedHypothesis.Signals. Testers that compute these
// figures record them here so downstream consumers read numbers directly
// instead of re-parsing evidence text.
const (
	SignalStockElsewhereUnits = "stock_elsewhere_units"
	SignalCVRDropPercent      = "cvr_drop_pct"
	SignalSLABreaches         = "sla_breaches"
)

// StockLocation records stock found for a SKU at a specific location.
type StockLocation struct {
	SKU      string  `json:"sku"`
	Location string  `json:"location"`
	Qty      float64 `json:"qty"`
}

// TestedHypothesis is the immutable result of one evidence procedure.
type TestedHypothesis struct {
	TemplateID          string             `json:"templateId"`
	Name                string             `json:"name"`
	Description         string             `json:"description"`
	Status              HypothesisStatus   `json:"status"`
	ConfidenceScore     float64            `json:"confidenceScore"`
	Contribution        float64            `json:"contribution"`
	Evidence            []Evidence         `json:"evidence"`
	ContributingFactors []string           `json:"contributingFactors"`
	Impact              ImpactEstimate     `json:"impactEstimate"`
	Signals             map[string]float64 `json:"signals,omitempty"`
	StockElsewhere      []StockLocation    `json:"stockElsewhere,omitempty"`
}

// Score is the ranking key: evidential support weighted by how much of the
// anomaly the hypothesis explains.
func (h TestedHypothesis) Score() float64 {
	return h.ConfidenceScore * h.Contribution
}

// Signal returns a named numeric figure, or zero when absent.
func (h TestedHypothesis) Signal(name string) float64 {
	if h.Signals == nil {
		return 0
	}
	return h.Signals[name]
}
