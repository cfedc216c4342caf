package hypotheses

import (
	"context"
	"fmt"
	"math"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// ConversionTester checks for conversion collapse: traffic holding steady
// while the units-per-session rate drops.
type ConversionTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *ConversionTester) TemplateID() string { return "H4" }

func (t *ConversionTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	series, err := t.source.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("conversion test: %w", err)
	}
	if len(series) < 14 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data"), nil
	}

	var recentTraffic, recentUnits, priorTraffic, priorUnits float64
	for _, day := range series[len(series)-7:] {
		recentTraffic += day.Traffic
		recentUnits += day.Units
	}
	for _, day := range series[len(series)-14 : len(series)-7] {
		priorTraffic += day.Traffic
		priorUnits += day.Units
	}
	if recentTraffic == 0 || priorTraffic == 0 {
		return inconclusive(tmpl.ID, tmpl.Name, "No traffic data"), nil
	}

	recentCVR := recentUnits / recentTraffic * 100
	priorCVR := priorUnits / priorTraffic * 100
	cvrDelta, ok := percentChange(recentCVR, priorCVR)
	if !ok {
		return inconclusive(tmpl.ID, tmpl.Name, "No traffic data"), nil
	}
	trafficDelta, _ := percentChange(recentTraffic, priorTraffic)

	confidence := 0.0
	var factors []string
	collapsed := cvrDelta < -15 && trafficDelta > -5
	if collapsed {
		confidence += 0.6
		factors = append(factors, fmt.Sprintf("Conversion fell %.1f%% while traffic held (%.1f%%)", -cvrDelta, trafficDelta))
	}
	evidence := []models.Evidence{{
		Query:    "Calculate CVR = units/traffic by period",
		Result:   fmt.Sprintf("CVR moved from %.2f%% to %.2f%% (%.1f%%) with traffic at %.1f%%", priorCVR, recentCVR, cvrDelta, trafficDelta),
		Supports: collapsed,
	}}

	contribution := clampScore(math.Abs(cvrDelta) / 100)
	signals := make(map[string]float64)
	if cvrDelta < 0 {
		signals[models.SignalCVRDropPercent] = math.Abs(cvrDelta)
	}

	confidence = clampScore(confidence)
	return models.TestedHypothesis{
		TemplateID:          tmpl.ID,
		Name:                tmpl.Name,
		Description:         tmpl.Description,
		Status:              statusFor(confidence, t.tuning.ConfirmBar, t.tuning),
		ConfidenceScore:     confidence,
		Contribution:        contribution,
		Evidence:            evidence,
		ContributingFactors: factors,
		Impact:              models.ImpactEstimate{AffectedSKUs: []string{}, AffectedRegions: []string{}},
		Signals:             signals,
	}, nil
}
