package hypotheses

import (
	"context"
	"fmt"
	"math"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// PricePromoTester checks whether a shift in average order value points to a
// pricing or promotional cause.
type PricePromoTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *PricePromoTester) TemplateID() string { return "H3" }

func (t *PricePromoTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	series, err := t.source.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("pricing test: %w", err)
	}
	if len(series) < 14 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data"), nil
	}

	var recentRev, recentUnits, priorRev, priorUnits float64
	for _, day := range series[len(series)-7:] {
		recentRev += day.Revenue
		recentUnits += day.Units
	}
	for _, day := range series[len(series)-14 : len(series)-7] {
		priorRev += day.Revenue
		priorUnits += day.Units
	}
	if recentUnits == 0 || priorUnits == 0 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data"), nil
	}

	recentAOV := recentRev / recentUnits
	priorAOV := priorRev / priorUnits
	aovDelta, ok := percentChange(recentAOV, priorAOV)
	if !ok {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data"), nil
	}

	confidence := 0.0
	var factors []string
	shifted := math.Abs(aovDelta) > 10
	if shifted {
		confidence += 0.5
		direction := "up"
		if aovDelta < 0 {
			direction = "down"
		}
		factors = append(factors, fmt.Sprintf("Average order value %s %.1f%% week over week", direction, math.Abs(aovDelta)))
	}
	evidence := []models.Evidence{{
		Query:    "Compare AOV between periods",
		Result:   fmt.Sprintf("AOV moved from %.2f to %.2f (%.1f%%)", priorAOV, recentAOV, aovDelta),
		Supports: shifted,
	}}

	contribution := clampScore(math.Abs(aovDelta) / 100)

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
	}, nil
}

// percentChange mirrors the detector's guarded delta: a non-positive base
// suppresses the comparison.
func percentChange(recent, prior float64) (float64, bool) {
	if prior <= 0 {
		return 0, false
	}
	return (recent - prior) / prior * 100, true
}
