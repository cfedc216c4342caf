package hypotheses

import (
	"context"
	"fmt"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// ReturnsTester checks for a returns or cancellation spike eroding net
// revenue. With fulfilment data it computes both rates from order outcomes;
// without it, it falls back to the coarser retail returns counters and holds
// the result to a lighter evidence bar.
type ReturnsTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *ReturnsTester) TemplateID() string { return "H6" }

func (t *ReturnsTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	records, err := t.source.FulfilmentRecords(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("returns test: %w", err)
	}
	if len(records) == 0 {
		return t.testFromRetail(ctx, tenantID, tmpl)
	}

	returned, cancelled := 0, 0
	for _, rec := range records {
		switch rec.Status {
		case models.FulfilmentReturned, models.FulfilmentRTO:
			returned++
		case models.FulfilmentCancelled:
			cancelled++
		}
	}
	returnRate := float64(returned) / float64(len(records)) * 100
	cancelRate := float64(cancelled) / float64(len(records)) * 100

	confidence := 0.0
	var factors []string
	spiked := returnRate > 5 || cancelRate > 3
	if spiked {
		confidence += 0.5
		factors = append(factors, fmt.Sprintf("Return rate %.1f%%, cancel rate %.1f%%", returnRate, cancelRate))
	}
	evidence := []models.Evidence{{
		Query:    "Calculate return rate and cancel rate by period",
		Result:   fmt.Sprintf("%d returns and %d cancels across %d shipments (%.1f%% / %.1f%%)", returned, cancelled, len(records), returnRate, cancelRate),
		Supports: spiked,
	}}

	contribution := 0.0
	if spiked {
		contribution = (returnRate + cancelRate) / 50
	}

	confidence = clampScore(confidence)
	return models.TestedHypothesis{
		TemplateID:          tmpl.ID,
		Name:                tmpl.Name,
		Description:         tmpl.Description,
		Status:              statusFor(confidence, t.tuning.ConfirmBar, t.tuning),
		ConfidenceScore:     confidence,
		Contribution:        clampScore(contribution),
		Evidence:            evidence,
		ContributingFactors: factors,
		Impact:              models.ImpactEstimate{AffectedSKUs: []string{}, AffectedRegions: []string{}},
	}, nil
}

func (t *ReturnsTester) testFromRetail(ctx context.Context, tenantID string, tmpl models.Template) (models.TestedHypothesis, error) {
	units, returns, err := t.source.RetailReturnTotals(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("returns test: %w", err)
	}
	if units == 0 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data to test"), nil
	}

	returnRate := returns / units * 100
	confidence, contribution := 0.0, 0.0
	var factors []string
	spiked := returnRate > 5
	if spiked {
		confidence = 0.4
		contribution = 0.1
		factors = append(factors, fmt.Sprintf("Retail return rate at %.1f%%", returnRate))
	}
	evidence := []models.Evidence{{
		Query:    "Calculate return rate and cancel rate by period",
		Result:   fmt.Sprintf("%.0f returns over %.0f units sold (%.1f%%)", returns, units, returnRate),
		Supports: spiked,
	}}

	return models.TestedHypothesis{
		TemplateID:          tmpl.ID,
		Name:                tmpl.Name,
		Description:         tmpl.Description,
		Status:              statusFor(confidence, t.tuning.ConfirmBarLight, t.tuning),
		ConfidenceScore:     confidence,
		Contribution:        contribution,
		Evidence:            evidence,
		ContributingFactors: factors,
		Impact:              models.ImpactEstimate{AffectedSKUs: []string{}, AffectedRegions: []string{}},
	}, nil
}
