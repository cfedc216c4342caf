package hypotheses

import (
	"context"
	"fmt"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// FulfilmentTester checks for delivery SLA deterioration and singles out the
// worst-performing carrier.
type FulfilmentTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *FulfilmentTester) TemplateID() string { return "H5" }

func (t *FulfilmentTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	records, err := t.source.FulfilmentRecords(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("fulfilment test: %w", err)
	}
	if len(records) == 0 {
		return inconclusive(tmpl.ID, tmpl.Name, "No fulfilment data"), nil
	}

	delayed := 0
	carrierDelays := make(map[string]int)
	regionSet := make(map[string]bool)
	for _, rec := range records {
		if rec.DelayDays > 0 {
			delayed++
			carrierDelays[rec.Carrier]++
			if rec.Region != "" {
				regionSet[rec.Region] = true
			}
		}
	}
	sla := float64(len(records)-delayed) / float64(len(records)) * 100

	confidence := 0.0
	var evidence []models.Evidence
	var factors []string

	breached := sla < 90
	if breached {
		confidence += 0.5
		factors = append(factors, fmt.Sprintf("SLA adherence at %.1f%% across %d shipments", sla, len(records)))
	}
	evidence = append(evidence, models.Evidence{
		Query:    "Check SLA adherence trend",
		Result:   fmt.Sprintf("%d of %d shipments delayed, SLA adherence %.1f%%", delayed, len(records), sla),
		Supports: breached,
	})

	if breached && len(carrierDelays) > 0 {
		worst, worstCount := "", 0
		for carrier, count := range carrierDelays {
			if count > worstCount || (count == worstCount && carrier < worst) {
				worst, worstCount = carrier, count
			}
		}
		confidence += 0.2
		factors = append(factors, fmt.Sprintf("Carrier %s accounts for %d delayed shipments", worst, worstCount))
		evidence = append(evidence, models.Evidence{
			Query:    "Identify carriers/regions with worst delay",
			Result:   fmt.Sprintf("%s has the most delays (%d shipments)", worst, worstCount),
			Supports: true,
		})
	}

	contribution := 0.0
	if breached {
		contribution = (100 - sla) / 100
	}

	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
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
		Impact:              models.ImpactEstimate{AffectedSKUs: []string{}, AffectedRegions: regions},
		Signals:             map[string]float64{models.SignalSLABreaches: float64(delayed)},
	}, nil
}
