package hypotheses

import (
	"context"
	"fmt"
	"math"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// TrafficDropTester checks whether reduced acquisition traffic explains the
// revenue decline.
type TrafficDropTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *TrafficDropTester) TemplateID() string { return "H2" }

func (t *TrafficDropTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	series, err := t.source.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("traffic test: %w", err)
	}
	if len(series) < 14 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient traffic data for comparison"), nil
	}

	traffic := make([]float64, len(series))
	for i, day := range series {
		traffic[i] = day.Traffic
	}
	recent, prior, delta, ok := weeklyDelta(traffic)
	if !ok {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient traffic data for comparison"), nil
	}

	confidence := 0.0
	var evidence []models.Evidence
	var factors []string

	dropped := delta < -10
	if dropped {
		confidence += 0.5
		factors = append(factors, fmt.Sprintf("Traffic down %.1f%% week over week", -delta))
	}
	evidence = append(evidence, models.Evidence{
		Query:    "Compare traffic WoW",
		Result:   fmt.Sprintf("Weekly traffic moved from %.0f to %.0f sessions (%.1f%%)", prior, recent, delta),
		Supports: dropped,
	})

	channels, err := t.source.TrafficByChannel(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("traffic test: %w", err)
	}
	if len(channels) > 0 && dropped {
		confidence += 0.2
		lead := channels[0]
		evidence = append(evidence, models.Evidence{
			Query:    "Identify which channel dropped most",
			Result:   fmt.Sprintf("%s is the dominant channel with %.0f sessions", lead.Channel, lead.Sessions),
			Supports: true,
		})
	}

	// Contribution reflects the size of the traffic move regardless of
	// direction; the ranker's status filter decides whether it counts.
	contribution := clampScore(math.Abs(delta) / 100)

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
