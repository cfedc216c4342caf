package hypotheses

import (
	"context"
	"fmt"
	"math"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// WeatherTester checks for a marked temperature shift that could move demand
// between categories. Weather evidence is circumstantial, so the result is
// held to the lighter confirmation bar.
type WeatherTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *WeatherTester) TemplateID() string { return "H8" }

func (t *WeatherTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	records, err := t.source.WeatherDailyDesc(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("weather test: %w", err)
	}
	if len(records) < 8 {
		return inconclusive(tmpl.ID, tmpl.Name, "No weather data available"), nil
	}

	// Records arrive newest first.
	recentAvg := avgTempMax(records[:7])
	priorEnd := 14
	if priorEnd > len(records) {
		priorEnd = len(records)
	}
	priorAvg := avgTempMax(records[7:priorEnd])
	tempShift := recentAvg - priorAvg

	confidence, contribution := 0.0, 0.0
	var factors []string
	shifted := math.Abs(tempShift) > 5
	if shifted {
		confidence = 0.4
		contribution = 0.15
		direction := "warmer"
		if tempShift < 0 {
			direction = "colder"
		}
		factors = append(factors, fmt.Sprintf("Region running %.1f degrees %s than the prior week", math.Abs(tempShift), direction))
	}
	evidence := []models.Evidence{{
		Query:    "Check weather data for temperature shifts in key regions",
		Result:   fmt.Sprintf("Average max temperature moved from %.1f to %.1f (%.1f degree shift)", priorAvg, recentAvg, tempShift),
		Supports: shifted,
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

func avgTempMax(records []models.WeatherRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0.0
	for _, rec := range records {
		sum += rec.TempMax
	}
	return sum / float64(len(records))
}
