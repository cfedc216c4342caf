package hypotheses

import (
	"context"
	"fmt"
	"time"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// festivalWindow is how close a calendar entry must fall to the anomaly
// period to count as an overlap.
const festivalWindow = 14 * 24 * time.Hour

// FestivalTester checks whether the anomaly window overlaps a festival in
// the reference calendar.
type FestivalTester struct {
	source   DataSource
	calendar []Festival
	tuning   config.TuningConfig
}

func (t *FestivalTester) TemplateID() string { return "H7" }

func (t *FestivalTester) Test(ctx context.Context, tenantID string, _ []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	latest, ok, err := t.source.LatestRetailDate(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("festival test: %w", err)
	}
	if !ok {
		return inconclusive(tmpl.ID, tmpl.Name, "No data"), nil
	}

	near := FestivalsNear(t.calendar, latest, festivalWindow)

	confidence, contribution := 0.0, 0.0
	var evidence []models.Evidence
	var factors []string
	if len(near) > 0 {
		strongest := near[0]
		confidence = 0.3 + float64(strongest.Intensity)/10
		contribution = 0.2
		factors = append(factors, strongest.Name)
		evidence = append(evidence, models.Evidence{
			Query:    "Check if anomaly period overlaps with festival calendar",
			Result:   fmt.Sprintf("%s (%s, intensity %d) falls within 14 days of the anomaly window", strongest.Name, strongest.Date.Format("2006-01-02"), strongest.Intensity),
			Supports: true,
		})
	} else {
		evidence = append(evidence, models.Evidence{
			Query:    "Check if anomaly period overlaps with festival calendar",
			Result:   "No festival within 14 days of the anomaly window",
			Supports: false,
		})
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
	}, nil
}
