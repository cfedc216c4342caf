package hypotheses

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

// DataSource defines the fact-store reads the evidence procedures perform.
// Every method is a pure read; testers share no mutable state.
type DataSource interface {
	RetailDailySeries(ctx context.Context, tenantID string) ([]store.DailyFact, error)
	TopSKUsByRevenue(ctx context.Context, tenantID string, limit int) ([]store.SKUStat, error)
	LatestInventoryLevels(ctx context.Context, tenantID string) ([]store.InventoryLevel, error)
	RecentDemandForSKUs(ctx context.Context, tenantID string, skus []string, rowLimit int) ([]store.SKUDemand, error)
	TrafficByChannel(ctx context.Context, tenantID string) ([]store.ChannelTraffic, error)
	FulfilmentRecords(ctx context.Context, tenantID string) ([]models.FulfilmentRecord, error)
	RetailReturnTotals(ctx context.Context, tenantID string) (units, returns float64, err error)
	WeatherDailyDesc(ctx context.Context, tenantID string) ([]models.WeatherRecord, error)
	LatestRetailDate(ctx context.Context, tenantID string) (time.Time, bool, error)
}

// Tester runs the bespoke evidence procedure for one hypothesis template.
type Tester interface {
	TemplateID() string
	Test(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) (models.TestedHypothesis, error)
}

// Registry maps template ids to their testers, so templates can be added
// without touching a central dispatcher.
type Registry struct {
	testers map[string]Tester
	tuning  config.TuningConfig
}

// NewRegistry wires the built-in testers against the given data source and
// festival calendar.
func NewRegistry(source DataSource, calendar []Festival, tuning config.TuningConfig) *Registry {
	r := &Registry{testers: make(map[string]Tester), tuning: tuning}
	r.Register(&StockoutTester{source: source, tuning: tuning})
	r.Register(&TrafficDropTester{source: source, tuning: tuning})
	r.Register(&PricePromoTester{source: source, tuning: tuning})
	r.Register(&ConversionTester{source: source, tuning: tuning})
	r.Register(&FulfilmentTester{source: source, tuning: tuning})
	r.Register(&ReturnsTester{source: source, tuning: tuning})
	r.Register(&FestivalTester{source: source, calendar: calendar, tuning: tuning})
	r.Register(&WeatherTester{source: source, tuning: tuning})
	return r
}

// Register adds or replaces the tester for a template id.
func (r *Registry) Register(t Tester) {
	r.testers[t.TemplateID()] = t
}

// TestAll runs every selected template's evidence procedure. Testers only
// read, so they run concurrently; a template without a registered tester
// resolves to inconclusive rather than an error. Results are sorted
// descending by confidence x contribution.
func (r *Registry) TestAll(ctx context.Context, tenantID string, templates []models.Template, anomalies []models.DetectedAnomaly) ([]models.TestedHypothesis, error) {
	results := make([]models.TestedHypothesis, len(templates))

	g, gctx := errgroup.WithContext(ctx)
	for i, tmpl := range templates {
		i, tmpl := i, tmpl
		g.Go(func() error {
			tester, ok := r.testers[tmpl.ID]
			if !ok {
				results[i] = inconclusive(tmpl.ID, tmpl.Name, "Insufficient data to test")
				return nil
			}
			tested, err := tester.Test(gctx, tenantID, anomalies)
			if err != nil {
				return err
			}
			results[i] = tested
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score() > results[j].Score()
	})
	return results, nil
}

// statusFor derives the uniform hypothesis status from accumulated
// confidence. confirmBar is 0.5 for most templates, 0.4 for the two with
// lighter evidence bars.
func statusFor(confidence, confirmBar float64, tuning config.TuningConfig) models.HypothesisStatus {
	switch {
	case confidence >= confirmBar:
		return models.HypothesisConfirmed
	case confidence > tuning.InconclusiveBar:
		return models.HypothesisInconclusive
	default:
		return models.HypothesisRejected
	}
}

// inconclusive builds the explicit short-circuit result used when data is
// clearly insufficient to run a meaningful computation.
func inconclusive(templateID, name, reason string) models.TestedHypothesis {
	return models.TestedHypothesis{
		TemplateID:  templateID,
		Name:        name,
		Description: reason,
		Status:      models.HypothesisInconclusive,
		Evidence: []models.Evidence{
			{Query: "Data availability check", Result: reason, Supports: false},
		},
		ContributingFactors: []string{},
		Impact:              models.ImpactEstimate{AffectedSKUs: []string{}, AffectedRegions: []string{}},
	}
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// weeklyDelta compares the sums of the last 7 entries against the prior 7.
// ok is false when the prior window is empty or sums to zero.
func weeklyDelta(values []float64) (recent, prior, delta float64, ok bool) {
	if len(values) < 8 {
		return 0, 0, 0, false
	}
	for _, v := range values[len(values)-7:] {
		recent += v
	}
	priorStart := len(values) - 14
	if priorStart < 0 {
		priorStart = 0
	}
	for _, v := range values[priorStart : len(values)-7] {
		prior += v
	}
	if prior <= 0 {
		return recent, prior, 0, false
	}
	return recent, prior, (recent - prior) / prior * 100, true
}
