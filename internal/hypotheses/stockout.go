package hypotheses

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

// StockoutTester checks whether the revenue decline is explained by top
// revenue SKUs running out of stock while demand persists.
type StockoutTester struct {
	source DataSource
	tuning config.TuningConfig
}

func (t *StockoutTester) TemplateID() string { return "H1" }

func (t *StockoutTester) Test(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) (models.TestedHypothesis, error) {
	tmpl, _ := TemplateByID(t.TemplateID())

	top, err := t.source.TopSKUsByRevenue(ctx, tenantID, t.tuning.TopSKULimit)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("stockout test: %w", err)
	}
	levels, err := t.source.LatestInventoryLevels(ctx, tenantID)
	if err != nil {
		return models.TestedHypothesis{}, fmt.Errorf("stockout test: %w", err)
	}
	if len(top) == 0 || len(levels) == 0 {
		return inconclusive(tmpl.ID, tmpl.Name, "Insufficient data to test"), nil
	}

	levelsBySKU := make(map[string][]store.InventoryLevel)
	for _, lv := range levels {
		levelsBySKU[lv.SKU] = append(levelsBySKU[lv.SKU], lv)
	}

	confidence := 0.0
	var evidence []models.Evidence
	var factors []string
	var oosSKUs []string
	var oosDescr []string
	var elsewhere []models.StockLocation
	regionSet := make(map[string]bool)
	lostRevenue := 0.0

	for _, sku := range top {
		locs := levelsBySKU[sku.SKU]
		if len(locs) == 0 {
			continue
		}
		oosHere := false
		for _, lv := range locs {
			if lv.Qty <= 0 {
				oosHere = true
				oosDescr = append(oosDescr, fmt.Sprintf("%s at %s", lv.SKU, lv.Location))
				regionSet[lv.Location] = true
			}
		}
		if !oosHere {
			continue
		}
		oosSKUs = append(oosSKUs, sku.SKU)

		// Estimate a unit price from the observation window, then project a
		// week of lost sales at the average daily rate.
		denom := sku.AvgUnits * 45
		if denom < 1 {
			denom = 1
		}
		lostRevenue += sku.AvgUnits * 7 * (sku.TotalRevenue / denom)

		for _, lv := range locs {
			if lv.Qty > 0 {
				elsewhere = append(elsewhere, models.StockLocation{SKU: lv.SKU, Location: lv.Location, Qty: lv.Qty})
			}
		}
	}

	if len(oosSKUs) > 0 {
		confidence += 0.4
		evidence = append(evidence, models.Evidence{
			Query:    "Top revenue SKUs with zero inventory",
			Result:   fmt.Sprintf("%d top SKUs at zero stock: %s", len(oosSKUs), strings.Join(oosDescr, ", ")),
			Supports: true,
		})
	} else {
		evidence = append(evidence, models.Evidence{
			Query:    "Top revenue SKUs with zero inventory",
			Result:   "No top revenue SKUs are out of stock",
			Supports: false,
		})
	}

	if len(oosSKUs) > 0 {
		demand, err := t.source.RecentDemandForSKUs(ctx, tenantID, oosSKUs, 100)
		if err != nil {
			return models.TestedHypothesis{}, fmt.Errorf("stockout test: %w", err)
		}
		activeDemand := 0
		for _, d := range demand {
			if d.Traffic > 0 && d.Units < 5 {
				activeDemand++
			}
		}
		if activeDemand > 0 {
			confidence += 0.3
			factors = append(factors, "Active demand meeting zero inventory")
			evidence = append(evidence, models.Evidence{
				Query:    "Demand signals for out-of-stock SKUs",
				Result:   fmt.Sprintf("%d SKUs still drawing traffic with near-zero sales", activeDemand),
				Supports: true,
			})
		}
	}

	signals := make(map[string]float64)
	if len(elsewhere) > 0 {
		confidence += 0.2
		trappedUnits := 0.0
		var trappedDescr []string
		for _, loc := range elsewhere {
			trappedUnits += loc.Qty
			trappedDescr = append(trappedDescr, fmt.Sprintf("%s: %.0f units at %s", loc.SKU, loc.Qty, loc.Location))
		}
		signals[models.SignalStockElsewhereUnits] = trappedUnits
		factors = append(factors, "Stock trapped at other locations: "+strings.Join(trappedDescr, ", "))
		evidence = append(evidence, models.Evidence{
			Query:    "Stock availability at other locations",
			Result:   fmt.Sprintf("%.0f units of out-of-stock SKUs held elsewhere", trappedUnits),
			Supports: true,
		})
	}

	contribution := 0.0
	if hasRevenueAnomaly(anomalies) {
		contribution = float64(len(oosSKUs)) / float64(max(len(top), 1))
	}

	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	confidence = clampScore(confidence)
	return models.TestedHypothesis{
		TemplateID:      tmpl.ID,
		Name:            tmpl.Name,
		Description:     tmpl.Description,
		Status:          statusFor(confidence, t.tuning.ConfirmBar, t.tuning),
		ConfidenceScore: confidence,
		Contribution:    contribution,
		Evidence:        evidence,
		ContributingFactors: factors,
		Impact: models.ImpactEstimate{
			LostRevenue:     lostRevenue,
			AffectedSKUs:    oosSKUs,
			AffectedRegions: regions,
		},
		Signals:        signals,
		StockElsewhere: elsewhere,
	}, nil
}

func hasRevenueAnomaly(anomalies []models.DetectedAnomaly) bool {
	for _, a := range anomalies {
		switch a.KPIName {
		case "revenue_wow", "revenue_dod", "sku_revenue_drop":
			return true
		}
	}
	return false
}
