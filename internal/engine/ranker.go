package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
)

// monitorTypes maps each hypothesis template to the dashboard family a
// confirmed cause should be watched under going forward.
var monitorTypes = map[string]string{
	"H1": "inventory",
	"H2": "revenue",
	"H3": "revenue",
	"H4": "revenue",
	"H5": "operations",
	"H6": "operations",
	"H7": "demand",
	"H8": "demand",
}

// RankRootCauses keeps confirmed hypotheses plus inconclusive ones above the
// inclusion bar and normalizes their scores into percentage contribution
// shares. Shares sum to roughly 100 after rounding; a zero total score splits
// evenly.
func RankRootCauses(tested []models.TestedHypothesis, tuning config.TuningConfig) []models.RootCause {
	var kept []models.TestedHypothesis
	for _, h := range tested {
		if h.Status == models.HypothesisConfirmed ||
			(h.Status == models.HypothesisInconclusive && h.ConfidenceScore > tuning.RankInclusionConfidence) {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return []models.RootCause{}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score() > kept[j].Score() })

	totalScore := 0.0
	for _, h := range kept {
		totalScore += h.Score()
	}

	causes := make([]models.RootCause, 0, len(kept))
	for i, h := range kept {
		share := 100.0 / float64(len(kept))
		if totalScore > 0 {
			share = 100 * h.Score() / totalScore
		}

		description := h.Description
		for _, ev := range h.Evidence {
			if ev.Supports {
				description = h.Description + ". " + ev.Result
				break
			}
		}

		monitor := monitorTypes[h.TemplateID]
		if monitor == "" {
			monitor = "revenue"
		}

		causes = append(causes, models.RootCause{
			ID:                  fmt.Sprintf("rc-%s-%d", h.TemplateID, i),
			TemplateID:          h.TemplateID,
			Title:               h.Name,
			Description:         description,
			Contribution:        int(math.Round(share)),
			Confidence:          h.ConfidenceScore,
			MonitorType:         monitor,
			ContributingFactors: h.ContributingFactors,
			Evidence:            models.RootCauseProof{Tests: h.Evidence, Impact: h.Impact},
		})
	}
	return causes
}

// ComputeBusinessImpact aggregates damage across confirmed hypotheses only.
// Inconclusive causes appear in the ranking but never inflate the headline
// numbers.
func ComputeBusinessImpact(tested []models.TestedHypothesis) models.BusinessImpact {
	var impact models.BusinessImpact
	skuSet := make(map[string]bool)
	for _, h := range tested {
		if h.Status != models.HypothesisConfirmed {
			continue
		}
		impact.LostRevenue += h.Impact.LostRevenue
		for _, sku := range h.Impact.AffectedSKUs {
			skuSet[sku] = true
		}
		if drop := h.Signal(models.SignalCVRDropPercent); drop > impact.ConversionDrop {
			impact.ConversionDrop = drop
		}
		impact.SLABreaches += int(h.Signal(models.SignalSLABreaches))
		impact.StockAtHQ += h.Signal(models.SignalStockElsewhereUnits)
	}
	impact.OOSSKUs = len(skuSet)
	impact.LostRevenueFormatted = FormatRevenue(impact.LostRevenue)
	return impact
}

// FindGeoOpportunity proposes a stock transfer when a confirmed stockout
// cause recorded both trapped stock and affected regions.
func FindGeoOpportunity(tested []models.TestedHypothesis) *models.GeoOpportunity {
	for _, h := range tested {
		if h.TemplateID != "H1" || h.Status != models.HypothesisConfirmed {
			continue
		}
		if len(h.StockElsewhere) == 0 || len(h.Impact.AffectedRegions) == 0 {
			continue
		}
		origin := h.StockElsewhere[0].Location
		if origin == "" {
			origin = "HQ Warehouse"
		}
		destination := h.Impact.AffectedRegions[0]
		return &models.GeoOpportunity{
			Origin:           origin,
			OriginLabel:      origin + " - Overstock",
			Destination:      destination,
			DestinationLabel: destination + " - Stockout",
			Narrative: fmt.Sprintf(
				"Demand concentrated in %s but inventory trapped at %s. Recommend express transfer to capture blocked revenue.",
				strings.Join(h.Impact.AffectedRegions, ", "), origin),
		}
	}
	return nil
}

// FormatRevenue renders amounts in the lakh/thousand notation the product
// reports in.
func FormatRevenue(n float64) string {
	switch {
	case n >= 100000:
		return fmt.Sprintf("₹%.1fL", n/100000)
	case n >= 1000:
		return fmt.Sprintf("₹%.1fK", n/1000)
	default:
		return fmt.Sprintf("₹%.0f", n)
	}
}
