package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

// FactSource defines the fact-store reads the detector performs.
type FactSource interface {
	RetailDailySeries(ctx context.Context, tenantID string) ([]store.DailyFact, error)
	OrderDailySeries(ctx context.Context, tenantID string) ([]store.DailyFact, error)
	SKURevenueWindows(ctx context.Context, tenantID, cutoff string) ([]store.SKUWindowRevenue, error)
	TopSKUsByRevenue(ctx context.Context, tenantID string, limit int) ([]store.SKUStat, error)
	LatestInventoryLevels(ctx context.Context, tenantID string) ([]store.InventoryLevel, error)
}

// AuditSink receives detected anomalies for durable audit logging.
type AuditSink interface {
	InsertAnomalies(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) error
}

// Detector scans fact tables for KPI deviations beyond configured thresholds.
type Detector struct {
	logger *slog.Logger
	source FactSource
	audit  AuditSink
	tuning config.TuningConfig
}

// New constructs a Detector. audit may be nil to disable audit logging.
func New(logger *slog.Logger, source FactSource, audit AuditSink, tuning config.TuningConfig) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger, source: source, audit: audit, tuning: tuning}
}

// Detect runs every metric-family scan for the tenant and returns the typed
// anomalies found. Detected anomalies are audit-logged without blocking the
// diagnosis run.
func (d *Detector) Detect(ctx context.Context, tenantID string) ([]models.DetectedAnomaly, error) {
	anomalies := make([]models.DetectedAnomaly, 0)

	revenue, err := d.detectRevenue(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("revenue scan: %w", err)
	}
	anomalies = append(anomalies, revenue...)

	stockouts, err := d.detectStockouts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("stockout scan: %w", err)
	}
	anomalies = append(anomalies, stockouts...)

	conversion, err := d.detectConversion(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("conversion scan: %w", err)
	}
	anomalies = append(anomalies, conversion...)

	if d.audit != nil && len(anomalies) > 0 {
		audited := append([]models.DetectedAnomaly(nil), anomalies...)
		go func() {
			if err := d.audit.InsertAnomalies(context.WithoutCancel(ctx), tenantID, audited); err != nil {
				d.logger.Warn("anomaly audit write failed", slog.Any("error", err))
			}
		}()
	}

	return anomalies, nil
}

// detectRevenue merges retail and order facts into a daily revenue series and
// flags week-over-week, day-over-day, and per-SKU declines.
func (d *Detector) detectRevenue(ctx context.Context, tenantID string) ([]models.DetectedAnomaly, error) {
	retail, err := d.source.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	orders, err := d.source.OrderDailySeries(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Both sources may legitimately contribute to the same day: sum, do not
	// deduplicate.
	combined := make(map[string]store.DailyFact)
	for _, day := range retail {
		combined[day.Date] = day
	}
	for _, day := range orders {
		existing := combined[day.Date]
		existing.Date = day.Date
		existing.Revenue += day.Revenue
		existing.Units += day.Units
		combined[day.Date] = existing
	}

	dates := make([]string, 0, len(combined))
	for date := range combined {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var anomalies []models.DetectedAnomaly
	if len(dates) < 8 {
		return anomalies, nil
	}

	recentRev := 0.0
	for _, date := range dates[len(dates)-7:] {
		recentRev += combined[date].Revenue
	}
	priorStart := len(dates) - 14
	if priorStart < 0 {
		priorStart = 0
	}
	priorRev := 0.0
	for _, date := range dates[priorStart : len(dates)-7] {
		priorRev += combined[date].Revenue
	}

	if wow, ok := percentDelta(recentRev, priorRev); ok && wow < d.tuning.RevenueWoWThreshold {
		severity := models.SeverityHigh
		if wow < d.tuning.RevenueWoWCritical {
			severity = models.SeverityCritical
		}
		anomalies = append(anomalies, models.DetectedAnomaly{
			KPIName:          "revenue_wow",
			Severity:         severity,
			CurrentValue:     recentRev,
			ExpectedValue:    priorRev,
			DeviationPercent: wow,
			Dimensions:       map[string]string{"period": "weekly"},
		})
	}

	lastDay := combined[dates[len(dates)-1]]
	prevDay := combined[dates[len(dates)-2]]
	if dod, ok := percentDelta(lastDay.Revenue, prevDay.Revenue); ok && dod < d.tuning.RevenueDoDThreshold {
		severity := models.SeverityMedium
		if dod < d.tuning.RevenueDoDHigh {
			severity = models.SeverityHigh
		}
		anomalies = append(anomalies, models.DetectedAnomaly{
			KPIName:          "revenue_dod",
			Severity:         severity,
			CurrentValue:     lastDay.Revenue,
			ExpectedValue:    prevDay.Revenue,
			DeviationPercent: dod,
			Dimensions:       map[string]string{"period": "daily", "date": dates[len(dates)-1]},
		})
	}

	skuAnomalies, err := d.detectSKURevenue(ctx, tenantID, dates[len(dates)-7])
	if err != nil {
		return nil, err
	}
	return append(anomalies, skuAnomalies...), nil
}

func (d *Detector) detectSKURevenue(ctx context.Context, tenantID, cutoff string) ([]models.DetectedAnomaly, error) {
	windows, err := d.source.SKURevenueWindows(ctx, tenantID, cutoff)
	if err != nil {
		return nil, err
	}

	var anomalies []models.DetectedAnomaly
	for _, w := range windows {
		delta, ok := percentDelta(w.Recent, w.Prior)
		if !ok || delta >= d.tuning.SKURevenueDropThreshold {
			continue
		}
		severity := models.SeverityHigh
		if delta < d.tuning.SKURevenueDropCritical {
			severity = models.SeverityCritical
		}
		anomalies = append(anomalies, models.DetectedAnomaly{
			KPIName:          "sku_revenue_drop",
			Severity:         severity,
			CurrentValue:     w.Recent,
			ExpectedValue:    w.Prior,
			DeviationPercent: delta,
			Dimensions:       map[string]string{"sku": w.SKU},
		})
	}
	return anomalies, nil
}

// detectStockouts flags top-revenue SKUs whose latest inventory snapshot is
// at zero quantity anywhere.
func (d *Detector) detectStockouts(ctx context.Context, tenantID string) ([]models.DetectedAnomaly, error) {
	levels, err := d.source.LatestInventoryLevels(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, nil
	}

	top, err := d.source.TopSKUsByRevenue(ctx, tenantID, d.tuning.StockoutDemandLimit)
	if err != nil {
		return nil, err
	}
	avgUnits := make(map[string]float64, len(top))
	for _, sku := range top {
		avgUnits[sku.SKU] = sku.AvgUnits
	}

	var anomalies []models.DetectedAnomaly
	for _, lv := range levels {
		expected, isTop := avgUnits[lv.SKU]
		if lv.Qty > 0 || !isTop {
			continue
		}
		if expected == 0 {
			expected = 10
		}
		anomalies = append(anomalies, models.DetectedAnomaly{
			KPIName:          "stockout",
			Severity:         models.SeverityCritical,
			CurrentValue:     0,
			ExpectedValue:    expected,
			DeviationPercent: -100,
			Dimensions:       map[string]string{"sku": lv.SKU, "location": lv.Location},
		})
	}
	return anomalies, nil
}

// detectConversion compares weekly units/traffic conversion rates.
func (d *Detector) detectConversion(ctx context.Context, tenantID string) ([]models.DetectedAnomaly, error) {
	series, err := d.source.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(series) < 7 {
		return nil, nil
	}

	recent := series[len(series)-7:]
	priorStart := len(series) - 14
	if priorStart < 0 {
		priorStart = 0
	}
	prior := series[priorStart : len(series)-7]

	var recentTraffic, priorTraffic, recentUnits, priorUnits float64
	for _, day := range recent {
		recentTraffic += day.Traffic
		recentUnits += day.Units
	}
	for _, day := range prior {
		priorTraffic += day.Traffic
		priorUnits += day.Units
	}
	if recentTraffic == 0 || priorTraffic == 0 {
		return nil, nil
	}

	recentCVR := recentUnits / recentTraffic * 100
	priorCVR := priorUnits / priorTraffic * 100
	delta, ok := percentDelta(recentCVR, priorCVR)
	if !ok || delta >= d.tuning.ConversionDropThreshold {
		return nil, nil
	}

	severity := models.SeverityHigh
	if delta < d.tuning.ConversionDropCritical {
		severity = models.SeverityCritical
	}
	return []models.DetectedAnomaly{{
		KPIName:          "conversion_rate",
		Severity:         severity,
		CurrentValue:     recentCVR,
		ExpectedValue:    priorCVR,
		DeviationPercent: delta,
		Dimensions:       map[string]string{"period": "weekly"},
	}}, nil
}

// percentDelta returns (recent-prior)/prior as a percentage. A zero or
// negative denominator suppresses the comparison rather than dividing by zero.
func percentDelta(recent, prior float64) (float64, bool) {
	if prior <= 0 {
		return 0, false
	}
	return (recent - prior) / prior * 100, true
}
