package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retailpulse/diagnose/internal/models"
)

const dayLayout = "2006-01-02"

var datasetTables = map[models.Dataset]string{
	models.DatasetRetail:     "retail_records",
	models.DatasetOrders:     "order_records",
	models.DatasetInventory:  "inventory_records",
	models.DatasetFulfilment: "fulfilment_records",
	models.DatasetTraffic:    "traffic_records",
	models.DatasetWeather:    "weather_records",
}

// DailyFact is one day of aggregated revenue/units/traffic.
type DailyFact struct {
	Date    string
	Revenue float64
	Units   float64
	Traffic float64
}

// SKUStat summarises a SKU's revenue performance.
type SKUStat struct {
	SKU          string
	TotalRevenue float64
	AvgUnits     float64
}

// InventoryLevel is the latest available quantity for a SKU at a location.
type InventoryLevel struct {
	SKU      string
	Location string
	Qty      float64
}

// SKUDemand aggregates recent traffic and units for one SKU.
type SKUDemand struct {
	SKU     string
	Traffic float64
	Units   float64
}

// ChannelTraffic aggregates acquisition volume and spend per channel.
type ChannelTraffic struct {
	Channel  string
	Sessions float64
	Spend    float64
}

// SKUWindowRevenue holds per-SKU revenue split at a cutoff date.
type SKUWindowRevenue struct {
	SKU    string
	Recent float64
	Prior  float64
}

// CountRecords reports how many rows a fact table holds for the tenant.
func (s *Store) CountRecords(ctx context.Context, tenantID string, dataset models.Dataset) (int64, error) {
	table, ok := datasetTables[dataset]
	if !ok {
		return 0, fmt.Errorf("unknown dataset %q", dataset)
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE tenant_id = ?", tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", dataset, err)
	}
	return count, nil
}

// RetailDailySeries returns per-day revenue/units/traffic sums from retail
// facts, ordered by date ascending.
func (s *Store) RetailDailySeries(ctx context.Context, tenantID string) ([]DailyFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, SUM(revenue), SUM(units), SUM(traffic)
		FROM retail_records WHERE tenant_id = ?
		GROUP BY date ORDER BY date`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("retail daily series: %w", err)
	}
	defer rows.Close()

	var series []DailyFact
	for rows.Next() {
		var d DailyFact
		if err := rows.Scan(&d.Date, &d.Revenue, &d.Units, &d.Traffic); err != nil {
			return nil, fmt.Errorf("scan retail day: %w", err)
		}
		series = append(series, d)
	}
	return series, rows.Err()
}

// OrderDailySeries returns per-day revenue/quantity sums from order facts.
func (s *Store) OrderDailySeries(ctx context.Context, tenantID string) ([]DailyFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, SUM(revenue), SUM(quantity)
		FROM order_records WHERE tenant_id = ?
		GROUP BY date ORDER BY date`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("order daily series: %w", err)
	}
	defer rows.Close()

	var series []DailyFact
	for rows.Next() {
		var d DailyFact
		if err := rows.Scan(&d.Date, &d.Revenue, &d.Units); err != nil {
			return nil, fmt.Errorf("scan order day: %w", err)
		}
		series = append(series, d)
	}
	return series, rows.Err()
}

// SKURevenueWindows splits each SKU's retail revenue at the cutoff date:
// rows dated on or after cutoff count as recent, earlier rows as prior.
func (s *Store) SKURevenueWindows(ctx context.Context, tenantID, cutoff string) ([]SKUWindowRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku,
		       SUM(CASE WHEN date >= ? THEN revenue ELSE 0 END),
		       SUM(CASE WHEN date < ? THEN revenue ELSE 0 END)
		FROM retail_records WHERE tenant_id = ?
		GROUP BY sku`, cutoff, cutoff, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sku revenue windows: %w", err)
	}
	defer rows.Close()

	var out []SKUWindowRevenue
	for rows.Next() {
		var w SKUWindowRevenue
		if err := rows.Scan(&w.SKU, &w.Recent, &w.Prior); err != nil {
			return nil, fmt.Errorf("scan sku window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// TopSKUsByRevenue returns the highest-revenue SKUs with their average daily
// units, descending by total revenue.
func (s *Store) TopSKUsByRevenue(ctx context.Context, tenantID string, limit int) ([]SKUStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, SUM(revenue), AVG(units)
		FROM retail_records WHERE tenant_id = ?
		GROUP BY sku ORDER BY SUM(revenue) DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("top skus: %w", err)
	}
	defer rows.Close()

	var stats []SKUStat
	for rows.Next() {
		var st SKUStat
		if err := rows.Scan(&st.SKU, &st.TotalRevenue, &st.AvgUnits); err != nil {
			return nil, fmt.Errorf("scan sku stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// LatestInventoryLevels returns the most recent available-quantity snapshot
// per (sku, location) pair.
func (s *Store) LatestInventoryLevels(ctx context.Context, tenantID string) ([]InventoryLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.sku, i.location, i.available_qty
		FROM inventory_records i
		WHERE i.tenant_id = ? AND i.date = (
			SELECT MAX(i2.date) FROM inventory_records i2
			WHERE i2.tenant_id = i.tenant_id AND i2.sku = i.sku AND i2.location = i.location
		)`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("latest inventory: %w", err)
	}
	defer rows.Close()

	var levels []InventoryLevel
	for rows.Next() {
		var lv InventoryLevel
		if err := rows.Scan(&lv.SKU, &lv.Location, &lv.Qty); err != nil {
			return nil, fmt.Errorf("scan inventory level: %w", err)
		}
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}

// RecentDemandForSKUs sums traffic and units over the most recent retail rows
// (up to rowLimit) restricted to the given SKUs.
func (s *Store) RecentDemandForSKUs(ctx context.Context, tenantID string, skus []string, rowLimit int) ([]SKUDemand, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(skus))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(skus)+2)
	args = append(args, tenantID)
	for _, sku := range skus {
		args = append(args, sku)
	}
	args = append(args, rowLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, SUM(traffic), SUM(units) FROM (
			SELECT sku, traffic, units FROM retail_records
			WHERE tenant_id = ? AND sku IN (`+placeholders+`)
			ORDER BY date DESC LIMIT ?
		) GROUP BY sku`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent demand: %w", err)
	}
	defer rows.Close()

	var demand []SKUDemand
	for rows.Next() {
		var d SKUDemand
		if err := rows.Scan(&d.SKU, &d.Traffic, &d.Units); err != nil {
			return nil, fmt.Errorf("scan sku demand: %w", err)
		}
		demand = append(demand, d)
	}
	return demand, rows.Err()
}

// TrafficByChannel aggregates session and spend totals per channel,
// descending by sessions.
func (s *Store) TrafficByChannel(ctx context.Context, tenantID string) ([]ChannelTraffic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, SUM(sessions), SUM(spend)
		FROM traffic_records WHERE tenant_id = ?
		GROUP BY channel ORDER BY SUM(sessions) DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("traffic by channel: %w", err)
	}
	defer rows.Close()

	var channels []ChannelTraffic
	for rows.Next() {
		var c ChannelTraffic
		if err := rows.Scan(&c.Channel, &c.Sessions, &c.Spend); err != nil {
			return nil, fmt.Errorf("scan channel traffic: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// FulfilmentRecords returns every fulfilment row for the tenant.
func (s *Store) FulfilmentRecords(ctx context.Context, tenantID string) ([]models.FulfilmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, sku, delay_days, carrier, warehouse, region, status
		FROM fulfilment_records WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fulfilment records: %w", err)
	}
	defer rows.Close()

	var records []models.FulfilmentRecord
	for rows.Next() {
		rec := models.FulfilmentRecord{TenantID: tenantID}
		var status string
		if err := rows.Scan(&rec.OrderID, &rec.SKU, &rec.DelayDays, &rec.Carrier, &rec.Warehouse, &rec.Region, &status); err != nil {
			return nil, fmt.Errorf("scan fulfilment: %w", err)
		}
		rec.Status = models.FulfilmentStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RetailReturnTotals sums units sold and units returned across all retail facts.
func (s *Store) RetailReturnTotals(ctx context.Context, tenantID string) (units, returns float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(units), 0), COALESCE(SUM(returns), 0)
		FROM retail_records WHERE tenant_id = ?`, tenantID,
	).Scan(&units, &returns)
	if err != nil {
		return 0, 0, fmt.Errorf("retail return totals: %w", err)
	}
	return units, returns, nil
}

// WeatherDailyDesc returns weather rows newest first.
func (s *Store) WeatherDailyDesc(ctx context.Context, tenantID string) ([]models.WeatherRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, region, temp_min, temp_max, rainfall_mm, humidity
		FROM weather_records WHERE tenant_id = ?
		ORDER BY date DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("weather records: %w", err)
	}
	defer rows.Close()

	var records []models.WeatherRecord
	for rows.Next() {
		rec := models.WeatherRecord{TenantID: tenantID}
		var day string
		if err := rows.Scan(&day, &rec.Region, &rec.TempMin, &rec.TempMax, &rec.RainfallMM, &rec.Humidity); err != nil {
			return nil, fmt.Errorf("scan weather: %w", err)
		}
		if t, err := time.Parse(dayLayout, day); err == nil {
			rec.Date = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestRetailDate reports the most recent retail fact date, if any.
func (s *Store) LatestRetailDate(ctx context.Context, tenantID string) (time.Time, bool, error) {
	var day sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM retail_records WHERE tenant_id = ?", tenantID,
	).Scan(&day)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest retail date: %w", err)
	}
	if !day.Valid || day.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dayLayout, day.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse retail date %q: %w", day.String, err)
	}
	return t, true, nil
}

// InsertAnomalies appends detected anomalies to the audit table.
func (s *Store) InsertAnomalies(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin anomaly audit: %w", err)
	}
	defer tx.Rollback()

	for _, a := range anomalies {
		dims, err := json.Marshal(a.Dimensions)
		if err != nil {
			return fmt.Errorf("marshal anomaly dimensions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anomalies (id, tenant_id, kpi_name, severity, current_value, expected_value, deviation_percent, dimensions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), tenantID, a.KPIName, string(a.Severity),
			a.CurrentValue, a.ExpectedValue, a.DeviationPercent, string(dims),
		); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}
	return tx.Commit()
}

// InsertRetail loads retail facts. Exposed for the ingestion collaborator.
func (s *Store) InsertRetail(ctx context.Context, records []models.RetailRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retail insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO retail_records (id, source_id, tenant_id, date, sku, revenue, units, traffic, inventory, returns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.Date.Format(dayLayout),
			r.SKU, r.Revenue, r.Units, r.Traffic, r.Inventory, r.Returns,
		); err != nil {
			return fmt.Errorf("insert retail record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertOrders loads order facts.
func (s *Store) InsertOrders(ctx context.Context, records []models.OrderRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_records (id, source_id, tenant_id, order_id, sku, quantity, revenue, date, region)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.OrderID,
			r.SKU, r.Quantity, r.Revenue, r.Date.Format(dayLayout), r.Region,
		); err != nil {
			return fmt.Errorf("insert order record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertInventory loads inventory snapshots.
func (s *Store) InsertInventory(ctx context.Context, records []models.InventoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inventory insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_records (id, source_id, tenant_id, sku, location, available_qty, date)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.SKU,
			r.Location, r.AvailableQty, r.Date.Format(dayLayout),
		); err != nil {
			return fmt.Errorf("insert inventory record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertFulfilments loads fulfilment facts.
func (s *Store) InsertFulfilments(ctx context.Context, records []models.FulfilmentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fulfilment insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		var delivery any
		if !r.DeliveryDate.IsZero() {
			delivery = r.DeliveryDate.Format(dayLayout)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fulfilment_records (id, source_id, tenant_id, order_id, sku, dispatch_date, delivery_date, delay_days, carrier, warehouse, region, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.OrderID, r.SKU,
			r.DispatchDate.Format(dayLayout), delivery, r.DelayDays,
			r.Carrier, r.Warehouse, r.Region, string(r.Status),
		); err != nil {
			return fmt.Errorf("insert fulfilment record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertTraffic loads traffic facts.
func (s *Store) InsertTraffic(ctx context.Context, records []models.TrafficRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin traffic insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO traffic_records (id, source_id, tenant_id, date, channel, sku, sessions, impressions, clicks, spend)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.Date.Format(dayLayout),
			r.Channel, r.SKU, r.Sessions, r.Impressions, r.Clicks, r.Spend,
		); err != nil {
			return fmt.Errorf("insert traffic record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertWeather loads weather facts.
func (s *Store) InsertWeather(ctx context.Context, records []models.WeatherRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin weather insert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO weather_records (id, source_id, tenant_id, date, region, temp_min, temp_max, rainfall_mm, humidity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.SourceID, r.TenantID, r.Date.Format(dayLayout),
			r.Region, r.TempMin, r.TempMax, r.RainfallMM, r.Humidity,
		); err != nil {
			return fmt.Errorf("insert weather record: %w", err)
		}
	}
	return tx.Commit()
}
