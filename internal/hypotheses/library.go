package hypotheses

import "github.com/retailpulse/diagnose/internal/models"

// Catalog is the fixed set of causal hypothesis templates the pipeline can
// test. Loaded once; never mutated.
var Catalog = []models.Template{
	{
		ID:           "H1",
		Name:         "Stockout blocking demand",
		Description:  "Revenue drop caused by key SKUs going out of stock in high-demand regions",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod", "sku_revenue_drop"},
		RequiredData: []models.Dataset{models.DatasetInventory},
		OptionalData: []models.Dataset{models.DatasetOrders},
		TestQueries: []string{
			"Check inventory levels for top revenue SKUs",
			"Correlate OOS SKUs with revenue decline contribution",
			"Check if demand exists (traffic/orders) despite zero stock",
		},
		ConfoundChecks: []string{"Not explained by seasonal pattern", "Not explained by price change"},
	},
	{
		ID:           "H2",
		Name:         "Traffic drop",
		Description:  "Revenue decline driven by reduced traffic from specific channels or campaigns",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod"},
		RequiredData: []models.Dataset{models.DatasetRetail},
		OptionalData: []models.Dataset{models.DatasetTraffic},
		TestQueries: []string{
			"Compare traffic WoW by channel",
			"Check if CVR is stable (traffic-only issue)",
			"Identify which channel dropped most",
		},
		ConfoundChecks: []string{"Not explained by stockout", "Not explained by seasonal pattern"},
	},
	{
		ID:           "H3",
		Name:         "Price/promo impact",
		Description:  "Revenue change driven by pricing or promotional activity changes",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod"},
		RequiredData: []models.Dataset{models.DatasetRetail},
		OptionalData: []models.Dataset{models.DatasetOrders},
		TestQueries: []string{
			"Compare AOV between periods",
			"Check if units stable but revenue changed (price effect)",
			"Look for discount/promo patterns in data",
		},
		ConfoundChecks: []string{"Not explained by mix shift", "Not explained by stockout"},
	},
	{
		ID:           "H4",
		Name:         "Conversion rate collapse",
		Description:  "Traffic is steady or growing but conversion to orders has dropped",
		TriggerKPIs:  []string{"revenue_wow", "conversion_rate"},
		RequiredData: []models.Dataset{models.DatasetRetail},
		OptionalData: []models.Dataset{models.DatasetTraffic},
		TestQueries: []string{
			"Calculate CVR = units/traffic by period",
			"Check if specific SKUs or categories affected",
			"Correlate with page-level or listing changes",
		},
		ConfoundChecks: []string{"Not explained by stockout of popular items", "Check if traffic quality changed"},
	},
	{
		ID:           "H5",
		Name:         "Fulfilment/SLA deterioration",
		Description:  "Delivery delays or SLA breaches causing customer dissatisfaction and lower reorders",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod"},
		RequiredData: []models.Dataset{models.DatasetFulfilment},
		OptionalData: []models.Dataset{models.DatasetOrders},
		TestQueries: []string{
			"Check SLA adherence trend",
			"Identify carriers/regions with worst delay",
			"Correlate delayed orders with reduced repeat purchases",
		},
		ConfoundChecks: []string{"Not explained by volume spike overwhelming capacity"},
	},
	{
		ID:           "H6",
		Name:         "Returns/cancels spike",
		Description:  "High return or cancellation rate eroding net revenue",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod"},
		RequiredData: []models.Dataset{models.DatasetFulfilment},
		OptionalData: []models.Dataset{models.DatasetRetail},
		TestQueries: []string{
			"Calculate return rate and cancel rate by period",
			"Identify SKUs with highest return rate",
			"Check if specific regions or carriers have higher RTO",
		},
		ConfoundChecks: []string{"Not explained by new product quality issue", "Not explained by COD vs prepaid mix"},
	},
	{
		ID:           "H7",
		Name:         "Festival-driven demand shift",
		Description:  "Demand uplift or pattern change driven by festival/holiday season",
		TriggerKPIs:  []string{"revenue_wow", "revenue_dod", "sku_revenue_drop"},
		RequiredData: []models.Dataset{models.DatasetRetail},
		OptionalData: []models.Dataset{models.DatasetOrders},
		TestQueries: []string{
			"Check if anomaly period overlaps with festival calendar",
			"Compare with pre/post festival window",
			"Identify categories historically sensitive to this festival",
		},
		ConfoundChecks: []string{"Separate organic trend from festival effect", "Check if promotion drove the lift instead"},
	},
	{
		ID:           "H8",
		Name:         "Weather-driven category shift",
		Description:  "Weather change (temperature drop, rain) driving demand for specific categories",
		TriggerKPIs:  []string{"revenue_wow", "sku_revenue_drop"},
		RequiredData: []models.Dataset{models.DatasetRetail},
		OptionalData: []models.Dataset{models.DatasetWeather},
		TestQueries: []string{
			"Check weather data for temperature shifts in key regions",
			"Correlate weather change with category/SKU demand change",
			"Check if region-specific demand matches weather region",
		},
		ConfoundChecks: []string{"Not explained by stockout or promo", "Check if demand shift is localized to weather-affected region"},
	},
}

// Applicable filters the catalog to templates whose trigger KPIs match a
// detected anomaly and whose required datasets all have records. Pure filter;
// no scoring happens here.
func Applicable(templates []models.Template, anomalies []models.DetectedAnomaly, available map[models.Dataset]bool) []models.Template {
	anomalyKPIs := make(map[string]bool, len(anomalies))
	for _, a := range anomalies {
		anomalyKPIs[a.KPIName] = true
	}

	selected := make([]models.Template, 0, len(templates))
	for _, tmpl := range templates {
		kpiMatch := false
		for _, kpi := range tmpl.TriggerKPIs {
			if anomalyKPIs[kpi] {
				kpiMatch = true
				break
			}
		}
		if !kpiMatch {
			continue
		}
		dataMatch := true
		for _, ds := range tmpl.RequiredData {
			if !available[ds] {
				dataMatch = false
				break
			}
		}
		if dataMatch {
			selected = append(selected, tmpl)
		}
	}
	return selected
}

// TemplateByID returns the catalog entry for id, if present.
func TemplateByID(id string) (models.Template, bool) {
	for _, tmpl := range Catalog {
		if tmpl.ID == id {
			return tmpl, true
		}
	}
	return models.Template{}, false
}
