package engine

import (
	"fmt"
	"strings"

	"github.com/retailpulse/diagnose/internal/models"
)

type actionTemplate struct {
	actionType  string
	title       string
	description string
	priority    models.ActionPriority
	effort      string
	owner       string
}

// actionCatalog maps hypothesis templates to their remediation playbook.
// Descriptions carry {{token}} placeholders filled from the ranked cause.
var actionCatalog = map[string][]actionTemplate{
	"H1": {
		{
			actionType:  "replenish_inventory",
			title:       "Express Inventory Allocation",
			description: "Transfer {{units}} units from {{origin}} to {{destination}} to restore availability for {{skus}}.",
			priority:    models.PriorityUrgent,
			effort:      "1-2 days",
			owner:       "Supply Chain",
		},
		{
			actionType:  "investigate_sku_listing",
			title:       "Enable \"Notify Me\" for OOS SKUs",
			description: "Turn on back-in-stock notifications for {{skus}} to capture demand while inventory recovers.",
			priority:    models.PriorityHigh,
			effort:      "1 day",
			owner:       "E-commerce",
		},
	},
	"H2": {
		{
			actionType:  "investigate_sku_listing",
			title:       "Audit Channel Campaign Health",
			description: "Review paused or underdelivering campaigns on the {{channel}}; traffic decline explains {{delta}} of the anomaly.",
			priority:    models.PriorityHigh,
			effort:      "1 day",
			owner:       "Marketing",
		},
		{
			actionType:  "investigate_sku_listing",
			title:       "Rebalance Acquisition Spend",
			description: "Shift budget toward the strongest converting channels until the {{channel}} recovers.",
			priority:    models.PriorityMedium,
			effort:      "2-3 days",
			owner:       "Marketing",
		},
	},
	"H3": {
		{
			actionType:  "investigate_sku_listing",
			title:       "Review Pricing & Promotion Changes",
			description: "Audit recent price updates and promo expiry; the order-value shift explains {{delta}} of the anomaly.",
			priority:    models.PriorityHigh,
			effort:      "1 day",
			owner:       "Category",
		},
	},
	"H4": {
		{
			actionType:  "investigate_sku_listing",
			title:       "Diagnose Conversion Funnel",
			description: "Check listing content, reviews, and page performance for {{skus}}; conversion decline explains {{delta}} of the anomaly.",
			priority:    models.PriorityHigh,
			effort:      "2-3 days",
			owner:       "E-commerce",
		},
	},
	"H5": {
		{
			actionType:  "escalate_ops_issue",
			title:       "Escalate Carrier SLA Breach",
			description: "Raise the SLA breach with the {{carrier}}; adherence confidence at {{sla}}% in {{region}}.",
			priority:    models.PriorityUrgent,
			effort:      "1 day",
			owner:       "Operations",
		},
	},
	"H6": {
		{
			actionType:  "escalate_ops_issue",
			title:       "Investigate Returns Spike",
			description: "Audit top returned SKUs for quality or description mismatch; returns explain {{rate}}% of the anomaly.",
			priority:    models.PriorityHigh,
			effort:      "2-3 days",
			owner:       "Operations",
		},
	},
	"H7": {
		{
			actionType:  "replenish_inventory",
			title:       "Prepare Festival Stock Plan",
			description: "Position {{units}} units ahead of {{festival}} demand in key regions.",
			priority:    models.PriorityMedium,
			effort:      "3-5 days",
			owner:       "Supply Chain",
		},
	},
	"H8": {
		{
			actionType:  "replenish_inventory",
			title:       "Weather-driven Stock Rebalance",
			description: "Temperature shift of {{temp}} degrees. Stock weather-relevant categories in {{region}}.",
			priority:    models.PriorityMedium,
			effort:      "3-5 days",
			owner:       "Category",
		},
	},
}

// GenerateActions expands the playbook for each ranked cause, in rank order,
// with sequential ids.
func GenerateActions(causes []models.RootCause) []models.Action {
	actions := make([]models.Action, 0, len(causes))
	for _, cause := range causes {
		for _, tmpl := range actionCatalog[cause.TemplateID] {
			actions = append(actions, models.Action{
				ID:             fmt.Sprintf("action-%d", len(actions)+1),
				Title:          tmpl.title,
				Description:    substituteTokens(tmpl.description, cause),
				Priority:       tmpl.priority,
				Effort:         tmpl.effort,
				ExpectedImpact: expectedImpact(cause),
				Owner:          tmpl.owner,
				Type:           tmpl.actionType,
			})
		}
	}
	return actions
}

func substituteTokens(text string, cause models.RootCause) string {
	impact := cause.Evidence.Impact

	units := "100"
	if len(impact.AffectedSKUs) > 0 {
		units = "500"
	}
	origin := "HQ Warehouse"
	if len(impact.AffectedRegions) > 1 {
		origin = impact.AffectedRegions[1]
	}
	destination := "the top demand region"
	if len(impact.AffectedRegions) > 0 {
		destination = impact.AffectedRegions[0]
	}
	skus := "affected SKUs"
	if len(impact.AffectedSKUs) > 0 {
		limit := len(impact.AffectedSKUs)
		if limit > 3 {
			limit = 3
		}
		skus = strings.Join(impact.AffectedSKUs[:limit], ", ")
	}
	region := "affected regions"
	if len(impact.AffectedRegions) > 0 {
		region = impact.AffectedRegions[0]
	}
	festival := "festival"
	if len(cause.ContributingFactors) > 0 {
		festival = cause.ContributingFactors[0]
	}
	temp := "5"
	if len(cause.ContributingFactors) > 0 {
		if digits, ok := firstDigits(cause.ContributingFactors[0]); ok {
			temp = digits
		}
	}

	return strings.NewReplacer(
		"{{units}}", units,
		"{{origin}}", origin,
		"{{destination}}", destination,
		"{{skus}}", skus,
		"{{channel}}", "primary traffic channel",
		"{{delta}}", fmt.Sprintf("%d%%", cause.Contribution),
		"{{sla}}", fmt.Sprintf("%.0f", cause.Confidence*100),
		"{{carrier}}", "primary carrier",
		"{{region}}", region,
		"{{rate}}", fmt.Sprintf("%d", cause.Contribution),
		"{{festival}}", festival,
		"{{temp}}", temp,
	).Replace(text)
}

// firstDigits returns the first unbroken run of digits in s, so a factor like
// "Region running 6.2 degrees warmer" yields "6".
func firstDigits(s string) (string, bool) {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return s[start:i], true
		}
	}
	if start >= 0 {
		return s[start:], true
	}
	return "", false
}

func expectedImpact(cause models.RootCause) string {
	if lost := cause.Evidence.Impact.LostRevenue; lost > 0 {
		return fmt.Sprintf("%s - %s revenue recovery", FormatRevenue(lost*0.4), FormatRevenue(lost*0.8))
	}
	return fmt.Sprintf("%d-%d%% improvement expected", cause.Contribution/2, cause.Contribution)
}
