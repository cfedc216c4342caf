package engine

import (
	"fmt"
	"strings"

	"github.com/retailpulse/diagnose/internal/models"
)

// BuildMemo renders the executive summary shipped with a completed diagnosis.
func BuildMemo(query string, causes []models.RootCause, impact models.BusinessImpact, actions []models.Action, geo *models.GeoOpportunity) string {
	var b strings.Builder

	b.WriteString("# Diagnosis Memo\n\n")
	if query != "" {
		b.WriteString("## Question\n\n")
		b.WriteString(query)
		b.WriteString("\n\n")
	}

	b.WriteString("## Root causes\n\n")
	if len(causes) == 0 {
		b.WriteString("No root cause cleared the confidence bar. The detected signals were either too weak or insufficiently supported by the available data.\n\n")
	} else {
		for i, cause := range causes {
			fmt.Fprintf(&b, "%d. **%s** (%d%% contribution, %.0f%% confidence): %s\n",
				i+1, cause.Title, cause.Contribution, cause.Confidence*100, cause.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Business impact\n\n")
	fmt.Fprintf(&b, "- Estimated lost revenue: %s\n", impact.LostRevenueFormatted)
	if impact.OOSSKUs > 0 {
		fmt.Fprintf(&b, "- Out-of-stock SKUs: %d\n", impact.OOSSKUs)
	}
	if impact.ConversionDrop > 0 {
		fmt.Fprintf(&b, "- Conversion drop: %.1f%%\n", impact.ConversionDrop)
	}
	if impact.SLABreaches > 0 {
		fmt.Fprintf(&b, "- Delayed shipments: %d\n", impact.SLABreaches)
	}
	if impact.StockAtHQ > 0 {
		fmt.Fprintf(&b, "- Stock trapped at other locations: %.0f units\n", impact.StockAtHQ)
	}
	b.WriteString("\n")

	if len(actions) > 0 {
		b.WriteString("## Recommended actions\n\n")
		for i, action := range actions {
			fmt.Fprintf(&b, "%d. **%s** (%s, %s, owner: %s): %s\n",
				i+1, action.Title, action.Priority, action.Effort, action.Owner, action.Description)
		}
		b.WriteString("\n")
	}

	if geo != nil {
		b.WriteString("## Stock rebalancing\n\n")
		b.WriteString(geo.Narrative)
		b.WriteString("\n")
	}

	return b.String()
}
