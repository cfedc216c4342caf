package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailpulse/diagnose/internal/models"
)

func TestGenerateActionsStockout(t *testing.T) {
	causes := []models.RootCause{{
		ID:           "rc-H1-0",
		TemplateID:   "H1",
		Title:        "Stockout blocking demand",
		Contribution: 60,
		Confidence:   0.9,
		Evidence: models.RootCauseProof{
			Impact: models.ImpactEstimate{
				LostRevenue:     50000,
				AffectedSKUs:    []string{"SKU-A", "SKU-B"},
				AffectedRegions: []string{"Mumbai", "Delhi"},
			},
		},
	}}

	actions := GenerateActions(causes)
	require.Len(t, actions, 2)

	require.Equal(t, "action-1", actions[0].ID)
	require.Equal(t, "Express Inventory Allocation", actions[0].Title)
	require.Equal(t, models.PriorityUrgent, actions[0].Priority)
	require.Equal(t, "replenish_inventory", actions[0].Type)
	require.Contains(t, actions[0].Description, "500 units")
	require.Contains(t, actions[0].Description, "Delhi")
	require.Contains(t, actions[0].Description, "Mumbai")
	require.Contains(t, actions[0].Description, "SKU-A, SKU-B")
	require.Equal(t, "₹20.0K - ₹40.0K revenue recovery", actions[0].ExpectedImpact)

	require.Equal(t, "action-2", actions[1].ID)
	require.Equal(t, "investigate_sku_listing", actions[1].Type)
}

func TestGenerateActionsNoTokensLeft(t *testing.T) {
	var causes []models.RootCause
	for i, templateID := range []string{"H1", "H2", "H3", "H4", "H5", "H6", "H7", "H8"} {
		causes = append(causes, models.RootCause{
			ID:           fmt.Sprintf("rc-%s-%d", templateID, i),
			TemplateID:   templateID,
			Contribution: 12,
			Confidence:   0.6,
		})
	}

	actions := GenerateActions(causes)
	require.NotEmpty(t, actions)
	for i, action := range actions {
		require.Equal(t, fmt.Sprintf("action-%d", i+1), action.ID)
		require.False(t, strings.Contains(action.Description, "{{"), "unexpanded token in %q", action.Description)
		require.False(t, strings.Contains(action.ExpectedImpact, "{{"))
		require.NotEmpty(t, action.Owner)
		require.NotEmpty(t, action.Effort)
	}
}

func TestGenerateActionsWeatherTemperatureToken(t *testing.T) {
	cause := models.RootCause{
		ID: "rc-H8-0", TemplateID: "H8", Contribution: 15, Confidence: 0.4,
		ContributingFactors: []string{"Region running 6.2 degrees warmer than the prior week"},
		Evidence: models.RootCauseProof{
			Impact: models.ImpactEstimate{AffectedRegions: []string{"Mumbai"}},
		},
	}

	actions := GenerateActions([]models.RootCause{cause})
	require.Len(t, actions, 1)
	require.Equal(t, "Weather-driven Stock Rebalance", actions[0].Title)
	require.Contains(t, actions[0].Description, "Temperature shift of 6 degrees")
	require.Contains(t, actions[0].Description, "Mumbai")

	// Without a numeric factor the template still resolves.
	cause.ContributingFactors = nil
	actions = GenerateActions([]models.RootCause{cause})
	require.Contains(t, actions[0].Description, "Temperature shift of 5 degrees")
}

func TestFirstDigits(t *testing.T) {
	got, ok := firstDigits("Region running 6.2 degrees warmer")
	require.True(t, ok)
	require.Equal(t, "6", got)

	got, ok = firstDigits("shift of 12 degrees")
	require.True(t, ok)
	require.Equal(t, "12", got)

	_, ok = firstDigits("no numbers here")
	require.False(t, ok)
}

func TestExpectedImpactWithoutRevenue(t *testing.T) {
	cause := models.RootCause{TemplateID: "H2", Contribution: 40, Confidence: 0.7}
	actions := GenerateActions([]models.RootCause{cause})
	require.NotEmpty(t, actions)
	require.Equal(t, "20-40% improvement expected", actions[0].ExpectedImpact)
}

func TestBuildMemoSections(t *testing.T) {
	causes := []models.RootCause{{
		TemplateID: "H1", Title: "Stockout blocking demand",
		Contribution: 100, Confidence: 0.9, Description: "Key SKUs out of stock",
	}}
	impact := models.BusinessImpact{LostRevenue: 50000, LostRevenueFormatted: "₹50.0K", OOSSKUs: 2}
	actions := GenerateActions(causes)
	geo := &models.GeoOpportunity{Narrative: "Move stock from Delhi to Mumbai."}

	memo := BuildMemo("Why did revenue drop?", causes, impact, actions, geo)

	require.Contains(t, memo, "# Diagnosis Memo")
	require.Contains(t, memo, "Why did revenue drop?")
	require.Contains(t, memo, "## Root causes")
	require.Contains(t, memo, "**Stockout blocking demand** (100% contribution, 90% confidence)")
	require.Contains(t, memo, "## Business impact")
	require.Contains(t, memo, "₹50.0K")
	require.Contains(t, memo, "Out-of-stock SKUs: 2")
	require.Contains(t, memo, "## Recommended actions")
	require.Contains(t, memo, "## Stock rebalancing")
	require.Contains(t, memo, "Move stock from Delhi to Mumbai.")
}

func TestBuildMemoNoCauses(t *testing.T) {
	memo := BuildMemo("", nil, models.BusinessImpact{LostRevenueFormatted: "₹0"}, nil, nil)
	require.Contains(t, memo, "No root cause cleared the confidence bar")
	require.NotContains(t, memo, "## Recommended actions")
	require.NotContains(t, memo, "## Question")
}
