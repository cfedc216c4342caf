package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailpulse/diagnose/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "diagnose-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func day(offset int) time.Time {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "acme", "why did revenue drop", "sig-1")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Equal(t, models.SessionPending, session.Status)

	got, err := s.GetSession(ctx, "acme", session.ID)
	require.NoError(t, err)
	require.Equal(t, "why did revenue drop", got.Query)
	require.Equal(t, "sig-1", got.SignalID)
	require.Empty(t, got.Steps)

	_, err = s.GetSession(ctx, "other-tenant", session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	now := time.Now().UTC()
	require.NoError(t, s.AppendStepEvent(ctx, models.StepEvent{
		SessionID: session.ID, Stage: 1, Label: "Querying data sources",
		Status: models.StepRunning, At: now,
	}))
	require.NoError(t, s.AppendStepEvent(ctx, models.StepEvent{
		SessionID: session.ID, Stage: 1, Label: "Querying data sources",
		Status: models.StepCompleted, Detail: "Found: retail (10 total records)", At: now.Add(time.Second),
	}))

	require.NoError(t, s.SetSessionStatus(ctx, session.ID, models.SessionRunning, ""))

	got, err = s.GetSession(ctx, "acme", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionRunning, got.Status)
	require.Len(t, got.Steps, 1)
	require.Equal(t, models.StepCompleted, got.Steps[0].Status)
	require.Equal(t, "Found: retail (10 total records)", got.Steps[0].Detail)
	require.NotNil(t, got.Steps[0].StartedAt)
	require.NotNil(t, got.Steps[0].CompletedAt)

	result := &models.ResultData{
		RootCauses:     []models.RootCause{{ID: "rc-H1-0", TemplateID: "H1", Title: "Stockout blocking demand", Contribution: 100}},
		BusinessImpact: models.BusinessImpact{LostRevenue: 5000, LostRevenueFormatted: "₹5.0K"},
		Actions:        []models.Action{},
	}
	require.NoError(t, s.CompleteSession(ctx, session.ID, result))

	got, err = s.GetSession(ctx, "acme", session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.RootCauses, 1)
	require.Equal(t, "Stockout blocking demand", got.Result.RootCauses[0].Title)

	require.NoError(t, s.RenameSession(ctx, "acme", session.ID, "renamed query"))
	got, err = s.GetSession(ctx, "acme", session.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed query", got.Query)

	sessions, err := s.ListSessions(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Nil(t, sessions[0].Result)

	require.NoError(t, s.DeleteSession(ctx, "acme", session.ID))
	_, err = s.GetSession(ctx, "acme", session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	events, err := s.SessionEvents(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, events, "event log rows cascade with the session")
}

func TestSessionNotFoundOnMutations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.RenameSession(ctx, "acme", "missing", "q"), ErrSessionNotFound)
	require.ErrorIs(t, s.DeleteSession(ctx, "acme", "missing"), ErrSessionNotFound)
	require.ErrorIs(t, s.SetSessionStatus(ctx, "missing", models.SessionFailed, "boom"), ErrSessionNotFound)
}

func TestRetailFactQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var records []models.RetailRecord
	for i := 0; i < 10; i++ {
		records = append(records,
			models.RetailRecord{TenantID: "acme", Date: day(i), SKU: "SKU-A", Revenue: 1000, Units: 10, Traffic: 100},
			models.RetailRecord{TenantID: "acme", Date: day(i), SKU: "SKU-B", Revenue: 200, Units: 4, Traffic: 50},
		)
	}
	require.NoError(t, s.InsertRetail(ctx, records))

	count, err := s.CountRecords(ctx, "acme", models.DatasetRetail)
	require.NoError(t, err)
	require.EqualValues(t, 20, count)

	count, err = s.CountRecords(ctx, "other", models.DatasetRetail)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	series, err := s.RetailDailySeries(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, series, 10)
	require.Equal(t, "2026-08-01", series[0].Date)
	require.InDelta(t, 1200, series[0].Revenue, 0.001)
	require.InDelta(t, 150, series[0].Traffic, 0.001)

	top, err := s.TopSKUsByRevenue(ctx, "acme", 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "SKU-A", top[0].SKU)
	require.InDelta(t, 10000, top[0].TotalRevenue, 0.001)
	require.InDelta(t, 10, top[0].AvgUnits, 0.001)

	latest, ok, err := s.LatestRetailDate(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-08-10", latest.Format("2006-01-02"))

	_, ok, err = s.LatestRetailDate(ctx, "other")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSKURevenueWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var records []models.RetailRecord
	for i := 0; i < 14; i++ {
		revenue := 1000.0
		if i >= 7 {
			revenue = 400
		}
		records = append(records, models.RetailRecord{TenantID: "acme", Date: day(i), SKU: "SKU-A", Revenue: revenue})
	}
	require.NoError(t, s.InsertRetail(ctx, records))

	windows, err := s.SKURevenueWindows(ctx, "acme", day(7).Format("2006-01-02"))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.InDelta(t, 2800, windows[0].Recent, 0.001)
	require.InDelta(t, 7000, windows[0].Prior, 0.001)
}

func TestLatestInventoryLevels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertInventory(ctx, []models.InventoryRecord{
		{TenantID: "acme", SKU: "SKU-A", Location: "Mumbai", AvailableQty: 50, Date: day(0)},
		{TenantID: "acme", SKU: "SKU-A", Location: "Mumbai", AvailableQty: 0, Date: day(5)},
		{TenantID: "acme", SKU: "SKU-A", Location: "Delhi", AvailableQty: 30, Date: day(5)},
	}))

	levels, err := s.LatestInventoryLevels(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, levels, 2)

	byLocation := make(map[string]float64)
	for _, lv := range levels {
		byLocation[lv.Location] = lv.Qty
	}
	require.InDelta(t, 0, byLocation["Mumbai"], 0.001, "latest snapshot wins")
	require.InDelta(t, 30, byLocation["Delhi"], 0.001)
}

func TestFulfilmentAndAuditInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFulfilments(ctx, []models.FulfilmentRecord{
		{TenantID: "acme", OrderID: "o1", SKU: "SKU-A", DispatchDate: day(0), DelayDays: 3, Carrier: "FastShip", Region: "West", Status: models.FulfilmentDelivered},
		{TenantID: "acme", OrderID: "o2", SKU: "SKU-B", DispatchDate: day(1), Carrier: "FastShip", Region: "West", Status: models.FulfilmentReturned},
	}))

	records, err := s.FulfilmentRecords(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, records, 2)
	statuses := map[string]models.FulfilmentStatus{}
	for _, rec := range records {
		statuses[rec.OrderID] = rec.Status
	}
	require.Equal(t, models.FulfilmentDelivered, statuses["o1"])
	require.Equal(t, models.FulfilmentReturned, statuses["o2"])

	require.NoError(t, s.InsertAnomalies(ctx, "acme", []models.DetectedAnomaly{
		{KPIName: "revenue_wow", Severity: models.SeverityCritical, DeviationPercent: -30, Dimensions: map[string]string{"period": "weekly"}},
	}))
}
