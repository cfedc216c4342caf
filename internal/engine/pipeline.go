package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/hypotheses"
	"github.com/retailpulse/diagnose/internal/metrics"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

// Stage labels shown verbatim in the progress stream and session history.
var stageLabels = [4]string{
	"Querying data sources",
	"Detecting anomalies & analyzing signals",
	"Testing hypotheses & correlating evidence",
	"Generating action plan & memo",
}

// AnomalyDetector scans fact tables for KPI deviations.
type AnomalyDetector interface {
	Detect(ctx context.Context, tenantID string) ([]models.DetectedAnomaly, error)
}

// HypothesisRunner tests the selected templates against the evidence.
type HypothesisRunner interface {
	TestAll(ctx context.Context, tenantID string, templates []models.Template, anomalies []models.DetectedAnomaly) ([]models.TestedHypothesis, error)
}

// PipelineStore is the persistence surface the pipeline writes through.
type PipelineStore interface {
	CountRecords(ctx context.Context, tenantID string, dataset models.Dataset) (int64, error)
	RetailDailySeries(ctx context.Context, tenantID string) ([]store.DailyFact, error)
	WeatherDailyDesc(ctx context.Context, tenantID string) ([]models.WeatherRecord, error)
	AppendStepEvent(ctx context.Context, ev models.StepEvent) error
	SetSessionStatus(ctx context.Context, id string, status models.SessionStatus, errorMessage string) error
	CompleteSession(ctx context.Context, id string, result *models.ResultData) error
}

// ProgressSink receives every step event as it is recorded, for live
// streaming. May be nil.
type ProgressSink func(ev models.StepEvent)

// Pipeline runs the four-stage diagnosis for one session. A Pipeline value is
// shared across sessions; per-run state lives on the stack of Run.
type Pipeline struct {
	logger       *slog.Logger
	store        PipelineStore
	detector     AnomalyDetector
	runner       HypothesisRunner
	catalog      []models.Template
	tuning       config.TuningConfig
	stageTimeout time.Duration
	publish      ProgressSink
}

// NewPipeline wires a Pipeline. A zero stageTimeout disables per-stage
// deadlines.
func NewPipeline(logger *slog.Logger, st PipelineStore, detector AnomalyDetector, runner HypothesisRunner, tuning config.TuningConfig, stageTimeout time.Duration, publish ProgressSink) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:       logger,
		store:        st,
		detector:     detector,
		runner:       runner,
		catalog:      hypotheses.Catalog,
		tuning:       tuning,
		stageTimeout: stageTimeout,
		publish:      publish,
	}
}

// Run executes the diagnosis end to end, recording progress events and the
// final result. A stage failure marks the session failed and is returned to
// the caller.
func (p *Pipeline) Run(ctx context.Context, session models.Session) error {
	tenantID := session.TenantID

	if err := p.store.SetSessionStatus(ctx, session.ID, models.SessionRunning, ""); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	var (
		available map[models.Dataset]bool
		anomalies []models.DetectedAnomaly
		tested    []models.TestedHypothesis
		result    *models.ResultData
	)

	runErr := func() error {
		if err := p.runStage(ctx, session.ID, 1, func(sctx context.Context) (string, error) {
			counts, err := p.queryDataSources(sctx, tenantID)
			if err != nil {
				return "", err
			}
			available = make(map[models.Dataset]bool, len(counts))
			var present []string
			var total int64
			for _, ds := range models.Datasets {
				if counts[ds] == 0 {
					continue
				}
				available[ds] = true
				present = append(present, string(ds))
				total += counts[ds]
			}
			if len(present) == 0 {
				return "No records found", nil
			}
			return fmt.Sprintf("Found: %s (%d total records)", strings.Join(present, ", "), total), nil
		}); err != nil {
			return err
		}

		if err := p.runStage(ctx, session.ID, 2, func(sctx context.Context) (string, error) {
			var err error
			anomalies, err = p.detector.Detect(sctx, tenantID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d anomalies detected", len(anomalies)), nil
		}); err != nil {
			return err
		}

		if err := p.runStage(ctx, session.ID, 3, func(sctx context.Context) (string, error) {
			templates := hypotheses.Applicable(p.catalog, anomalies, available)
			var err error
			tested, err = p.runner.TestAll(sctx, tenantID, templates, anomalies)
			if err != nil {
				return "", err
			}
			confirmed := 0
			for _, h := range tested {
				if h.Status == models.HypothesisConfirmed {
					confirmed++
				}
			}
			return fmt.Sprintf("Tested %d hypotheses, %d confirmed", len(tested), confirmed), nil
		}); err != nil {
			return err
		}

		return p.runStage(ctx, session.ID, 4, func(sctx context.Context) (string, error) {
			causes := RankRootCauses(tested, p.tuning)
			impact := ComputeBusinessImpact(tested)
			geo := FindGeoOpportunity(tested)
			actions := GenerateActions(causes)
			charts, err := p.buildCharts(sctx, tenantID)
			if err != nil {
				return "", err
			}
			result = &models.ResultData{
				RootCauses:     causes,
				BusinessImpact: impact,
				Actions:        actions,
				GeoOpportunity: geo,
				Charts:         charts,
				MemoMarkdown:   BuildMemo(session.Query, causes, impact, actions, geo),
			}
			return fmt.Sprintf("%d root causes, %d actions generated", len(causes), len(actions)), nil
		})
	}()

	// Final status writes must survive a canceled or timed-out run context.
	finalCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := p.store.SetSessionStatus(finalCtx, session.ID, models.SessionFailed, runErr.Error()); err != nil {
			p.logger.Error("mark session failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
		return runErr
	}
	if err := p.store.CompleteSession(finalCtx, session.ID, result); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, sessionID string, stage int, fn func(context.Context) (string, error)) error {
	label := stageLabels[stage-1]
	p.emit(ctx, models.StepEvent{
		SessionID: sessionID, Stage: stage, Label: label,
		Status: models.StepRunning, At: time.Now().UTC(),
	})

	sctx := ctx
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	started := time.Now()
	detail, err := fn(sctx)
	metrics.ObserveStage(fmt.Sprintf("stage_%d", stage), time.Since(started))
	if err != nil {
		err = fmt.Errorf("stage %d (%s): %w", stage, label, err)
		p.emit(context.WithoutCancel(ctx), models.StepEvent{
			SessionID: sessionID, Stage: stage, Label: label,
			Status: models.StepFailed, Detail: err.Error(), At: time.Now().UTC(),
		})
		return err
	}

	p.emit(ctx, models.StepEvent{
		SessionID: sessionID, Stage: stage, Label: label,
		Status: models.StepCompleted, Detail: detail, At: time.Now().UTC(),
	})
	return nil
}

func (p *Pipeline) emit(ctx context.Context, ev models.StepEvent) {
	if err := p.store.AppendStepEvent(ctx, ev); err != nil {
		p.logger.Warn("append step event",
			slog.String("session_id", ev.SessionID), slog.Int("stage", ev.Stage), slog.Any("error", err))
	}
	if p.publish != nil {
		p.publish(ev)
	}
}

func (p *Pipeline) queryDataSources(ctx context.Context, tenantID string) (map[models.Dataset]int64, error) {
	counts := make(map[models.Dataset]int64, len(models.Datasets))
	for _, ds := range models.Datasets {
		count, err := p.store.CountRecords(ctx, tenantID, ds)
		if err != nil {
			return nil, err
		}
		counts[ds] = count
	}
	return counts, nil
}

// buildCharts assembles the time series shipped with the result. External
// factor points reuse the generic chart fields: Revenue carries max
// temperature and Traffic carries rainfall.
func (p *Pipeline) buildCharts(ctx context.Context, tenantID string) (models.Charts, error) {
	var charts models.Charts

	series, err := p.store.RetailDailySeries(ctx, tenantID)
	if err != nil {
		return charts, err
	}
	charts.RevenueVsTraffic = make([]models.ChartPoint, 0, len(series))
	for _, day := range series {
		charts.RevenueVsTraffic = append(charts.RevenueVsTraffic, models.ChartPoint{
			Date: day.Date, Revenue: day.Revenue, Traffic: day.Traffic,
		})
	}

	weather, err := p.store.WeatherDailyDesc(ctx, tenantID)
	if err != nil {
		return charts, err
	}
	charts.ExternalFactors = make([]models.ChartPoint, 0, len(weather))
	for i := len(weather) - 1; i >= 0; i-- {
		rec := weather[i]
		charts.ExternalFactors = append(charts.ExternalFactors, models.ChartPoint{
			Date: rec.Date.Format("2006-01-02"), Revenue: rec.TempMax, Traffic: rec.RainfallMM,
		})
	}
	return charts, nil
}
