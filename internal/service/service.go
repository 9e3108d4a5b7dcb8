package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"meter-determinants/internal/alerting"
	"meter-determinants/internal/config"
	"meter-determinants/internal/determinant"
	"meter-determinants/internal/engine"
	"meter-determinants/internal/reconcile"
	"meter-determinants/internal/scheduler"
	"meter-determinants/internal/storage"
)

// AnalyzeFunc produces a fresh engine result, typically by re-reading the
// configured input pack.
type AnalyzeFunc func(ctx context.Context) (engine.Result, error)

// Service orchestrates analysis passes, persistence, and mismatch alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	analyze   AnalyzeFunc
	runStore  storage.RunStore
	detStore  storage.DeterminantStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	rate      engine.RateContext
	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
}

// New constructs the analysis service.
func New(cfg *config.Config, sched *scheduler.Scheduler, analyze AnalyzeFunc, rate engine.RateContext,
	runStore storage.RunStore, detStore storage.DeterminantStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {

	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	return &Service{
		scheduler: sched,
		analyze:   analyze,
		runStore:  runStore,
		detStore:  detStore,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		rate:      rate,
		threshold: threshold,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
	}
}

// Run begins the scheduled re-analysis loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket executes one scheduled analysis pass.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	result, err := s.analyze(ctx)
	if err != nil {
		return fmt.Errorf("run analysis: %w", err)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("meters", len(result.Meters)).
		Float64("confidence", result.Confidence).
		Msg("analysis completed")

	return s.ProcessResult(ctx, result)
}

// ProcessResult persists an engine result and dispatches mismatch alerts.
// Persistence and alert failures are logged, not fatal: the computation
// itself already succeeded.
func (s *Service) ProcessResult(ctx context.Context, result engine.Result) error {
	runID, persisted := s.persist(ctx, result)
	if persisted {
		s.logger.Debug().Int64("run_id", runID).Msg("analysis run persisted")
	}

	if !s.alertsOn || s.notifier == nil {
		return nil
	}

	for _, mr := range result.Meters {
		for _, m := range mr.Reconciliation.Matches {
			if !m.Selected || (!m.DemandMismatch && !m.EnergyMismatch) {
				continue
			}
			if err := s.notifier.Notify(ctx, buildNotification(mr.MeterID, m, s.threshold, s.channels)); err != nil {
				s.logger.Error().Err(err).
					Str("meter", mr.MeterID).
					Str("cycle", m.CycleLabel).
					Msg("failed to dispatch mismatch alert")
			}
		}
	}
	return nil
}

func (s *Service) persist(ctx context.Context, result engine.Result) (int64, bool) {
	if s.runStore == nil || s.detStore == nil {
		return 0, false
	}

	run, err := s.runStore.InsertRun(ctx, storage.AnalysisRun{
		Utility:             s.rate.Utility,
		RateCode:            s.rate.RateCode,
		Confidence:          decimal.NewFromFloat(result.Confidence),
		DeterminantsVersion: result.Versions.Determinants,
		TouVersion:          result.Versions.TouLabeling,
		LoadVersion:         result.Versions.LoadAttribution,
		MeterCount:          len(result.Meters),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist analysis run")
		return 0, false
	}

	for _, mr := range result.Meters {
		for _, d := range mr.Determinants {
			if err := s.detStore.UpsertDeterminant(ctx, determinantRow(run.ID, d)); err != nil {
				s.logger.Error().Err(err).
					Str("meter", mr.MeterID).
					Str("cycle", d.Cycle.Label).
					Msg("failed to persist determinant")
			}
		}
		for _, m := range mr.Reconciliation.Matches {
			if err := s.detStore.InsertMatch(ctx, matchRow(run.ID, mr.MeterID, m)); err != nil {
				s.logger.Error().Err(err).
					Str("meter", mr.MeterID).
					Str("cycle", m.CycleLabel).
					Msg("failed to persist reconciliation match")
			}
		}
	}
	return run.ID, true
}

func determinantRow(runID int64, d determinant.CycleDeterminant) storage.DeterminantRow {
	row := storage.DeterminantRow{
		RunID:       runID,
		MeterID:     d.MeterID,
		CycleLabel:  d.Cycle.Label,
		CycleStart:  d.Cycle.Start,
		CycleEnd:    d.Cycle.End,
		CoveragePct: decimal.NewFromFloat(d.CoveragePct),
		Confidence:  decimal.NewFromFloat(d.Confidence),
	}
	row.EnergyKWh = floatToDecimal(d.EnergyKWh)
	row.DemandMaxKW = floatToDecimal(d.DemandMaxKW)
	row.BillingDemandKW = floatToDecimal(d.BillingDemandKW())
	if trail, err := json.Marshal(d.Trail); err == nil {
		row.Trail = trail
	}
	return row
}

func matchRow(runID int64, meterID string, m reconcile.Match) storage.MatchRow {
	row := storage.MatchRow{
		RunID:          runID,
		MeterID:        meterID,
		CycleLabel:     m.CycleLabel,
		IsReconcilable: m.IsReconcilable,
		Selected:       m.Selected,
	}
	if m.SkipReason != "" {
		reason := m.SkipReason
		row.SkipReason = &reason
	}
	row.DeltaDemandPct = floatToDecimal(m.DeltaDemandPct)
	row.DeltaEnergyPct = floatToDecimal(m.DeltaEnergyPct)
	return row
}

func buildNotification(meterID string, m reconcile.Match, threshold decimal.Decimal, channels []string) alerting.Notification {
	note := alerting.Notification{
		MeterID:      meterID,
		CycleLabel:   m.CycleLabel,
		CycleEnd:     m.CycleEnd,
		ThresholdPct: threshold,
		Channels:     channels,
	}
	if m.StatedDemandKW != nil {
		note.StatedDemandKW = decimal.NewFromFloat(*m.StatedDemandKW)
	}
	if m.ComputedDemandKW != nil {
		note.ComputedKW = decimal.NewFromFloat(*m.ComputedDemandKW)
	}
	if m.DeltaDemandPct != nil {
		note.DeltaDemandPct = decimal.NewFromFloat(*m.DeltaDemandPct)
	}
	if m.DeltaEnergyPct != nil {
		note.DeltaEnergyPct = decimal.NewFromFloat(*m.DeltaEnergyPct)
	}
	return note
}

func floatToDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
