package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"meter-determinants/internal/alerting"
	"meter-determinants/internal/config"
	"meter-determinants/internal/demand"
	"meter-determinants/internal/determinant"
	"meter-determinants/internal/engine"
	"meter-determinants/internal/loadmodel"
	"meter-determinants/internal/reconcile"
	"meter-determinants/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// engineOptions assembles the engine thresholds and collaborator hooks from
// configuration.
func (a *App) engineOptions() engine.Options {
	calc := determinant.DefaultParams()
	if a.Config.Engine.BaseConfidence > 0 {
		calc.BaseConfidence = a.Config.Engine.BaseConfidence
	}
	if a.Config.Engine.CrossCheckTolerance > 0 {
		calc.CrossCheckTolerance = a.Config.Engine.CrossCheckTolerance
	}
	if a.Config.Engine.CoverageMinimum > 0 {
		calc.CoverageMinimum = a.Config.Engine.CoverageMinimum
	}

	rec := reconcile.DefaultParams()
	if a.Config.Engine.MismatchThreshold > 0 {
		rec.MismatchThreshold = a.Config.Engine.MismatchThreshold
	}
	if a.Config.Engine.CoverageMinimum > 0 {
		rec.CoverageMinimum = a.Config.Engine.CoverageMinimum
	}
	if a.Config.Engine.ReconcileWindow > 0 {
		rec.WindowSize = a.Config.Engine.ReconcileWindow
	}

	return engine.Options{
		Calculator:       calc,
		Reconciliation:   rec,
		DemandRules:      demand.Rules{RatchetFloorPct: a.Config.Demand.RatchetFloorPct},
		ScheduleResolver: a.Config.ScheduleResolver(),
	}
}

func (a *App) loadModelParams() loadmodel.Params {
	params := loadmodel.DefaultParams()
	if a.Config.LoadModel.MinPoints > 0 {
		params.MinPoints = a.Config.LoadModel.MinPoints
	}
	if a.Config.LoadModel.BalanceLowF > 0 {
		params.BalanceLowF = a.Config.LoadModel.BalanceLowF
	}
	if a.Config.LoadModel.BalanceHighF > 0 {
		params.BalanceHighF = a.Config.LoadModel.BalanceHighF
	}
	if a.Config.LoadModel.BalanceStepF > 0 {
		params.BalanceStepF = a.Config.LoadModel.BalanceStepF
	}
	return params
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// AnalyzeOptions configure a one-shot analysis pass.
type AnalyzeOptions struct {
	InputPath string
	DryRun    bool
}

// AttributeOptions configure a load-attribution fit.
type AttributeOptions struct {
	InputPath string
	MeterID   string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting stored determinants.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
