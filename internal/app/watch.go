package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"meter-determinants/internal/engine"
	"meter-determinants/internal/scheduler"
	"meter-determinants/internal/service"
	"meter-determinants/internal/storage"
)

// Watch re-analyses the configured input pack on an aligned interval,
// persisting each pass and alerting on new mismatches. The pack is re-read
// every tick so refreshed utility exports are picked up.
func (a *App) Watch(ctx context.Context) error {
	if a.Config.Watch.InputPath == "" {
		return errors.New("watch.input_path not configured")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The rate context comes from the pack itself; read it once up front so
	// a broken pack fails at startup rather than on the first tick.
	input, err := LoadInputPack(a.Config.Watch.InputPath)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Watch.Interval,
		AlignToStart: a.Config.Watch.AlignToBucket,
		StartupDelay: a.Config.Watch.StartupDelay,
	}, a.Logger)

	analyze := func(ctx context.Context) (engine.Result, error) {
		input, err := LoadInputPack(a.Config.Watch.InputPath)
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Compute(input, a.engineOptions()), nil
	}

	var runStore storage.RunStore
	var detStore storage.DeterminantStore
	if store != nil {
		runStore = store
		detStore = store
	}

	svc := service.New(a.Config, sched, analyze, input.Rate, runStore, detStore, a.newNotifier(), a.Logger)

	a.Logger.Info().Str("input", a.Config.Watch.InputPath).Msg("starting watch loop")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}
