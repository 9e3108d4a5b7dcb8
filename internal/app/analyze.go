package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"meter-determinants/internal/engine"
	"meter-determinants/internal/service"
	"meter-determinants/internal/storage"
)

// Analyze runs one engine pass over an input pack, prints the determinant
// summary, and (unless dry-run) persists results and dispatches mismatch
// alerts.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	input, err := LoadInputPack(opts.InputPath)
	if err != nil {
		return err
	}

	result := engine.Compute(input, a.engineOptions())

	a.Logger.Info().
		Int("meters", len(result.Meters)).
		Float64("confidence", result.Confidence).
		Int("missing_info", len(result.MissingInfo)).
		Str("algorithm", result.Versions.Determinants).
		Msg("determinants computed")

	printResult(result)

	if opts.DryRun {
		a.Logger.Info().Msg("dry-run; skipping persistence and alerting")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	var runStore storage.RunStore
	var detStore storage.DeterminantStore
	if store != nil {
		runStore = store
		detStore = store
	}

	svc := service.New(a.Config, nil, nil, input.Rate, runStore, detStore, a.newNotifier(), a.Logger)
	return svc.ProcessResult(ctx, result)
}

func printResult(result engine.Result) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Meter\tCycle\tEnergy kWh\tDemand kW\tBilling kW\tCoverage%\tConf\tReconciled")

	for _, mr := range result.Meters {
		selected := make(map[string]bool, len(mr.Reconciliation.Matches))
		for _, m := range mr.Reconciliation.Matches {
			selected[m.CycleLabel] = m.Selected
		}
		for _, d := range mr.Determinants {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%.1f\t%.2f\t%v\n",
				d.MeterID,
				d.Cycle.Label,
				formatFloat(d.EnergyKWh, 1),
				formatFloat(d.DemandMaxKW, 2),
				formatFloat(d.BillingDemandKW(), 2),
				d.CoveragePct*100,
				d.Confidence,
				selected[d.Cycle.Label],
			)
		}
	}
	writer.Flush()

	if len(result.MissingInfo) > 0 {
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, "Missing / uncertain inputs:")
		for _, m := range result.MissingInfo {
			fmt.Fprintf(os.Stdout, "  [%s] %s: %s\n", m.Severity, m.ID, m.Description)
		}
	}
}

func formatFloat(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *v)
}
