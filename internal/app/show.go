package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recently stored cycle determinants.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show determinants")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentDeterminants(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no determinants found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Meter\tCycle\tEnd (UTC)\tEnergy kWh\tDemand kW\tBilling kW\tCoverage\tConf")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.MeterID,
			row.CycleLabel,
			row.CycleEnd.UTC().Format(time.RFC3339),
			formatDecimalPtr(row.EnergyKWh, 1),
			formatDecimalPtr(row.DemandMaxKW, 2),
			formatDecimalPtr(row.BillingDemandKW, 2),
			row.CoveragePct.StringFixed(3),
			row.Confidence.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}

func formatDecimalPtr(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
