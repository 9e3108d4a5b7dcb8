package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"meter-determinants/internal/storage"
)

// Export renders stored determinants as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(-3, 0, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListDeterminantsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no determinants found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting determinants")

	if opts.CSVPath != "" {
		if err := writeDeterminantsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDeterminantsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []storage.DeterminantRow, max int) []storage.DeterminantRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.DeterminantRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeDeterminantsCSV(path string, rows []storage.DeterminantRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"meter_id", "cycle_label", "cycle_start", "cycle_end", "energy_kwh", "demand_max_kw", "billing_demand_kw", "coverage_pct", "confidence"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.MeterID,
			row.CycleLabel,
			row.CycleStart.UTC().Format(time.RFC3339),
			row.CycleEnd.UTC().Format(time.RFC3339),
			formatDecimalPtr(row.EnergyKWh, 3),
			formatDecimalPtr(row.DemandMaxKW, 3),
			formatDecimalPtr(row.BillingDemandKW, 3),
			row.CoveragePct.StringFixed(3),
			row.Confidence.StringFixed(3),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDeterminantsPNG(path string, rows []storage.DeterminantRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	energy := make([]float64, len(rows))
	demand := make([]float64, len(rows))
	billing := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.CycleEnd
		if row.EnergyKWh != nil {
			energy[i] = row.EnergyKWh.InexactFloat64()
		}
		if row.DemandMaxKW != nil {
			demand[i] = row.DemandMaxKW.InexactFloat64()
		}
		if row.BillingDemandKW != nil {
			billing[i] = row.BillingDemandKW.InexactFloat64()
		}
	}

	kwFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Demand (kW)",
			ValueFormatter: kwFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Energy (kWh)",
			ValueFormatter: kwFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Demand max",
				XValues: x,
				YValues: demand,
			},
			chart.TimeSeries{
				Name:    "Billing demand",
				XValues: x,
				YValues: billing,
			},
			chart.TimeSeries{
				Name:    "Energy",
				XValues: x,
				YValues: energy,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
