package app

import (
	"context"
	"fmt"
	"os"

	"meter-determinants/internal/loadmodel"
	"meter-determinants/internal/meter"
)

// Attribute fits the weather-response load model for one meter in an input
// pack and prints the result.
func (a *App) Attribute(ctx context.Context, opts AttributeOptions) error {
	input, err := LoadInputPack(opts.InputPath)
	if err != nil {
		return err
	}

	series, err := selectSeries(input.Series, opts.MeterID)
	if err != nil {
		return err
	}

	result := loadmodel.Fit(a.loadModelParams(), series)

	a.Logger.Info().
		Str("meter", series.MeterID).
		Str("classification", result.Classification).
		Float64("r2", result.R2).
		Int("points", result.PointsUsed).
		Msg("load attribution fitted")

	fmt.Fprintf(os.Stdout, "Meter:          %s\n", series.MeterID)
	fmt.Fprintf(os.Stdout, "Classification: %s\n", result.Classification)
	if result.Classification == loadmodel.ClassInsufficientData {
		for _, m := range result.Trail.MissingInfo {
			fmt.Fprintf(os.Stdout, "  [%s] %s\n", m.Severity, m.Description)
		}
		return nil
	}
	fmt.Fprintf(os.Stdout, "Balance temp:   %.0f F\n", result.BalanceTempF)
	fmt.Fprintf(os.Stdout, "Base load:      %.3f kW\n", result.BaseKW)
	fmt.Fprintf(os.Stdout, "Cooling slope:  %.3f kW/F\n", result.CoolingSlope)
	fmt.Fprintf(os.Stdout, "Heating slope:  %.3f kW/F\n", result.HeatingSlope)
	fmt.Fprintf(os.Stdout, "R-squared:      %.3f (%d points)\n", result.R2, result.PointsUsed)
	return nil
}

func selectSeries(series []meter.IntervalSeries, meterID string) (meter.IntervalSeries, error) {
	if meterID == "" {
		return series[0], nil
	}
	for _, s := range series {
		if s.MeterID == meterID {
			return s, nil
		}
	}
	return meter.IntervalSeries{}, fmt.Errorf("meter %q not found in input pack", meterID)
}
