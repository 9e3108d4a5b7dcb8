package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meter-determinants/internal/app"
)

var (
	attributeInput string
	attributeMeter string
)

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Fit the weather-response load model for one meter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if attributeInput == "" {
			return fmt.Errorf("--input must be provided")
		}

		opts := app.AttributeOptions{
			InputPath: attributeInput,
			MeterID:   attributeMeter,
		}

		return getApp().Attribute(cmd.Context(), opts)
	},
}

func init() {
	attributeCmd.Flags().StringVar(&attributeInput, "input", "", "Path to JSON input pack")
	attributeCmd.Flags().StringVar(&attributeMeter, "meter", "", "Meter id (defaults to the first series in the pack)")
}
