package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meter-determinants/internal/engine"
	"meter-determinants/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and algorithm version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit: %s\nbuilt: %s\n", version.Version, version.Commit, version.BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "algorithms: %s, %s, %s\n",
			engine.DeterminantsVersion, engine.TouLabelingVersion, engine.LoadAttributionVersion)
	},
}
