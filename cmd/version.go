package cmd

import (
	"fmt"
	"runtime"

	"github.com/kozaktomas/facepay/internal/config"
	"github.com/spf13/cobra"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the active model profile",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		profile := cfg.GetModelProfile()

		fmt.Printf("facepay %s (%s)\n", Version, runtime.Version())
		fmt.Printf("  Commit: %s\n", CommitSHA)
		fmt.Printf("  Built:  %s\n", BuildDate)
		fmt.Printf("  Model:  %s (dim %d, %s, threshold %.2f)\n",
			cfg.Inference.Model, profile.Dim, cfg.MatchMetric(), cfg.MatchThreshold())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
