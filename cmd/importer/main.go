package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samirrijal/planb/internal/pkg/config"
	"github.com/samirrijal/planb/internal/pkg/logging"
)

var (
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "planb-import",
	Short: "Bulk-load places into the PlanB database",
	Long: `planb-import reads spreadsheet exports (CSV, ';' separated by default)
and writes them as places. Coordinates are reconciled on the way in.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load("planb-importer")
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logging.Setup(level, "text")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
