package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/cmd/tablescan/commands"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tablescan",
	Short: "tablescan - plan and distribute partitioned table scans",
	Long: `tablescan resolves a scan of a partitioned table into an input descriptor
and distributes the partition reads across workers.

Available commands:
  am      - Manage tablescan configuration ("I am")
  catalog - Manage the local metastore catalog
  plan    - Resolve a table scan into an input descriptor
  worker  - Run workers that plan splits and read partitions
  jobs    - Inspect split planning and partition read jobs

Examples:
  tablescan catalog seed warehouse.toml
  tablescan plan --namespace sales_db --table orders --filter "region='US'" --submit
  tablescan worker --drain
  tablescan jobs ls`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		// A broken am.toml must not keep 'am validate' from reporting it
		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
		}
		if err := logger.InitializeWithLevel(jsonOutput, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CatalogCmd)
	rootCmd.AddCommand(commands.PlanCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(1)
	}
}
