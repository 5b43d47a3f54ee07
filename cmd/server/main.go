/*
main.go - Application entry point

PURPOSE:
  The peopleops command. Runs the HTTP service and exposes the quarter
  arithmetic, the bonus calculator and the bulk import on the command line.

COMMANDS:
  serve                       HTTP API + recalculation scheduler
  quarter previous|next|history|validate
  bonus breakdown|calculate
  import --file --quarter [--confirm]

CONFIGURATION:
  config.yaml in the working directory (optional) and PEOPLEOPS_* env
  vars, loaded before every command. See config/config.go.

EXAMPLES:
  peopleops serve --port 3000
  peopleops quarter history 2025-Q1 -n 3
  peopleops bonus calculate --start 2024-11-15 --quarter 2025-Q1 \
      --quota 100000 --attainment 50000 --quarterly-bonus 12000
  peopleops import --file q1.csv --quarter 2025-Q1 --confirm

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/peopleops/config"
	"github.com/warp/peopleops/quarter"
)

var cfg *config.Config

// clock is the source of "now" for every command.
var clock quarter.Clock = quarter.SystemClock{}

var rootCmd = &cobra.Command{
	Use:          "peopleops",
	Short:        "Commission bonus proration service",
	Long:         "Computes quarterly commission bonuses prorated by ramp-up months, imports attainment in bulk, and serves the API.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
