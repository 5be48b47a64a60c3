// Command delta is the CLI surface of the Run Engine (spec §6.3): `run`,
// `continue`, `list-runs`, `show`, and `tool expand`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	infraconfig "github.com/deltaengine/delta/internal/infrastructure/config"
	"github.com/deltaengine/delta/internal/infrastructure/logger"
)

const version = "1.10.0"

func main() {
	root := &cobra.Command{
		Use:           "delta",
		Short:         "Delta Engine — a minimalist Think-Act-Observe agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "info", "debug | info | warn | error")
	root.PersistentFlags().String("log-format", "console", "console | json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newContinueCmd())
	root.AddCommand(newListRunsCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newToolCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "delta:", err)
		os.Exit(exitCodeFor(err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the delta version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("delta v%s\n", version)
		},
	}
}

// buildLogger constructs the shared zap.Logger from the root command's
// persistent flags.
func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	return logger.NewLogger(logger.Config{Level: level, Format: format, OutputPath: "stderr"})
}

// loadEngineConfig bootstraps ~/.delta and loads the cascaded engine
// config (defaults < ~/.delta/config.yaml < DELTA_* env).
func loadEngineConfig(log *zap.Logger) (*infraconfig.Config, error) {
	if err := infraconfig.Bootstrap(log); err != nil {
		log.Warn("engine home bootstrap failed", zap.Error(err))
	}
	return infraconfig.Load()
}

// exitCodeFor maps a start-up error (one that prevented a run from ever
// reaching a recorded status) to a process exit code. Terminal run
// statuses (COMPLETED/FAILED/WAITING_FOR_INPUT/INTERRUPTED) are translated
// to their own exit codes directly by the run/continue commands — this
// path only covers errors raised before or outside the T-A-O loop.
func exitCodeFor(err error) int {
	return 1
}
