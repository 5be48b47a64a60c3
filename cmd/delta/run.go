package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/application"
)

func newRunCmd() *cobra.Command {
	var (
		agentPath   string
		workDir     string
		runID       string
		task        string
		interactive bool
		silent      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start a new run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := loadEngineConfig(log)
			if err != nil {
				return err
			}

			if workDir == "" {
				workDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			installSignalHandlers(cancel, log)

			app := application.New(cfg, log)
			res, err := app.Execute(ctx, application.RunOptions{
				WorkDir:     workDir,
				AgentPath:   agentPath,
				RunID:       runID,
				Task:        task,
				Interactive: interactive && !silent,
			})
			if err != nil {
				return err
			}
			reportResult(res)
			os.Exit(exitCodeForStatus(res.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&agentPath, "agent", "", "path to the agent directory (required)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory (default: current directory)")
	cmd.Flags().StringVar(&runID, "run-id", "", "caller-supplied run ID (default: server-allocated)")
	cmd.Flags().StringVarP(&task, "task", "m", "", "the task text for the agent")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt at the terminal for ask_human calls")
	cmd.Flags().BoolVarP(&silent, "yes", "y", false, "never prompt; ask_human suspends the run instead")
	cmd.MarkFlagRequired("agent")

	return cmd
}

// installSignalHandlers wires SIGINT/SIGTERM to ctx's cancellation (§4.1
// step 8, §5 "Cancellation and timeouts"): first signal cancels the
// context so the engine can append RUN_END(INTERRUPTED) and exit cleanly;
// a second signal within the grace window (hardExitWindow) hard-exits with
// 130. A signal arriving after the window has passed starts a new window.
func installSignalHandlers(cancel context.CancelFunc, log *zap.Logger) {
	const hardExitWindow = 2 * time.Second
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt signal; finishing current step and exiting")
		cancel()
		for {
			select {
			case <-sigCh:
				log.Warn("second interrupt signal; hard exit")
				os.Exit(130)
			case <-time.After(hardExitWindow):
			}
			<-sigCh
			log.Info("received interrupt signal; finishing current step and exiting")
		}
	}()
}
