package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/application"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

func newContinueCmd() *cobra.Command {
	var (
		runID       string
		workDir     string
		interactive bool
		silent      bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "continue",
		Short: "resume a suspended or interrupted run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return apperr.NewConsistencyError("continue requires --run-id")
			}

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
				RunID:       runID,
				Interactive: interactive && !silent,
				Resume:      true,
				Force:       force,
			})
			if err != nil {
				return err
			}
			reportResult(res)
			os.Exit(exitCodeForStatus(res.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "the run ID to resume (required)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory (default: current directory)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt at the terminal for ask_human calls")
	cmd.Flags().BoolVarP(&silent, "yes", "y", false, "never prompt; ask_human suspends the run instead")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the janitor's foreign-host check")

	return cmd
}
