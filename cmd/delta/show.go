package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/domain/workspace"
	cliui "github.com/deltaengine/delta/internal/interfaces/cli"
)

func newShowCmd() *cobra.Command {
	var (
		workDir string
		plain   bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "render a run's journal as a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if workDir == "" {
				var err error
				workDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			ws, err := workspace.Open(workDir)
			if err != nil {
				return err
			}
			if !ws.RunExists(runID) {
				return fmt.Errorf("run %q does not exist", runID)
			}

			meta, err := journal.ReadMetadata(ws.RunDir(runID))
			if err != nil {
				return err
			}

			j, err := journal.Open(ws.RunDir(runID))
			if err != nil {
				return err
			}
			events, err := j.Read()
			if err != nil {
				return err
			}

			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil || width <= 0 {
				width = 80
			}
			renderer := cliui.NewRenderer(width)
			renderer.Plain = plain || !term.IsTerminal(int(os.Stdout.Fd()))

			fmt.Printf("run %s  status=%s  iteration=%d/%d\n\n",
				meta.RunID, meta.Status, meta.Iteration, meta.MaxIterations)
			for _, ev := range events {
				fmt.Println(renderer.RenderEvent(ev))
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory (default: current directory)")
	cmd.Flags().BoolVar(&plain, "plain", false, "never emit ANSI styling")

	return cmd
}
