package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/toolexpand"
	"github.com/deltaengine/delta/internal/domain/workspace"
)

func newToolCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tool",
		Short: "tool definition utilities",
	}
	root.AddCommand(newToolExpandCmd())
	return root
}

func newToolExpandCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "expand <agent-path>",
		Short: "show how an agent's config.yaml tools[] entries expand into argv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := workspace.LoadAgent(args[0])
			if err != nil {
				return err
			}

			defs := make([]toolExpandRow, 0, len(agent.Config.Tools))
			for _, entry := range agent.Config.Tools {
				def, err := toolexpand.Expand(entry)
				if err != nil {
					return fmt.Errorf("tool %q: %w", entry.Name, err)
				}
				defs = append(defs, toolExpandRow{
					Name:         def.Name,
					Argv:         renderArgv(def),
					Shell:        def.Shell,
					Transparency: def.Transparency,
					Params:       def.Params,
				})
			}

			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			for _, d := range defs {
				fmt.Printf("%s\n  source: %s\n  argv:   %s\n", d.Name, d.Transparency, d.Argv)
				for _, p := range d.Params {
					fmt.Printf("  param:  %s (%s)\n", p.Name, p.Mode)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "text | json")
	return cmd
}

type toolExpandRow struct {
	Name         string            `json:"name"`
	Argv         string            `json:"argv"`
	Shell        bool              `json:"shell"`
	Transparency string            `json:"transparency,omitempty"`
	Params       []entity.Parameter `json:"params,omitempty"`
}

// renderArgv prints a definition's argv prefix with each placeholder shown
// as ${name}, so the output documents the exact substitution points a
// SHELL or EXEC invocation will fill at call time.
func renderArgv(def entity.Definition) string {
	s := ""
	for i, tok := range def.Argv {
		if i > 0 {
			s += " "
		}
		if name, ok := toolexpand.ParamNameFromArgv(tok); ok {
			s += "${" + name + "}"
			continue
		}
		s += tok
	}
	return s
}
