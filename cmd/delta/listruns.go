package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/domain/workspace"
)

func newListRunsCmd() *cobra.Command {
	var (
		workDir    string
		status     string
		resumable  bool
		first      bool
		format     string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "list the runs recorded under a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			print := func() error {
				rows, err := collectRuns(ws, status, resumable)
				if err != nil {
					return err
				}
				if first {
					if len(rows) > 1 {
						rows = rows[:1]
					}
				}
				return printRuns(rows, format)
			}

			if err := print(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchRuns(ws, print)
		},
	}

	cmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory (default: current directory)")
	cmd.Flags().StringVar(&status, "status", "", "filter by run status (e.g. RUNNING, COMPLETED)")
	cmd.Flags().BoolVar(&resumable, "resumable", false, "show only runs that can be resumed")
	cmd.Flags().BoolVar(&first, "first", false, "show only the most recently started run")
	cmd.Flags().StringVar(&format, "format", "text", "text | json | raw")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-list whenever a run's metadata changes (fsnotify)")

	return cmd
}

func collectRuns(ws *workspace.Workspace, statusFilter string, resumableOnly bool) ([]entity.Metadata, error) {
	ids, err := ws.ListRunIDs()
	if err != nil {
		return nil, err
	}
	rows := make([]entity.Metadata, 0, len(ids))
	for _, id := range ids {
		m, err := journal.ReadMetadata(ws.RunDir(id))
		if err != nil {
			continue // a run directory without metadata.json isn't listable
		}
		if statusFilter != "" && string(m.Status) != statusFilter {
			continue
		}
		if resumableOnly && !m.Status.IsResumable() {
			continue
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(a, b int) bool {
		return rows[a].CreatedAt.After(rows[b].CreatedAt)
	})
	return rows, nil
}

func printRuns(rows []entity.Metadata, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "raw":
		for _, m := range rows {
			b, err := json.Marshal(m)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
		}
		return nil
	default:
		for _, m := range rows {
			fmt.Printf("%-20s %-18s %-9d %s\n", m.RunID, m.Status, m.Iteration, m.Task)
		}
		return nil
	}
}

// watchRuns re-prints the run list whenever a run directory under .delta/
// changes (metadata.json updates, new run directories), using fsnotify the
// way the teacher watches its own config directory.
func watchRuns(ws *workspace.Workspace, print func() error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	deltaDir := ws.RunDir("")
	if err := w.Add(deltaDir); err != nil {
		return err
	}

	known := map[string]bool{}
	addRunDirs := func() {
		ids, err := ws.ListRunIDs()
		if err != nil {
			return
		}
		for _, id := range ids {
			if known[id] {
				continue
			}
			if err := w.Add(ws.RunDir(id)); err == nil {
				known[id] = true
			}
		}
	}
	addRunDirs()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			addRunDirs()
			if err := print(); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
