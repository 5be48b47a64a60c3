// Package workspace locates the control-plane (.delta/) and data-plane
// directories a run operates against, and allocates/names run directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	apperr "github.com/deltaengine/delta/pkg/errors"
)

// FormatVersion is written to .delta/VERSION on first bootstrap.
const FormatVersion = "1.10"

const deltaDirName = ".delta"

// Workspace is a directory holding user files (the data plane) plus a
// hidden .delta/ subtree (the control plane) with one subdirectory per run.
type Workspace struct {
	Root string
}

// Open resolves root to an absolute path and ensures .delta/ exists,
// writing VERSION if the directory is freshly created. Safe to call
// repeatedly; never overwrites an existing VERSION file.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.NewInternalErrorWithCause("resolve workspace path", err)
	}
	w := &Workspace{Root: abs}
	if err := os.MkdirAll(w.deltaDir(), 0o755); err != nil {
		return nil, apperr.NewJournalIOError("create .delta directory", err)
	}
	versionPath := filepath.Join(w.deltaDir(), "VERSION")
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.WriteFile(versionPath, []byte(FormatVersion+"\n"), 0o644); err != nil {
			return nil, apperr.NewJournalIOError("write VERSION", err)
		}
	}
	return w, nil
}

func (w *Workspace) deltaDir() string {
	return filepath.Join(w.Root, deltaDirName)
}

// RunDir returns the directory a run's journal/metadata/io live under.
func (w *Workspace) RunDir(runID string) string {
	return filepath.Join(w.deltaDir(), runID)
}

// RunExists reports whether a run directory already exists for runID.
func (w *Workspace) RunExists(runID string) bool {
	_, err := os.Stat(w.RunDir(runID))
	return err == nil
}

// ListRunIDs returns the run IDs with a directory under .delta/, in no
// particular order (callers sort by metadata start time as needed).
func (w *Workspace) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(w.deltaDir())
	if err != nil {
		return nil, apperr.NewJournalIOError("list .delta directory", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// CreateRunDir creates the directory tree for a new run. Returns a
// CodeAlreadyExists AppError if the run ID is already taken — callers must
// check this before writing anything else (Invariant 6).
func (w *Workspace) CreateRunDir(runID string) error {
	if w.RunExists(runID) {
		return apperr.NewAlreadyExistsError(fmt.Sprintf("run %q already exists", runID))
	}
	dir := w.RunDir(runID)
	for _, sub := range []string{
		"",
		"io/invocations",
		"io/tool_executions",
		"runtime_io/hooks",
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return apperr.NewJournalIOError("create run directory", err)
		}
	}
	return nil
}
