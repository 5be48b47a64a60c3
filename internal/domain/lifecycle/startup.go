package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/workspace"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// Action is what the engine should do at start-up, decided by Decide.
type Action int

const (
	ActionCreate Action = iota
	ActionResume
)

// Decision is the result of the start-up routing algorithm (§4.6
// "Start-up decision").
type Decision struct {
	Action Action
	RunID  string
}

// Decide implements the start-up decision tree. resumeRequested is true
// when the caller invoked the "continue" command; runID is the run ID
// supplied on the command line, or "" if none was given.
func Decide(ws *workspace.Workspace, runID string, resumeRequested bool) (Decision, error) {
	if resumeRequested {
		if runID == "" {
			return Decision{}, apperr.NewConsistencyError(
				"resume requires an explicit run ID; there is no implicit latest run — use list-runs")
		}
		if !ws.RunExists(runID) {
			return Decision{}, apperr.NewConsistencyError(fmt.Sprintf("run %q does not exist", runID))
		}
		return Decision{Action: ActionResume, RunID: runID}, nil
	}

	if runID != "" {
		if ws.RunExists(runID) {
			return Decision{}, apperr.NewAlreadyExistsError(fmt.Sprintf("run %q already exists", runID))
		}
		return Decision{Action: ActionCreate, RunID: runID}, nil
	}

	return Decision{Action: ActionCreate, RunID: newRunID()}, nil
}

// newRunID allocates a server-side run ID: an ISO-8601-ish timestamp with a
// short random suffix, so concurrently started runs never collide and run
// directories sort chronologically by name.
func newRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// CanResume reports whether a run in status s may be resumed (§4.6,
// WAITING_FOR_INPUT or INTERRUPTED only).
func CanResume(s entity.RunStatus) bool {
	return s.IsResumable()
}
