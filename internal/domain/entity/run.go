package entity

import "time"

// RunStatus is one state in the run lifecycle state machine (§4.6).
type RunStatus string

const (
	StatusRunning         RunStatus = "RUNNING"
	StatusWaitingForInput RunStatus = "WAITING_FOR_INPUT"
	StatusInterrupted     RunStatus = "INTERRUPTED"
	StatusCompleted       RunStatus = "COMPLETED"
	StatusFailed          RunStatus = "FAILED"
)

// IsTerminal reports whether a run in this status can never transition again.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsResumable reports whether a run in this status may be continued.
func (s RunStatus) IsResumable() bool {
	return s == StatusWaitingForInput || s == StatusInterrupted
}

// Metadata is the content of a run's metadata.json: status, timing, and the
// process identity used by the janitor's crash-recovery checks.
type Metadata struct {
	RunID         string    `json:"run_id"`
	AgentRef      string    `json:"agent_ref"`
	Task          string    `json:"task"`
	Status        RunStatus `json:"status"`
	PID           int       `json:"pid"`
	Hostname      string    `json:"hostname"`
	ProcessName   string    `json:"process_name"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FailureReason string    `json:"failure_reason,omitempty"`
}
