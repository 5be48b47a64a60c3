package entity

import "time"

// EventType names one line of the append-only journal. See journal package
// for the writer/reader that treats these as the sole source of truth.
type EventType string

const (
	EventRunStart     EventType = "RUN_START"
	EventUserMessage  EventType = "USER_MESSAGE"
	EventThought      EventType = "THOUGHT"
	EventActionReq    EventType = "ACTION_REQUEST"
	EventActionResult EventType = "ACTION_RESULT"
	EventHookAudit    EventType = "HOOK_EXECUTION_AUDIT"
	EventSystemMsg    EventType = "SYSTEM_MESSAGE"
	EventRunEnd       EventType = "RUN_END"
)

// Event is one journal line. Seq and Timestamp are assigned by Journal.Append;
// callers populate Type and Payload.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   any             `json:"payload"`
}

// RunStartPayload is the payload of a RUN_START event.
type RunStartPayload struct {
	Task             string `json:"task"`
	AgentRef         string `json:"agent_ref"`
	ConfigFingerprint string `json:"config_fingerprint"`
}

// UserMessagePayload is the payload of a USER_MESSAGE event.
type UserMessagePayload struct {
	Content string `json:"content"`
}

// ToolCallDescriptor is one tool call requested by the assistant.
type ToolCallDescriptor struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ThoughtPayload is the payload of a THOUGHT event.
type ThoughtPayload struct {
	Content   string               `json:"content"`
	ToolCalls []ToolCallDescriptor `json:"tool_calls,omitempty"`
}

// ActionRequestPayload echoes a tool call about to execute (optional event,
// may be merged into THOUGHT by a thinner engine configuration).
type ActionRequestPayload struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ActionResultPayload is the payload of an ACTION_RESULT event.
type ActionResultPayload struct {
	CallID      string `json:"call_id"`
	Observation string `json:"observation"`
	ExitCode    int    `json:"exit_code"`
	Truncated   bool   `json:"truncated"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// HookAuditPayload is the payload of a HOOK_EXECUTION_AUDIT event.
type HookAuditPayload struct {
	HookName string `json:"hook_name"`
	Outcome  string `json:"outcome"` // SUCCESS | FAILED
	IOPath   string `json:"io_path"` // relative path to the invocation directory
}

// SystemMessagePayload is the payload of a SYSTEM_MESSAGE event.
type SystemMessagePayload struct {
	Note string `json:"note"`
}

// RunEndPayload is the payload of a RUN_END event.
type RunEndPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
