package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/deltaengine/delta/internal/domain/entity"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// rawEvent is the wire shape of one journal line before its Payload is
// decoded into a type-specific struct.
type rawEvent struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      entity.EventType `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (r rawEvent) toEvent() (entity.Event, error) {
	payload, err := decodePayload(r.Type, r.Payload)
	if err != nil {
		return entity.Event{}, err
	}
	return entity.Event{
		Seq:       r.Seq,
		Timestamp: r.Timestamp,
		Type:      r.Type,
		Payload:   payload,
	}, nil
}

func decodePayload(t entity.EventType, raw json.RawMessage) (any, error) {
	var target any
	switch t {
	case entity.EventRunStart:
		target = &entity.RunStartPayload{}
	case entity.EventUserMessage:
		target = &entity.UserMessagePayload{}
	case entity.EventThought:
		target = &entity.ThoughtPayload{}
	case entity.EventActionReq:
		target = &entity.ActionRequestPayload{}
	case entity.EventActionResult:
		target = &entity.ActionResultPayload{}
	case entity.EventHookAudit:
		target = &entity.HookAuditPayload{}
	case entity.EventSystemMsg:
		target = &entity.SystemMessagePayload{}
	case entity.EventRunEnd:
		target = &entity.RunEndPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return target, nil
}

// eventSchema is the JSON Schema every journal line must satisfy: the
// mandatory envelope fields (§3.1 "Event"), independent of payload shape
// (payload shape is checked only by decodePayload's json.Unmarshal into the
// type-specific struct, which ignores unknown fields, instead of a per-type
// schema, since the envelope is what §8.1's corruption tests exercise).
const eventSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["seq", "timestamp", "type", "payload"],
  "properties": {
    "seq": {"type": "integer", "minimum": 1},
    "timestamp": {"type": "string"},
    "type": {
      "type": "string",
      "enum": [
        "RUN_START", "USER_MESSAGE", "THOUGHT", "ACTION_REQUEST",
        "ACTION_RESULT", "HOOK_EXECUTION_AUDIT", "SYSTEM_MESSAGE", "RUN_END"
      ]
    },
    "payload": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

func eventSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(eventSchemaDoc)))
		if err != nil {
			compileErr = err
			return
		}
		const resourceURL = "mem://journal/event.schema.json"
		if err := c.AddResource(resourceURL, doc); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile(resourceURL)
	})
	return compiled, compileErr
}

// ValidateEvent checks a raw decoded line against the journal event schema
// before the caller trusts its envelope fields.
func ValidateEvent(r rawEvent) error {
	schema, err := eventSchema()
	if err != nil {
		return apperr.NewInternalErrorWithCause("compile journal event schema", err)
	}

	// Re-marshal to a generic map since santhosh-tekuri/jsonschema validates
	// against decoded JSON values (map[string]any), not Go structs.
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	if err := schema.Validate(generic); err != nil {
		return err
	}
	return nil
}
