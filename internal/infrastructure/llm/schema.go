// Package llm holds the chat-completion transport client and the helper
// that converts a tool's parameter table into the JSON-Schema fragment the
// LLM needs to see in tools[].function.parameters (§6.4).
package llm

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/deltaengine/delta/internal/domain/entity"
)

// ParameterSchema converts params (as produced by toolexpand.Expand) into
// the JSON-Schema object expected in a function tool's "parameters" field.
// Every parameter is a string in the core model (types are coerced to text
// at injection time, see toolexec.stringifyValue); stdin-mode parameters
// are still LLM-visible, since the model supplies their value the same way
// as any other argument — only the Tool Executor treats them specially.
func ParameterSchema(params []entity.Parameter) map[string]any {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, p := range params {
		schema.Properties.Set(p.Name, &jsonschema.Schema{
			Type:        "string",
			Description: p.Description,
		})
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}
