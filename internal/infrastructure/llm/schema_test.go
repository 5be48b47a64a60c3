package llm

import (
	"testing"

	"github.com/deltaengine/delta/internal/domain/entity"
)

func TestParameterSchema_IncludesRequiredAndDescription(t *testing.T) {
	schema := ParameterSchema([]entity.Parameter{
		{Name: "name", Description: "who to greet", Required: true},
		{Name: "loud", Required: false},
	})
	if schema["type"] != "object" {
		t.Fatalf("type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing or wrong type: %v", schema["properties"])
	}
	if _, ok := props["name"]; !ok {
		t.Fatal("expected name property")
	}
	required, ok := schema["required"].([]any)
	if !ok || len(required) != 1 || required[0] != "name" {
		t.Fatalf("unexpected required: %v", schema["required"])
	}
}

func TestParameterSchema_EmptyParamsStillValid(t *testing.T) {
	schema := ParameterSchema(nil)
	if schema["type"] != "object" {
		t.Fatalf("type = %v, want object", schema["type"])
	}
}
