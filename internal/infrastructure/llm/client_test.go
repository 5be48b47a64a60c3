package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
)

func TestGenerate_SuccessParsesContentAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-test",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call-1",
								"type": "function",
								"function": map[string]any{
									"name":      "greet",
									"arguments": `{"name":"Alice"}`,
								},
							},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", zap.NewNop())
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:    "gpt-test",
		Messages: []entity.Message{{Role: "user", Content: "greet alice"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "greet" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["name"] != "Alice" {
		t.Fatalf("unexpected arguments: %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestGenerate_ServerErrorRetriesThenFails(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", zap.NewNop())
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gpt-test"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestGenerate_ClientErrorDoesNotRetry(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", zap.NewNop())
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gpt-test"})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx should not retry)", attempts)
	}
}

func TestGenerate_EmptyChoicesIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", zap.NewNop())
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gpt-test"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
