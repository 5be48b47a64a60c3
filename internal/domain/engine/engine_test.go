package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/contextbuilder"
	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/hook"
	"github.com/deltaengine/delta/internal/domain/interaction"
	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/domain/toolexec"
	"github.com/deltaengine/delta/internal/domain/workspace"
	"github.com/deltaengine/delta/internal/infrastructure/llm"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
)

// fakeLLM replays a fixed sequence of responses, one per Generate call, so
// tests can script a run's THOUGHT sequence without a network dependency.
type fakeLLM struct {
	responses []llm.GenerateResponse
	calls     int
}

func (f *fakeLLM) Generate(_ context.Context, _ llm.GenerateRequest) (llm.GenerateResponse, error) {
	if f.calls >= len(f.responses) {
		return llm.GenerateResponse{}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func newTestEngine(t *testing.T, agent *workspace.Agent, llmClient LLMClient) (*Engine, *journal.Journal, string) {
	t.Helper()
	workDir := t.TempDir()
	ws, err := workspace.Open(workDir)
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}
	runID := "run-test"
	if err := ws.CreateRunDir(runID); err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	runDir := ws.RunDir(runID)

	now := time.Now().UTC()
	meta := entity.Metadata{
		RunID:         runID,
		AgentRef:      agent.Dir,
		Status:        entity.StatusRunning,
		MaxIterations: agent.Config.MaxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := journal.WriteMetadata(runDir, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	j, err := journal.Open(runDir)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	logger := zap.NewNop()
	spawner := sandbox.NewSpawner(logger)
	eng, err := New(Options{
		Workspace:   ws,
		Agent:       agent,
		Journal:     j,
		RunID:       runID,
		RunDir:      runDir,
		ToolExec:    toolexec.New(spawner, logger),
		HookExec:    hook.New(spawner, logger),
		Context:     contextbuilder.New(spawner, logger),
		LLM:         llmClient,
		Interaction: interaction.New(false, nil, nil),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, j, runDir
}

func testAgent(t *testing.T, cfg workspace.AgentConfig) *workspace.Agent {
	t.Helper()
	if cfg.Context == nil {
		cfg.Context = &entity.Manifest{Sources: []entity.ManifestSource{{Kind: entity.SourceJournal}}}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	return &workspace.Agent{Dir: t.TempDir(), Config: cfg, SystemPrompt: "you are a test agent"}
}

// TestRun_HelloWorldToolCompletesRun exercises the simplest golden path from
// the testable-properties scenarios: one iteration calls a hello-world
// exec: tool, the next iteration returns no tool calls and the run
// completes.
func TestRun_HelloWorldToolCompletesRun(t *testing.T) {
	agent := testAgent(t, workspace.AgentConfig{
		Tools: []workspace.ToolEntry{
			{Name: "greet", Exec: "echo Hello, ${name}!"},
		},
	})

	fake := &fakeLLM{responses: []llm.GenerateResponse{
		{
			Content: "calling greet",
			ToolCalls: []entity.ToolCallDescriptor{
				{CallID: "call-1", Name: "greet", Arguments: map[string]any{"name": "World"}},
			},
		},
		{Content: "done"},
	}}

	eng, j, _ := newTestEngine(t, agent, fake)
	status, err := eng.Run(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != entity.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", status)
	}

	events, err := j.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var sawResult bool
	for _, ev := range events {
		if ev.Type == entity.EventActionResult {
			p := ev.Payload.(*entity.ActionResultPayload)
			if p.CallID == "call-1" && p.ExitCode == 0 {
				sawResult = true
			}
		}
	}
	if !sawResult {
		t.Fatal("expected a successful ACTION_RESULT for call-1")
	}
}

// TestRun_UnknownToolNameIsObservedNotFatal exercises the "unknown tool
// name" edge case: the engine records a failure observation instead of
// failing the run outright, per Invariant that tool-call errors are always
// surfaced as ACTION_RESULT.
func TestRun_UnknownToolNameIsObservedNotFatal(t *testing.T) {
	agent := testAgent(t, workspace.AgentConfig{})

	fake := &fakeLLM{responses: []llm.GenerateResponse{
		{
			ToolCalls: []entity.ToolCallDescriptor{
				{CallID: "call-1", Name: "does_not_exist", Arguments: map[string]any{}},
			},
		},
		{Content: "done"},
	}}

	eng, j, _ := newTestEngine(t, agent, fake)
	status, err := eng.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != entity.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", status)
	}

	events, err := j.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var found bool
	for _, ev := range events {
		if ev.Type == entity.EventActionResult {
			p := ev.Payload.(*entity.ActionResultPayload)
			if p.CallID == "call-1" && p.ExitCode == -1 {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected an ACTION_RESULT with exit_code -1 for the unknown tool")
	}
}

// TestRun_MaxIterationsExceededFails verifies the scheduler stops and marks
// the run FAILED once max_iterations is reached, per §4.1's iteration cap.
func TestRun_MaxIterationsExceededFails(t *testing.T) {
	agent := testAgent(t, workspace.AgentConfig{MaxIterations: 1})

	fake := &fakeLLM{responses: []llm.GenerateResponse{
		{ToolCalls: []entity.ToolCallDescriptor{{CallID: "c1", Name: "nope", Arguments: map[string]any{}}}},
		{ToolCalls: []entity.ToolCallDescriptor{{CallID: "c2", Name: "nope", Arguments: map[string]any{}}}},
	}}

	eng, _, runDir := newTestEngine(t, agent, fake)
	status, err := eng.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != entity.StatusFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}

	meta, err := journal.ReadMetadata(runDir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.FailureReason != "max_iterations_exceeded" {
		t.Fatalf("failure_reason = %q, want max_iterations_exceeded", meta.FailureReason)
	}
}

// TestRun_CancelledContextInterruptsCleanly verifies a context cancelled
// before the next iteration begins produces an INTERRUPTED status rather
// than an error, so a SIGINT-driven shutdown (cmd/delta) always has a
// recorded terminal status to report.
func TestRun_CancelledContextInterruptsCleanly(t *testing.T) {
	agent := testAgent(t, workspace.AgentConfig{})
	fake := &fakeLLM{}

	eng, _, _ := newTestEngine(t, agent, fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := eng.Run(ctx, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != entity.StatusInterrupted {
		t.Fatalf("status = %s, want INTERRUPTED", status)
	}
}

// TestRun_ShellToolPipelineSafety exercises a shell: tool whose parameter
// value carries shell metacharacters, confirming it is passed as argv to
// `sh -c` rather than interpolated into the script text (the §4.4 argv-safety
// invariant applies identically when the engine dispatches the call, not
// just when toolexec.BuildArgv is tested in isolation).
func TestRun_ShellToolPipelineSafety(t *testing.T) {
	agent := testAgent(t, workspace.AgentConfig{
		Tools: []workspace.ToolEntry{
			{Name: "count_lines", Shell: "printf '%s' ${text} | wc -l"},
		},
	})

	injected := "a\nb; rm -rf /\nc"
	fake := &fakeLLM{responses: []llm.GenerateResponse{
		{
			ToolCalls: []entity.ToolCallDescriptor{
				{CallID: "call-1", Name: "count_lines", Arguments: map[string]any{"text": injected}},
			},
		},
		{Content: "done"},
	}}

	eng, j, runDir := newTestEngine(t, agent, fake)
	status, err := eng.Run(context.Background(), "count")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != entity.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", status)
	}

	events, err := j.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, ev := range events {
		if ev.Type == entity.EventActionResult {
			p := ev.Payload.(*entity.ActionResultPayload)
			if p.CallID == "call-1" && p.ExitCode != 0 {
				t.Fatalf("count_lines exited %d: %s", p.ExitCode, p.Observation)
			}
		}
	}

	if _, err := os.Stat(filepath.Join(runDir, "io", "tool_executions", "1_count_lines")); err != nil {
		t.Fatalf("expected tool execution artifact directory: %v", err)
	}
}
