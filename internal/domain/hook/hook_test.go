package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
)

func newTestExecutor() *Executor {
	return New(sandbox.NewSpawner(zap.NewNop()), zap.NewNop())
}

func TestRun_PreLLMReqRewritesPayload(t *testing.T) {
	runDir := t.TempDir()
	script := filepath.Join(t.TempDir(), "hook.sh")
	os.WriteFile(script, []byte(`#!/bin/sh
echo '{"rewritten":true}' > "$DELTA_HOOK_IO_PATH/output/final_payload.json"
`), 0o755)

	e := newTestExecutor()
	outcome, err := e.Run(context.Background(), Request{
		Def:       entity.HookDefinition{Kind: entity.HookPreLLMReq, Command: []string{"sh", script}},
		RunID:     "run-1",
		WorkDir:   t.TempDir(),
		RunDir:    runDir,
		Seq:       1,
		JSONPayload: map[string]any{"original": true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Success {
		t.Fatal("expected success")
	}
	var got map[string]any
	if err := json.Unmarshal(outcome.ProposedPayload, &got); err != nil {
		t.Fatalf("unmarshal proposed payload: %v", err)
	}
	if got["rewritten"] != true {
		t.Fatalf("expected rewritten payload, got %v", got)
	}
}

func TestRun_ControlJSONSkip(t *testing.T) {
	runDir := t.TempDir()
	script := filepath.Join(t.TempDir(), "hook.sh")
	os.WriteFile(script, []byte(`#!/bin/sh
echo '{"skip":true,"observation":"skipped by hook"}' > "$DELTA_HOOK_IO_PATH/output/control.json"
`), 0o755)

	e := newTestExecutor()
	outcome, err := e.Run(context.Background(), Request{
		Def:     entity.HookDefinition{Kind: entity.HookPreToolExec, Command: []string{"sh", script}},
		RunID:   "run-1",
		WorkDir: t.TempDir(),
		RunDir:  runDir,
		Seq:     1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Control.Skip || outcome.Control.Observation != "skipped by hook" {
		t.Fatalf("unexpected control: %+v", outcome.Control)
	}
}

func TestRun_NonZeroExitIsFailureNotError(t *testing.T) {
	e := newTestExecutor()
	outcome, err := e.Run(context.Background(), Request{
		Def:     entity.HookDefinition{Kind: entity.HookPostToolExec, Command: []string{"sh", "-c", "exit 1"}},
		RunID:   "run-1",
		WorkDir: t.TempDir(),
		RunDir:  t.TempDir(),
		Seq:     1,
	})
	if err != nil {
		t.Fatalf("Run should not return an error for a failing hook: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected Success = false")
	}
}

func TestRun_AgentHomeSubstitution(t *testing.T) {
	runDir := t.TempDir()
	e := newTestExecutor()
	_, err := e.Run(context.Background(), Request{
		Def:       entity.HookDefinition{Kind: entity.HookOnError, Command: []string{"sh", "-c", "test -x '${AGENT_HOME}/check.sh'"}},
		AgentHome: "/nonexistent",
		RunID:     "run-1",
		WorkDir:   t.TempDir(),
		RunDir:    runDir,
		Seq:       1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	meta := filepath.Join(runDir, "runtime_io", "hooks", "1_on_error", "execution_meta", "command.txt")
	b, readErr := os.ReadFile(meta)
	if readErr != nil {
		t.Fatalf("read command.txt: %v", readErr)
	}
	if string(b) != `sh -c test -x '/nonexistent/check.sh'` {
		t.Fatalf("command.txt = %q", string(b))
	}
}

func TestRun_WritesExecutionMetaAndAudit(t *testing.T) {
	runDir := t.TempDir()
	e := newTestExecutor()
	outcome, err := e.Run(context.Background(), Request{
		Def:     entity.HookDefinition{Kind: entity.HookPostLLMResp, Command: []string{"echo", "ok"}},
		RunID:   "run-1",
		WorkDir: t.TempDir(),
		RunDir:  runDir,
		Seq:     2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.IOPath != filepath.Join("runtime_io", "hooks", "2_post_llm_resp") {
		t.Fatalf("IOPath = %q", outcome.IOPath)
	}
	metaDir := filepath.Join(runDir, outcome.IOPath, "execution_meta")
	for _, f := range []string{"stdout.log", "stderr.log", "exit_code.txt", "duration_ms.txt", "command.txt"} {
		if _, statErr := os.Stat(filepath.Join(metaDir, f)); statErr != nil {
			t.Fatalf("expected %s: %v", f, statErr)
		}
	}
}
