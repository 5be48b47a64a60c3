package toolexec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/toolexpand"
	"github.com/deltaengine/delta/internal/domain/workspace"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
)

func newTestExecutor() *Executor {
	return New(sandbox.NewSpawner(zap.NewNop()), zap.NewNop())
}

func TestBuildArgv_ExecSubstitutesPlaceholder(t *testing.T) {
	def, err := toolexpand.Expand(workspace.ToolEntry{
		Name: "greet",
		Exec: "echo Hello, ${name}!",
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	argv, stdin, err := BuildArgv(def, map[string]string{"name": "Alice"})
	if err != nil {
		t.Fatalf("BuildArgv: %v", err)
	}
	if stdin != nil {
		t.Fatalf("expected nil stdin, got %v", stdin)
	}
	want := []string{"echo", "Hello,", "Alice!"}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
}

func TestBuildArgv_MissingParameterErrors(t *testing.T) {
	def, err := toolexpand.Expand(workspace.ToolEntry{Name: "greet", Exec: "echo ${name}"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if _, _, err := BuildArgv(def, map[string]string{}); err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestBuildArgv_ExplicitOptionMode(t *testing.T) {
	def := entity.Definition{
		Name: "lookup",
		Argv: []string{"mytool", "query"},
		Params: []entity.Parameter{
			{Name: "term", Mode: entity.InjectOption, OptionName: "--term"},
		},
	}
	argv, _, err := BuildArgv(def, map[string]string{"term": "golang"})
	if err != nil {
		t.Fatalf("BuildArgv: %v", err)
	}
	want := []string{"mytool", "query", "--term", "golang"}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
}

func TestBuildArgv_StdinParamCollectedSeparately(t *testing.T) {
	def := entity.Definition{
		Name: "wc",
		Argv: []string{"wc", "-c"},
		Params: []entity.Parameter{
			{Name: "text", Mode: entity.InjectStdin},
		},
	}
	argv, stdin, err := BuildArgv(def, map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("BuildArgv: %v", err)
	}
	if strings.Join(argv, " ") != "wc -c" {
		t.Fatalf("argv = %v, want [wc -c]", argv)
	}
	if string(stdin) != "hello" {
		t.Fatalf("stdin = %q, want %q", stdin, "hello")
	}
}

func TestExecute_SuccessWritesInvocationRecord(t *testing.T) {
	def, err := toolexpand.Expand(workspace.ToolEntry{Name: "greet", Exec: "echo Hello, ${name}!"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	runDir := t.TempDir()

	e := newTestExecutor()
	outcome, err := e.Execute(context.Background(), Request{
		Def:       def,
		Arguments: map[string]any{"name": "Alice"},
		RunID:     "run-1",
		WorkDir:   t.TempDir(),
		RunDir:    runDir,
		Seq:       1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", outcome.ExitCode)
	}
	if strings.TrimSpace(outcome.Observation) != "Hello, Alice!" {
		t.Fatalf("observation = %q", outcome.Observation)
	}

	dir := filepath.Join(runDir, "io", "tool_executions", "1_greet")
	for _, f := range []string{"argv.json", "stdout.log", "stderr.log", "exit_code.txt", "duration_ms.txt"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("expected artifact %s: %v", f, err)
		}
	}
}

func TestExecute_NonZeroExitComposesFailureObservation(t *testing.T) {
	def := entity.Definition{
		Name: "fail",
		Argv: []string{"sh", "-c", "echo boom 1>&2; exit 3"},
	}
	e := newTestExecutor()
	outcome, err := e.Execute(context.Background(), Request{
		Def:       def,
		Arguments: map[string]any{},
		RunID:     "run-1",
		WorkDir:   t.TempDir(),
		RunDir:    t.TempDir(),
		Seq:       1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", outcome.ExitCode)
	}
	if !strings.Contains(outcome.Observation, "tool failed with exit code 3") {
		t.Fatalf("observation missing failure prefix: %q", outcome.Observation)
	}
	if !strings.Contains(outcome.Observation, "boom") {
		t.Fatalf("observation missing stderr content: %q", outcome.Observation)
	}
}

func TestExecute_MissingArgumentIsValidationError(t *testing.T) {
	def, err := toolexpand.Expand(workspace.ToolEntry{Name: "greet", Exec: "echo ${name}"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	e := newTestExecutor()
	_, err = e.Execute(context.Background(), Request{
		Def:       def,
		Arguments: map[string]any{},
		RunID:     "run-1",
		WorkDir:   t.TempDir(),
		RunDir:    t.TempDir(),
		Seq:       1,
	})
	if err == nil {
		t.Fatal("expected validation error for missing parameter")
	}
}
