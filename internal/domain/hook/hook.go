// Package hook implements the Hook Executor (spec §4.5): file-based IPC
// with the five lifecycle hooks, using numbered runtime_io/hooks/{NNN}_{name}
// directories for input, output, and execution metadata.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
)

// Outcome records what the scheduler should do after a hook invocation.
type Outcome struct {
	// Success is false on non-zero exit, timeout, or malformed output —
	// never fatal to the run by itself (§4.5 "Failure policy").
	Success bool

	// ProposedPayload is the (possibly rewritten) pre_llm_req payload.
	ProposedPayload json.RawMessage
	// StringPayload is the (possibly rewritten) payload for string-valued
	// hook kinds.
	StringPayload string

	Control entity.HookControl

	IOPath string // relative to the run directory, recorded on the audit event
}

// Executor runs one hook invocation end to end.
type Executor struct {
	spawner *sandbox.Spawner
	logger  *zap.Logger
}

func New(spawner *sandbox.Spawner, logger *zap.Logger) *Executor {
	return &Executor{spawner: spawner, logger: logger}
}

// Request describes one hook invocation.
type Request struct {
	Def     entity.HookDefinition
	RunID   string
	AgentHome string
	WorkDir string // workspace root, the hook's cwd
	RunDir  string // .delta/<run-id>
	Seq     int64
	StepIndex int

	// JSONPayload is set for the JSON-payload hook kinds (pre_llm_req,
	// post_llm_resp, pre_tool_exec). StringPayload is used otherwise (or left
	// empty for observe-only hooks with no payload).
	JSONPayload   any
	StringPayload string
}

// contextDoc is written to input/context.json (§4.5 step 2).
type contextDoc struct {
	HookName  string `json:"hook_name"`
	StepIndex int    `json:"step_index"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
}

// Run executes req.Def.Command, feeding it the configured payload and
// collecting its output per the protocol in §4.5. It never returns an error
// for a failing hook — failure is reported via Outcome.Success — only for
// conditions that prevent the invocation from being attempted at all (I/O
// setup failure).
func (e *Executor) Run(ctx context.Context, req Request) (Outcome, error) {
	dirName := fmt.Sprintf("%d_%s", req.Seq, req.Def.Kind)
	invocationDir := filepath.Join(req.RunDir, "runtime_io", "hooks", dirName)
	inputDir := filepath.Join(invocationDir, "input")
	outputDir := filepath.Join(invocationDir, "output")
	metaDir := filepath.Join(invocationDir, "execution_meta")
	for _, d := range []string{inputDir, outputDir, metaDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Outcome{}, fmt.Errorf("create hook io dir: %w", err)
		}
	}
	relPath, _ := filepath.Rel(req.RunDir, invocationDir)

	ctxDoc := contextDoc{
		HookName:  string(req.Def.Kind),
		StepIndex: req.StepIndex,
		RunID:     req.RunID,
		Timestamp: nowRFC3339(),
	}
	if err := writeJSON(filepath.Join(inputDir, "context.json"), ctxDoc); err != nil {
		return Outcome{}, err
	}

	isPreLLMReq := req.Def.Kind == entity.HookPreLLMReq
	switch {
	case isPreLLMReq:
		if err := writeJSON(filepath.Join(inputDir, "proposed_payload.json"), req.JSONPayload); err != nil {
			return Outcome{}, err
		}
	case req.JSONPayload != nil:
		if err := writeJSON(filepath.Join(inputDir, "payload.json"), req.JSONPayload); err != nil {
			return Outcome{}, err
		}
	case req.StringPayload != "":
		if err := os.WriteFile(filepath.Join(inputDir, "payload.dat"), []byte(req.StringPayload), 0o644); err != nil {
			return Outcome{}, err
		}
	}

	argv := substituteAgentHome(req.Def.Command, req.AgentHome)
	if err := os.WriteFile(filepath.Join(metaDir, "command.txt"), []byte(strings.Join(argv, " ")), 0o644); err != nil {
		return Outcome{}, err
	}

	timeout := entity.DefaultHookTimeoutMS
	if req.Def.TimeoutMS > 0 {
		timeout = req.Def.TimeoutMS
	}

	res, err := e.spawner.Run(ctx, sandbox.RunOptions{
		Argv: argv,
		Dir:  req.WorkDir,
		Env: []string{
			"DELTA_RUN_ID=" + req.RunID,
			"DELTA_HOOK_IO_PATH=" + invocationDir,
		},
		Timeout: msToDuration(timeout),
	})
	if err != nil {
		return Outcome{Success: false, IOPath: relPath}, nil
	}

	writeExecutionMeta(metaDir, res)

	if res.ExitCode != 0 || res.Killed {
		return Outcome{Success: false, IOPath: relPath}, nil
	}

	outcome := Outcome{Success: true, IOPath: relPath}

	if isPreLLMReq {
		if raw, ok := req.JSONPayload.(json.RawMessage); ok {
			outcome.ProposedPayload = raw
		} else if b, err := json.Marshal(req.JSONPayload); err == nil {
			outcome.ProposedPayload = b
		}
		if b, err := os.ReadFile(filepath.Join(outputDir, "final_payload.json")); err == nil {
			outcome.ProposedPayload = json.RawMessage(b)
		}
	} else {
		outcome.StringPayload = req.StringPayload
		if b, err := os.ReadFile(filepath.Join(outputDir, "payload_override.dat")); err == nil {
			outcome.StringPayload = string(b)
		}
	}

	if b, err := os.ReadFile(filepath.Join(outputDir, "control.json")); err == nil {
		var ctrl entity.HookControl
		if jsonErr := json.Unmarshal(b, &ctrl); jsonErr != nil {
			e.logger.Warn("hook control.json is malformed; ignoring", zap.Error(jsonErr))
			outcome.Success = false
		} else {
			outcome.Control = ctrl
		}
	}

	return outcome, nil
}

func substituteAgentHome(command []string, agentHome string) []string {
	out := make([]string, len(command))
	for i, c := range command {
		out[i] = strings.ReplaceAll(c, "${AGENT_HOME}", agentHome)
	}
	return out
}

func writeExecutionMeta(metaDir string, res *sandbox.Result) {
	os.WriteFile(filepath.Join(metaDir, "stdout.log"), res.Stdout, 0o644)
	os.WriteFile(filepath.Join(metaDir, "stderr.log"), res.Stderr, 0o644)
	os.WriteFile(filepath.Join(metaDir, "exit_code.txt"), []byte(strconv.Itoa(res.ExitCode)), 0o644)
	os.WriteFile(filepath.Join(metaDir, "duration_ms.txt"), []byte(strconv.FormatInt(res.Duration.Milliseconds(), 10)), 0o644)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, b, 0o644)
}

func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
