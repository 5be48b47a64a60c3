// Package application is the composition root for cmd/delta: it wires the
// Run Engine's components — Workspace, Agent, Journal, Tool Executor, Hook
// Executor, Context Builder, LLM client, Human-interaction handler — into
// one Engine per invocation, and implements the start-up routing (§4.6)
// that cmd/delta's run/continue subcommands delegate to.
package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/contextbuilder"
	"github.com/deltaengine/delta/internal/domain/engine"
	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/hook"
	"github.com/deltaengine/delta/internal/domain/interaction"
	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/domain/lifecycle"
	"github.com/deltaengine/delta/internal/domain/toolexec"
	"github.com/deltaengine/delta/internal/domain/workspace"
	infraconfig "github.com/deltaengine/delta/internal/infrastructure/config"
	"github.com/deltaengine/delta/internal/infrastructure/llm"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// App holds the engine-level config and logger shared across every
// invocation; it is stateless between runs (each Execute call opens its own
// Workspace/Journal/Engine).
type App struct {
	cfg    *infraconfig.Config
	logger *zap.Logger
}

// New returns an App. cfg is the engine's own configuration (internal/
// infrastructure/config), not an agent's config.yaml.
func New(cfg *infraconfig.Config, logger *zap.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// RunOptions collects the flags cmd/delta's `run` and `continue`
// subcommands both feed into the start-up decision (§4.6, §6.3).
type RunOptions struct {
	WorkDir     string
	AgentPath   string // required for a new run; ignored on resume
	RunID       string
	Task        string
	Interactive bool
	Resume      bool // true for `continue`, false for `run`
	Force       bool // bypass the Janitor's foreign-host check
}

// Result is what cmd/delta translates into a process exit code (§6.3:
// 0 = COMPLETED, 1 = FAILED, 101 = WAITING_FOR_INPUT, 130 = INTERRUPTED).
type Result struct {
	RunID  string
	Status entity.RunStatus
}

// Execute implements the full start-up decision tree of §4.6: routing
// between creating a new run and resuming an existing one, running the
// Janitor before any resume of a RUNNING-looking metadata, and replaying a
// pending async ask_human answer before re-entering the T-A-O loop.
func (a *App) Execute(ctx context.Context, opts RunOptions) (Result, error) {
	ws, err := workspace.Open(opts.WorkDir)
	if err != nil {
		return Result{}, err
	}

	decision, err := lifecycle.Decide(ws, opts.RunID, opts.Resume)
	if err != nil {
		return Result{}, err
	}

	switch decision.Action {
	case lifecycle.ActionCreate:
		return a.startNew(ctx, ws, opts, decision.RunID)
	default:
		return a.resume(ctx, ws, opts, decision.RunID)
	}
}

func (a *App) startNew(ctx context.Context, ws *workspace.Workspace, opts RunOptions, runID string) (Result, error) {
	if opts.AgentPath == "" {
		return Result{}, apperr.NewConsistencyError("run requires --agent")
	}
	agent, err := workspace.LoadAgent(opts.AgentPath)
	if err != nil {
		return Result{}, err
	}

	if err := ws.CreateRunDir(runID); err != nil {
		return Result{}, err
	}
	runDir := ws.RunDir(runID)

	fingerprint, err := agent.Fingerprint()
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	meta := entity.Metadata{
		RunID:         runID,
		AgentRef:      agent.Dir,
		Task:          opts.Task,
		Status:        entity.StatusRunning,
		PID:           os.Getpid(),
		ProcessName:   lifecycle.CurrentProcessName(),
		MaxIterations: agent.Config.MaxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	meta.Hostname, _ = os.Hostname()
	if err := journal.WriteMetadata(runDir, meta); err != nil {
		return Result{}, err
	}

	j, err := journal.Open(runDir)
	if err != nil {
		return Result{}, err
	}
	if _, err := j.Append(entity.EventRunStart, &entity.RunStartPayload{
		Task:              opts.Task,
		AgentRef:          agent.Dir,
		ConfigFingerprint: fingerprint,
	}); err != nil {
		return Result{}, err
	}

	eng, err := a.buildEngine(ws, agent, j, runID, runDir, opts.Interactive)
	if err != nil {
		return Result{}, err
	}

	status, err := eng.Run(ctx, opts.Task)
	if err != nil {
		return Result{}, err
	}
	return a.finishResult(runID, runDir, status)
}

func (a *App) resume(ctx context.Context, ws *workspace.Workspace, opts RunOptions, runID string) (Result, error) {
	runDir := ws.RunDir(runID)
	meta, err := journal.ReadMetadata(runDir)
	if err != nil {
		return Result{}, err
	}

	if meta.Status == entity.StatusRunning {
		janitor := lifecycle.NewJanitor(a.logger)
		verdict, reason := janitor.Inspect(meta, opts.Force)
		switch verdict {
		case lifecycle.VerdictAlive:
			return Result{}, apperr.NewConsistencyError(fmt.Sprintf("cannot resume: %s", reason))
		case lifecycle.VerdictForeignHost:
			return Result{}, apperr.NewConsistencyError(reason)
		case lifecycle.VerdictDead:
			j, err := journal.Open(runDir)
			if err != nil {
				return Result{}, err
			}
			if _, err := j.Append(entity.EventSystemMsg, &entity.SystemMessagePayload{
				Note: "janitor: " + reason,
			}); err != nil {
				return Result{}, err
			}
			if meta, err = journal.UpdateMetadata(runDir, func(m *entity.Metadata) {
				m.Status = entity.StatusInterrupted
			}); err != nil {
				return Result{}, err
			}
		}
	}

	if !lifecycle.CanResume(meta.Status) {
		return Result{}, apperr.NewConsistencyError(
			fmt.Sprintf("run %q is in status %s and cannot be resumed", runID, meta.Status))
	}

	agent, err := workspace.LoadAgent(meta.AgentRef)
	if err != nil {
		return Result{}, err
	}

	// §4.7 async resume: a pending interaction/request.json plus a
	// now-present response.txt is answered before re-entering the loop.
	if meta.Status == entity.StatusWaitingForInput {
		if _, pending, err := interaction.PendingAsyncRequest(runDir); err != nil {
			return Result{}, err
		} else if pending {
			if err := a.resolveAsyncAnswer(runDir); err != nil {
				return Result{}, err
			}
		}
	}

	meta, err = journal.UpdateMetadata(runDir, func(m *entity.Metadata) {
		m.Status = entity.StatusRunning
		m.PID = os.Getpid()
		m.ProcessName = lifecycle.CurrentProcessName()
	})
	if err != nil {
		return Result{}, err
	}
	meta.Hostname, _ = os.Hostname()
	if err := journal.WriteMetadata(runDir, meta); err != nil {
		return Result{}, err
	}

	j, err := journal.Open(runDir)
	if err != nil {
		return Result{}, err
	}

	eng, err := a.buildEngine(ws, agent, j, runID, runDir, opts.Interactive)
	if err != nil {
		return Result{}, err
	}

	status, err := eng.Run(ctx, meta.Task)
	if err != nil {
		return Result{}, err
	}
	return a.finishResult(runID, runDir, status)
}

// resolveAsyncAnswer implements the second half of §4.7 async mode: read
// interaction/response.txt, append the ACTION_RESULT it answers, and
// delete both interaction files.
func (a *App) resolveAsyncAnswer(runDir string) error {
	req, ok, err := interaction.PendingAsyncRequest(runDir)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	answer, err := interaction.ReadAsyncResponse(runDir)
	if err != nil {
		return err
	}
	j, err := journal.Open(runDir)
	if err != nil {
		return err
	}
	_, err = j.Append(entity.EventActionResult, &entity.ActionResultPayload{
		CallID:      req.CallID,
		Observation: answer,
		Sensitive:   req.Sensitive,
	})
	return err
}

func (a *App) buildEngine(ws *workspace.Workspace, agent *workspace.Agent, j *journal.Journal, runID, runDir string, interactive bool) (*engine.Engine, error) {
	spawner := sandbox.NewSpawner(a.logger)
	toolExec := toolexec.New(spawner, a.logger)
	hookExec := hook.New(spawner, a.logger)
	ctxBuilder := contextbuilder.New(spawner, a.logger)
	llmClient := llm.New(a.cfg.LLM.BaseURL, a.cfg.LLM.APIKey, a.logger)
	interactionHandler := interaction.New(interactive, os.Stdin, os.Stdout)

	return engine.New(engine.Options{
		Workspace:   ws,
		Agent:       agent,
		Journal:     j,
		RunID:       runID,
		RunDir:      runDir,
		ToolExec:    toolExec,
		HookExec:    hookExec,
		Context:     ctxBuilder,
		LLM:         llmClient,
		Interaction: interactionHandler,
		Logger:      a.logger,
	})
}

func (a *App) finishResult(runID, runDir string, status entity.RunStatus) (Result, error) {
	if status == entity.StatusWaitingForInput {
		a.logger.Info("run suspended awaiting human input",
			zap.String("run_id", runID),
			zap.String("interaction_file", runDir+"/interaction/request.json"))
	}
	return Result{RunID: runID, Status: status}, nil
}
