// Package engine implements the Run Engine (spec §4.1): the Think-Act-
// Observe scheduler that drives one run's iterations to a terminal or
// suspended state, wiring together the journal, context builder, tool and
// hook executors, LLM client, and human-interaction handler.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/contextbuilder"
	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/hook"
	"github.com/deltaengine/delta/internal/domain/interaction"
	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/domain/lifecycle"
	"github.com/deltaengine/delta/internal/domain/toolexec"
	"github.com/deltaengine/delta/internal/domain/toolexpand"
	"github.com/deltaengine/delta/internal/domain/workspace"
	"github.com/deltaengine/delta/internal/infrastructure/llm"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// AskHumanTool is the name the LLM calls to hand off to the Human-
// interaction handler (§4.4.3). It is never expanded into a child process.
const AskHumanTool = "ask_human"

// LLMClient is the subset of *llm.Client the engine depends on, so tests can
// substitute a fake.
type LLMClient interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)
}

// Options configures one Engine instance; every field is required unless
// noted otherwise.
type Options struct {
	Workspace   *workspace.Workspace
	Agent       *workspace.Agent
	Journal     *journal.Journal
	RunID       string
	RunDir      string
	ToolExec    *toolexec.Executor
	HookExec    *hook.Executor
	Context     *contextbuilder.Builder
	LLM         LLMClient
	Interaction *interaction.Handler
	Logger      *zap.Logger
}

// Engine drives one run's T-A-O loop.
type Engine struct {
	ws          *workspace.Workspace
	agent       *workspace.Agent
	j           *journal.Journal
	runID       string
	runDir      string
	toolExec    *toolexec.Executor
	hookExec    *hook.Executor
	ctxBuilder  *contextbuilder.Builder
	llmClient   LLMClient
	interaction *interaction.Handler
	logger      *zap.Logger

	tools map[string]entity.Definition
	hooks map[entity.HookKind]entity.HookDefinition

	// sm enforces the §4.6 status transition table for this run: app.go
	// only ever constructs an Engine while metadata.json still reads
	// RUNNING, so it is seeded there and driven by complete/interrupt/
	// failWithReason/handleAskHuman instead of those methods open-coding
	// the table themselves.
	sm *lifecycle.StateMachine

	invocationSeq int64
	toolSeq       int64
	hookSeq       int64
}

// New builds an Engine from opts, expanding the agent's tool entries and
// lifecycle hooks.
func New(opts Options) (*Engine, error) {
	tools := make(map[string]entity.Definition, len(opts.Agent.Config.Tools))
	for _, entry := range opts.Agent.Config.Tools {
		def, err := toolexpand.Expand(entry)
		if err != nil {
			return nil, err
		}
		tools[def.Name] = def
	}

	return &Engine{
		ws:          opts.Workspace,
		agent:       opts.Agent,
		j:           opts.Journal,
		runID:       opts.RunID,
		runDir:      opts.RunDir,
		toolExec:    opts.ToolExec,
		hookExec:    opts.HookExec,
		ctxBuilder:  opts.Context,
		llmClient:   opts.LLM,
		interaction: opts.Interaction,
		logger:      opts.Logger,
		tools:       tools,
		hooks:       opts.Agent.HookDefinitions(),
		sm:          lifecycle.New(entity.StatusRunning),
	}, nil
}

// transitionTo drives the state machine to status, logging (never failing
// the run over) a transition the §4.6 table does not allow — that would
// indicate an engine bug, not a recoverable run condition, and the
// metadata write that follows is the authoritative action either way.
func (e *Engine) transitionTo(status entity.RunStatus) {
	if err := e.sm.Transition(status); err != nil {
		e.logger.Warn("illegal run status transition", zap.Error(err))
	}
}

// suspend is an internal sentinel: a tool-call dispatch hit an async
// ask_human call. It is never returned to the caller of Run.
type suspend struct{}

func (suspend) Error() string { return "ask_human requires async suspension" }

// Run drives iterations until a terminal or suspended status is reached,
// returning the final entity.RunStatus. It never returns an error for
// conditions the spec defines as in-run recoverable; the returned error is
// non-nil only for conditions that prevented the run from reaching any
// recorded status at all (journal I/O failure, for instance).
//
// The loop body is guarded against panics the same way the teacher's
// AgentLoop.Run wraps runLoop: a recovered panic is routed through
// failWithReason so the run still ends FAILED with an on_error hook and a
// RUN_END event, instead of crashing the process with metadata stuck at
// RUNNING.
func (e *Engine) Run(ctx context.Context, task string) (status entity.RunStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = e.failWithReason(fmt.Sprintf("panic: %v", r))
		}
	}()
	return e.runLoop(ctx, task)
}

func (e *Engine) runLoop(ctx context.Context, task string) (entity.RunStatus, error) {
	if err := e.resumeIncompleteToolCalls(ctx); err != nil {
		if _, ok := err.(suspend); ok {
			return entity.StatusWaitingForInput, nil
		}
		return e.fail(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.interrupt()
		}

		meta, err := journal.ReadMetadata(e.runDir)
		if err != nil {
			return entity.StatusFailed, err
		}

		messages, err := e.ctxBuilder.Build(ctx, e.agent.Config.Context, e.j, contextbuilder.Vars{
			AgentHome: e.agent.Dir,
			CWD:       e.ws.Root,
		})
		if err != nil {
			return e.fail(err)
		}

		resp, err := e.think(ctx, messages)
		if err != nil {
			return e.fail(err)
		}

		thought := entity.ThoughtPayload{Content: resp.Content, ToolCalls: resp.ToolCalls}
		if _, err := e.j.Append(entity.EventThought, &thought); err != nil {
			return entity.StatusFailed, err
		}

		if len(resp.ToolCalls) == 0 {
			return e.complete()
		}

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return e.interrupt()
			}
			if err := e.dispatchToolCall(ctx, tc); err != nil {
				if _, ok := err.(suspend); ok {
					return entity.StatusWaitingForInput, nil
				}
				return e.fail(err)
			}
		}

		meta.Iteration++
		if _, err := journal.UpdateMetadata(e.runDir, func(m *entity.Metadata) {
			m.Iteration = meta.Iteration
		}); err != nil {
			return entity.StatusFailed, err
		}
		if meta.Iteration >= meta.MaxIterations {
			return e.failWithReason("max_iterations_exceeded")
		}
	}
}

// think performs step 2-4: build the request payload, run pre_llm_req,
// call the LLM, run post_llm_resp, and parse the response.
func (e *Engine) think(ctx context.Context, messages []entity.Message) (llm.GenerateResponse, error) {
	var toolSchemas []llm.ToolSchema
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := e.tools[name]
		toolSchemas = append(toolSchemas, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Transparency,
			Parameters:  llm.ParameterSchema(def.Params),
		})
	}
	toolSchemas = append(toolSchemas, askHumanSchema())

	proposed := requestPayload{
		Model:       e.agent.Config.LLM.Model,
		Temperature: e.agent.Config.LLM.Temperature,
		MaxTokens:   e.agent.Config.LLM.MaxTokens,
		Messages:    messages,
		Tools:       toolSchemas,
	}

	seq := e.nextInvocationSeq()

	final := proposed
	if def, ok := e.hooks[entity.HookPreLLMReq]; ok {
		outcome, err := e.hookExec.Run(ctx, hook.Request{
			Def:       def,
			RunID:     e.runID,
			AgentHome: e.agent.Dir,
			WorkDir:   e.ws.Root,
			RunDir:    e.runDir,
			Seq:       seq,
			JSONPayload: proposed,
		})
		if err != nil {
			return llm.GenerateResponse{}, err
		}
		e.appendHookAudit(def.Kind, outcome)
		if outcome.Success && len(outcome.ProposedPayload) > 0 {
			if err := json.Unmarshal(outcome.ProposedPayload, &final); err != nil {
				e.logger.Warn("pre_llm_req returned unparseable final_payload.json; using proposed", zap.Error(err))
				final = proposed
			}
		}
	}

	genReq := llm.GenerateRequest{
		Model:       final.Model,
		Temperature: final.Temperature,
		MaxTokens:   final.MaxTokens,
		Messages:    final.Messages,
		Tools:       final.Tools,
	}

	if err := e.writeInvocationRecord(proposed, final, nil); err != nil {
		e.logger.Warn("failed to write invocation request record", zap.Error(err))
	}

	resp, err := e.llmClient.Generate(ctx, genReq)
	if err != nil {
		e.j.Append(entity.EventSystemMsg, &entity.SystemMessagePayload{Note: "LLM transport failed: " + err.Error()})
		return llm.GenerateResponse{}, apperr.NewLLMTransportError("LLM generate failed", err)
	}

	if err := e.writeInvocationResponse(resp); err != nil {
		e.logger.Warn("failed to write invocation response record", zap.Error(err))
	}

	if def, ok := e.hooks[entity.HookPostLLMResp]; ok {
		outcome, err := e.hookExec.Run(ctx, hook.Request{
			Def:       def,
			RunID:     e.runID,
			AgentHome: e.agent.Dir,
			WorkDir:   e.ws.Root,
			RunDir:    e.runDir,
			Seq:       seq,
			JSONPayload: resp,
		})
		if err == nil {
			e.appendHookAudit(def.Kind, outcome)
		}
	}

	return resp, nil
}

// dispatchToolCall implements step 6 for one tool call.
func (e *Engine) dispatchToolCall(ctx context.Context, tc entity.ToolCallDescriptor) error {
	if tc.Name == AskHumanTool {
		return e.handleAskHuman(tc)
	}

	def, ok := e.tools[tc.Name]
	if !ok {
		e.j.Append(entity.EventActionResult, &entity.ActionResultPayload{
			CallID:      tc.CallID,
			Observation: fmt.Sprintf("%s: %q", entity.ErrUnknownTool.Error(), tc.Name),
			ExitCode:    -1,
		})
		return nil
	}

	args := tc.Arguments
	if preDef, ok := e.hooks[entity.HookPreToolExec]; ok {
		seq := e.nextHookSeq()
		outcome, err := e.hookExec.Run(ctx, hook.Request{
			Def:         preDef,
			RunID:       e.runID,
			AgentHome:   e.agent.Dir,
			WorkDir:     e.ws.Root,
			RunDir:      e.runDir,
			Seq:         seq,
			JSONPayload: args,
		})
		if err != nil {
			return err
		}
		e.appendHookAudit(preDef.Kind, outcome)
		if outcome.Success && outcome.Control.Skip {
			e.j.Append(entity.EventActionResult, &entity.ActionResultPayload{
				CallID:      tc.CallID,
				Observation: outcome.Control.Observation,
			})
			return nil
		}
		if outcome.Success && outcome.Control.OverrideArgs != nil {
			args = outcome.Control.OverrideArgs
		}
	}

	toolSeq := e.nextToolSeq()
	result, execErr := e.toolExec.Execute(ctx, toolexec.Request{
		Def:       def,
		Arguments: args,
		RunID:     e.runID,
		WorkDir:   e.ws.Root,
		RunDir:    e.runDir,
		Seq:       toolSeq,
	})
	if execErr != nil {
		e.j.Append(entity.EventActionResult, &entity.ActionResultPayload{
			CallID:      tc.CallID,
			Observation: execErr.Error(),
			ExitCode:    -1,
		})
	} else {
		e.j.Append(entity.EventActionResult, &entity.ActionResultPayload{
			CallID:      tc.CallID,
			Observation: result.Observation,
			ExitCode:    result.ExitCode,
			Truncated:   result.Truncated,
		})
	}

	if postDef, ok := e.hooks[entity.HookPostToolExec]; ok {
		seq := e.nextHookSeq()
		outcome, err := e.hookExec.Run(ctx, hook.Request{
			Def:           postDef,
			RunID:         e.runID,
			AgentHome:     e.agent.Dir,
			WorkDir:       e.ws.Root,
			RunDir:        e.runDir,
			Seq:           seq,
			StringPayload: result.Observation,
		})
		if err == nil {
			e.appendHookAudit(postDef.Kind, outcome)
		}
	}

	return nil
}

// handleAskHuman implements §4.4.3/§4.7: synchronous prompt inline, or
// writing the async request file and bubbling suspend{} up to Run.
func (e *Engine) handleAskHuman(tc entity.ToolCallDescriptor) error {
	prompt, _ := tc.Arguments["prompt"].(string)
	inputType := interaction.InputText
	if it, ok := tc.Arguments["input_type"].(string); ok && it != "" {
		inputType = interaction.InputType(it)
	}
	sensitive, _ := tc.Arguments["sensitive"].(bool)

	req := interaction.Request{
		CallID:    tc.CallID,
		Prompt:    prompt,
		InputType: inputType,
		Sensitive: sensitive || inputType == interaction.InputPassword,
	}

	res, err := e.interaction.Resolve(req)
	if err == interaction.ErrSuspend {
		if werr := interaction.WriteAsyncRequest(e.runDir, req, time.Now().UTC()); werr != nil {
			return werr
		}
		e.transitionTo(entity.StatusWaitingForInput)
		if _, merr := journal.UpdateMetadata(e.runDir, func(m *entity.Metadata) {
			m.Status = entity.StatusWaitingForInput
		}); merr != nil {
			return merr
		}
		return suspend{}
	}
	if err != nil {
		return err
	}

	_, err = e.j.Append(entity.EventActionResult, &entity.ActionResultPayload{
		CallID:      tc.CallID,
		Observation: res.Answer,
		Sensitive:   res.Sensitive,
	})
	return err
}

// resumeIncompleteToolCalls implements the "no orphan tool result"
// guarantee from scenario 3: if the last THOUGHT event's tool calls are not
// all answered (the run was interrupted or suspended mid-dispatch), finish
// them before starting a new iteration.
func (e *Engine) resumeIncompleteToolCalls(ctx context.Context) error {
	events, err := e.j.Read()
	if err != nil {
		return err
	}

	var lastThought *entity.ThoughtPayload
	answered := make(map[string]bool)
	seenThought := false
	for _, ev := range events {
		switch ev.Type {
		case entity.EventThought:
			if p, ok := ev.Payload.(*entity.ThoughtPayload); ok {
				lastThought = p
				answered = make(map[string]bool)
				seenThought = true
			}
		case entity.EventActionResult:
			if p, ok := ev.Payload.(*entity.ActionResultPayload); ok && seenThought {
				answered[p.CallID] = true
			}
		}
	}
	if lastThought == nil {
		return nil
	}

	for _, tc := range lastThought.ToolCalls {
		if answered[tc.CallID] {
			continue
		}
		if err := e.dispatchToolCall(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) appendHookAudit(kind entity.HookKind, outcome hook.Outcome) {
	status := "SUCCESS"
	if !outcome.Success {
		status = "FAILED"
	}
	e.j.Append(entity.EventHookAudit, &entity.HookAuditPayload{
		HookName: string(kind),
		Outcome:  status,
		IOPath:   outcome.IOPath,
	})
}

func (e *Engine) complete() (entity.RunStatus, error) {
	e.transitionTo(entity.StatusCompleted)
	if _, err := e.j.Append(entity.EventRunEnd, &entity.RunEndPayload{Status: string(entity.StatusCompleted)}); err != nil {
		return entity.StatusFailed, err
	}
	if _, err := journal.UpdateMetadata(e.runDir, func(m *entity.Metadata) {
		m.Status = entity.StatusCompleted
	}); err != nil {
		return entity.StatusFailed, err
	}
	return entity.StatusCompleted, nil
}

func (e *Engine) interrupt() (entity.RunStatus, error) {
	e.transitionTo(entity.StatusInterrupted)
	if _, err := e.j.Append(entity.EventRunEnd, &entity.RunEndPayload{Status: string(entity.StatusInterrupted)}); err != nil {
		return entity.StatusFailed, err
	}
	if _, err := journal.UpdateMetadata(e.runDir, func(m *entity.Metadata) {
		m.Status = entity.StatusInterrupted
	}); err != nil {
		return entity.StatusFailed, err
	}
	return entity.StatusInterrupted, nil
}

func (e *Engine) fail(cause error) (entity.RunStatus, error) {
	return e.failWithReason(cause.Error())
}

func (e *Engine) failWithReason(reason string) (entity.RunStatus, error) {
	e.transitionTo(entity.StatusFailed)
	if onErr, ok := e.hooks[entity.HookOnError]; ok {
		outcome, err := e.hookExec.Run(context.Background(), hook.Request{
			Def:           onErr,
			RunID:         e.runID,
			AgentHome:     e.agent.Dir,
			WorkDir:       e.ws.Root,
			RunDir:        e.runDir,
			Seq:           e.nextHookSeq(),
			StringPayload: reason,
		})
		if err == nil {
			e.appendHookAudit(onErr.Kind, outcome)
		}
	}

	e.j.Append(entity.EventRunEnd, &entity.RunEndPayload{Status: string(entity.StatusFailed), Reason: reason})
	journal.UpdateMetadata(e.runDir, func(m *entity.Metadata) {
		m.Status = entity.StatusFailed
		m.FailureReason = reason
	})
	return entity.StatusFailed, nil
}

func (e *Engine) nextInvocationSeq() int64 {
	e.invocationSeq++
	return e.invocationSeq
}

func (e *Engine) nextToolSeq() int64 {
	e.toolSeq++
	return e.toolSeq
}

func (e *Engine) nextHookSeq() int64 {
	e.hookSeq++
	return e.hookSeq
}

// requestPayload is the JSON shape exchanged with the pre_llm_req hook: a
// wire-stable projection of llm.GenerateRequest (hook authors should not
// need to import the engine's internal types).
type requestPayload struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Messages    []entity.Message `json:"messages"`
	Tools       []llm.ToolSchema `json:"tools"`
}

func askHumanSchema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        AskHumanTool,
		Description: "Ask the human operator a question and wait for their answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":     map[string]any{"type": "string"},
				"input_type": map[string]any{"type": "string", "enum": []string{"text", "confirmation", "password"}},
				"sensitive":  map[string]any{"type": "boolean"},
			},
			"required": []string{"prompt"},
		},
	}
}

func (e *Engine) writeInvocationRecord(proposed, final requestPayload, _ any) error {
	dir := filepath.Join(e.runDir, "io", "invocations", fmt.Sprintf("%d", e.invocationSeq))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if b, err := json.MarshalIndent(proposed, "", "  "); err == nil {
		os.WriteFile(filepath.Join(dir, "proposed_request.json"), b, 0o644)
	}
	if b, err := json.MarshalIndent(final, "", "  "); err == nil {
		os.WriteFile(filepath.Join(dir, "final_request.json"), b, 0o644)
	}
	return nil
}

func (e *Engine) writeInvocationResponse(resp llm.GenerateResponse) error {
	dir := filepath.Join(e.runDir, "io", "invocations", fmt.Sprintf("%d", e.invocationSeq))
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "response.json"), b, 0o644)
}

// Each terminal/suspend transition above is first validated against the
// §4.6 table by e.sm (lifecycle.StateMachine) before the corresponding
// journal.UpdateMetadata write makes it durable.
