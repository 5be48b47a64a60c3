// Package contextbuilder implements the Context Builder (spec §4.3): it
// reads an agent's context manifest and produces the ordered message list
// sent to the LLM, deterministically, without mutating any state.
package contextbuilder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/journal"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// DefaultComputedFileCapBytes is used when a computed_file source omits
// cap_bytes.
const DefaultComputedFileCapBytes = 1024 * 1024

// Builder assembles LLM request messages from an agent's context manifest.
type Builder struct {
	spawner *sandbox.Spawner
	logger  *zap.Logger
}

func New(spawner *sandbox.Spawner, logger *zap.Logger) *Builder {
	return &Builder{spawner: spawner, logger: logger}
}

// Vars supplies the path variables a `file`/`computed_file` source's path
// or command may reference.
type Vars struct {
	AgentHome string
	CWD       string
}

// Build reads j (the run's journal) and manifest, in source order, and
// returns the message list for the next LLM call. manifest may be nil — an
// agent's context manifest is optional (spec §3.1) — in which case Build
// returns an empty message list rather than dereferencing it.
func (b *Builder) Build(ctx context.Context, manifest *entity.Manifest, j *journal.Journal, vars Vars) ([]entity.Message, error) {
	if manifest == nil {
		return nil, nil
	}
	var out []entity.Message
	for _, src := range manifest.Sources {
		switch src.Kind {
		case entity.SourceFile:
			msg, ok, err := b.buildFileSource(src, vars)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, msg)
			}
		case entity.SourceComputedFile:
			msg, ok, err := b.buildComputedFileSource(ctx, src, vars)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, msg)
			}
		case entity.SourceJournal:
			msgs, err := b.buildJournalSource(src, j)
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		default:
			return nil, apperr.NewConfigError(fmt.Sprintf("unknown context source kind %q", src.Kind))
		}
	}
	return out, nil
}

func expandVars(path string, vars Vars) string {
	path = strings.ReplaceAll(path, "${AGENT_HOME}", vars.AgentHome)
	path = strings.ReplaceAll(path, "${CWD}", vars.CWD)
	return path
}

func (b *Builder) buildFileSource(src entity.ManifestSource, vars Vars) (entity.Message, bool, error) {
	path := expandVars(src.Path, vars)
	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return entity.Message{}, false, apperr.NewJournalIOError(fmt.Sprintf("read context file %q", path), err)
		}
		switch src.OnMissing {
		case entity.OnMissingError:
			return entity.Message{}, false, apperr.NewConsistencyError(fmt.Sprintf("context file %q is missing", path))
		case entity.OnMissingSkip:
			return entity.Message{}, false, nil
		default: // OnMissingEmpty, or unset
			return entity.Message{Role: role(src), Content: ""}, true, nil
		}
	}
	return entity.Message{Role: role(src), Content: string(content)}, true, nil
}

func (b *Builder) buildComputedFileSource(ctx context.Context, src entity.ManifestSource, vars Vars) (entity.Message, bool, error) {
	if len(src.Command) == 0 {
		return entity.Message{}, false, apperr.NewConfigError("computed_file source requires a command")
	}
	argv := make([]string, len(src.Command))
	for i, c := range src.Command {
		argv[i] = expandVars(c, vars)
	}
	cap := src.CapBytes
	if cap <= 0 {
		cap = DefaultComputedFileCapBytes
	}

	res, err := b.spawner.Run(ctx, sandbox.RunOptions{
		Argv:           argv,
		Dir:            vars.CWD,
		OutputCapBytes: cap,
	})
	if err != nil {
		return entity.Message{}, false, apperr.NewToolRuntimeError("run computed_file source", err)
	}

	if res.ExitCode != 0 {
		switch src.OnError {
		case entity.OnErrorInsert:
			return entity.Message{Role: role(src), Content: fmt.Sprintf("error: computed_file source exited %d: %s", res.ExitCode, string(res.Stderr))}, true, nil
		default: // OnErrorFail, or unset
			return entity.Message{}, false, apperr.NewToolRuntimeError(
				fmt.Sprintf("computed_file source exited %d", res.ExitCode), nil)
		}
	}

	content := string(res.Stdout)
	if res.StdoutTruncated {
		content += fmt.Sprintf("\n[... truncated %d bytes]", len(res.Stdout))
	}
	return entity.Message{Role: role(src), Content: content}, true, nil
}

func role(src entity.ManifestSource) string {
	if src.Role != "" {
		return src.Role
	}
	return "user"
}

func (b *Builder) buildJournalSource(src entity.ManifestSource, j *journal.Journal) ([]entity.Message, error) {
	events, err := j.Read()
	if err != nil {
		return nil, err
	}

	if src.MaxIterations > 0 {
		events = lastNIterations(events, src.MaxIterations)
	}

	var out []entity.Message
	for _, ev := range events {
		switch ev.Type {
		case entity.EventUserMessage:
			if p, ok := ev.Payload.(*entity.UserMessagePayload); ok {
				out = append(out, entity.Message{Role: "user", Content: p.Content})
			}
		case entity.EventThought:
			if p, ok := ev.Payload.(*entity.ThoughtPayload); ok {
				out = append(out, entity.Message{Role: "assistant", Content: p.Content, ToolCalls: p.ToolCalls})
			}
		case entity.EventActionResult:
			if p, ok := ev.Payload.(*entity.ActionResultPayload); ok {
				out = append(out, entity.Message{Role: "tool", Content: p.Observation, ToolCallID: p.CallID})
			}
		}
	}
	return out, nil
}

// lastNIterations keeps every event from the Nth-from-last THOUGHT event
// onward (§4.3 "journal" algorithm).
func lastNIterations(events []entity.Event, n int) []entity.Event {
	var thoughtIdx []int
	for i, ev := range events {
		if ev.Type == entity.EventThought {
			thoughtIdx = append(thoughtIdx, i)
		}
	}
	if len(thoughtIdx) <= n {
		return events
	}
	cutoff := thoughtIdx[len(thoughtIdx)-n]
	return events[cutoff:]
}
