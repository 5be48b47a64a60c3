// Package toolexec implements the Tool Executor (spec §4.4.2): given an
// entity.Definition and an LLM-supplied argument map, it builds the final
// argv, spawns the command via the sandbox package, captures its I/O to
// disk, and composes the observation string recorded on the ACTION_RESULT
// event.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/toolexpand"
	"github.com/deltaengine/delta/internal/infrastructure/sandbox"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// DefaultTimeout is the per-tool timeout applied when a tool definition
// does not override it (§4.4.2 step 6).
const DefaultTimeout = 120 * time.Second

// Executor spawns tool invocations and persists their I/O record.
type Executor struct {
	spawner *sandbox.Spawner
	logger  *zap.Logger
}

// New returns an Executor that spawns processes via spawner.
func New(spawner *sandbox.Spawner, logger *zap.Logger) *Executor {
	return &Executor{spawner: spawner, logger: logger}
}

// Request describes one tool invocation.
type Request struct {
	Def       entity.Definition
	Arguments map[string]any
	RunID     string
	WorkDir   string // cwd for the spawned process: the workspace root
	RunDir    string // .delta/<run-id>, where io/tool_executions/ lives
	Seq       int64  // distinguishes this invocation's artifact directory
}

// Outcome is what the scheduler records onto the ACTION_RESULT event.
type Outcome struct {
	Observation string
	ExitCode    int
	Truncated   bool
}

// Execute validates arguments, builds argv, spawns the tool, writes its
// invocation record under req.RunDir/io/tool_executions/, and returns the
// composed observation.
func (e *Executor) Execute(ctx context.Context, req Request) (Outcome, error) {
	args, err := stringifyArgs(req.Def, req.Arguments)
	if err != nil {
		return Outcome{}, err
	}

	argv, stdin, err := BuildArgv(req.Def, args)
	if err != nil {
		return Outcome{}, err
	}

	timeout := DefaultTimeout
	if req.Def.TimeoutMS > 0 {
		timeout = time.Duration(req.Def.TimeoutMS) * time.Millisecond
	}

	result, err := e.spawner.Run(ctx, sandbox.RunOptions{
		Argv:    argv,
		Dir:     req.WorkDir,
		Env:     []string{"DELTA_RUN_ID=" + req.RunID},
		Stdin:   stdin,
		Timeout: timeout,
	})
	if err != nil {
		return Outcome{}, apperr.NewToolRuntimeError(fmt.Sprintf("spawn tool %q", req.Def.Name), err)
	}

	if err := writeInvocationRecord(req, argv, stdin, result); err != nil {
		e.logger.Warn("failed to write tool invocation record",
			zap.String("tool", req.Def.Name), zap.Error(err))
	}

	observation := composeObservation(result)
	return Outcome{
		Observation: observation,
		ExitCode:    result.ExitCode,
		Truncated:   result.StdoutTruncated || result.StderrTruncated,
	}, nil
}

// stringifyArgs validates that every declared parameter is present and
// coerces its value to its canonical text form (§Open Questions: parameter
// types are strings in the core spec; numbers/bools are coerced here).
func stringifyArgs(def entity.Definition, raw map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(def.Params))
	for _, p := range def.Params {
		v, ok := raw[p.Name]
		if !ok {
			return nil, apperr.NewValidationError(
				fmt.Sprintf("tool %q: %s", def.Name, entity.ErrMissingParameter.Error()),
			)
		}
		out[p.Name] = stringifyValue(v)
	}
	return out, nil
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// BuildArgv implements §4.4.2 step 2: start with the template's argv
// prefix, substitute exec: placeholder sentinels in place, then append any
// remaining explicit-form parameters according to injection mode.
func BuildArgv(def entity.Definition, args map[string]string) (argv []string, stdin []byte, err error) {
	argv = make([]string, 0, len(def.Argv))
	consumed := make(map[string]bool, len(def.Params))
	for _, entry := range def.Argv {
		if name, ok := toolexpand.ParamNameFromArgv(entry); ok {
			val, present := args[name]
			if !present {
				return nil, nil, apperr.NewValidationError(
					fmt.Sprintf("tool %q: %s: %s", def.Name, entity.ErrMissingParameter.Error(), name))
			}
			argv = append(argv, val)
			consumed[name] = true
			continue
		}
		argv = append(argv, entry)
	}

	type positioned struct {
		pos int
		val string
	}
	var fixed []positioned
	for _, p := range def.Params {
		if consumed[p.Name] {
			continue
		}
		val := args[p.Name]
		switch p.Mode {
		case entity.InjectStdin:
			stdin = []byte(val)
		case entity.InjectOption:
			argv = append(argv, p.OptionName, val)
		case entity.InjectArgument:
			if p.FixedPosition > 0 {
				fixed = append(fixed, positioned{p.FixedPosition, val})
				continue
			}
			argv = append(argv, val)
		}
	}

	sort.Slice(fixed, func(i, j int) bool { return fixed[i].pos < fixed[j].pos })
	for _, f := range fixed {
		pos := f.pos
		if pos > len(argv) {
			pos = len(argv)
		}
		argv = append(argv[:pos], append([]string{f.val}, argv[pos:]...)...)
	}

	return argv, stdin, nil
}

// composeObservation implements §4.4.2 step 8.
func composeObservation(res *sandbox.Result) string {
	var sb strings.Builder
	if res.ExitCode == 0 {
		if len(res.Stderr) > 0 {
			sb.WriteString("[stderr output present]\n")
		}
		sb.Write(res.Stdout)
	} else {
		fmt.Fprintf(&sb, "tool failed with exit code %d\n", res.ExitCode)
		sb.Write(res.Stderr)
		if len(res.Stderr) > 0 && len(res.Stdout) > 0 {
			sb.WriteString("\n")
		}
		sb.Write(res.Stdout)
	}
	if res.StdoutTruncated || res.StderrTruncated {
		sb.WriteString("\n[... output truncated]")
	}
	return sb.String()
}

func writeInvocationRecord(req Request, argv []string, stdin []byte, res *sandbox.Result) error {
	dir := filepath.Join(req.RunDir, "io", "tool_executions",
		fmt.Sprintf("%d_%s", req.Seq, req.Def.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	argvJSON, err := json.MarshalIndent(argv, "", "  ")
	if err != nil {
		return err
	}
	files := map[string][]byte{
		"argv.json":       argvJSON,
		"stdin.bytes":      stdin,
		"stdout.log":       res.Stdout,
		"stderr.log":       res.Stderr,
		"exit_code.txt":    []byte(strconv.Itoa(res.ExitCode)),
		"duration_ms.txt":  []byte(strconv.FormatInt(res.Duration.Milliseconds(), 10)),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
