// Package toolexpand implements the Tool Expander (spec §4.4.1, §6.2): it
// normalizes the three simplified tools[] entry forms — exec:, shell:, and
// the explicit command:/parameters: form — into the engine's internal
// entity.Definition, preserving the argv-based safety model throughout.
package toolexpand

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/domain/workspace"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// placeholderPattern matches ${name} or ${name:raw}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:raw)?\}`)

// forbiddenShellChars lists the shell metacharacters an exec: template may
// never contain, checked against the raw template text (not the tokenized
// argv) so a rejected character fails even when it appears inside a quoted
// token.
var forbiddenShellChars = []string{"|", ">", "<", "&", ";", "&&", "||", "`", "$("}

// Expand normalizes one config.yaml tool entry into an entity.Definition.
func Expand(entry workspace.ToolEntry) (entity.Definition, error) {
	switch {
	case entry.Exec != "":
		return expandExec(entry)
	case entry.Shell != "":
		return expandShell(entry)
	case len(entry.Command) > 0:
		return expandExplicit(entry)
	default:
		return entity.Definition{}, apperr.NewConfigError(
			fmt.Sprintf("tool %q declares none of exec:, shell:, or command:", entry.Name))
	}
}

func expandExec(entry workspace.ToolEntry) (entity.Definition, error) {
	if err := checkForbiddenChars(entry.Exec); err != nil {
		return entity.Definition{}, err
	}
	if strings.Contains(entry.Exec, ":raw}") {
		return entity.Definition{}, apperr.NewConfigErrorWithCause(
			fmt.Sprintf("tool %q: :raw is not permitted in exec: templates", entry.Name),
			entity.ErrRawInExecMode)
	}

	placeholders := placeholderNames(entry.Exec)
	placeholderToken := make(map[string]string, len(placeholders))
	templateWithTokens := entry.Exec
	for i, name := range placeholders {
		token := fmt.Sprintf("\x00PLACEHOLDER_%d\x00", i)
		placeholderToken[token] = name
		templateWithTokens = strings.Replace(
			templateWithTokens, "${"+name+"}", token, 1)
	}

	tokens, err := shlex.Split(templateWithTokens)
	if err != nil {
		return entity.Definition{}, apperr.NewConfigErrorWithCause(
			fmt.Sprintf("tool %q: exec: template failed to tokenize", entry.Name), err)
	}

	var argv []string
	var inferredOrder []string
	for _, tok := range tokens {
		if name, ok := placeholderToken[tok]; ok {
			inferredOrder = append(inferredOrder, name)
			argv = append(argv, PlaceholderPrefix+name)
			continue
		}
		argv = append(argv, tok)
	}

	params, err := mergeParameters(inferredOrder, entry.Parameters, entry.Stdin)
	if err != nil {
		return entity.Definition{}, apperr.NewConfigErrorWithCause(
			fmt.Sprintf("tool %q", entry.Name), err)
	}

	return entity.Definition{
		Name:         entry.Name,
		Argv:         argv,
		Params:       params,
		Shell:        false,
		Transparency: "exec: " + entry.Exec,
		TimeoutMS:    entry.TimeoutMS,
	}, nil
}

func expandShell(entry workspace.ToolEntry) (entity.Definition, error) {
	placeholders := placeholderNames(entry.Shell)

	script := entry.Shell
	inferredOrder := make([]string, 0, len(placeholders))
	position := 1
	seen := make(map[string]int)
	for _, name := range placeholders {
		if _, ok := seen[name]; ok {
			continue
		}
		pos := position
		position++
		seen[name] = pos
		inferredOrder = append(inferredOrder, name)

		quoted := fmt.Sprintf("${%s}", name)
		rawForm := fmt.Sprintf("${%s:raw}", name)
		script = strings.ReplaceAll(script, rawForm, fmt.Sprintf("$%d", pos))
		script = strings.ReplaceAll(script, quoted, fmt.Sprintf("\"$%d\"", pos))
	}

	params, err := mergeParameters(inferredOrder, entry.Parameters, entry.Stdin)
	if err != nil {
		return entity.Definition{}, apperr.NewConfigErrorWithCause(
			fmt.Sprintf("tool %q", entry.Name), err)
	}

	return entity.Definition{
		Name:         entry.Name,
		Argv:         []string{"sh", "-c", script, "--"},
		Params:       params,
		Shell:        true,
		Transparency: "shell: " + entry.Shell,
		TimeoutMS:    entry.TimeoutMS,
	}, nil
}

func expandExplicit(entry workspace.ToolEntry) (entity.Definition, error) {
	params := make([]entity.Parameter, 0, len(entry.Parameters))
	for _, p := range entry.Parameters {
		mode := entity.InjectArgument
		switch {
		case p.Stdin:
			mode = entity.InjectStdin
		case p.Mode == string(entity.InjectOption):
			mode = entity.InjectOption
		}
		params = append(params, entity.Parameter{
			Name:        p.Name,
			Description: p.Description,
			Mode:        mode,
			OptionName:  p.OptionName,
			Required:    true,
		})
	}
	if err := requireAtMostOneStdin(params); err != nil {
		return entity.Definition{}, err
	}
	return entity.Definition{
		Name:      entry.Name,
		Argv:      append([]string(nil), entry.Command...),
		Params:    params,
		TimeoutMS: entry.TimeoutMS,
	}, nil
}

func checkForbiddenChars(template string) error {
	for _, ch := range forbiddenShellChars {
		if strings.Contains(template, ch) {
			return apperr.NewConfigErrorWithCause(
				fmt.Sprintf("exec: template contains forbidden shell metacharacter %q: %s", ch, template),
				entity.ErrForbiddenShellChars)
		}
	}
	return nil
}

func placeholderNames(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// mergeParameters combines the parameters inferred from template
// placeholders (all argument-mode, in template order) with any
// user-declared parameter list. Merging may add a description or mark a
// parameter stdin, but never changes the injection mode the template
// implies for parameters declared as InjectOption — the template itself is
// the sole authority on position and mode.
func mergeParameters(inferredOrder []string, declared []workspace.ParamDecl, stdinName string) ([]entity.Parameter, error) {
	declaredByName := make(map[string]workspace.ParamDecl, len(declared))
	for _, d := range declared {
		declaredByName[d.Name] = d
	}

	params := make([]entity.Parameter, 0, len(inferredOrder))
	for _, name := range inferredOrder {
		mode := entity.InjectArgument
		desc := ""
		if d, ok := declaredByName[name]; ok {
			desc = d.Description
			if d.Stdin {
				mode = entity.InjectStdin
			}
		}
		if name == stdinName {
			mode = entity.InjectStdin
		}
		params = append(params, entity.Parameter{
			Name:        name,
			Description: desc,
			Mode:        mode,
			Required:    true,
		})
	}

	if err := requireAtMostOneStdin(params); err != nil {
		return nil, err
	}
	return params, nil
}

func requireAtMostOneStdin(params []entity.Parameter) error {
	count := 0
	for _, p := range params {
		if p.Mode == entity.InjectStdin {
			count++
		}
	}
	if count > 1 {
		return entity.ErrMultipleStdinParams
	}
	return nil
}

// PlaceholderPrefix is the argv-entry marker BuildArgv (toolexec package)
// looks for to know which argv positions are parameter substitutions versus
// literal template text.
const PlaceholderPrefix = "\x00PLACEHOLDER\x00"

// ParamNameFromArgv extracts the parameter name from a sentinel argv entry,
// or returns ok=false if the entry is literal template text.
func ParamNameFromArgv(entry string) (name string, ok bool) {
	if !strings.HasPrefix(entry, PlaceholderPrefix) {
		return "", false
	}
	return strings.TrimPrefix(entry, PlaceholderPrefix), true
}
