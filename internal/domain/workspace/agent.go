package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/deltaengine/delta/internal/domain/entity"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// ToolEntry is the raw, as-written shape of one tools[] entry in
// config.yaml. Exactly one of Exec, Shell, or Command is expected to be
// set; the Tool Expander (internal/domain/toolexpand) normalizes this into
// an entity.Definition.
type ToolEntry struct {
	Name       string      `yaml:"name"`
	Exec       string      `yaml:"exec,omitempty"`
	Shell      string      `yaml:"shell,omitempty"`
	Command    []string    `yaml:"command,omitempty"`
	Parameters []ParamDecl `yaml:"parameters,omitempty"`
	Stdin      string      `yaml:"stdin,omitempty"`
	TimeoutMS  int         `yaml:"timeout_ms,omitempty"`
}

// ParamDecl is a user-supplied parameter declaration. For exec:/shell:
// templates only Name, Description, and Stdin are meaningful (the template
// itself fixes position and argument-vs-option mode); the explicit
// command:/parameters: form also honors Mode and OptionName since it has no
// template to infer them from.
type ParamDecl struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Stdin       bool   `yaml:"stdin,omitempty"`
	Mode        string `yaml:"mode,omitempty"`        // "argument" | "option" (explicit form only)
	OptionName  string `yaml:"option_name,omitempty"` // e.g. "--path" (mode=option only)
}

// LLMConfig holds the model parameters forwarded verbatim to the chat
// completion endpoint.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AgentConfig is the parsed shape of config.yaml (§6.2).
type AgentConfig struct {
	Name           string                           `yaml:"name"`
	LLM            LLMConfig                        `yaml:"llm"`
	MaxIterations  int                               `yaml:"max_iterations"`
	Tools          []ToolEntry                       `yaml:"tools"`
	LifecycleHooks map[entity.HookKind]HookEntry     `yaml:"lifecycle_hooks"`
	Context        *entity.Manifest                  `yaml:"context,omitempty"`
}

// HookEntry is the raw config.yaml shape of one lifecycle_hooks entry.
type HookEntry struct {
	Command   []string `yaml:"command"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

// DefaultMaxIterations is used when config.yaml omits max_iterations.
const DefaultMaxIterations = 30

// Agent is a loaded agent directory: config.yaml, system_prompt.md, and an
// optional context.yaml sibling. Treated as read-only for the run's
// duration (§3.3).
type Agent struct {
	Dir          string
	Config       AgentConfig
	SystemPrompt string
}

// LoadAgent reads and validates an agent directory. It never mutates the
// directory; config.yaml and system_prompt.md must already exist.
func LoadAgent(dir string) (*Agent, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.NewInternalErrorWithCause("resolve agent path", err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return nil, apperr.NewConsistencyError(fmt.Sprintf("agent path %q does not exist", abs))
	}

	configBytes, err := os.ReadFile(filepath.Join(abs, "config.yaml"))
	if err != nil {
		return nil, apperr.NewConfigErrorWithCause("read config.yaml", err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
		return nil, apperr.NewConfigErrorWithCause("parse config.yaml", err)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Context == nil {
		cfg.Context = &entity.Manifest{}
	}

	promptBytes, err := os.ReadFile(filepath.Join(abs, "system_prompt.md"))
	if err != nil {
		return nil, apperr.NewConfigErrorWithCause("read system_prompt.md", err)
	}

	// A sibling context.yaml, if present, takes precedence over an inline
	// `context:` block in config.yaml.
	if contextBytes, err := os.ReadFile(filepath.Join(abs, "context.yaml")); err == nil {
		var manifest entity.Manifest
		if err := yaml.Unmarshal(contextBytes, &manifest); err != nil {
			return nil, apperr.NewConfigErrorWithCause("parse context.yaml", err)
		}
		cfg.Context = &manifest
	}

	return &Agent{
		Dir:          abs,
		Config:       cfg,
		SystemPrompt: string(promptBytes),
	}, nil
}

// Fingerprint returns the SHA-256 hex digest of the agent's canonicalized
// config.yaml bytes plus system_prompt.md bytes, recorded verbatim in each
// run's RUN_START event so a reader can detect an agent edited between runs.
func (a *Agent) Fingerprint() (string, error) {
	configBytes, err := yaml.Marshal(a.Config)
	if err != nil {
		return "", apperr.NewInternalErrorWithCause("marshal config for fingerprint", err)
	}
	h := sha256.New()
	h.Write(configBytes)
	h.Write([]byte(a.SystemPrompt))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HookDefinitions converts the raw config.yaml lifecycle_hooks map into
// entity.HookDefinition values with kind populated and defaults applied.
func (a *Agent) HookDefinitions() map[entity.HookKind]entity.HookDefinition {
	out := make(map[entity.HookKind]entity.HookDefinition, len(a.Config.LifecycleHooks))
	for kind, raw := range a.Config.LifecycleHooks {
		timeout := raw.TimeoutMS
		if timeout <= 0 {
			timeout = entity.DefaultHookTimeoutMS
		}
		out[kind] = entity.HookDefinition{
			Kind:      kind,
			Command:   raw.Command,
			TimeoutMS: timeout,
		}
	}
	return out
}
