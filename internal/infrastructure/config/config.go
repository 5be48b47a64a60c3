// Package config loads the engine's own settings — as opposed to an
// agent's config.yaml (internal/domain/workspace.AgentConfig), which the
// engine treats as run input, not engine configuration.
//
// Layering (lowest to highest priority), mirroring the teacher's own
// layered config: defaults < ~/.delta/config.yaml < DELTA_* environment
// variables. Only the llm section is read by a caller (internal/application
// builds the LLM client from it); cmd/delta builds its logger from the
// --log-level/--log-format flags alone, and the log and engine sections
// are loaded but not consulted.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the engine's own runtime configuration: log, LLM endpoint and
// engine timeout sections. Every run uses the LLM endpoint; the other
// sections have no reader.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Engine EngineConfig `mapstructure:"engine"`
}

// LogConfig controls the shared zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig is the chat-completion endpoint and credential every run uses;
// an agent's config.yaml cannot override them.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig holds engine-wide timeout settings. No caller reads them:
// tools default to toolexec.DefaultTimeout (120s) and hooks to
// entity.DefaultHookTimeoutMS (5000 ms) whatever these values are.
type EngineConfig struct {
	DefaultToolTimeout time.Duration `mapstructure:"default_tool_timeout"`
	DefaultHookTimeout time.Duration `mapstructure:"default_hook_timeout"`
	ApprovalTimeout    time.Duration `mapstructure:"approval_timeout"`
}

// HomeDir returns the engine's configuration home: ~/.delta
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, "."+AppName)
}

// Load builds a Config from defaults, ~/.delta/config.yaml (if present),
// and DELTA_*-prefixed environment variables, in that priority order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read %s: %w", filepath.Join(HomeDir(), "config.yaml"), err)
		}
	}

	v.SetEnvPrefix("DELTA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")

	v.SetDefault("engine.default_tool_timeout", "120s")
	v.SetDefault("engine.default_hook_timeout", "30s")
	v.SetDefault("engine.approval_timeout", "5m")
}
