package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "delta"

// Bootstrap ensures ~/.delta exists with a default config.yaml. Called once
// at CLI startup; safe to call repeatedly — it never overwrites an existing
// config.yaml.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", root, err)
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("engine home OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		logger.Warn("failed to write default engine config", zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("engine home bootstrapped", zap.String("home", root))
	return nil
}

const defaultConfig = `# Delta Engine configuration — auto-generated on first launch.
# Overridable per-invocation with DELTA_*-prefixed environment variables,
# e.g. DELTA_LLM_API_KEY.

log:
  level: info        # debug | info | warn | error
  format: console     # console | json

llm:
  base_url: "https://api.openai.com/v1"
  api_key: ""

engine:
  default_tool_timeout: 120s
  default_hook_timeout: 30s
  approval_timeout: 5m
`
