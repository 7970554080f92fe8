// Package bootstrap creates the vulnagent home tree on first run.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/store"
)

const configTemplate = `# vulnagent configuration. Values starting with $ are read from the environment.

[llm.default]
provider = 'anthropic'
api_key = '$ANTHROPIC_API_KEY'
model = 'claude-sonnet-4-6'
request_timeout = '60s'

[agent]
behavior_profile = 'default'
max_iterations = 5
per_call_timeout = '30s'
retain_history = true

[providers.cve_details]
enabled = true
transport = 'inprocess'

# An external MCP server over stdio:
# [providers.nvd]
# enabled = true
# command = 'nvd-mcp'
# args = ['--stdio']
`

// Initialize creates the expected data tree and a starter config file if
// missing. It reports whether the config file was created.
func Initialize(cfg *config.Config) (bool, error) {
	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
		cfg.TranscriptsDir(),
		filepath.Dir(cfg.Store.Path),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	created, err := store.CreateFile(cfg.ConfigPath(), []byte(configTemplate))
	if err != nil {
		return false, fmt.Errorf("write starter config: %w", err)
	}
	if _, err := store.CreateFile(cfg.ChatTranscriptPath(), nil); err != nil {
		return false, fmt.Errorf("create chat transcript: %w", err)
	}
	return created, nil
}
