package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), ".vulnagent")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home dir: %v", err)
	}
	t.Setenv("VULNAGENT_HOME", home)
	if body != "" {
		if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return home
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	writeConfig(t, `
[llm.default]
api_key = "test-key"
provider = "openrouter"
model = "deepseek/deepseek-chat"

[agent]
behavior_profile = "concise"
max_iterations = 3
per_call_timeout = "5s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	llm := cfg.ActiveLLM()
	if llm.APIKey != "test-key" {
		t.Fatalf("expected api key %q, got %q", "test-key", llm.APIKey)
	}
	if llm.Provider != "openrouter" {
		t.Fatalf("expected provider %q, got %q", "openrouter", llm.Provider)
	}
	if cfg.Agent.BehaviorProfile != ProfileConcise {
		t.Fatalf("expected profile %q, got %q", ProfileConcise, cfg.Agent.BehaviorProfile)
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Fatalf("expected max iterations 3, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.PerCallTimeout != 5*time.Second {
		t.Fatalf("expected per call timeout 5s, got %v", cfg.Agent.PerCallTimeout)
	}
}

func TestLoad_ExpandsEnvVarsInStringValues(t *testing.T) {
	writeConfig(t, `
[llm.default]
api_key = "$ANTHROPIC_API_KEY"
provider = "anthropic"
model = "claude-sonnet-4-6"
`)
	t.Setenv("ANTHROPIC_API_KEY", "expanded-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ActiveLLM().APIKey != "expanded-key" {
		t.Fatalf("expected expanded api key %q, got %q", "expanded-key", cfg.ActiveLLM().APIKey)
	}
}

func TestLoad_DefaultsApplyWithoutConfigFile(t *testing.T) {
	home := writeConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.HomeDir != home {
		t.Fatalf("expected home dir %q, got %q", home, cfg.HomeDir)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Fatalf("expected default max iterations 5, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.BehaviorProfile != ProfileDefault {
		t.Fatalf("expected default profile, got %q", cfg.Agent.BehaviorProfile)
	}
	if cfg.Agent.PerCallTimeout != 30*time.Second {
		t.Fatalf("expected default per call timeout 30s, got %v", cfg.Agent.PerCallTimeout)
	}
	llm := cfg.ActiveLLM()
	if llm.Provider != defaultConfig.LLM[defaultLLMProfile].Provider {
		t.Fatalf("expected default provider %q, got %q", defaultConfig.LLM[defaultLLMProfile].Provider, llm.Provider)
	}
	if llm.MaxTokens != defaultConfig.LLM[defaultLLMProfile].MaxTokens {
		t.Fatalf("expected default max tokens %d, got %d", defaultConfig.LLM[defaultLLMProfile].MaxTokens, llm.MaxTokens)
	}
	if got := cfg.EnabledProviders(); len(got) != 1 || got[0] != BundledProviderName {
		t.Fatalf("expected bundled provider enabled by default, got %v", got)
	}
	bundled := cfg.Providers[BundledProviderName]
	if bundled.Transport != TransportInProcess || bundled.MaxInFlight != 1 {
		t.Fatalf("unexpected bundled provider defaults: %+v", bundled)
	}
	if want := filepath.Join(home, "data", "cve.db"); cfg.Store.Path != want {
		t.Fatalf("expected derived store path %q, got %q", want, cfg.Store.Path)
	}
}

func TestLoad_ProviderSectionsNormalized(t *testing.T) {
	writeConfig(t, `
[providers.nvd]
enabled = true
command = "nvd-mcp"
args = ["--cache", "/tmp/nvd"]

[providers.remote]
enabled = true
endpoint = "https://tools.example.com/mcp"
max_in_flight = 4
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	nvd := cfg.Providers["nvd"]
	if nvd.Transport != TransportStdio || nvd.MaxInFlight != 1 {
		t.Fatalf("expected stdio transport with serialized calls, got %+v", nvd)
	}
	if len(nvd.Args) != 2 || nvd.Args[1] != "/tmp/nvd" {
		t.Fatalf("unexpected args %v", nvd.Args)
	}
	remote := cfg.Providers["remote"]
	if remote.Transport != TransportHTTP || remote.MaxInFlight != 4 {
		t.Fatalf("expected http transport with 4 in flight, got %+v", remote)
	}
	want := []string{BundledProviderName, "nvd", "remote"}
	got := cfg.EnabledProviders()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected providers %v, got %v", want, got)
	}
}

func TestLoad_EnvDeclaredProviders(t *testing.T) {
	writeConfig(t, "")
	t.Setenv("MCP_EXPLOITDB_SERVER_ENABLED", "true")
	t.Setenv("MCP_EXPLOITDB_SERVER_COMMAND", "python")
	t.Setenv("MCP_EXPLOITDB_SERVER_ARGS", `-m exploitdb_server --db "/var/lib/exploit db"`)
	t.Setenv("MCP_EXPLOITDB_SERVER_DESCRIPTION", "Exploit database")
	t.Setenv("MCP_DISABLED_SERVER_ENABLED", "false")
	t.Setenv("MCP_DISABLED_SERVER_COMMAND", "nothing")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	p, ok := cfg.Providers["exploitdb"]
	if !ok {
		t.Fatalf("expected env provider to be registered, got %v", cfg.Providers)
	}
	if !p.Enabled || p.Transport != TransportStdio || p.Command != "python" {
		t.Fatalf("unexpected env provider %+v", p)
	}
	wantArgs := []string{"-m", "exploitdb_server", "--db", "/var/lib/exploit db"}
	if strings.Join(p.Args, "|") != strings.Join(wantArgs, "|") {
		t.Fatalf("expected args %q, got %q", wantArgs, p.Args)
	}
	if p.Description != "Exploit database" {
		t.Fatalf("unexpected description %q", p.Description)
	}
	if _, ok := cfg.Providers["disabled"]; ok {
		t.Fatalf("expected disabled env provider to be ignored")
	}
}

func TestLoad_EnvProviderRequiresCommand(t *testing.T) {
	writeConfig(t, "")
	t.Setenv("MCP_BROKEN_SERVER_ENABLED", "true")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MCP_BROKEN_SERVER_COMMAND") {
		t.Fatalf("expected missing command error, got %v", err)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	writeConfig(t, "[agent\nmax_iterations = ")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestHomeDir_DefaultsToUserHome(t *testing.T) {
	t.Setenv("VULNAGENT_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("get user home: %v", err)
	}

	dir, err := homeDir()
	if err != nil {
		t.Fatalf("home dir: %v", err)
	}
	expected := filepath.Join(home, ".vulnagent")
	if dir != expected {
		t.Fatalf("expected %q, got %q", expected, dir)
	}
}

func TestWrite_RendersDurationsAsStrings(t *testing.T) {
	writeConfig(t, "")

	var out bytes.Buffer
	if err := Write(&out); err != nil {
		t.Fatalf("write config: %v", err)
	}
	body := out.String()
	if !strings.Contains(body, "per_call_timeout = '30s'") && !strings.Contains(body, `per_call_timeout = "30s"`) {
		t.Fatalf("expected human readable duration, got:\n%s", body)
	}
	if !strings.Contains(body, "[providers.cve_details]") && !strings.Contains(body, "[providers]") {
		t.Fatalf("expected providers section, got:\n%s", body)
	}
}
