package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".vulnagent")
	cfg := &config.Config{HomeDir: homeDir}
	cfg.Store.Path = filepath.Join(homeDir, "data", "records", "cve.db")
	return cfg
}

func TestInitializeCreatesRequiredFilesAndDirs(t *testing.T) {
	cfg := newTestConfig(t)

	created, err := Initialize(cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !created {
		t.Fatalf("expected config file to be created on first run")
	}

	for _, path := range []string{
		cfg.ConfigPath(),
		cfg.DataDir(),
		cfg.TranscriptsDir(),
		cfg.ChatTranscriptPath(),
		filepath.Dir(cfg.Store.Path),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %q to exist: %v", path, err)
		}
	}

	raw, err := os.ReadFile(cfg.ConfigPath())
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "[llm.default]") || !strings.Contains(text, "[providers.cve_details]") {
		t.Fatalf("expected starter config sections, got %q", text)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	if _, err := Initialize(cfg); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := os.WriteFile(cfg.ConfigPath(), []byte("[agent]\nmax_iterations = 3\n"), 0o644); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}

	created, err := Initialize(cfg)
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if created {
		t.Fatalf("expected existing config to be kept")
	}
	raw, err := os.ReadFile(cfg.ConfigPath())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(raw) != "[agent]\nmax_iterations = 3\n" {
		t.Fatalf("expected user config to be preserved, got %q", raw)
	}
}
