package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
)

const testRecords = `[
	// Loaded through provider import.
	{
		"cve_number": "CVE-2020-000001",
		"cve_title": "Remote code execution in Red Hat Enterprise Linux kernel",
		"severity": "CRITICAL",
		"cvss_score": 9.8,
		"affected_products": "Red Hat Enterprise Linux 8",
		"classifications_exploit": "Exploit Exists",
		"classifications_attack_type": "Buffer Overflow",
		"cisa_key": "Yes",
	},
	{
		"cve_number": "CVE-2021-000002",
		"cve_title": "Directory traversal in file server",
		"severity": "HIGH",
		"cvss_score": 7.5,
		"affected_products": "Apache HTTP Server",
		"classifications_attack_type": "Directory Traversal",
		"cisa_key": "No",
	},
]`

func createTestHome(t *testing.T) string {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".vulnagent")
	t.Setenv("VULNAGENT_HOME", homeDir)
	return homeDir
}

func writeValidConfig(t *testing.T, homeDir string) {
	t.Helper()
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home dir: %v", err)
	}
	configBody := `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[agent]
max_iterations = 3
model_retry_backoff = "1ms"

[providers.cve_details]
enabled = true
transport = "inprocess"
`
	if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeRecordsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonc")
	if err := os.WriteFile(path, []byte(testRecords), 0o644); err != nil {
		t.Fatalf("write records: %v", err)
	}
	return path
}

// scriptedProvider returns responses in order and repeats the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	err       error
	requests  []provider.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) calls() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

func useProvider(t *testing.T, p provider.Provider) {
	t.Helper()
	orig := providerFactory
	t.Cleanup(func() { providerFactory = orig })
	providerFactory = func(_ config.LLMProviderConfig) (provider.Provider, error) {
		return p, nil
	}
}

func toolCall(id, name, args string) *provider.ChatResponse {
	return &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

func answer(text string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: text}
}
