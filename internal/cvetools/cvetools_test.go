package cvetools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neoclaw-ai/vulnagent/internal/cvestore"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

const records = `[
	{
		"cve_number": "CVE-2020-000001",
		"cve_title": "Remote code execution in Red Hat Enterprise Linux kernel",
		"description": "A buffer overflow allows remote attackers to execute code.",
		"severity": "CRITICAL",
		"cvss_score": 9.8,
		"affected_products": "Red Hat Enterprise Linux 8",
		"classifications_exploit": "Exploit Exists",
		"classifications_attack_type": "Buffer Overflow",
		"cisa_key": "Yes",
		"source_last_modified_date": "2026-10-10T08:00:00Z"
	},
	{
		"cve_number": "CVE-2021-000002",
		"cve_title": "SQL injection in billing portal",
		"severity": "HIGH",
		"cvss_score": 7.5,
		"affected_products": "Apache Portal 2.1",
		"classifications_exploit": "No Known Exploit",
		"classifications_attack_type": "SQL Injection",
		"cisa_key": "No",
		"source_last_modified_date": "2026-09-01T00:00:00Z"
	}
]`

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func connect(t *testing.T, q Querier) *transport.MCPClient {
	t.Helper()
	server := NewServer(q, Options{Version: "test", Now: func() time.Time { return testNow }})
	client := transport.NewMCPClient("cve_details", transport.InProcessDialer(server), 4)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect() })
	return client
}

func openStore(t *testing.T) *cvestore.Store {
	t.Helper()
	store, err := cvestore.Open(cvestore.Options{Path: filepath.Join(t.TempDir(), "cve.db"), PoolSize: 2})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Import(context.Background(), strings.NewReader(records)); err != nil {
		t.Fatalf("import: %v", err)
	}
	return store
}

func invoke(t *testing.T, client *transport.MCPClient, name string, args map[string]any) transport.ToolCallResult {
	t.Helper()
	res, err := client.Invoke(context.Background(), transport.Call{ID: "call_1", Name: name, Arguments: args, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("invoke %s: %v", name, err)
	}
	return res
}

func decodeList(t *testing.T, payload string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("decode payload %q: %v", payload, err)
	}
	return out
}

func cveNumbers(t *testing.T, out map[string]any) []string {
	t.Helper()
	results, ok := out["results"].([]any)
	if !ok {
		t.Fatalf("expected results array, got %#v", out["results"])
	}
	var numbers []string
	for _, r := range results {
		numbers = append(numbers, r.(map[string]any)["cve_number"].(string))
	}
	return numbers
}

func TestServerListsAllTools(t *testing.T) {
	client := connect(t, openStore(t))
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	want := map[string]bool{
		"query_cve_by_number":      true,
		"query_cve_by_severity":    true,
		"query_cve_by_cvss_range":  true,
		"query_cve_by_keyword":     true,
		"query_cve_by_product":     true,
		"query_cve_with_exploit":   true,
		"query_cve_by_cisa_key":    true,
		"get_cve_statistics":       true,
		"query_cve_by_attack_type": true,
		"query_recent_cves":        true,
	}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for _, tool := range tools {
		if !want[tool.Name] {
			t.Fatalf("unexpected tool %q", tool.Name)
		}
		if tool.InputSchema["type"] != "object" {
			t.Fatalf("tool %s: expected object schema, got %#v", tool.Name, tool.InputSchema)
		}
		if tool.Description == "" {
			t.Fatalf("tool %s has no description", tool.Name)
		}
	}
}

func TestServerQueries(t *testing.T) {
	client := connect(t, openStore(t))

	tests := []struct {
		name string
		tool string
		args map[string]any
		echo map[string]any
		want []string
	}{
		{
			name: "severity",
			tool: "query_cve_by_severity",
			args: map[string]any{"severity": "critical"},
			echo: map[string]any{"severity": "critical"},
			want: []string{"CVE-2020-000001"},
		},
		{
			name: "cvss range",
			tool: "query_cve_by_cvss_range",
			args: map[string]any{"min_score": 7.0, "max_score": 10.0},
			echo: map[string]any{"min_score": 7.0, "max_score": 10.0},
			want: []string{"CVE-2020-000001", "CVE-2021-000002"},
		},
		{
			name: "keyword",
			tool: "query_cve_by_keyword",
			args: map[string]any{"keyword": "billing"},
			echo: map[string]any{"keyword": "billing"},
			want: []string{"CVE-2021-000002"},
		},
		{
			name: "product",
			tool: "query_cve_by_product",
			args: map[string]any{"product_name": "red hat"},
			echo: map[string]any{"product": "red hat"},
			want: []string{"CVE-2020-000001"},
		},
		{
			name: "exploit default",
			tool: "query_cve_with_exploit",
			args: map[string]any{},
			echo: map[string]any{"exploit_exists": true},
			want: []string{"CVE-2020-000001"},
		},
		{
			name: "no exploit",
			tool: "query_cve_with_exploit",
			args: map[string]any{"exploit_exists": false},
			echo: map[string]any{"exploit_exists": false},
			want: []string{"CVE-2021-000002"},
		},
		{
			name: "kev",
			tool: "query_cve_by_cisa_key",
			args: map[string]any{"limit": 5},
			want: []string{"CVE-2020-000001"},
		},
		{
			name: "attack type",
			tool: "query_cve_by_attack_type",
			args: map[string]any{"attack_type": "sql"},
			echo: map[string]any{"attack_type": "sql"},
			want: []string{"CVE-2021-000002"},
		},
		{
			name: "recent default window",
			tool: "query_recent_cves",
			args: map[string]any{},
			echo: map[string]any{"days_back": 30.0},
			want: []string{"CVE-2020-000001"},
		},
		{
			name: "recent wide window",
			tool: "query_recent_cves",
			args: map[string]any{"days": 60},
			echo: map[string]any{"days_back": 60.0},
			want: []string{"CVE-2020-000001", "CVE-2021-000002"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, client, tt.tool, tt.args)
			if !res.Succeeded {
				t.Fatalf("expected success, got %+v", res)
			}
			out := decodeList(t, res.Payload)
			for k, v := range tt.echo {
				if out[k] != v {
					t.Fatalf("expected %s=%v in result, got %v", k, v, out[k])
				}
			}
			got := cveNumbers(t, out)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if out["count"] != float64(len(tt.want)) {
				t.Fatalf("expected count %d, got %v", len(tt.want), out["count"])
			}
		})
	}
}

func TestServerByNumber(t *testing.T) {
	client := connect(t, openStore(t))

	res := invoke(t, client, "query_cve_by_number", map[string]any{"cve_number": "CVE-2020-000001"})
	if !res.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}
	var rec cvestore.Record
	if err := json.Unmarshal([]byte(res.Payload), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Severity != "CRITICAL" || rec.CVSSScore == nil || *rec.CVSSScore != 9.8 {
		t.Fatalf("unexpected record %+v", rec)
	}

	missing := invoke(t, client, "query_cve_by_number", map[string]any{"cve_number": "CVE-1999-999999"})
	if !missing.Succeeded {
		t.Fatalf("expected not-found to be a successful answer, got %+v", missing)
	}
	if missing.Payload != "No CVE found with number: CVE-1999-999999" {
		t.Fatalf("unexpected not-found payload %q", missing.Payload)
	}
}

func TestServerStatistics(t *testing.T) {
	client := connect(t, openStore(t))

	res := invoke(t, client, "get_cve_statistics", nil)
	if !res.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}
	var stats cvestore.Statistics
	if err := json.Unmarshal([]byte(res.Payload), &stats); err != nil {
		t.Fatalf("decode statistics: %v", err)
	}
	if stats.TotalCVEs != 2 || stats.CISAKEVCount != 1 || stats.WithExploits != 1 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
}

func TestServerInvertedRangeIsToolError(t *testing.T) {
	client := connect(t, openStore(t))

	res := invoke(t, client, "query_cve_by_cvss_range", map[string]any{"min_score": 9.0, "max_score": 4.0})
	if res.Succeeded || res.Kind != transport.FailureProvider {
		t.Fatalf("expected provider error, got %+v", res)
	}
}

type brokenStore struct{ Querier }

func (brokenStore) BySeverity(context.Context, string, int) ([]cvestore.Record, error) {
	return nil, errors.New("database is locked")
}

func TestServerStoreFailureIsToolError(t *testing.T) {
	client := connect(t, brokenStore{})

	res := invoke(t, client, "query_cve_by_severity", map[string]any{"severity": "HIGH"})
	if res.Succeeded {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.ErrorDetail, "database is locked") {
		t.Fatalf("expected store error detail, got %q", res.ErrorDetail)
	}
}
