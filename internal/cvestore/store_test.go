package cvestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fixture = `[
	// Critical, exploited, on the KEV list.
	{
		"cve_number": "CVE-2020-000001",
		"cve_title": "Remote code execution in Red Hat Enterprise Linux kernel",
		"description": "A buffer overflow allows remote attackers to execute code.",
		"severity": "critical",
		"cvss_score": 9.8,
		"affected_products": ["Red Hat Enterprise Linux 8", "Red Hat Enterprise Linux 9"],
		"keywords": "kernel, rce",
		"classifications_exploit": "Exploit Exists",
		"classifications_attack_type": "Buffer Overflow",
		"cisa_key": "Yes",
		"source_last_modified_date": {"$date": "2026-10-10T08:00:00Z"},
	},
	{
		"cve_number": "CVE-2021-000002",
		"cve_title": "SQL injection in billing portal",
		"description": "Unsanitized input in the 100%_safe filter.",
		"severity": "HIGH",
		"cvss_score": "7.5",
		"affected_products": "Apache Portal 2.1",
		"keywords": "sqli",
		"classifications_exploit": "No Known Exploit",
		"classifications_attack_type": "SQL Injection",
		"cisa_key": "No",
		"source_last_modified_date": "2026-09-01",
	},
	{
		"cve_number": "CVE-2022-000003",
		"cve_title": "Cross-site scripting in Windows admin console",
		"description": "Stored XSS.",
		"severity": "MEDIUM",
		"cvss_score": 5.4,
		"affected_products": "Windows Server 2022",
		"classifications_exploit": "Exploit Exists",
		"classifications_attack_type": "XSS",
		"cisa_key": "No",
		"source_last_modified_date": "2025-01-01T00:00:00",
	},
	{
		"cve_number": "CVE-2023-000004",
		"cve_title": "Critical deserialization flaw",
		"severity": "CRITICAL",
		"cvss_score": 9.1,
		"affected_products": "Apache Commons",
		"classifications_exploit": "No Known Exploit",
		"classifications_attack_type": "Deserialization",
		"cisa_key": "Yes",
		"source_last_modified_date": null,
	},
]`

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{Path: filepath.Join(t.TempDir(), "cve.db"), PoolSize: 2})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	n, err := store.Import(context.Background(), strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("import fixture: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 imported records, got %d", n)
	}
	return store
}

func numbers(records []Record) string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.CVENumber)
	}
	return strings.Join(out, ",")
}

func TestByNumber(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.ByNumber(ctx, "CVE-2020-000001")
	if err != nil {
		t.Fatalf("by number: %v", err)
	}
	if rec.Severity != "CRITICAL" || rec.CVSSScore == nil || *rec.CVSSScore != 9.8 {
		t.Fatalf("unexpected record %#v", rec)
	}
	if rec.AffectedProducts != "Red Hat Enterprise Linux 8, Red Hat Enterprise Linux 9" {
		t.Fatalf("expected product list to be joined, got %q", rec.AffectedProducts)
	}
	if !rec.SourceLastModifiedAt.Equal(time.Date(2026, 10, 10, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected modified date %s", rec.SourceLastModifiedAt)
	}

	if _, err := store.ByNumber(ctx, "CVE-1999-999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilterQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() ([]Record, error)
		want string
	}{
		{"severity is case-insensitive", func() ([]Record, error) { return store.BySeverity(ctx, "critical", 0) }, "CVE-2020-000001,CVE-2023-000004"},
		{"severity limit", func() ([]Record, error) { return store.BySeverity(ctx, "CRITICAL", 1) }, "CVE-2020-000001"},
		{"cvss above 9", func() ([]Record, error) { return store.ByCVSSRange(ctx, 9, 10, 0) }, "CVE-2020-000001,CVE-2023-000004"},
		{"keyword in title", func() ([]Record, error) { return store.ByKeyword(ctx, "INJECTION", 0) }, "CVE-2021-000002"},
		{"keyword in keywords", func() ([]Record, error) { return store.ByKeyword(ctx, "rce", 0) }, "CVE-2020-000001"},
		{"keyword wildcards are literal", func() ([]Record, error) { return store.ByKeyword(ctx, "100%_safe", 0) }, "CVE-2021-000002"},
		{"keyword wildcard does not match everything", func() ([]Record, error) { return store.ByKeyword(ctx, "%", 0) }, "CVE-2021-000002"},
		{"product", func() ([]Record, error) { return store.ByProduct(ctx, "red hat", 0) }, "CVE-2020-000001"},
		{"with exploit", func() ([]Record, error) { return store.WithExploit(ctx, true, 0) }, "CVE-2020-000001,CVE-2022-000003"},
		{"without exploit", func() ([]Record, error) { return store.WithExploit(ctx, false, 0) }, "CVE-2021-000002,CVE-2023-000004"},
		{"kev", func() ([]Record, error) { return store.CISAKEV(ctx, 0) }, "CVE-2020-000001,CVE-2023-000004"},
		{"attack type", func() ([]Record, error) { return store.ByAttackType(ctx, "buffer", 0) }, "CVE-2020-000001"},
		{"recent", func() ([]Record, error) {
			return store.Recent(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), 0)
		}, "CVE-2020-000001,CVE-2021-000002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if numbers(got) != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, numbers(got))
			}
		})
	}
}

func TestByCVSSRangeRejectsInvertedRange(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.ByCVSSRange(context.Background(), 9, 1, 0); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}

func TestStatistics(t *testing.T) {
	store := openTestStore(t)
	stats, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalCVEs != 4 || stats.CISAKEVCount != 2 || stats.WithExploits != 2 {
		t.Fatalf("unexpected totals %#v", stats)
	}
	if len(stats.BySeverity) != 3 {
		t.Fatalf("expected 3 severity groups, got %#v", stats.BySeverity)
	}
	critical := stats.BySeverity[0]
	if critical.Severity != "CRITICAL" || critical.Count != 2 || critical.AvgCVSS != 9.45 {
		t.Fatalf("unexpected critical group %#v", critical)
	}
}

func TestImportReplacesExistingRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	update := `[{"cve_number": "CVE-2021-000002", "severity": "low", "cvss_score": 2.0}]`
	if _, err := store.Import(ctx, strings.NewReader(update)); err != nil {
		t.Fatalf("import update: %v", err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected upsert to keep 4 records, got %d", n)
	}
	rec, err := store.ByNumber(ctx, "CVE-2021-000002")
	if err != nil {
		t.Fatalf("by number: %v", err)
	}
	if rec.Severity != "LOW" {
		t.Fatalf("expected replaced severity LOW, got %q", rec.Severity)
	}
}

func TestParseRecordsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "  // nothing\n"},
		{"missing number", `[{"severity": "HIGH"}]`},
		{"bad score", `[{"cve_number": "CVE-1", "cvss_score": "high"}]`},
		{"bad date", `[{"cve_number": "CVE-1", "source_last_modified_date": "yesterday"}]`},
		{"not json", `[{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRecords([]byte(tt.doc)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestParseRecordsAcceptsWrapperObject(t *testing.T) {
	records, err := ParseRecords([]byte(`{"records": [{"cve_number": "CVE-1", "source_last_modified_date": 1700000000000}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 || records[0].SourceLastModifiedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected records %#v", records)
	}
}
