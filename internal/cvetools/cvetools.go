// Package cvetools exposes the record store as MCP tools.
package cvetools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neoclaw-ai/vulnagent/internal/cvestore"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

// ServerName is the MCP implementation name the bundled provider reports.
const ServerName = "cve-query-server"

// Querier is the part of the record store the tools read from.
type Querier interface {
	ByNumber(ctx context.Context, number string) (cvestore.Record, error)
	BySeverity(ctx context.Context, severity string, limit int) ([]cvestore.Record, error)
	ByCVSSRange(ctx context.Context, minScore, maxScore float64, limit int) ([]cvestore.Record, error)
	ByKeyword(ctx context.Context, keyword string, limit int) ([]cvestore.Record, error)
	ByProduct(ctx context.Context, product string, limit int) ([]cvestore.Record, error)
	WithExploit(ctx context.Context, exists bool, limit int) ([]cvestore.Record, error)
	CISAKEV(ctx context.Context, limit int) ([]cvestore.Record, error)
	Statistics(ctx context.Context) (cvestore.Statistics, error)
	ByAttackType(ctx context.Context, attackType string, limit int) ([]cvestore.Record, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]cvestore.Record, error)
}

// Options configures NewServer.
type Options struct {
	Version string
	// Now is the clock used by recent-record queries.
	Now func() time.Time
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type tools struct {
	store Querier
	now   func() time.Time
}

// NewServer builds an MCP server exposing the ten record queries.
func NewServer(store Querier, opts Options) *mcp.Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &tools{store: store, now: opts.Now}
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: opts.Version}, nil)
	for _, def := range t.definitions() {
		server.AddTool(def.tool, wrap(def.tool.Name, def.handle))
	}
	return server
}

// Serve runs the tools over stdio until the client disconnects or ctx ends.
func Serve(ctx context.Context, store Querier, opts Options) error {
	return NewServer(store, opts).Run(ctx, &mcp.StdioTransport{})
}

type definition struct {
	tool   *mcp.Tool
	handle handlerFunc
}

func (t *tools) definitions() []definition {
	return []definition{
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_number",
				Description: "Look up one vulnerability record by its identifier, e.g. CVE-2020-000001. Returns severity, CVSS score, description and classifications.",
				InputSchema: objectSchema(map[string]any{
					"cve_number": stringProp("The identifier to look up, e.g. CVE-2020-000001."),
				}, "cve_number"),
			},
			handle: t.byNumber,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_severity",
				Description: "List records with a given severity level.",
				InputSchema: objectSchema(map[string]any{
					"severity": map[string]any{
						"type":        "string",
						"description": "Severity level.",
						"enum":        []any{"CRITICAL", "HIGH", "MEDIUM", "LOW", "critical", "high", "medium", "low"},
					},
					"limit": limitProp(cvestore.DefaultLimit),
				}, "severity"),
			},
			handle: t.bySeverity,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_cvss_range",
				Description: "List records whose CVSS score lies in an inclusive range, highest first.",
				InputSchema: objectSchema(map[string]any{
					"min_score": scoreProp("Minimum CVSS score (0.0-10.0)."),
					"max_score": scoreProp("Maximum CVSS score (0.0-10.0)."),
					"limit":     limitProp(cvestore.DefaultLimit),
				}, "min_score", "max_score"),
			},
			handle: t.byCVSSRange,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_keyword",
				Description: "Search record titles, descriptions and keywords for a term, case-insensitively.",
				InputSchema: objectSchema(map[string]any{
					"keyword": stringProp("Term to search for."),
					"limit":   limitProp(cvestore.DefaultLimit),
				}, "keyword"),
			},
			handle: t.byKeyword,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_product",
				Description: "List records affecting a product, e.g. 'Red Hat', 'Windows', 'Apache'.",
				InputSchema: objectSchema(map[string]any{
					"product_name": stringProp("Product name to search for."),
					"limit":        limitProp(cvestore.DefaultLimit),
				}, "product_name"),
			},
			handle: t.byProduct,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_with_exploit",
				Description: "List records with a known exploit, or without one when exploit_exists is false.",
				InputSchema: objectSchema(map[string]any{
					"exploit_exists": map[string]any{"type": "boolean", "description": "True for records with a known exploit (default true)."},
					"limit":          limitProp(cvestore.DefaultLimit),
				}),
			},
			handle: t.withExploit,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_cisa_key",
				Description: "List records on the CISA Known Exploited Vulnerabilities (KEV) catalog.",
				InputSchema: objectSchema(map[string]any{
					"limit": limitProp(cvestore.DefaultLimit),
				}),
			},
			handle: t.cisaKEV,
		},
		{
			tool: &mcp.Tool{
				Name:        "get_cve_statistics",
				Description: "Summarize the record store: totals, counts and average CVSS score by severity, KEV and exploit counts.",
				InputSchema: objectSchema(map[string]any{}),
			},
			handle: t.statistics,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_cve_by_attack_type",
				Description: "List records by attack type, e.g. 'Buffer Overflow', 'SQL Injection', 'XSS'.",
				InputSchema: objectSchema(map[string]any{
					"attack_type": stringProp("Attack type to search for."),
					"limit":       limitProp(cvestore.DefaultLimit),
				}, "attack_type"),
			},
			handle: t.byAttackType,
		},
		{
			tool: &mcp.Tool{
				Name:        "query_recent_cves",
				Description: "List records modified within the last N days, newest first.",
				InputSchema: objectSchema(map[string]any{
					"days":  map[string]any{"type": "integer", "minimum": 1, "maximum": 3650, "description": "Days to look back (default 30)."},
					"limit": limitProp(cvestore.DefaultRecentLimit),
				}),
			},
			handle: t.recent,
		},
	}
}

// wrap turns handler output into a JSON text result. Argument and store
// failures become error results so the calling model can react.
func wrap(name string, h handlerFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := h(ctx, req.Params.Arguments)
		if err != nil {
			logging.Logger().Warn("tool query failed", "tool", name, "err", err)
			return errorResult(err), nil
		}
		if text, ok := out.(string); ok {
			return textResult(text), nil
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return errorResult(fmt.Errorf("encode result: %w", err)), nil
		}
		return textResult(string(data)), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}

func decode(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type listResult struct {
	Count int `json:"count"`
	// Filter echoes the query parameters next to count.
	Filter  map[string]any    `json:"-"`
	Results []cvestore.Record `json:"results"`
}

func (r listResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Filter)+2)
	for k, v := range r.Filter {
		out[k] = v
	}
	out["count"] = r.Count
	out["results"] = r.Results
	return json.Marshal(out)
}

func list(records []cvestore.Record, filter map[string]any) listResult {
	return listResult{Count: len(records), Filter: filter, Results: records}
}

func (t *tools) byNumber(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		CVENumber string `json:"cve_number"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.CVENumber == "" {
		return nil, errors.New("invalid arguments: cve_number is required")
	}
	rec, err := t.store.ByNumber(ctx, in.CVENumber)
	if errors.Is(err, cvestore.ErrNotFound) {
		return fmt.Sprintf("No CVE found with number: %s", in.CVENumber), nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *tools) bySeverity(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Severity string `json:"severity"`
		Limit    int    `json:"limit"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.BySeverity(ctx, in.Severity, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"severity": in.Severity}), nil
}

func (t *tools) byCVSSRange(ctx context.Context, raw json.RawMessage) (any, error) {
	in := struct {
		MinScore float64 `json:"min_score"`
		MaxScore float64 `json:"max_score"`
		Limit    int     `json:"limit"`
	}{MaxScore: 10}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.ByCVSSRange(ctx, in.MinScore, in.MaxScore, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"min_score": in.MinScore, "max_score": in.MaxScore}), nil
}

func (t *tools) byKeyword(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Keyword string `json:"keyword"`
		Limit   int    `json:"limit"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.ByKeyword(ctx, in.Keyword, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"keyword": in.Keyword}), nil
}

func (t *tools) byProduct(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Product string `json:"product_name"`
		Limit   int    `json:"limit"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.ByProduct(ctx, in.Product, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"product": in.Product}), nil
}

func (t *tools) withExploit(ctx context.Context, raw json.RawMessage) (any, error) {
	in := struct {
		ExploitExists bool `json:"exploit_exists"`
		Limit         int  `json:"limit"`
	}{ExploitExists: true}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.WithExploit(ctx, in.ExploitExists, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"exploit_exists": in.ExploitExists}), nil
}

func (t *tools) cisaKEV(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.CISAKEV(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, nil), nil
}

func (t *tools) statistics(ctx context.Context, _ json.RawMessage) (any, error) {
	return t.store.Statistics(ctx)
}

func (t *tools) byAttackType(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		AttackType string `json:"attack_type"`
		Limit      int    `json:"limit"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	records, err := t.store.ByAttackType(ctx, in.AttackType, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"attack_type": in.AttackType}), nil
}

func (t *tools) recent(ctx context.Context, raw json.RawMessage) (any, error) {
	in := struct {
		Days  int `json:"days"`
		Limit int `json:"limit"`
	}{Days: 30}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.Days <= 0 {
		in.Days = 30
	}
	since := t.now().AddDate(0, 0, -in.Days)
	records, err := t.store.Recent(ctx, since, in.Limit)
	if err != nil {
		return nil, err
	}
	return list(records, map[string]any{"days_back": in.Days}), nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, 0, len(required))
		for _, r := range required {
			req = append(req, r)
		}
		schema["required"] = req
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": description}
}

func scoreProp(description string) map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 10, "description": description}
}

func limitProp(def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     1,
		"maximum":     cvestore.MaxLimit,
		"description": fmt.Sprintf("Maximum number of results (default %d).", def),
	}
}
