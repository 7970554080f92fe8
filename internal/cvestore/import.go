package cvestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

var modifiedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// importRecord accepts the loose shapes found in exported record dumps.
type importRecord struct {
	CVENumber        string          `json:"cve_number"`
	Title            flexText        `json:"cve_title"`
	Description      flexText        `json:"description"`
	Severity         flexText        `json:"severity"`
	CVSSScore        *flexFloat      `json:"cvss_score"`
	AffectedProducts flexText        `json:"affected_products"`
	Keywords         flexText        `json:"keywords"`
	Exploit          flexText        `json:"classifications_exploit"`
	AttackType       flexText        `json:"classifications_attack_type"`
	CISAKEV          flexText        `json:"cisa_key"`
	Modified         json.RawMessage `json:"source_last_modified_date"`
}

// Import loads a JSON array of records, or an object with a "records" array.
// Comments and trailing commas are allowed. Existing records with the same
// number are replaced.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("cvestore: read import: %w", err)
	}
	records, err := ParseRecords(raw)
	if err != nil {
		return 0, err
	}
	return s.Upsert(ctx, records)
}

// ParseRecords decodes an import document into records.
func ParseRecords(raw []byte) ([]Record, error) {
	data := bytes.TrimSpace(jsonc.ToJSON(raw))
	if len(data) == 0 {
		return nil, fmt.Errorf("cvestore: import document is empty")
	}

	var items []importRecord
	if data[0] == '{' {
		var wrapper struct {
			Records []importRecord `json:"records"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("cvestore: decode import: %w", err)
		}
		items = wrapper.Records
	} else if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("cvestore: decode import: %w", err)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.CVENumber) == "" {
			return nil, fmt.Errorf("cvestore: import record %d has no cve_number", i)
		}
		modified, err := parseModified(item.Modified)
		if err != nil {
			return nil, fmt.Errorf("cvestore: import record %s: %w", item.CVENumber, err)
		}
		rec := Record{
			CVENumber:            strings.TrimSpace(item.CVENumber),
			Title:                string(item.Title),
			Description:          string(item.Description),
			Severity:             strings.ToUpper(string(item.Severity)),
			AffectedProducts:     string(item.AffectedProducts),
			Keywords:             string(item.Keywords),
			Exploit:              string(item.Exploit),
			AttackType:           string(item.AttackType),
			CISAKEV:              string(item.CISAKEV),
			SourceLastModifiedAt: modified,
		}
		if item.CVSSScore != nil {
			score := float64(*item.CVSSScore)
			rec.CVSSScore = &score
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseModified accepts a date string or a {"$date": ...} wrapper.
func parseModified(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '{' {
		var wrapped struct {
			Date json.RawMessage `json:"$date"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return time.Time{}, fmt.Errorf("decode modified date: %w", err)
		}
		return parseModified(wrapped.Date)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, fmt.Errorf("decode modified date: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	for _, layout := range modifiedLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized modified date %q", text)
}

// flexText decodes a string, a list of strings, a number, or null.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexText(strings.TrimSpace(s))
	case data[0] == '[':
		var items []flexText
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*f = flexText(strings.Join(parts, ", "))
	default:
		*f = flexText(string(data))
	}
	return nil
}

// flexFloat decodes a number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("cvss_score %q is not a number", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
