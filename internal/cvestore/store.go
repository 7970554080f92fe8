// Package cvestore keeps vulnerability records in SQLite and answers the
// single-filter queries the bundled tool provider exposes.
package cvestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

// ErrNotFound reports a lookup by number with no matching record.
var ErrNotFound = errors.New("vulnerability record not found")

const (
	// DefaultLimit caps list queries when the caller passes no limit.
	DefaultLimit = 10
	// DefaultRecentLimit caps Recent when the caller passes no limit.
	DefaultRecentLimit = 20
	// MaxLimit is the largest accepted limit.
	MaxLimit = 200

	exploitExists = "Exploit Exists"
	kevYes        = "Yes"
)

const schema = `
CREATE TABLE IF NOT EXISTS cve_details (
	cve_number                  TEXT PRIMARY KEY,
	cve_title                   TEXT NOT NULL DEFAULT '',
	description                 TEXT NOT NULL DEFAULT '',
	severity                    TEXT NOT NULL DEFAULT '',
	cvss_score                  REAL,
	affected_products           TEXT NOT NULL DEFAULT '',
	keywords                    TEXT NOT NULL DEFAULT '',
	classifications_exploit     TEXT NOT NULL DEFAULT '',
	classifications_attack_type TEXT NOT NULL DEFAULT '',
	cisa_key                    TEXT NOT NULL DEFAULT '',
	source_last_modified_date   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS cve_details_severity ON cve_details(severity);
CREATE INDEX IF NOT EXISTS cve_details_cvss ON cve_details(cvss_score);
CREATE INDEX IF NOT EXISTS cve_details_modified ON cve_details(source_last_modified_date);
`

const recordColumns = `cve_number, cve_title, description, severity, cvss_score, affected_products,
	keywords, classifications_exploit, classifications_attack_type, cisa_key, source_last_modified_date`

// Record is one vulnerability record.
type Record struct {
	CVENumber            string    `json:"cve_number"`
	Title                string    `json:"cve_title"`
	Description          string    `json:"description"`
	Severity             string    `json:"severity"`
	CVSSScore            *float64  `json:"cvss_score"`
	AffectedProducts     string    `json:"affected_products"`
	Keywords             string    `json:"keywords"`
	Exploit              string    `json:"classifications_exploit"`
	AttackType           string    `json:"classifications_attack_type"`
	CISAKEV              string    `json:"cisa_key"`
	SourceLastModifiedAt time.Time `json:"source_last_modified_date"`
}

// SeverityStats aggregates records sharing a severity.
type SeverityStats struct {
	Severity string  `json:"severity"`
	Count    int     `json:"count"`
	AvgCVSS  float64 `json:"avg_cvss"`
}

// Statistics summarizes the whole store.
type Statistics struct {
	TotalCVEs    int             `json:"total_cves"`
	BySeverity   []SeverityStats `json:"by_severity"`
	CISAKEVCount int             `json:"cisa_kev_count"`
	WithExploits int             `json:"with_exploits"`
}

// Options configures Open.
type Options struct {
	// Path is the database file. Its directory must exist.
	Path     string
	PoolSize int
}

// Store is a pool of connections to the record database.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open opens or creates the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("cvestore: path is required")
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(opts.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("cvestore: open %s: %w", opts.Path, err)
	}
	logging.Logger().Debug("record store opened", "path", opts.Path, "pool_size", poolSize)
	return &Store{pool: pool, path: opts.Path}, nil
}

// Close closes every connection. It blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("cvestore: close %s: %w", s.path, err)
	}
	return nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("cvestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("cvestore: create schema: %w", err)
	}
	return nil
}

// ByNumber returns the record with the given identifier.
func (s *Store) ByNumber(ctx context.Context, number string) (Record, error) {
	records, err := s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE cve_number = ? LIMIT 1", strings.TrimSpace(number))
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, number)
	}
	return records[0], nil
}

// BySeverity returns records with the given severity, compared upper-cased.
func (s *Store) BySeverity(ctx context.Context, severity string, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE severity = ? ORDER BY cve_number LIMIT ?",
		strings.ToUpper(strings.TrimSpace(severity)), clampLimit(limit, DefaultLimit))
}

// ByCVSSRange returns records whose score lies in [minScore, maxScore].
func (s *Store) ByCVSSRange(ctx context.Context, minScore, maxScore float64, limit int) ([]Record, error) {
	if minScore > maxScore {
		return nil, fmt.Errorf("cvestore: min score %.1f exceeds max score %.1f", minScore, maxScore)
	}
	return s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE cvss_score >= ? AND cvss_score <= ? ORDER BY cvss_score DESC, cve_number LIMIT ?",
		minScore, maxScore, clampLimit(limit, DefaultLimit))
}

// ByKeyword searches title, description and keywords case-insensitively.
func (s *Store) ByKeyword(ctx context.Context, keyword string, limit int) ([]Record, error) {
	pattern := likePattern(keyword)
	return s.query(ctx, "SELECT "+recordColumns+` FROM cve_details
		WHERE cve_title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR keywords LIKE ? ESCAPE '\'
		ORDER BY cve_number LIMIT ?`,
		pattern, pattern, pattern, clampLimit(limit, DefaultLimit))
}

// ByProduct searches affected products case-insensitively.
func (s *Store) ByProduct(ctx context.Context, product string, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+` FROM cve_details WHERE affected_products LIKE ? ESCAPE '\' ORDER BY cve_number LIMIT ?`,
		likePattern(product), clampLimit(limit, DefaultLimit))
}

// WithExploit returns records with, or without, a known exploit.
func (s *Store) WithExploit(ctx context.Context, exists bool, limit int) ([]Record, error) {
	op := "="
	if !exists {
		op = "<>"
	}
	return s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE classifications_exploit "+op+" ? ORDER BY cve_number LIMIT ?",
		exploitExists, clampLimit(limit, DefaultLimit))
}

// CISAKEV returns records on the CISA Known Exploited Vulnerabilities list.
func (s *Store) CISAKEV(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE cisa_key = ? ORDER BY cve_number LIMIT ?",
		kevYes, clampLimit(limit, DefaultLimit))
}

// ByAttackType searches the attack type classification case-insensitively.
func (s *Store) ByAttackType(ctx context.Context, attackType string, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+` FROM cve_details WHERE classifications_attack_type LIKE ? ESCAPE '\' ORDER BY cve_number LIMIT ?`,
		likePattern(attackType), clampLimit(limit, DefaultLimit))
}

// Recent returns records modified at or after since, newest first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+" FROM cve_details WHERE source_last_modified_date >= ? ORDER BY source_last_modified_date DESC LIMIT ?",
		formatTime(since), clampLimit(limit, DefaultRecentLimit))
}

// Statistics aggregates counts and average scores.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("cvestore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	stats := Statistics{BySeverity: []SeverityStats{}}
	err = sqlitex.Execute(conn, `SELECT severity, COUNT(*), COALESCE(AVG(cvss_score), 0)
		FROM cve_details GROUP BY severity ORDER BY COUNT(*) DESC, severity`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.BySeverity = append(stats.BySeverity, SeverityStats{
				Severity: stmt.ColumnText(0),
				Count:    stmt.ColumnInt(1),
				AvgCVSS:  roundScore(stmt.ColumnFloat(2)),
			})
			return nil
		},
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("cvestore: severity statistics: %w", err)
	}
	err = sqlitex.Execute(conn, `SELECT COUNT(*),
		COALESCE(SUM(cisa_key = ?), 0),
		COALESCE(SUM(classifications_exploit = ?), 0)
		FROM cve_details`, &sqlitex.ExecOptions{
		Args: []any{kevYes, exploitExists},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.TotalCVEs = stmt.ColumnInt(0)
			stats.CISAKEVCount = stmt.ColumnInt(1)
			stats.WithExploits = stmt.ColumnInt(2)
			return nil
		},
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("cvestore: totals: %w", err)
	}
	return stats, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("cvestore: take connection: %w", err)
	}
	defer s.pool.Put(conn)
	var n int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM cve_details", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("cvestore: count: %w", err)
	}
	return n, nil
}

// Upsert inserts or replaces records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []Record) (n int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("cvestore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("cvestore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if strings.TrimSpace(rec.CVENumber) == "" {
			return 0, errors.New("cvestore: record without cve_number")
		}
		var score any
		if rec.CVSSScore != nil {
			score = *rec.CVSSScore
		}
		err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO cve_details (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				strings.TrimSpace(rec.CVENumber),
				rec.Title,
				rec.Description,
				strings.ToUpper(strings.TrimSpace(rec.Severity)),
				score,
				rec.AffectedProducts,
				rec.Keywords,
				rec.Exploit,
				rec.AttackType,
				rec.CISAKEV,
				formatTime(rec.SourceLastModifiedAt),
			},
		})
		if err != nil {
			return 0, fmt.Errorf("cvestore: upsert %s: %w", rec.CVENumber, err)
		}
	}
	return len(records), nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cvestore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	records := []Record{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, scanRecord(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cvestore: query: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) Record {
	rec := Record{
		CVENumber:        stmt.ColumnText(0),
		Title:            stmt.ColumnText(1),
		Description:      stmt.ColumnText(2),
		Severity:         stmt.ColumnText(3),
		AffectedProducts: stmt.ColumnText(5),
		Keywords:         stmt.ColumnText(6),
		Exploit:          stmt.ColumnText(7),
		AttackType:       stmt.ColumnText(8),
		CISAKEV:          stmt.ColumnText(9),
	}
	if !stmt.ColumnIsNull(4) {
		score := stmt.ColumnFloat(4)
		rec.CVSSScore = &score
	}
	if raw := stmt.ColumnText(10); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.SourceLastModifiedAt = t
		}
	}
	return rec
}

func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// likePattern builds a substring LIKE pattern with wildcards in term escaped.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(term)) + "%"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func roundScore(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
