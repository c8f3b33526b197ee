// Package audit persists a local record of every lifecycle operation the CLI
// runs, so `stackctl history --local` works without round-tripping to the
// backend.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kubekattle/stackctl/internal/stack"
)

const auditSQLiteRelPath = ".stackctl/audit.sqlite"

// Record is one completed (or failed) lifecycle operation.
type Record struct {
	ID        int64           `json:"id"`
	StackName string          `json:"stackName"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt"`
	Message   string          `json:"message,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

// Store is a single-writer SQLite store rooted under a workspace directory.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// storeDSN resolves the store file under root and builds its sqlite DSN.
// Read-only opens require the file to exist; writable opens create the
// parent directory.
func storeDSN(root string, readOnly bool) (path, dsn string, err error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	path = filepath.Join(absRoot, auditSQLiteRelPath)
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return "", "", err
		}
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		return path, u.String(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", err
	}
	return path, path, nil
}

// Open opens (creating unless readOnly) the audit store under root.
func Open(root string, readOnly bool) (*Store, error) {
	path, dsn, err := storeDSN(root, readOnly)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS stackctl_operations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  stack_name TEXT NOT NULL,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  ended_at_ns INTEGER NOT NULL,
  message TEXT NOT NULL,
  summary_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_stackctl_operations_stack ON stackctl_operations(stack_name, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Append inserts one record. Zero EndedAt is stamped with the current time.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s.readOnly {
		return fmt.Errorf("audit store is read-only")
	}
	if rec.StackName == "" || rec.Kind == "" {
		return fmt.Errorf("audit record needs a stack name and a kind")
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	summary := "null"
	if len(rec.Summary) > 0 {
		summary = string(rec.Summary)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stackctl_operations (stack_name, kind, status, started_at_ns, ended_at_ns, message, summary_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.StackName, rec.Kind, rec.Status, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(), rec.Message, summary)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// RecordResult captures one operation outcome in the store, deriving the
// status from err. Storage failures are returned so the caller can log them;
// they never mask the operation's own error.
func (s *Store) RecordResult(ctx context.Context, stackName string, kind stack.UpdateKind, startedAt time.Time, summary *stack.UpdateSummary, opErr error) error {
	rec := Record{
		StackName: stackName,
		Kind:      string(kind),
		Status:    string(stack.StatusSucceeded),
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
	}
	if opErr != nil {
		rec.Status = string(stack.StatusFailed)
		rec.Message = opErr.Error()
	}
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		rec.Summary = data
	}
	return s.Append(ctx, rec)
}

// List returns records for stackName, most recent first. limit <= 0 means
// no limit. An empty stackName matches every stack.
func (s *Store) List(ctx context.Context, stackName string, limit int) ([]Record, error) {
	query := `
SELECT id, stack_name, kind, status, started_at_ns, ended_at_ns, message, summary_json
FROM stackctl_operations
`
	var args []interface{}
	if stackName != "" {
		query += `WHERE stack_name = ?
`
		args = append(args, stackName)
	}
	query += `ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var startedNS, endedNS int64
		var summary string
		if err := rows.Scan(&rec.ID, &rec.StackName, &rec.Kind, &rec.Status, &startedNS, &endedNS, &rec.Message, &summary); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, startedNS).UTC()
		rec.EndedAt = time.Unix(0, endedNS).UTC()
		if summary != "" && summary != "null" {
			rec.Summary = json.RawMessage(summary)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Checkpoint folds the WAL back into the main DB file so it can be copied as
// a single .sqlite.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s == nil || s.db == nil || s.readOnly {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}
