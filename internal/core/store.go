package core

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/gpipe/pkg/api"
)

// ErrOperationNotFound is returned for names the store has never seen.
var ErrOperationNotFound = errors.New("operation not found in local history")

// Store is a SQLite-backed history of submitted operations.
type Store struct{ db *sql.DB }

// StoredOperation is one row of the history.
type StoredOperation struct {
	Name         string
	RunID        string
	Sample       string
	Project      string
	Done         bool
	ErrorMessage string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
	Snapshot     *api.Operation
}

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewStore opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSubmission inserts a freshly submitted operation.
func (s *Store) RecordSubmission(ctx context.Context, op *api.Operation, runID, sample, project string) error {
	snap, err := json.Marshal(op)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operations (name, run_id, sample, project, done, error_message, submitted_at, updated_at, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET done = excluded.done, error_message = excluded.error_message,
		   updated_at = excluded.updated_at, snapshot = excluded.snapshot`,
		op.Name, runID, sample, project, boolInt(op.Done), errorMessage(op), now, now, string(snap))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// UpdateSnapshot stores the latest snapshot of a known operation. Unknown
// operations are inserted with an empty run id so that `ops get` on foreign
// operations is still remembered.
func (s *Store) UpdateSnapshot(ctx context.Context, op *api.Operation) error {
	snap, err := json.Marshal(op)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operations (name, run_id, sample, project, done, error_message, submitted_at, updated_at, snapshot)
		 VALUES (?, '', '', '', ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET done = excluded.done, error_message = excluded.error_message,
		   updated_at = excluded.updated_at, snapshot = excluded.snapshot`,
		op.Name, boolInt(op.Done), errorMessage(op), now, now, string(snap))
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

const selectColumns = `SELECT name, run_id, sample, project, done, error_message, submitted_at, updated_at, snapshot FROM operations`

// Get returns one operation by name.
func (s *Store) Get(ctx context.Context, name string) (*StoredOperation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE name = ?`, name)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrOperationNotFound)
	}
	return op, err
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PendingOnly bool
	Sample      string
	Limit       int
}

// List returns operations, most recently submitted first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]StoredOperation, error) {
	q := selectColumns + ` WHERE 1 = 1`
	var args []interface{}
	if f.PendingOnly {
		q += ` AND done = 0`
	}
	if f.Sample != "" {
		q += ` AND sample = ?`
		args = append(args, f.Sample)
	}
	q += ` ORDER BY submitted_at DESC, name`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	var out []StoredOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(sc scanner) (*StoredOperation, error) {
	var (
		op                 StoredOperation
		done               int
		submitted, updated int64
		snapshot           string
	)
	if err := sc.Scan(&op.Name, &op.RunID, &op.Sample, &op.Project, &done, &op.ErrorMessage, &submitted, &updated, &snapshot); err != nil {
		return nil, err
	}
	op.Done = done != 0
	op.SubmittedAt = time.Unix(submitted, 0)
	op.UpdatedAt = time.Unix(updated, 0)
	var snap api.Operation
	if err := json.Unmarshal([]byte(snapshot), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", op.Name, err)
	}
	op.Snapshot = &snap
	return &op, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func errorMessage(op *api.Operation) string {
	if op.Error == nil {
		return ""
	}
	return op.Error.Message
}
