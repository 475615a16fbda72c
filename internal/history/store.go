// Package history persists finished operations in SQLite so they survive
// restarts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	state        TEXT NOT NULL,
	progress     REAL NOT NULL DEFAULT 0,
	error        TEXT,
	error_kind   TEXT,
	output_path  TEXT,
	created_at   TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at);
`

// Store records terminal operations.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts or replaces one operation.
func (s *Store) Record(ctx context.Context, op models.Operation) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO operations
	(id, type, state, progress, error, error_kind, output_path, created_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, string(op.Type), string(op.State), op.Progress,
			nullableString(op.Error), nullableString(op.ErrorKind), nullableString(op.OutputPath),
			op.CreatedAt.UTC().Format(timeLayout), nullableTime(op.CompletedAt),
		)
		return err
	})
}

// Get returns one recorded operation.
func (s *Store) Get(ctx context.Context, id string) (models.Operation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Operation{}, apperr.New(apperr.KindNotFound, "operation %s not found", id)
	}
	return op, err
}

// List returns the most recent operations first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]models.Operation, error) {
	query := selectColumns + ` ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Prune deletes operations completed before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE completed_at IS NOT NULL AND completed_at < ?`,
			cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

const selectColumns = `SELECT id, type, state, progress, error, error_kind, output_path, created_at, completed_at FROM operations`

func scanOperation(scanner interface{ Scan(dest ...any) error }) (models.Operation, error) {
	var (
		op                             models.Operation
		typ, state, createdRaw         string
		errText, errKind, output, done sql.NullString
	)
	if err := scanner.Scan(&op.ID, &typ, &state, &op.Progress, &errText, &errKind, &output, &createdRaw, &done); err != nil {
		return models.Operation{}, err
	}
	op.Type = models.OperationType(typ)
	op.State = models.OperationState(state)
	op.Error = errText.String
	op.ErrorKind = errKind.String
	op.OutputPath = output.String
	if t, err := time.Parse(timeLayout, createdRaw); err == nil {
		op.CreatedAt = t
	}
	if done.Valid {
		if t, err := time.Parse(timeLayout, done.String); err == nil {
			op.CompletedAt = &t
		}
	}
	return op, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
