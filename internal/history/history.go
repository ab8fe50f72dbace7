// Package history keeps a bounded ledger of task lifecycle transitions in
// sqlite, for the UI task list and post-hoc debugging. It is advisory: the
// queue and result store drive the protocol, the ledger only records it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store abstracts the ledger so tests and single-process setups can swap the
// backend. Implementations must be safe for concurrent use.
type Store interface {
	InsertCreated(ctx context.Context, rec Record) error
	MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, taskID string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, taskID string) (*Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one task's lifecycle row.
type Record struct {
	TaskID      string
	Kind        string
	Model       string
	DocumentRef string
	Status      Status
	ErrorMsg    *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS task_history (
    task_id      VARCHAR(64) PRIMARY KEY,
    kind         VARCHAR(32)  NOT NULL,
    model        VARCHAR(64)  NOT NULL,
    document_ref VARCHAR(255) NOT NULL,
    status       VARCHAR(32)  NOT NULL,
    error_msg    TEXT         NULL,
    created_at   DATETIME     NOT NULL,
    started_at   DATETIME     NULL,
    finished_at  DATETIME     NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_created ON task_history(created_at);
`

// SQLStore is the sqlite-backed ledger.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// InitSchema creates the ledger table if it does not exist.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertCreated(ctx context.Context, rec Record) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `INSERT INTO task_history (task_id, kind, model, document_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, rec.TaskID, rec.Kind, rec.Model, rec.DocumentRef, string(StatusCreated), rec.CreatedAt.UTC())
	return err
}

func (s *SQLStore) MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE task_history SET status = ?, started_at = ? WHERE task_id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusInProgress), startedAt.UTC(), taskID)
	return err
}

func (s *SQLStore) MarkCompleted(ctx context.Context, taskID string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE task_history SET status = ?, finished_at = ? WHERE task_id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusCompleted), finishedAt.UTC(), taskID)
	return err
}

func (s *SQLStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE task_history SET status = ?, error_msg = ?, finished_at = ? WHERE task_id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusFailed), errorMsg, finishedAt.UTC(), taskID)
	return err
}

func (s *SQLStore) GetByID(ctx context.Context, taskID string) (*Record, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT task_id, kind, model, document_ref, status, error_msg, created_at, started_at, finished_at
		FROM task_history WHERE task_id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT task_id, kind, model, document_ref, status, error_msg, created_at, started_at, finished_at
		FROM task_history ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Prune deletes rows created before the cutoff, returning how many went.
func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := Record{}
	var status string
	var errorMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&rec.TaskID, &rec.Kind, &rec.Model, &rec.DocumentRef, &status, &errorMsg, &rec.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMsg = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
