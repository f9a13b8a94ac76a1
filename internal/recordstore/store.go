// Package recordstore persists job records together with an ordered change log.
//
// Every mutation commits the record and its change entry in one transaction, so the
// change feed sees each committed write exactly once and in commit order.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	"github.com/jmoiron/sqlx"
)

const recordColumns = `id, input_text, input_file_path, output_file_path, status, error_message, created_at, updated_at`

// jobRow is the stored form of a domain.JobRecord; timestamps are unix milliseconds
type jobRow struct {
	ID             string  `db:"id"`
	InputText      *string `db:"input_text"`
	InputFilePath  *string `db:"input_file_path"`
	OutputFilePath *string `db:"output_file_path"`
	Status         string  `db:"status"`
	ErrorMessage   *string `db:"error_message"`
	CreatedAt      int64   `db:"created_at"`
	UpdatedAt      int64   `db:"updated_at"`
}

func (r *jobRow) record() domain.JobRecord {
	return domain.JobRecord{
		ID:             r.ID,
		InputText:      r.InputText,
		InputFilePath:  r.InputFilePath,
		OutputFilePath: r.OutputFilePath,
		Status:         r.Status,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// Store is a sqlx-backed record store for one job table
type Store struct {
	db      *sqlx.DB
	table   string
	changes string
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a store over table. The table and its change log are created by Migrate.
func New(db *sqlx.DB, table string, logger *slog.Logger) (*Store, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	return &Store{
		db:      db,
		table:   table,
		changes: table + "_changes",
		now:     time.Now,
		logger:  logger,
	}, nil
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Table returns the job table name
func (s *Store) Table() string {
	return s.table
}

// Migrate creates the job table and its change log if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.db.DriverName(), s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", s.table, err)
		}
	}

	s.logger.Info("Record store schema ready",
		slog.String("table", s.table),
		slog.String("driver", s.db.DriverName()),
	)
	return nil
}

// Submit inserts a new pending record. An id that is already taken yields a
// *domain.WriteError wrapping domain.ErrDuplicateJob.
func (s *Store) Submit(ctx context.Context, id string, inputText, inputFilePath *string) (*domain.JobRecord, error) {
	now := s.now().UnixMilli()
	row := jobRow{
		ID:            id,
		InputText:     inputText,
		InputFilePath: inputFilePath,
		Status:        domain.JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(fmt.Sprintf(`
			INSERT INTO %s (%s)
			VALUES (?, ?, ?, NULL, ?, NULL, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, s.table, recordColumns))

		res, err := tx.ExecContext(ctx, query,
			row.ID,
			row.InputText,
			row.InputFilePath,
			row.Status,
			row.CreatedAt,
			row.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrDuplicateJob
		}

		return s.appendChange(ctx, tx, domain.EventInsert, row)
	})
	if err != nil {
		return nil, &domain.WriteError{Op: "submit", ID: id, Err: err}
	}

	s.logger.Info("Job record created",
		slog.String("job_id", id),
		slog.Bool("has_text", inputText != nil),
		slog.Bool("has_file", inputFilePath != nil),
	)

	rec := row.record()
	return &rec, nil
}

// RecordCompletion sets the output reference of a job and marks it done. A job
// that already has an output is left untouched and domain.ErrAlreadyCompleted is returned.
func (s *Store) RecordCompletion(ctx context.Context, id, outputFilePath string) error {
	if outputFilePath == "" {
		return &domain.WriteError{Op: "complete", ID: id, Err: errors.New("output file path is required")}
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(fmt.Sprintf(`
			UPDATE %s
			SET output_file_path = ?,
			    status = ?,
			    error_message = NULL,
			    updated_at = ?
			WHERE id = ? AND output_file_path IS NULL
		`, s.table))

		return s.mutate(ctx, tx, id, query, outputFilePath, domain.JobStatusDone, s.now().UnixMilli(), id)
	})
	if err != nil {
		return &domain.WriteError{Op: "complete", ID: id, Err: err}
	}

	s.logger.Info("Job completion recorded",
		slog.String("job_id", id),
		slog.String("output_file_path", outputFilePath),
	)
	return nil
}

// UpdateStatus moves an incomplete job to running or failed. Completed jobs are never regressed.
func (s *Store) UpdateStatus(ctx context.Context, id, status, message string) error {
	switch status {
	case domain.JobStatusRunning, domain.JobStatusFailed:
	default:
		return &domain.WriteError{Op: "update status", ID: id, Err: fmt.Errorf("status %q cannot be set directly", status)}
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(fmt.Sprintf(`
			UPDATE %s
			SET status = ?,
			    error_message = ?,
			    updated_at = ?
			WHERE id = ? AND output_file_path IS NULL
		`, s.table))

		return s.mutate(ctx, tx, id, query, status, domain.StringPtr(message), s.now().UnixMilli(), id)
	})
	if err != nil {
		return &domain.WriteError{Op: "update status", ID: id, Err: err}
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("status", status),
	)
	return nil
}

// mutate runs a guarded UPDATE and appends a MODIFY change with the new image
func (s *Store) mutate(ctx context.Context, tx *sqlx.Tx, id, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.getRow(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyCompleted
	}

	row, err := s.getRow(ctx, tx, id)
	if err != nil {
		return err
	}
	return s.appendChange(ctx, tx, domain.EventModify, *row)
}

// Get retrieves a job record by id
func (s *Store) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	row, err := s.getRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

func (s *Store) getRow(ctx context.Context, q sqlx.QueryerContext, id string) (*jobRow, error) {
	query := sqlx.Rebind(sqlx.BindType(s.db.DriverName()),
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, recordColumns, s.table))

	var row jobRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &row, nil
}

// JobFilter narrows and pages a listing
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position after which a page starts
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns records newest first. One extra record beyond PageSize is
// fetched so the caller can tell whether another page exists.
func (s *Store) List(ctx context.Context, filter JobFilter) ([]domain.JobRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, recordColumns, s.table)
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		ms := filter.Cursor.CreatedAt.UnixMilli()
		args = append(args, ms, ms, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	records := make([]domain.JobRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].record())
	}
	return records, nil
}

func (s *Store) appendChange(ctx context.Context, tx *sqlx.Tx, name string, row jobRow) error {
	payload, err := feed.Encode(domain.ChangeEvent{Name: name, Record: row.record()})
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}

	query := tx.Rebind(fmt.Sprintf(`
		INSERT INTO %s (job_id, event_name, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, s.changes))

	if _, err := tx.ExecContext(ctx, query, row.ID, name, string(payload), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

// PendingChanges returns unpublished changes in commit order
func (s *Store) PendingChanges(ctx context.Context, limit int) ([]feed.OutboxEntry, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT seq, job_id, event_name, payload, created_at
		FROM %s
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT ?
	`, s.changes))

	var entries []feed.OutboxEntry
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to read pending changes: %w", err)
	}
	return entries, nil
}

// MarkPublished flags a change as delivered to the feed
func (s *Store) MarkPublished(ctx context.Context, seq int64) error {
	query := s.db.Rebind(fmt.Sprintf(`UPDATE %s SET published_at = ? WHERE seq = ?`, s.changes))
	if _, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), seq); err != nil {
		return fmt.Errorf("failed to mark change %d published: %w", seq, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
