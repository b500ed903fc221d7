package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // embedded driver

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/domain/model"
)

// SQLiteJobStore implements core.JobStore on an embedded SQLite database.
// It backs dev mode and tests, where a Postgres server is not available.
// Atomicity of TryCreate comes from running the check-then-insert inside an
// immediate transaction (single writer), with the partial unique index as a
// backstop.
type SQLiteJobStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.JobStore = (*SQLiteJobStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT '{}',
  singleflight_key TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  cancelled INTEGER NOT NULL DEFAULT 0,
  progress INTEGER,
  total_items INTEGER,
  result TEXT,
  error_message TEXT,
  metadata TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_singleflight_idx
  ON jobs (type, singleflight_key)
  WHERE status IN ('pending', 'running') AND cancelled = 0;
CREATE INDEX IF NOT EXISTS jobs_type_status_idx ON jobs (type, status);
CREATE INDEX IF NOT EXISTS jobs_completed_at_idx ON jobs (completed_at) WHERE completed_at IS NOT NULL;
`

// OpenSQLite opens (and initialises) the embedded job store at path.
// ":memory:" is accepted for throwaway stores.
func OpenSQLite(path string, cfg StoreConfig) (*SQLiteJobStore, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_txlock": []string{"immediate"},
		"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The immediate-transaction single-flight guarantee assumes one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &SQLiteJobStore{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteJobStore) Close() error {
	return s.DB.Close()
}

// TryCreate inserts a new pending record, enforcing the single-flight slot.
func (s *SQLiteJobStore) TryCreate(
	ctx context.Context,
	params model.CreateJobParams,
) (*model.JobRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	scopeJSON, err := marshalScope(params.Scope)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sfKey := singleflightKey(&params, id)
	now := s.timeProvider.Now().UTC()

	var conflictID string
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		if params.EnforceSingleFlight {
			selErr := tx.QueryRowContext(ctx, `
				SELECT id FROM jobs
				WHERE type = ? AND singleflight_key = ?
				  AND status IN ('pending', 'running') AND cancelled = 0
				ORDER BY created_at DESC
				LIMIT 1
			`, params.Type, sfKey).Scan(&conflictID)
			if selErr == nil {
				return ErrConflict
			}
			if !errors.Is(selErr, sql.ErrNoRows) {
				return fmt.Errorf("check single-flight slot: %w", selErr)
			}
		}

		_, insErr := tx.ExecContext(ctx, `
			INSERT INTO jobs(id, type, scope, singleflight_key, status, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
		`, id, params.Type, string(scopeJSON), sfKey,
			string(normalizeMetadata(params.Metadata)), now.UnixMilli(), now.UnixMilli())
		if insErr != nil {
			return fmt.Errorf("insert job: %w", insErr)
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrConflict) {
			return nil, &ConflictError{ExistingID: conflictID}
		}
		return nil, storageErr("try create", txErr)
	}

	return s.Get(ctx, id)
}

// Update applies a partial update to a non-terminal record.
func (s *SQLiteJobStore) Update(ctx context.Context, params model.UpdateJobParams) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	if !params.HasChanges() {
		return false, nil
	}

	now := s.timeProvider.Now().UTC().UnixMilli()
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if params.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *params.Status)
		if *params.Status == model.JobStatusRunning {
			sets = append(sets, "started_at = COALESCE(started_at, ?)")
			args = append(args, now)
		}
		if params.Status.Terminal() {
			sets = append(sets, "completed_at = ?")
			args = append(args, now)
		}
	}
	if params.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *params.ErrorMessage)
	}
	if len(params.Result) > 0 {
		sets = append(sets, "result = ?")
		args = append(args, string(params.Result))
	}
	if params.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *params.Progress)
	}
	if params.TotalItems != nil {
		sets = append(sets, "total_items = ?")
		args = append(args, *params.TotalItems)
	}
	if len(params.Metadata) > 0 {
		sets = append(sets, "metadata = ?")
		args = append(args, string(params.Metadata))
	}
	args = append(args, params.ID)

	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status IN ('pending', 'running')
	`, args...)
	if err != nil {
		return false, storageErr("update job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("update rows affected", err)
	}
	return affected > 0, nil
}

// Get retrieves a job record by its id.
func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id)

	rec, err := scanSQLiteJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return rec, nil
}

// List returns records matching the filter, newest first. Scope subset
// matching happens in Go; SQLite's JSON operators vary too much across
// builds to rely on.
func (s *SQLiteJobStore) List(
	ctx context.Context,
	filter model.JobListFilter,
) ([]*model.JobRecord, error) {
	where := []string{"1 = 1"}
	var args []any

	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+`
		FROM jobs
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	limit := filter.EffectiveLimit()
	var out []*model.JobRecord
	for rows.Next() {
		rec, scanErr := scanSQLiteJobRecord(rows)
		if scanErr != nil {
			return nil, storageErr("scan jobs", scanErr)
		}
		if !rec.Scope.Contains(filter.Scope) {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list jobs", err)
	}
	return out, nil
}

// Cancel marks the record cancelled if it is still pending or running.
func (s *SQLiteJobStore) Cancel(ctx context.Context, id string) (bool, error) {
	now := s.timeProvider.Now().UTC().UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET cancelled = 1,
		    status = 'cancelled',
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
	`, now, now, id)
	if err != nil {
		return false, storageErr("cancel job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("cancel rows affected", err)
	}
	return affected > 0, nil
}

// CancelRunningByType bulk-cancels non-terminal records of one type,
// narrowed by the optional metadata filter.
func (s *SQLiteJobStore) CancelRunningByType(
	ctx context.Context,
	params model.CancelByTypeParams,
) (int64, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}

	matcher, err := newMetadataMatcher(params.MetadataFilter)
	if err != nil {
		return 0, err
	}

	var cancelled int64
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, selectErr := s.selectCancelCandidates(ctx, tx, params.Type, matcher)
		if selectErr != nil {
			return selectErr
		}

		now := s.timeProvider.Now().UTC().UnixMilli()
		for _, id := range ids {
			res, execErr := tx.ExecContext(ctx, `
				UPDATE jobs
				SET cancelled = 1,
				    status = 'cancelled',
				    error_message = COALESCE(NULLIF(?, ''), error_message),
				    completed_at = ?,
				    updated_at = ?
				WHERE id = ? AND status IN ('pending', 'running')
			`, params.Reason, now, now, id)
			if execErr != nil {
				return fmt.Errorf("cancel job %s: %w", id, execErr)
			}
			n, raErr := res.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("rows affected: %w", raErr)
			}
			cancelled += n
		}
		return nil
	})
	if txErr != nil {
		return 0, storageErr("cancel running by type", txErr)
	}
	return cancelled, nil
}

func (s *SQLiteJobStore) selectCancelCandidates(
	ctx context.Context,
	tx *sql.Tx,
	jobType model.JobType,
	matcher *metadataMatcher,
) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, metadata FROM jobs
		WHERE type = ? AND status IN ('pending', 'running')
	`, jobType)
	if err != nil {
		return nil, fmt.Errorf("select cancel candidates: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var ids []string
	for rows.Next() {
		var id, metadata string
		if scanErr := rows.Scan(&id, &metadata); scanErr != nil {
			return nil, fmt.Errorf("scan cancel candidate: %w", scanErr)
		}
		if matcher.Match(json.RawMessage(metadata)) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkOrphaned forces every non-terminal record of the type into cancelled.
func (s *SQLiteJobStore) MarkOrphaned(
	ctx context.Context,
	params core.MarkOrphanedParams,
) (int64, error) {
	if !params.Type.Valid() {
		return 0, fmt.Errorf("invalid job type: %s", params.Type)
	}

	now := s.timeProvider.Now().UTC().UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    cancelled = 1,
		    error_message = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE type = ? AND status IN ('pending', 'running')
	`, params.Reason, now, now, params.Type)
	if err != nil {
		return 0, storageErr("mark orphaned", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("mark orphaned rows affected", err)
	}
	return affected, nil
}

// FailStaleJobs forces non-terminal records stuck past maxAge into failed.
func (s *SQLiteJobStore) FailStaleJobs(
	ctx context.Context,
	params core.FailStaleJobsParams,
) (int64, error) {
	if !params.Type.Valid() {
		return 0, fmt.Errorf("invalid job type: %s", params.Type)
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	currentTime := s.timeProvider.Now().UTC()
	cutoff := currentTime.Add(-params.MaxAge).UnixMilli()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = 'exceeded max age',
		    completed_at = ?,
		    updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE type = ?
			  AND status IN ('pending', 'running')
			  AND updated_at < ?
			ORDER BY updated_at
			LIMIT ?
		)
	`, currentTime.UnixMilli(), currentTime.UnixMilli(), params.Type, cutoff, params.BatchSize)
	if err != nil {
		return 0, storageErr("fail stale jobs", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("fail stale rows affected", err)
	}
	return affected, nil
}

// DeleteOlderThan hard-deletes terminal records past the retention window.
func (s *SQLiteJobStore) DeleteOlderThan(
	ctx context.Context,
	params core.DeleteOlderThanParams,
) (int64, error) {
	if params.Retention <= 0 {
		return 0, errors.New("retention must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	cutoff := s.timeProvider.Now().Add(-params.Retention).UTC().UnixMilli()

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN (`+terminalStatusList()+`)
			  AND completed_at IS NOT NULL
			  AND completed_at < ?
			ORDER BY completed_at
			LIMIT ?
		)
	`, cutoff, params.BatchSize)
	if err != nil {
		return 0, storageErr("delete older than", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete rows affected", err)
	}
	return affected, nil
}

func (s *SQLiteJobStore) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqliteJobColumns mirrors jobColumns; timestamps are stored as unix millis.
const sqliteJobColumns = `
  id,
  type,
  scope,
  status,
  cancelled,
  progress,
  total_items,
  result,
  error_message,
  metadata,
  created_at,
  updated_at,
  started_at,
  completed_at
`

func scanSQLiteJobRecord(scanner jobRowScanner) (*model.JobRecord, error) {
	rec := &model.JobRecord{}
	var (
		scope, metadata        string
		result, errorMessage   sql.NullString
		progress, totalItems   sql.NullInt64
		createdMs, updatedMs   int64
		startedMs, completedMs sql.NullInt64
	)

	if err := scanner.Scan(
		&rec.ID,
		&rec.Type,
		&scope,
		&rec.Status,
		&rec.Cancelled,
		&progress,
		&totalItems,
		&result,
		&errorMessage,
		&metadata,
		&createdMs,
		&updatedMs,
		&startedMs,
		&completedMs,
	); err != nil {
		return nil, err
	}

	if scope != "" {
		if err := json.Unmarshal([]byte(scope), &rec.Scope); err != nil {
			return nil, fmt.Errorf("decode scope: %w", err)
		}
	}
	if len(rec.Scope) == 0 {
		rec.Scope = nil
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}
	rec.Metadata = cloneJSON([]byte(metadata))
	rec.Progress = cloneNullableInt(progress)
	rec.TotalItems = cloneNullableInt(totalItems)
	rec.ErrorMessage = cloneNullableString(errorMessage)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64).UTC()
		rec.StartedAt = &t
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64).UTC()
		rec.CompletedAt = &t
	}
	return rec, nil
}
