package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data/pgxutil"
	"github.com/contentops/jobcore/internal/domain/model"
)

// StoreConfig holds configuration options for job stores.
type StoreConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// PostgresJobStore implements core.JobStore on PostgreSQL. Single-flight is
// enforced by a partial unique index on (type, singleflight_key) over
// non-terminal rows, so concurrent TryCreate calls racing on the same slot
// are serialised by the database, never by the caller.
type PostgresJobStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a PostgresJobStore with the given database connection.
func NewPostgresJobStore(db *sql.DB, cfg StoreConfig) *PostgresJobStore {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &PostgresJobStore{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// singleflightKey returns the value stored in the guarded index column.
// Bypassing single-flight keys the row on its own id so the partial unique
// index never sees two identical live keys.
func singleflightKey(params *model.CreateJobParams, id string) string {
	if params.EnforceSingleFlight {
		return params.Scope.Key()
	}
	return id
}

// TryCreate inserts a new pending record, enforcing the single-flight slot.
func (s *PostgresJobStore) TryCreate(
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
	now := s.timeProvider.Now().UTC()

	var rec *model.JobRecord
	txErr := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				INSERT INTO jobs(id, type, scope, singleflight_key, status, metadata, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)
				RETURNING `+jobColumns,
				id, params.Type, scopeJSON, singleflightKey(&params, id), normalizeMetadata(params.Metadata), now)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			var collectErr error
			rec, collectErr = collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}
			return nil
		},
	})
	if txErr != nil {
		if isUniqueViolation(txErr) {
			return nil, s.conflictFor(ctx, params.Type, params.Scope.Key())
		}
		return nil, storageErr("try create", txErr)
	}

	return rec, nil
}

// conflictFor resolves the id currently holding the single-flight slot.
func (s *PostgresJobStore) conflictFor(ctx context.Context, jobType model.JobType, scopeKey string) error {
	var existingID string
	err := s.DB.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE type = $1 AND singleflight_key = $2
		  AND status IN ('pending', 'running') AND NOT cancelled
		ORDER BY created_at DESC
		LIMIT 1
	`, jobType, scopeKey).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageErr("resolve conflict", err)
	}
	return &ConflictError{ExistingID: existingID}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Update applies a partial update to a non-terminal record.
func (s *PostgresJobStore) Update(ctx context.Context, params model.UpdateJobParams) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	if !params.HasChanges() {
		return false, nil
	}

	query, args := s.buildUpdateQuery(&params)
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storageErr("update job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("update rows affected", err)
	}
	return affected > 0, nil
}

// buildUpdateQuery assembles the partial UPDATE. started_at is stamped on
// the first transition into running, completed_at on any terminal
// transition; the WHERE clause keeps terminal records immutable.
func (s *PostgresJobStore) buildUpdateQuery(params *model.UpdateJobParams) (string, []any) {
	now := s.timeProvider.Now().UTC()
	args := []any{params.ID, now}
	sets := []string{"updated_at = $2"}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
		if *params.Status == model.JobStatusRunning {
			sets = append(sets, "started_at = COALESCE(started_at, $2)")
		}
		if params.Status.Terminal() {
			sets = append(sets, "completed_at = $2")
		}
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if len(params.Result) > 0 {
		add("result", []byte(params.Result))
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.TotalItems != nil {
		add("total_items", *params.TotalItems)
	}
	if len(params.Metadata) > 0 {
		add("metadata", []byte(params.Metadata))
	}

	query := `
		UPDATE jobs
		SET ` + strings.Join(sets, ",\n		    ") + `
		WHERE id = $1 AND status IN ('pending', 'running')`
	return query, args
}

// Get retrieves a job record by its id.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	rec, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return rec, nil
}

// List returns records matching the filter, newest first.
func (s *PostgresJobStore) List(
	ctx context.Context,
	filter model.JobListFilter,
) ([]*model.JobRecord, error) {
	where := []string{"TRUE"}
	var args []any

	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			args = append(args, st)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Scope) > 0 {
		scopeJSON, err := marshalScope(filter.Scope)
		if err != nil {
			return nil, err
		}
		args = append(args, scopeJSON)
		where = append(where, fmt.Sprintf("scope @> $%d::jsonb", len(args)))
	}

	args = append(args, filter.EffectiveLimit())
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
		LIMIT $` + fmt.Sprintf("%d", len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}

	recs, err := collectJobsFromSQLRows(rows)
	if err != nil {
		return nil, storageErr("scan jobs", err)
	}
	return recs, nil
}

// Cancel marks the record cancelled. Only pending and running records are
// non-terminal, so one guarded UPDATE covers both halves of the contract.
func (s *PostgresJobStore) Cancel(ctx context.Context, id string) (bool, error) {
	now := s.timeProvider.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET cancelled = TRUE,
		    status = 'cancelled',
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, now)
	if err != nil {
		return false, storageErr("cancel job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("cancel rows affected", err)
	}
	return affected > 0, nil
}

// CancelRunningByType bulk-cancels non-terminal records of one type. The
// metadata filter is evaluated in Go over candidates locked inside one
// transaction so unrelated runs of the same type stay untouched.
func (s *PostgresJobStore) CancelRunningByType(
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
	txErr := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			ids, selectErr := s.selectCancelCandidates(ctx, tx, params.Type, matcher)
			if selectErr != nil {
				return selectErr
			}

			now := s.timeProvider.Now().UTC()
			for _, id := range ids {
				res, execErr := tx.ExecContext(ctx, `
					UPDATE jobs
					SET cancelled = TRUE,
					    status = 'cancelled',
					    error_message = COALESCE(NULLIF($3, ''), error_message),
					    completed_at = $2,
					    updated_at = $2
					WHERE id = $1 AND status IN ('pending', 'running')
				`, id, now, params.Reason)
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
		},
	})
	if txErr != nil {
		return 0, storageErr("cancel running by type", txErr)
	}
	return cancelled, nil
}

func (s *PostgresJobStore) selectCancelCandidates(
	ctx context.Context,
	tx *sql.Tx,
	jobType model.JobType,
	matcher *metadataMatcher,
) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, metadata FROM jobs
		WHERE type = $1 AND status IN ('pending', 'running')
		FOR UPDATE
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
		var id string
		var metadata []byte
		if scanErr := rows.Scan(&id, &metadata); scanErr != nil {
			return nil, fmt.Errorf("scan cancel candidate: %w", scanErr)
		}
		if matcher.Match(metadata) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
