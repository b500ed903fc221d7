package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data/pgxutil"
)

// Advisory lock namespace for recovery sweeps.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for jobcore recovery operations.
const (
	advisoryLockSweepMajor     = 2000
	advisoryLockSweepStale     = 1 // minor key for FailStaleJobs
	advisoryLockSweepRetention = 2 // minor key for DeleteOlderThan
)

// MarkOrphaned forces every non-terminal record of the given type into
// cancelled. Runs at process start before the scheduler's first tick; not
// batched because a restart leaves at most a handful of live rows per type.
func (s *PostgresJobStore) MarkOrphaned(
	ctx context.Context,
	params core.MarkOrphanedParams,
) (int64, error) {
	if !params.Type.Valid() {
		return 0, fmt.Errorf("invalid job type: %s", params.Type)
	}

	now := s.timeProvider.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    cancelled = TRUE,
		    error_message = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE type = $1 AND status IN ('pending', 'running')
	`, params.Type, params.Reason, now)
	if err != nil {
		return 0, storageErr("mark orphaned", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("mark orphaned rows affected", err)
	}
	return affected, nil
}

// FailStaleJobs forces non-terminal records of the given type whose
// updated_at is older than maxAge into failed. Processes up to batchSize
// rows per call to prevent long locks and I/O spikes. Uses advisory locks
// so concurrent recovery instances do not conflict.
func (s *PostgresJobStore) FailStaleJobs(
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

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, lockErr := tryAdvisoryLock(ctx, tx, advisoryLockSweepStale)
			if lockErr != nil {
				return lockErr
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := s.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.MaxAge)

			res, execErr := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'failed',
				    error_message = 'exceeded max age',
				    completed_at = $1,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE type = $2
					  AND status IN ('pending', 'running')
					  AND updated_at < $3
					ORDER BY updated_at
					LIMIT $4
				)
			`, currentTime.UTC(), params.Type, cutoffTime.UTC(), params.BatchSize)
			if execErr != nil {
				return fmt.Errorf("fail stale jobs: %w", execErr)
			}

			ra, raErr := res.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("rows affected: %w", raErr)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, storageErr("fail stale jobs", err)
	}
	return rowsAffected, nil
}

// DeleteOlderThan hard-deletes terminal records whose completed_at predates
// the retention window. Non-terminal rows are never deleted regardless of
// age. Batched and advisory-locked like FailStaleJobs.
func (s *PostgresJobStore) DeleteOlderThan(
	ctx context.Context,
	params core.DeleteOlderThanParams,
) (int64, error) {
	if params.Retention <= 0 {
		return 0, errors.New("retention must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, lockErr := tryAdvisoryLock(ctx, tx, advisoryLockSweepRetention)
			if lockErr != nil {
				return lockErr
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := s.timeProvider.Now().Add(-params.Retention).UTC()

			res, execErr := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN (`+terminalStatusList()+`)
					  AND completed_at IS NOT NULL
					  AND completed_at < $1
					ORDER BY completed_at
					LIMIT $2
				)
			`, cutoffTime, params.BatchSize)
			if execErr != nil {
				return fmt.Errorf("delete old jobs: %w", execErr)
			}

			ra, raErr := res.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("rows affected: %w", raErr)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, storageErr("delete older than", err)
	}
	return rowsAffected, nil
}

func tryAdvisoryLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(
		ctx,
		"SELECT pg_try_advisory_xact_lock($1, $2)",
		advisoryLockSweepMajor,
		minor,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

func terminalStatusList() string {
	return strings.Join([]string{
		"'completed'",
		"'failed'",
		"'partial_failure'",
		"'cancelled'",
	}, ", ")
}
