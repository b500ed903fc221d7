package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/contentops/jobcore/internal/domain/model"
)

// jobColumns is the canonical select list for job records. The
// singleflight_key column is an index implementation detail and is never
// surfaced on the model.
const jobColumns = `
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

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	scope, result, metadata []byte
	progress, totalItems    sql.NullInt64
	errorMessage            sql.NullString
	startedAt, completedAt  sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, rec *model.JobRecord) error {
	return scanner.Scan(
		&rec.ID,
		&rec.Type,
		&d.scope,
		&rec.Status,
		&rec.Cancelled,
		&d.progress,
		&d.totalItems,
		&d.result,
		&d.errorMessage,
		&d.metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&d.startedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(rec *model.JobRecord) error {
	if len(d.scope) > 0 {
		if err := json.Unmarshal(d.scope, &rec.Scope); err != nil {
			return fmt.Errorf("decode scope: %w", err)
		}
	}
	if len(rec.Scope) == 0 {
		rec.Scope = nil
	}

	if len(d.result) > 0 {
		rec.Result = append(json.RawMessage(nil), d.result...)
	}
	rec.Metadata = cloneJSON(d.metadata)
	rec.Progress = cloneNullableInt(d.progress)
	rec.TotalItems = cloneNullableInt(d.totalItems)
	rec.ErrorMessage = cloneNullableString(d.errorMessage)
	rec.StartedAt = cloneNullableTime(d.startedAt)
	rec.CompletedAt = cloneNullableTime(d.completedAt)
	return nil
}

func scanJobRecord(scanner jobRowScanner) (*model.JobRecord, error) {
	rec := &model.JobRecord{}
	var data jobRowData
	if err := data.scanInto(scanner, rec); err != nil {
		return nil, err
	}
	if err := data.apply(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// collectJobFromRows collects a single job record from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.JobRecord, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	rec, err := scanJobRecord(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return rec, nil
}

// collectJobsFromSQLRows drains *sql.Rows into job records.
func collectJobsFromSQLRows(rows *sql.Rows) ([]*model.JobRecord, error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var out []*model.JobRecord
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func cloneNullableInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func marshalScope(scope model.Scope) ([]byte, error) {
	if len(scope) == 0 {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("marshal scope: %w", err)
	}
	return b, nil
}

func normalizeMetadata(meta json.RawMessage) []byte {
	if len(meta) == 0 {
		return []byte(`{}`)
	}
	return meta
}
