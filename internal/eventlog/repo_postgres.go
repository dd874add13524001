package eventlog

import (
	"context"
	"database/sql"

	"phonon/internal/calls"
)

// Schema creates the call_events table used by PostgresRepo.
const Schema = `
CREATE TABLE IF NOT EXISTS call_events (
  id          UUID PRIMARY KEY,
  call_id     TEXT NOT NULL,
  type        TEXT NOT NULL,
  data        JSONB,
  occurred_at TIMESTAMPTZ NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_events_call_id_idx ON call_events (call_id, created_at);
`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_events (id, call_id, type, data, occurred_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	var data any
	if len(rec.Data) > 0 {
		data = string(rec.Data)
	}
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.CallID, string(rec.Type), data, rec.OccurredAt, rec.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, callID string) ([]Record, error) {
	const q = `
SELECT id, call_id, type, data, occurred_at, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec  Record
			typ  string
			data sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.CallID, &typ, &data, &rec.OccurredAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = calls.EventType(typ)
		if data.Valid {
			rec.Data = []byte(data.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
