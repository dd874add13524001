package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Schema creates the call_results table used by PostgresRepo.
const Schema = `
CREATE TABLE IF NOT EXISTS call_results (
  call_id            TEXT PRIMARY KEY,
  provider_call_id   TEXT NOT NULL DEFAULT '',
  destination        TEXT NOT NULL,
  objective          TEXT NOT NULL,
  status             TEXT NOT NULL,
  end_reason         TEXT NOT NULL DEFAULT '',
  duration_seconds   DOUBLE PRECISION NOT NULL,
  transcript         JSONB NOT NULL,
  summary            TEXT NOT NULL,
  objective_achieved BOOLEAN NOT NULL,
  extracted_data     JSONB NOT NULL,
  error              TEXT NOT NULL DEFAULT '',
  started_at         TIMESTAMPTZ NOT NULL,
  ended_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_results_started_at_idx ON call_results (started_at);
`

// PostgresRepo stores results in the call_results table (see Schema).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveResult(ctx context.Context, call Call, res CallResult) error {
	transcript, err := json.Marshal(nonNilTranscript(res.Transcript))
	if err != nil {
		return fmt.Errorf("calls: encode transcript: %w", err)
	}
	extracted, err := json.Marshal(nonNilExtracted(res.ExtractedData))
	if err != nil {
		return fmt.Errorf("calls: encode extracted data: %w", err)
	}

	const q = `
INSERT INTO call_results (
  call_id, provider_call_id, destination, objective, status, end_reason, duration_seconds,
  transcript, summary, objective_achieved, extracted_data, error, started_at, ended_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (call_id) DO NOTHING
`
	_, err = r.db.ExecContext(ctx, q,
		res.CallID,
		res.ProviderCallID,
		call.To,
		call.Objective,
		string(res.Status),
		string(res.EndReason),
		res.DurationSeconds,
		transcript,
		res.Summary,
		res.ObjectiveAchieved,
		extracted,
		res.Error,
		res.StartedAt,
		res.EndedAt,
	)
	return err
}

const selectResult = `
SELECT call_id, provider_call_id, status, end_reason, duration_seconds, transcript,
       summary, objective_achieved, extracted_data, error, started_at, ended_at
FROM call_results
`

func (r *PostgresRepo) GetResult(ctx context.Context, callID string) (CallResult, error) {
	row := r.db.QueryRowContext(ctx, selectResult+"WHERE call_id = $1", callID)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallResult{}, ErrNotFound
		}
		return CallResult{}, err
	}
	return res, nil
}

func (r *PostgresRepo) ListResults(ctx context.Context, from, to time.Time) ([]CallResult, error) {
	rows, err := r.db.QueryContext(ctx, selectResult+"WHERE started_at >= $1 AND started_at < $2 ORDER BY started_at", from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallResult, 0)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (CallResult, error) {
	var (
		res        CallResult
		status     string
		reason     string
		transcript []byte
		extracted  []byte
	)
	if err := s.Scan(
		&res.CallID,
		&res.ProviderCallID,
		&status,
		&reason,
		&res.DurationSeconds,
		&transcript,
		&res.Summary,
		&res.ObjectiveAchieved,
		&extracted,
		&res.Error,
		&res.StartedAt,
		&res.EndedAt,
	); err != nil {
		return CallResult{}, err
	}
	res.Status = CallStatus(status)
	res.EndReason = EndReason(reason)
	if err := json.Unmarshal(transcript, &res.Transcript); err != nil {
		return CallResult{}, fmt.Errorf("calls: decode transcript: %w", err)
	}
	if err := json.Unmarshal(extracted, &res.ExtractedData); err != nil {
		return CallResult{}, fmt.Errorf("calls: decode extracted data: %w", err)
	}
	return res, nil
}

func nonNilTranscript(t []TranscriptEntry) []TranscriptEntry {
	if t == nil {
		return []TranscriptEntry{}
	}
	return t
}

func nonNilExtracted(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
