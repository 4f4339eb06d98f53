package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"retrieval-audit-cli/internal/prober"
)

// Run is one archived audit run.
type Run struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	TotalChecks int64      `json:"total_checks"`
}

func (db *DB) CreateRun(ctx context.Context, id, mode string) error {
	_, err := db.pool.Exec(ctx, "INSERT INTO runs (id, mode) VALUES ($1, $2)", id, mode)
	return err
}

func (db *DB) FinishRun(ctx context.Context, id string, totalChecks int64) error {
	_, err := db.pool.Exec(ctx,
		"UPDATE runs SET finished_at = NOW(), total_checks = $2 WHERE id = $1", id, totalChecks)
	return err
}

var resultColumns = []string{
	"run_id", "retrieval_type", "piece_cid", "cid", "preparation",
	"provider_id", "provider_name", "url", "checked_at", "status",
	"status_code", "content_length", "error_message", "response_body",
	"response_time_ms",
}

// InsertResults bulk-copies probe results into the archive.
func (db *DB) InsertResults(ctx context.Context, runID string, list []prober.Result) (int64, error) {
	return db.pool.CopyFrom(ctx, pgx.Identifier{"probe_results"}, resultColumns,
		pgx.CopyFromSlice(len(list), func(i int) ([]any, error) {
			r := list[i]
			var checkedAt *time.Time
			if ts, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
				checkedAt = &ts
			}
			return []any{
				runID, string(r.Kind), r.PieceCID, r.CID, r.Preparation,
				r.ProviderID, r.ProviderName, r.URL, checkedAt, r.Status,
				r.StatusCode, r.ContentLength, r.ErrorMessage, r.ResponseBody,
				r.ResponseTimeMS,
			}, nil
		}))
}

func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT id, mode, started_at, finished_at, total_checks FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.TotalChecks); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// RunResults returns the archived probe results of one run.
func (db *DB) RunResults(ctx context.Context, runID string) ([]prober.Result, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT retrieval_type, piece_cid, cid, preparation, provider_id,
		       provider_name, url, checked_at, status, status_code,
		       content_length, error_message, response_body, response_time_ms
		FROM probe_results
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []prober.Result
	for rows.Next() {
		var (
			r         prober.Result
			kind      string
			checkedAt *time.Time
			cid       *string
			prep      *string
			name      *string
			url       *string
			errMsg    *string
			body      *string
		)
		if err := rows.Scan(&kind, &r.PieceCID, &cid, &prep, &r.ProviderID,
			&name, &url, &checkedAt, &r.Status, &r.StatusCode,
			&r.ContentLength, &errMsg, &body, &r.ResponseTimeMS); err != nil {
			return nil, err
		}
		r.Kind = prober.Kind(kind)
		r.CID = deref(cid)
		r.Preparation = deref(prep)
		r.ProviderName = deref(name)
		r.URL = deref(url)
		r.ErrorMessage = deref(errMsg)
		r.ResponseBody = deref(body)
		if checkedAt != nil {
			r.Timestamp = checkedAt.UTC().Format(time.RFC3339)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
