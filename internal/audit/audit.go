// Package audit records processed requests in the optional audit database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsbridge/kubebridge/internal/log"
)

// Entry is one processed request.
type Entry struct {
	RequestID string
	Method    string
	// Status is "ok" or "error".
	Status   string
	Error    string
	Duration time.Duration
}

// Recorder writes entries to the audit database. A nil *Recorder is a valid
// no-op, so callers never need to branch on whether auditing is enabled.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecorder creates a Recorder over an open audit database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db, logger: log.WithComponent("audit")}
}

// Record inserts one entry. Failures are logged, never returned: auditing is
// best-effort and must not affect the response stream.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}

	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invocation_log (id, method, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Method, e.Status, errText,
		e.Duration.Milliseconds(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Error("failed to record invocation", "request_id", e.RequestID, "error", err)
	}
}

// MethodCount is a per-method ok/error tally.
type MethodCount struct {
	Method string `json:"method"`
	OK     int64  `json:"ok"`
	Errors int64  `json:"errors"`
}

// Stats aggregates the audit log by method.
func (r *Recorder) Stats(ctx context.Context) ([]MethodCount, error) {
	if r == nil {
		return nil, fmt.Errorf("auditing is not enabled")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT method,
		        SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		 FROM invocation_log GROUP BY method ORDER BY method`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []MethodCount
	for rows.Next() {
		var mc MethodCount
		if err := rows.Scan(&mc.Method, &mc.OK, &mc.Errors); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}
