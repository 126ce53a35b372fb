package sqlite

import (
	"fmt"

	"github.com/soma-network/soma/internal/domain"
)

// ─── Causal Traces ──────────────────────────────────────────────────────────

// InsertTrace stores one trace and returns its id.
func (d *DB) InsertTrace(trace domain.CausalTrace) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO causal_traces (cause, effect, delta, timestamp_ms) VALUES (?, ?, ?, ?)`,
		trace.Cause, trace.Effect, trace.Delta, trace.TimestampMs,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecentTraces returns up to limit traces, newest first.
func (d *DB) RecentTraces(limit int) ([]domain.CausalTrace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT id, cause, effect, delta, timestamp_ms FROM causal_traces
		 ORDER BY timestamp_ms DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CausalTrace
	for rows.Next() {
		var t domain.CausalTrace
		if err := rows.Scan(&t.ID, &t.Cause, &t.Effect, &t.Delta, &t.TimestampMs); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTraces keeps the newest keep traces and deletes the rest. It returns
// how many were removed. A non-positive keep removes nothing.
func (d *DB) PruneTraces(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	result, err := d.db.Exec(
		`DELETE FROM causal_traces WHERE id NOT IN (
			SELECT id FROM causal_traces ORDER BY id DESC LIMIT ?)`, keep,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountTraces returns the number of stored traces.
func (d *DB) CountTraces() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM causal_traces`).Scan(&n)
	return n, err
}
