package sqlite

import (
	"fmt"
	"strconv"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

// ─── Weight Snapshots ───────────────────────────────────────────────────────

// weightsSavedKey marks in node_info that a snapshot exists, even an empty one.
const weightsSavedKey = "weights_saved_at"

// SaveWeights replaces the stored snapshot with entries in one transaction.
func (d *DB) SaveWeights(entries []domain.WeightEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM link_weights`); err != nil {
		return fmt.Errorf("clear weights: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO link_weights (peer_id, weight, saved_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if _, err := stmt.Exec(e.PeerID, e.Weight, now); err != nil {
			return fmt.Errorf("insert weight %s: %w", e.PeerID, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		weightsSavedKey, strconv.FormatInt(now, 10),
	); err != nil {
		return fmt.Errorf("mark snapshot: %w", err)
	}
	return tx.Commit()
}

// LoadWeights returns the stored snapshot ordered by peer id. A snapshot
// saved with no peers loads as an empty slice; ErrNoSnapshot means nothing
// was ever saved.
func (d *DB) LoadWeights() ([]domain.WeightEntry, error) {
	rows, err := d.db.Query(`SELECT peer_id, weight FROM link_weights ORDER BY peer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeightEntry
	for rows.Next() {
		var e domain.WeightEntry
		if err := rows.Scan(&e.PeerID, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan weight: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}
	saved, err := d.GetNodeInfo(weightsSavedKey)
	if err != nil {
		return nil, err
	}
	if saved == "" {
		return nil, domain.ErrNoSnapshot
	}
	return []domain.WeightEntry{}, nil
}
