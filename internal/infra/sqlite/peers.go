package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

// ─── Peer Repository ────────────────────────────────────────────────────────

// UpsertPeer inserts or updates a registered peer.
func (d *DB) UpsertPeer(rec domain.PeerRecord) error {
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = time.Now()
	}
	_, err := d.db.Exec(
		`INSERT INTO peers (peer_id, url, registered_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET url=excluded.url`,
		rec.ID, rec.URL, rec.RegisteredAt.UnixMilli(),
	)
	return err
}

// GetPeer retrieves a registered peer, nil if absent.
func (d *DB) GetPeer(id string) (*domain.PeerRecord, error) {
	row := d.db.QueryRow(`SELECT peer_id, url, registered_at FROM peers WHERE peer_id = ?`, id)
	return scanPeer(row)
}

// ListPeers returns every registered peer, oldest registration first.
func (d *DB) ListPeers() ([]domain.PeerRecord, error) {
	rows, err := d.db.Query(`SELECT peer_id, url, registered_at FROM peers ORDER BY registered_at, peer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []domain.PeerRecord
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, *p)
	}
	return peers, rows.Err()
}

// DeletePeer removes a registered peer.
func (d *DB) DeletePeer(id string) error {
	result, err := d.db.Exec(`DELETE FROM peers WHERE peer_id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrPeerNotFound
	}
	return nil
}

func scanPeer(s scanner) (*domain.PeerRecord, error) {
	var p domain.PeerRecord
	var registeredAt int64

	err := s.Scan(&p.ID, &p.URL, &registeredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan peer: %w", err)
	}
	p.RegisteredAt = time.UnixMilli(registeredAt)
	return &p, nil
}
