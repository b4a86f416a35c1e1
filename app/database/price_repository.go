package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// PriceRepository handles price tracks keyed by content fingerprint
type PriceRepository struct {
	db *DB
}

func NewPriceRepository(db *DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// GetPriceTrack returns the track for a fingerprint, or nil if none exists.
func (r *PriceRepository) GetPriceTrack(fingerprint string) (*PriceTrack, error) {
	var t PriceTrack
	var firstSeen, updatedAt string
	err := r.db.QueryRow(`
		SELECT fingerprint, title, first_price, last_price, lowest_price, currency, drops, first_seen, updated_at
		FROM price_tracks
		WHERE fingerprint = ?
	`, fingerprint).Scan(&t.Fingerprint, &t.Title, &t.FirstPrice, &t.LastPrice, &t.LowestPrice, &t.Currency, &t.Drops, &firstSeen, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query price track: %w", err)
	}

	t.FirstSeen = parseTimestamp(firstSeen)
	t.UpdatedAt = parseTimestamp(updatedAt)
	return &t, nil
}

// UpsertPriceTrack writes the track, creating it on first sight. first_price
// and first_seen are immutable after creation.
func (r *PriceRepository) UpsertPriceTrack(track PriceTrack) error {
	_, err := r.db.Exec(`
		INSERT INTO price_tracks (fingerprint, title, first_price, last_price, lowest_price, currency, drops)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			title = excluded.title,
			last_price = excluded.last_price,
			lowest_price = excluded.lowest_price,
			currency = excluded.currency,
			drops = excluded.drops,
			updated_at = CURRENT_TIMESTAMP
	`, track.Fingerprint, track.Title, track.FirstPrice, track.LastPrice, track.LowestPrice, track.Currency, track.Drops)
	if err != nil {
		return fmt.Errorf("failed to upsert price track: %w", err)
	}
	return nil
}
