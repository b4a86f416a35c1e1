package database

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// DeliveryRepository handles the durable delivered-item ledger
type DeliveryRepository struct {
	db *DB
}

func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// DeliveryExists reports whether the external item id was ever delivered.
func (r *DeliveryRepository) DeliveryExists(itemID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(`SELECT 1 FROM deliveries WHERE item_id = ?`, itemID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check delivery: %w", err)
}

// RecordDelivery inserts the delivered fact. Idempotent: replaying the same
// item id is a no-op.
func (r *DeliveryRepository) RecordDelivery(rec DeliveryRecord) error {
	query, args, err := sq.Insert("deliveries").
		Columns("item_id", "source_id", "title", "price", "currency").
		Values(rec.ItemID, rec.SourceID, rec.Title, rec.Price, rec.Currency).
		Suffix("ON CONFLICT(item_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delivery insert: %w", err)
	}

	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) GetDeliveryCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}
