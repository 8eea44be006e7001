package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/thenexusengine/adslot/internal/ads"
)

// SlotStore reads slot configuration from the database
type SlotStore struct {
	db *sql.DB
}

// NewSlotStore creates a new slot store
func NewSlotStore(db *sql.DB) *SlotStore {
	return &SlotStore{db: db}
}

// List retrieves every configured slot
func (s *SlotStore) List(ctx context.Context) ([]ads.Slot, error) {
	query := `
		SELECT slot_type, capacity, min_bid_amount, reserve_price,
		       target_categories, target_keywords
		FROM ad_slots
		ORDER BY slot_type
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	slots := make([]ads.Slot, 0, 16)
	for rows.Next() {
		var slot ads.Slot
		var slotType string
		var reserve sql.NullFloat64

		err := rows.Scan(
			&slotType,
			&slot.Capacity,
			&slot.MinBidAmount,
			&reserve,
			pq.Array(&slot.TargetCategories),
			pq.Array(&slot.TargetKeywords),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot row: %w", err)
		}

		slot.Type = ads.SlotType(slotType)
		if reserve.Valid {
			slot.ReservePrice = &reserve.Float64
		}
		slots = append(slots, slot)
	}

	return slots, rows.Err()
}

// Table returns the built-in slot table with database rows applied on top
func (s *SlotStore) Table(ctx context.Context) (ads.SlotTable, error) {
	slots, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return ads.DefaultSlotTable().Merge(slots), nil
}

// Upsert creates or replaces a slot configuration
func (s *SlotStore) Upsert(ctx context.Context, slot ads.Slot) error {
	query := `
		INSERT INTO ad_slots (
			slot_type, capacity, min_bid_amount, reserve_price, target_categories, target_keywords
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slot_type) DO UPDATE SET
			capacity = EXCLUDED.capacity,
			min_bid_amount = EXCLUDED.min_bid_amount,
			reserve_price = EXCLUDED.reserve_price,
			target_categories = EXCLUDED.target_categories,
			target_keywords = EXCLUDED.target_keywords
	`

	categories := slot.TargetCategories
	if categories == nil {
		categories = []string{}
	}
	keywords := slot.TargetKeywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err := s.db.ExecContext(ctx, query,
		string(slot.Type),
		slot.Capacity,
		slot.MinBidAmount,
		nullFloat(slot.ReservePrice),
		pq.Array(categories),
		pq.Array(keywords),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert slot: %w", err)
	}
	return nil
}
