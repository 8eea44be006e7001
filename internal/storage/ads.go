package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/thenexusengine/adslot/internal/ads"
)

// AdStore reads ads from the database
type AdStore struct {
	db *sql.DB
}

// NewAdStore creates a new ad store
func NewAdStore(db *sql.DB) *AdStore {
	return &AdStore{db: db}
}

const adColumns = `
	id, campaign_id, advertiser_id, title, description, landing_page_url,
	bid_amount, max_bid_amount, quality_score, status, is_active, is_approved,
	impressions, clicks, conversions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAd(row rowScanner) (*ads.Ad, error) {
	var a ads.Ad
	var maxBid, quality sql.NullFloat64
	var status string

	err := row.Scan(
		&a.ID,
		&a.CampaignID,
		&a.AdvertiserID,
		&a.Title,
		&a.Description,
		&a.LandingPageURL,
		&a.BidAmount,
		&maxBid,
		&quality,
		&status,
		&a.IsActive,
		&a.IsApproved,
		&a.Impressions,
		&a.Clicks,
		&a.Conversions,
	)
	if err != nil {
		return nil, err
	}

	a.Status = ads.AdStatus(status)
	if maxBid.Valid {
		a.MaxBidAmount = &maxBid.Float64
	}
	if quality.Valid {
		a.QualityScore = &quality.Float64
	}
	return &a, nil
}

// Get retrieves one ad. Returns nil, nil when the ad does not exist.
func (s *AdStore) Get(ctx context.Context, id string) (*ads.Ad, error) {
	query := `SELECT` + adColumns + ` FROM ads WHERE id = $1`

	a, err := scanAd(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Ad not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ad: %w", err)
	}
	return a, nil
}

// ListCandidates returns the ads placed on slotType. Status and approval are
// not filtered here; eligibility reports those as exclusions.
func (s *AdStore) ListCandidates(ctx context.Context, slotType ads.SlotType) ([]*ads.Ad, error) {
	query := `SELECT` + adColumns + `
		FROM ads
		WHERE $1 = ANY(slot_types)
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, string(slotType))
	if err != nil {
		return nil, fmt.Errorf("failed to query ads: %w", err)
	}
	defer rows.Close()

	candidates := make([]*ads.Ad, 0, 64)
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad row: %w", err)
		}
		candidates = append(candidates, a)
	}

	return candidates, rows.Err()
}

// Upsert creates or replaces an ad and the slots it is placed on
func (s *AdStore) Upsert(ctx context.Context, a *ads.Ad, slotTypes []ads.SlotType) error {
	query := `
		INSERT INTO ads (
			id, campaign_id, advertiser_id, title, description, landing_page_url,
			bid_amount, max_bid_amount, quality_score, status, is_active, is_approved,
			impressions, clicks, conversions, slot_types
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			advertiser_id = EXCLUDED.advertiser_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			landing_page_url = EXCLUDED.landing_page_url,
			bid_amount = EXCLUDED.bid_amount,
			max_bid_amount = EXCLUDED.max_bid_amount,
			quality_score = EXCLUDED.quality_score,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			is_approved = EXCLUDED.is_approved,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			conversions = EXCLUDED.conversions,
			slot_types = EXCLUDED.slot_types,
			updated_at = now()
	`

	placements := make([]string, len(slotTypes))
	for i, t := range slotTypes {
		placements[i] = string(t)
	}

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.CampaignID,
		a.AdvertiserID,
		a.Title,
		a.Description,
		a.LandingPageURL,
		a.BidAmount,
		nullFloat(a.MaxBidAmount),
		nullFloat(a.QualityScore),
		string(a.Status),
		a.IsActive,
		a.IsApproved,
		a.Impressions,
		a.Clicks,
		a.Conversions,
		pq.Array(placements),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ad: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
