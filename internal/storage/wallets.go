package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thenexusengine/adslot/internal/wallet"
)

// WalletStore persists wallet accounts in PostgreSQL. It implements
// wallet.Store with a version column for compare-and-swap.
type WalletStore struct {
	db *sql.DB
}

// NewWalletStore creates a new wallet store
func NewWalletStore(db *sql.DB) *WalletStore {
	return &WalletStore{db: db}
}

var _ wallet.Store = (*WalletStore)(nil)

// Get retrieves an account
func (s *WalletStore) Get(ctx context.Context, advertiserID string) (*wallet.Account, error) {
	query := `
		SELECT advertiser_id, balance, currency, daily_limit, monthly_limit,
		       spent_today, spent_month, spend_day, version, updated_at
		FROM wallets
		WHERE advertiser_id = $1
	`

	var acc wallet.Account
	var daily, monthly decimal.NullDecimal
	var spendDay sql.NullTime

	err := s.db.QueryRowContext(ctx, query, advertiserID).Scan(
		&acc.AdvertiserID,
		&acc.Balance,
		&acc.Currency,
		&daily,
		&monthly,
		&acc.SpentToday,
		&acc.SpentThisMonth,
		&spendDay,
		&acc.Version,
		&acc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, wallet.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}

	if daily.Valid {
		acc.Limits.Daily = &daily.Decimal
	}
	if monthly.Valid {
		acc.Limits.Monthly = &monthly.Decimal
	}
	if spendDay.Valid {
		acc.SpendDay = spendDay.Time.UTC()
	}
	return &acc, nil
}

// Create inserts a new account
func (s *WalletStore) Create(ctx context.Context, acc *wallet.Account) error {
	query := `
		INSERT INTO wallets (
			advertiser_id, balance, currency, daily_limit, monthly_limit,
			spent_today, spent_month, spend_day, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query, walletArgs(acc)...)
	if isUniqueViolation(err) {
		return wallet.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// CompareAndSwap writes acc when the stored version equals expectedVersion
func (s *WalletStore) CompareAndSwap(ctx context.Context, acc *wallet.Account, expectedVersion int64) error {
	query := `
		UPDATE wallets
		SET balance = $2, currency = $3, daily_limit = $4, monthly_limit = $5,
		    spent_today = $6, spent_month = $7, spend_day = $8, version = $9, updated_at = $10
		WHERE advertiser_id = $1 AND version = $11
	`

	args := append(walletArgs(acc), expectedVersion)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// tell a lost race apart from a missing account
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE advertiser_id = $1)`, acc.AdvertiserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check wallet: %w", err)
	}
	if !exists {
		return wallet.ErrAccountNotFound
	}
	return wallet.ErrConflict
}

func walletArgs(acc *wallet.Account) []interface{} {
	var spendDay sql.NullTime
	if !acc.SpendDay.IsZero() {
		spendDay = sql.NullTime{Time: acc.SpendDay, Valid: true}
	}
	updatedAt := acc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return []interface{}{
		acc.AdvertiserID,
		acc.Balance,
		acc.Currency,
		nullDecimal(acc.Limits.Daily),
		nullDecimal(acc.Limits.Monthly),
		acc.SpentToday,
		acc.SpentThisMonth,
		spendDay,
		acc.Version,
		updatedAt,
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
