package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Account is an advertiser's wallet state. Version increases on every write
// and is what stores compare-and-swap on.
type Account struct {
	AdvertiserID   string          `json:"advertiserId"`
	Balance        decimal.Decimal `json:"balance"`
	Currency       string          `json:"currency"`
	Limits         Limits          `json:"limits"`
	SpentToday     decimal.Decimal `json:"spentToday"`
	SpentThisMonth decimal.Decimal `json:"spentThisMonth"`
	// SpendDay is the UTC day SpentToday belongs to
	SpendDay  time.Time `json:"spendDay"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Spent returns the recorded spend
func (a *Account) Spent() Spent {
	return Spent{Today: a.SpentToday, ThisMonth: a.SpentThisMonth}
}

// rollover returns a copy with spend counters reset when now is in a later
// day or month than SpendDay
func (a Account) rollover(now time.Time) Account {
	day := truncateDay(now)
	if a.SpendDay.IsZero() {
		a.SpendDay = day
		return a
	}
	if !day.Equal(a.SpendDay) {
		if day.Year() != a.SpendDay.Year() || day.Month() != a.SpendDay.Month() {
			a.SpentThisMonth = decimal.Zero
		}
		a.SpentToday = decimal.Zero
		a.SpendDay = day
	}
	return a
}

// apply returns the account after tx, stamped with the next version
func (a Account) apply(tx Transaction, now time.Time) Account {
	a.Balance = CalculateBalance(a.Balance, tx)
	if tx.Type == Spend {
		a.SpentToday = a.SpentToday.Add(tx.Amount)
		a.SpentThisMonth = a.SpentThisMonth.Add(tx.Amount)
	}
	a.Version++
	a.UpdatedAt = now
	return a
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Store persists accounts
type Store interface {
	// Get returns ErrAccountNotFound for unknown advertisers
	Get(ctx context.Context, advertiserID string) (*Account, error)
	// Create returns ErrAccountExists when the advertiser already has an account
	Create(ctx context.Context, account *Account) error
	// CompareAndSwap writes account only if the stored version equals
	// expectedVersion, otherwise it returns ErrConflict
	CompareAndSwap(ctx context.Context, account *Account, expectedVersion int64) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

// Get returns a copy of the stored account
func (s *MemoryStore) Get(ctx context.Context, advertiserID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[advertiserID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

// Create stores a new account
func (s *MemoryStore) Create(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.AdvertiserID]; ok {
		return ErrAccountExists
	}
	s.accounts[account.AdvertiserID] = *account
	return nil
}

// CompareAndSwap replaces the account when the version matches
func (s *MemoryStore) CompareAndSwap(ctx context.Context, account *Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.AdvertiserID]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}
	s.accounts[account.AdvertiserID] = *account
	return nil
}
