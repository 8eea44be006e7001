package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// Locker serializes writers per advertiser
type Locker interface {
	// Lock blocks until the advertiser's lock is held or ctx is done
	Lock(ctx context.Context, advertiserID string) (unlock func(), err error)
}

// MetricsRecorder receives ledger outcomes
type MetricsRecorder interface {
	RecordWalletTransaction(txType, outcome string, amount float64)
}

// Transaction outcomes reported to metrics
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Config holds ledger configuration
type Config struct {
	// MaxRetries bounds compare-and-swap attempts per transaction
	MaxRetries int
	// DefaultCurrency is assigned to accounts opened without one
	DefaultCurrency string
	// Now is the clock used for spend rollover; nil uses time.Now
	Now func() time.Time
}

// DefaultConfig returns standard ledger settings
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      config.WalletMaxRetries,
		DefaultCurrency: config.DefaultCurrency,
		Now:             time.Now,
	}
}

// Ledger applies transactions so that validate -> apply is serialized per
// advertiser: the locker keeps writers in this process (or cluster) in line,
// and the store's version check catches anyone who bypassed it.
type Ledger struct {
	store   Store
	locker  Locker
	config  *Config
	metrics MetricsRecorder

	metricsMu sync.RWMutex
}

// NewLedger creates a ledger. A nil locker uses an in-process keyed mutex.
func NewLedger(store Store, locker Locker, cfg *Config) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = defaults.DefaultCurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Ledger{store: store, locker: locker, config: cfg}
}

// SetMetrics sets the metrics recorder
func (l *Ledger) SetMetrics(m MetricsRecorder) {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	l.metrics = m
}

func (l *Ledger) record(tx Transaction, outcome string) {
	l.metricsMu.RLock()
	m := l.metrics
	l.metricsMu.RUnlock()
	if m != nil {
		m.RecordWalletTransaction(string(tx.Type), outcome, tx.Amount.InexactFloat64())
	}
}

// Open creates an account with a zero balance
func (l *Ledger) Open(ctx context.Context, advertiserID, currency string, limits Limits) (*Account, error) {
	if advertiserID == "" {
		return nil, fmt.Errorf("%w: advertiser id required", ErrInvalidAccount)
	}
	if currency == "" {
		currency = l.config.DefaultCurrency
	}
	now := l.config.Now()
	acc := &Account{
		AdvertiserID: advertiserID,
		Balance:      decimal.Zero,
		Currency:     strings.ToUpper(currency),
		Limits:       limits,
		SpendDay:     truncateDay(now),
		Version:      1,
		UpdatedAt:    now,
	}
	if err := l.store.Create(ctx, acc); err != nil {
		return nil, err
	}
	logger.Wallet(advertiserID).Info().Str("currency", acc.Currency).Msg("wallet opened")
	return acc, nil
}

// Account returns the current account with spend counters rolled over
func (l *Ledger) Account(ctx context.Context, advertiserID string) (*Account, error) {
	acc, err := l.store.Get(ctx, advertiserID)
	if err != nil {
		return nil, err
	}
	rolled := acc.rollover(l.config.Now())
	return &rolled, nil
}

// Validate checks tx against the current account without applying it
func (l *Ledger) Validate(ctx context.Context, advertiserID string, tx Transaction) (Validation, error) {
	acc, err := l.Account(ctx, advertiserID)
	if err != nil {
		return Validation{}, err
	}
	return validateForAccount(tx, acc), nil
}

func validateForAccount(tx Transaction, acc *Account) Validation {
	v := Validate(tx, acc.Balance, acc.Limits, acc.Spent())
	if tx.Currency != "" && !strings.EqualFold(tx.Currency, acc.Currency) {
		v.Valid = false
		v.Reasons = append(v.Reasons, Reason{
			Err:     ErrCurrencyMismatch,
			Code:    "CURRENCY_MISMATCH",
			Message: fmt.Sprintf("Transaction currency %s does not match wallet currency %s", tx.Currency, acc.Currency),
		})
	}
	return v
}

// Apply validates tx and applies it to the advertiser's balance. A rejected
// transaction returns a *RejectedError and leaves the account untouched.
func (l *Ledger) Apply(ctx context.Context, advertiserID string, tx Transaction) (*Receipt, error) {
	log := logger.Wallet(advertiserID)
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	unlock, err := l.locker.Lock(ctx, advertiserID)
	if err != nil {
		l.record(tx, OutcomeError)
		return nil, fmt.Errorf("wallet: lock %s: %w", advertiserID, err)
	}
	defer unlock()

	for attempt := 1; attempt <= l.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			l.record(tx, OutcomeError)
			return nil, err
		}

		current, err := l.store.Get(ctx, advertiserID)
		if err != nil {
			l.record(tx, OutcomeError)
			return nil, err
		}
		now := l.config.Now()
		acc := current.rollover(now)

		if v := validateForAccount(tx, &acc); !v.Valid {
			l.record(tx, OutcomeRejected)
			log.Info().
				Str("tx_id", tx.ID).
				Str("type", string(tx.Type)).
				Str("amount", tx.Amount.String()).
				Str("error", v.Err().Error()).
				Msg("transaction rejected")
			return nil, v.Err()
		}

		next := acc.apply(tx, now)
		err = l.store.CompareAndSwap(ctx, &next, current.Version)
		if errors.Is(err, ErrConflict) {
			l.record(tx, OutcomeConflict)
			log.Debug().Str("tx_id", tx.ID).Int("attempt", attempt).Msg("wallet update conflict, retrying")
			continue
		}
		if err != nil {
			l.record(tx, OutcomeError)
			return nil, err
		}

		l.record(tx, OutcomeApplied)
		log.Info().
			Str("tx_id", tx.ID).
			Str("type", string(tx.Type)).
			Str("amount", tx.Amount.String()).
			Str("balance", next.Balance.String()).
			Msg("transaction applied")

		return &Receipt{
			Transaction:   tx,
			AdvertiserID:  advertiserID,
			BalanceBefore: acc.Balance,
			BalanceAfter:  next.Balance,
			AppliedAt:     now,
		}, nil
	}

	return nil, fmt.Errorf("wallet: giving up after %d attempts: %w", l.config.MaxRetries, ErrConflict)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// caller holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
