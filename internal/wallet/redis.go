package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/thenexusengine/adslot/internal/config"
	redisclient "github.com/thenexusengine/adslot/pkg/redis"
)

const walletKeyPrefix = "wallet:"

// Hash fields of a stored account
const (
	fieldBalance      = "balance"
	fieldCurrency     = "currency"
	fieldDailyLimit   = "daily_limit"
	fieldMonthlyLimit = "monthly_limit"
	fieldSpentToday   = "spent_today"
	fieldSpentMonth   = "spent_month"
	fieldSpendDay     = "spend_day"
	fieldVersion      = "version"
	fieldUpdatedAt    = "updated_at"
)

// RedisStore keeps accounts in Redis hashes and swaps them under WATCH
type RedisStore struct {
	client *redisclient.Client
}

// NewRedisStore creates a store on client
func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{client: client}
}

func walletKey(advertiserID string) string {
	return walletKeyPrefix + advertiserID
}

// Get loads an account
func (s *RedisStore) Get(ctx context.Context, advertiserID string) (*Account, error) {
	fields, err := s.client.HGetAll(ctx, walletKey(advertiserID))
	if err != nil {
		return nil, fmt.Errorf("wallet: load %s: %w", advertiserID, err)
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}
	return decodeAccount(advertiserID, fields)
}

// Create writes a new account unless one exists
func (s *RedisStore) Create(ctx context.Context, account *Account) error {
	key := walletKey(account.AdvertiserID)
	err := s.client.Optimistic(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrAccountExists
		}
		return func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAccount(account))
			return nil
		}, nil
	}, key)
	if errors.Is(err, redisclient.ErrTxConflict) {
		return ErrAccountExists
	}
	return err
}

// CompareAndSwap writes account when the stored version matches
func (s *RedisStore) CompareAndSwap(ctx context.Context, account *Account, expectedVersion int64) error {
	key := walletKey(account.AdvertiserID)
	err := s.client.Optimistic(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		raw, err := tx.HGet(ctx, key, fieldVersion).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wallet: corrupt version %q: %w", raw, err)
		}
		if version != expectedVersion {
			return nil, ErrConflict
		}
		return func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAccount(account))
			// limits may have been cleared
			if account.Limits.Daily == nil {
				pipe.HDel(ctx, key, fieldDailyLimit)
			}
			if account.Limits.Monthly == nil {
				pipe.HDel(ctx, key, fieldMonthlyLimit)
			}
			return nil
		}, nil
	}, key)
	if errors.Is(err, redisclient.ErrTxConflict) {
		return ErrConflict
	}
	return err
}

func encodeAccount(a *Account) map[string]interface{} {
	fields := map[string]interface{}{
		fieldBalance:    a.Balance.String(),
		fieldCurrency:   a.Currency,
		fieldSpentToday: a.SpentToday.String(),
		fieldSpentMonth: a.SpentThisMonth.String(),
		fieldSpendDay:   a.SpendDay.UTC().Format(time.DateOnly),
		fieldVersion:    a.Version,
		fieldUpdatedAt:  a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.Limits.Daily != nil {
		fields[fieldDailyLimit] = a.Limits.Daily.String()
	}
	if a.Limits.Monthly != nil {
		fields[fieldMonthlyLimit] = a.Limits.Monthly.String()
	}
	return fields
}

func decodeAccount(advertiserID string, fields map[string]string) (*Account, error) {
	acc := &Account{AdvertiserID: advertiserID, Currency: fields[fieldCurrency]}

	var err error
	if acc.Balance, err = decimal.NewFromString(fields[fieldBalance]); err != nil {
		return nil, fmt.Errorf("wallet: corrupt balance: %w", err)
	}
	if acc.SpentToday, err = decimalOrZero(fields[fieldSpentToday]); err != nil {
		return nil, fmt.Errorf("wallet: corrupt daily spend: %w", err)
	}
	if acc.SpentThisMonth, err = decimalOrZero(fields[fieldSpentMonth]); err != nil {
		return nil, fmt.Errorf("wallet: corrupt monthly spend: %w", err)
	}
	if acc.Limits.Daily, err = optionalDecimal(fields[fieldDailyLimit]); err != nil {
		return nil, fmt.Errorf("wallet: corrupt daily limit: %w", err)
	}
	if acc.Limits.Monthly, err = optionalDecimal(fields[fieldMonthlyLimit]); err != nil {
		return nil, fmt.Errorf("wallet: corrupt monthly limit: %w", err)
	}
	if acc.Version, err = strconv.ParseInt(fields[fieldVersion], 10, 64); err != nil {
		return nil, fmt.Errorf("wallet: corrupt version: %w", err)
	}
	if v := fields[fieldSpendDay]; v != "" {
		if acc.SpendDay, err = time.Parse(time.DateOnly, v); err != nil {
			return nil, fmt.Errorf("wallet: corrupt spend day: %w", err)
		}
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		if acc.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("wallet: corrupt update time: %w", err)
		}
	}
	return acc, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RedisLocker is a distributed single-writer lock per advertiser, for
// deployments where several processes bill the same wallets
type RedisLocker struct {
	client *redisclient.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker; ttl <= 0 uses the default lock TTL
func NewRedisLocker(client *redisclient.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = config.WalletLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 5 * time.Millisecond}
}

// Lock polls until the lock is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, advertiserID string) (func(), error) {
	key := walletKey(advertiserID)
	for {
		unlock, err := l.client.Acquire(ctx, key, l.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, redisclient.ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
