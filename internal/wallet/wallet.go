// Package wallet validates and applies balance-affecting transactions for
// advertiser accounts
package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
	// ErrInvalidType is returned for unknown transaction types
	ErrInvalidType = errors.New("wallet: unknown transaction type")
	// ErrCurrencyMismatch is returned when a transaction currency differs from the account
	ErrCurrencyMismatch = errors.New("wallet: currency mismatch")
	// ErrInsufficientBalance is returned when a debit exceeds the balance
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	// ErrLimitExceeded is returned when a spend exceeds a daily or monthly limit
	ErrLimitExceeded = errors.New("wallet: spend limit exceeded")

	// ErrAccountNotFound is returned by stores for unknown advertisers
	ErrAccountNotFound = errors.New("wallet: account not found")
	// ErrInvalidAccount is returned when opening an account with bad parameters
	ErrInvalidAccount = errors.New("wallet: invalid account")
	// ErrAccountExists is returned when opening an account twice
	ErrAccountExists = errors.New("wallet: account already exists")
	// ErrConflict is returned when a concurrent writer changed the account first
	ErrConflict = errors.New("wallet: concurrent update conflict")
)

// TransactionType is the kind of balance change
type TransactionType string

const (
	Deposit    TransactionType = "DEPOSIT"
	Withdrawal TransactionType = "WITHDRAWAL"
	Spend      TransactionType = "SPEND"
	Refund     TransactionType = "REFUND"
	Bonus      TransactionType = "BONUS"
	Penalty    TransactionType = "PENALTY"
)

// IsCredit reports whether the type adds to the balance
func (t TransactionType) IsCredit() bool {
	switch t {
	case Deposit, Refund, Bonus:
		return true
	}
	return false
}

// Valid reports whether t is a known type
func (t TransactionType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Spend, Refund, Bonus, Penalty:
		return true
	}
	return false
}

// Transaction is an ephemeral request to change a balance
type Transaction struct {
	ID         string          `json:"id,omitempty"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	CampaignID string          `json:"campaignId,omitempty"`
	AdID       string          `json:"adId,omitempty"`
}

// Limits are optional spend caps
type Limits struct {
	Daily   *decimal.Decimal `json:"dailySpendLimit,omitempty"`
	Monthly *decimal.Decimal `json:"monthlySpendLimit,omitempty"`
}

// Spent is spend already recorded in the current day and month
type Spent struct {
	Today     decimal.Decimal
	ThisMonth decimal.Decimal
}

// Reason is one cause of a rejected transaction
type Reason struct {
	Err     error  `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validation is the outcome of validating a transaction. It never mutates anything.
type Validation struct {
	Valid   bool     `json:"isValid"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Err returns nil for a valid transaction, otherwise a *RejectedError
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	return &RejectedError{Reasons: v.Reasons}
}

// RejectedError lists every reason a transaction was rejected
type RejectedError struct {
	Reasons []Reason
}

func (e *RejectedError) Error() string {
	msgs := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		msgs[i] = r.Message
	}
	return "wallet: transaction rejected: " + strings.Join(msgs, "; ")
}

// Is matches any of the underlying reason errors
func (e *RejectedError) Is(target error) bool {
	for _, r := range e.Reasons {
		if errors.Is(r.Err, target) {
			return true
		}
	}
	return false
}

// Validate checks tx against the current balance, limits and recorded spend.
// Every failing rule is reported.
func Validate(tx Transaction, balance decimal.Decimal, limits Limits, spent Spent) Validation {
	var reasons []Reason
	reject := func(err error, code, format string, args ...interface{}) {
		reasons = append(reasons, Reason{Err: err, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !tx.Type.Valid() {
		reject(ErrInvalidType, "INVALID_TYPE", "Unknown transaction type %q", tx.Type)
	}
	if !tx.Amount.IsPositive() {
		reject(ErrInvalidAmount, "INVALID_AMOUNT", "Amount must be greater than 0")
	}

	if (tx.Type == Withdrawal || tx.Type == Spend) && tx.Amount.GreaterThan(balance) {
		reject(ErrInsufficientBalance, "INSUFFICIENT_BALANCE",
			"Insufficient balance: %s requested, %s available", tx.Amount.StringFixed(2), balance.StringFixed(2))
	}

	if tx.Type == Spend {
		if limits.Daily != nil && spent.Today.Add(tx.Amount).GreaterThan(*limits.Daily) {
			reject(ErrLimitExceeded, "DAILY_LIMIT_EXCEEDED",
				"Daily spend limit of %s exceeded", limits.Daily.StringFixed(2))
		}
		if limits.Monthly != nil && spent.ThisMonth.Add(tx.Amount).GreaterThan(*limits.Monthly) {
			reject(ErrLimitExceeded, "MONTHLY_LIMIT_EXCEEDED",
				"Monthly spend limit of %s exceeded", limits.Monthly.StringFixed(2))
		}
	}

	return Validation{Valid: len(reasons) == 0, Reasons: reasons}
}

// CalculateBalance returns the balance after tx. Debits are floored at zero;
// callers validate first so a rejected debit is never clamped silently.
func CalculateBalance(balance decimal.Decimal, tx Transaction) decimal.Decimal {
	if tx.Type.IsCredit() {
		return balance.Add(tx.Amount)
	}
	next := balance.Sub(tx.Amount)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// Receipt describes an applied transaction
type Receipt struct {
	Transaction   Transaction     `json:"transaction"`
	AdvertiserID  string          `json:"advertiserId"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	AppliedAt     time.Time       `json:"appliedAt"`
}
