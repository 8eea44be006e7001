package wallet

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestCalculateBalance(t *testing.T) {
	tests := []struct {
		txType   TransactionType
		balance  string
		amount   string
		expected string
	}{
		{Deposit, "100", "25.50", "125.5"},
		{Refund, "0", "3", "3"},
		{Bonus, "10", "0.01", "10.01"},
		{Withdrawal, "100", "40", "60"},
		{Spend, "100", "100", "0"},
		{Penalty, "5", "7.25", "0"},
		{Spend, "10", "10.01", "0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			got := CalculateBalance(dec(tt.balance), Transaction{Type: tt.txType, Amount: dec(tt.amount)})
			if !got.Equal(dec(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
			if got.IsNegative() {
				t.Errorf("balance went negative: %s", got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tx      Transaction
		balance string
		limits  Limits
		spent   Spent
		errs    []error
	}{
		{
			name:    "valid spend",
			tx:      Transaction{Type: Spend, Amount: dec("40")},
			balance: "100",
		},
		{
			name:    "spend of exact balance",
			tx:      Transaction{Type: Spend, Amount: dec("100")},
			balance: "100",
		},
		{
			name:    "zero amount",
			tx:      Transaction{Type: Deposit, Amount: dec("0")},
			balance: "100",
			errs:    []error{ErrInvalidAmount},
		},
		{
			name:    "negative amount",
			tx:      Transaction{Type: Deposit, Amount: dec("-5")},
			balance: "100",
			errs:    []error{ErrInvalidAmount},
		},
		{
			name:    "unknown type",
			tx:      Transaction{Type: "GIFT", Amount: dec("5")},
			balance: "100",
			errs:    []error{ErrInvalidType},
		},
		{
			name:    "withdrawal above balance",
			tx:      Transaction{Type: Withdrawal, Amount: dec("150")},
			balance: "100",
			errs:    []error{ErrInsufficientBalance},
		},
		{
			name:    "penalty above balance is allowed and floors at zero",
			tx:      Transaction{Type: Penalty, Amount: dec("150")},
			balance: "100",
		},
		{
			name:    "deposit ignores limits",
			tx:      Transaction{Type: Deposit, Amount: dec("5000")},
			balance: "0",
			limits:  Limits{Daily: decPtr("10"), Monthly: decPtr("10")},
		},
		{
			name:    "daily limit",
			tx:      Transaction{Type: Spend, Amount: dec("60")},
			balance: "1000",
			limits:  Limits{Daily: decPtr("50")},
			errs:    []error{ErrLimitExceeded},
		},
		{
			name:    "daily limit counts prior spend",
			tx:      Transaction{Type: Spend, Amount: dec("20")},
			balance: "1000",
			limits:  Limits{Daily: decPtr("50")},
			spent:   Spent{Today: dec("40"), ThisMonth: dec("40")},
			errs:    []error{ErrLimitExceeded},
		},
		{
			name:    "spend reaching the limit exactly",
			tx:      Transaction{Type: Spend, Amount: dec("10")},
			balance: "1000",
			limits:  Limits{Daily: decPtr("50"), Monthly: decPtr("500")},
			spent:   Spent{Today: dec("40"), ThisMonth: dec("490")},
		},
		{
			name:    "monthly limit",
			tx:      Transaction{Type: Spend, Amount: dec("20")},
			balance: "1000",
			limits:  Limits{Monthly: decPtr("500")},
			spent:   Spent{ThisMonth: dec("490")},
			errs:    []error{ErrLimitExceeded},
		},
		{
			name:    "every failing rule reported",
			tx:      Transaction{Type: Spend, Amount: dec("200")},
			balance: "100",
			limits:  Limits{Daily: decPtr("50"), Monthly: decPtr("100")},
			errs:    []error{ErrInsufficientBalance, ErrLimitExceeded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.tx, dec(tt.balance), tt.limits, tt.spent)

			if len(tt.errs) == 0 {
				if !v.Valid || v.Err() != nil {
					t.Fatalf("expected valid, got %+v", v.Reasons)
				}
				return
			}
			if v.Valid {
				t.Fatal("expected invalid")
			}
			err := v.Err()
			var rejected *RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected *RejectedError, got %T", err)
			}
			for _, want := range tt.errs {
				if !errors.Is(err, want) {
					t.Errorf("expected %v in %v", want, err)
				}
			}
		})
	}
}

func TestValidate_ReasonsOrderedAndCoded(t *testing.T) {
	v := Validate(
		Transaction{Type: Spend, Amount: dec("200")},
		dec("100"),
		Limits{Daily: decPtr("50"), Monthly: decPtr("100")},
		Spent{},
	)

	codes := make([]string, len(v.Reasons))
	for i, r := range v.Reasons {
		codes[i] = r.Code
	}
	expected := []string{"INSUFFICIENT_BALANCE", "DAILY_LIMIT_EXCEEDED", "MONTHLY_LIMIT_EXCEEDED"}
	if len(codes) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, codes)
	}
	for i := range expected {
		if codes[i] != expected[i] {
			t.Errorf("reason %d: expected %s, got %s", i, expected[i], codes[i])
		}
	}
}

func TestTransactionType(t *testing.T) {
	credits := map[TransactionType]bool{
		Deposit: true, Refund: true, Bonus: true,
		Withdrawal: false, Spend: false, Penalty: false,
	}
	for txType, credit := range credits {
		if txType.IsCredit() != credit {
			t.Errorf("%s: expected IsCredit=%v", txType, credit)
		}
		if !txType.Valid() {
			t.Errorf("%s: expected valid", txType)
		}
	}
	if TransactionType("spend").Valid() {
		t.Error("expected lowercase type to be invalid")
	}
}
