package domain

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentAmount is an immutable monetary value.
// The amount is stored as a fixed-point decimal rounded to 2 places
// using banker's rounding; the currency is an ISO 4217 code.
type PaymentAmount struct {
	value    decimal.Decimal
	currency string
}

// NewPaymentAmount builds a validated PaymentAmount. The amount must be
// strictly positive; reversal flows reuse the original positive amount
// under a ROLLBACK reference rather than a negative one.
func NewPaymentAmount(value decimal.Decimal, currency string) (PaymentAmount, error) {
	if !currencyPattern.MatchString(currency) {
		return PaymentAmount{}, fmt.Errorf("invalid currency code: %q", currency)
	}
	rounded := value.RoundBank(2)
	if !rounded.IsPositive() {
		return PaymentAmount{}, fmt.Errorf("amount must be positive, got %s", rounded)
	}
	return PaymentAmount{value: rounded, currency: currency}, nil
}

// AmountFromString parses a decimal string into a PaymentAmount.
func AmountFromString(value, currency string) (PaymentAmount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return PaymentAmount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return NewPaymentAmount(d, currency)
}

// MustAmount panics on invalid input. Test and fixture use only.
func MustAmount(value, currency string) PaymentAmount {
	a, err := AmountFromString(value, currency)
	if err != nil {
		panic(err)
	}
	return a
}

func (a PaymentAmount) Value() decimal.Decimal { return a.value }
func (a PaymentAmount) Currency() string       { return a.currency }

func (a PaymentAmount) IsZero() bool { return a.value.IsZero() }

func (a PaymentAmount) Equal(b PaymentAmount) bool {
	return a.currency == b.currency && a.value.Equal(b.value)
}

func (a PaymentAmount) GreaterThan(b PaymentAmount) bool {
	return a.value.GreaterThan(b.value)
}

func (a PaymentAmount) LessThan(b PaymentAmount) bool {
	return a.value.LessThan(b.value)
}

// Add returns the sum of two amounts in the same currency.
func (a PaymentAmount) Add(b PaymentAmount) (PaymentAmount, error) {
	if a.currency != b.currency {
		return PaymentAmount{}, fmt.Errorf("currency mismatch: %s vs %s", a.currency, b.currency)
	}
	return PaymentAmount{value: a.value.Add(b.value).RoundBank(2), currency: a.currency}, nil
}

func (a PaymentAmount) String() string {
	return fmt.Sprintf("%s %s", a.value.StringFixed(2), a.currency)
}
