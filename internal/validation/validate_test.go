package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/config"
	"paycore/internal/domain"
)

func testLimits() config.Limits {
	return config.Limits{
		PerType: map[string]config.TypeLimits{
			"RTGS": {Min: decimal.NewFromInt(200000)},
			"UPI":  {Max: decimal.NewFromInt(100000)},
		},
		DailyCeiling:        decimal.NewFromInt(500000),
		MonthlyCeiling:      decimal.NewFromInt(5000000),
		AllowedAccountTypes: []string{"SAVINGS", "CURRENT"},
		RTGSPurposeCodes:    []string{"CORP", "TRADE"},
	}
}

func validParty(account string) domain.PaymentParty {
	return domain.PaymentParty{
		AccountNumber: account,
		AccountName:   "Asha Rao",
		BankCode:      "HDFC",
		IFSCCode:      "HDFC0001234",
		AccountType:   "SAVINGS",
	}
}

func newTestPayment(t domain.PaymentType, amount string) *domain.Payment {
	return domain.NewPayment(t, domain.MustAmount(amount, "INR"),
		validParty("11112222"), validParty("33334444"), "mobile", "test", nil)
}

func TestValidate_OK(t *testing.T) {
	v := New(testLimits())
	assert.NoError(t, v.Validate(newTestPayment(domain.TypeIMPS, "5000.00")))
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	v := New(testLimits())
	p := newTestPayment(domain.TypeIMPS, "5000.00")
	p.Sender.AccountNumber = "12 34"
	p.Sender.IFSCCode = "bad"
	p.Receiver.AccountName = ""
	p.Receiver.AccountType = "NRE"

	err := v.Validate(p)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 4)
}

func TestValidate_RTGSMinimum(t *testing.T) {
	v := New(testLimits())
	p := newTestPayment(domain.TypeRTGS, "150000.00")
	p.SetMetadata(domain.MetaPurposeCode, "CORP")

	err := v.Validate(p)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Contains(t, verr.Violations[0], "below the minimum")

	ok := newTestPayment(domain.TypeRTGS, "250000.00")
	ok.SetMetadata(domain.MetaPurposeCode, "CORP")
	assert.NoError(t, v.Validate(ok))
}

func TestValidate_UPIMaximum(t *testing.T) {
	v := New(testLimits())
	p := newTestPayment(domain.TypeUPI, "150000.00")
	p.Details = domain.UPIDetails{VPA: "asha@upi", Purpose: "payment"}

	err := v.Validate(p)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Contains(t, verr.Violations[0], "exceeds the maximum")
}

func TestValidate_RTGSPurposeCode(t *testing.T) {
	v := New(testLimits())

	missing := newTestPayment(domain.TypeRTGS, "250000.00")
	err := v.Validate(missing)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], "purpose code is required")

	unknown := newTestPayment(domain.TypeRTGS, "250000.00")
	unknown.SetMetadata(domain.MetaPurposeCode, "GIFT")
	err = v.Validate(unknown)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], "not permitted")
}

func TestValidate_DetailViolations(t *testing.T) {
	v := New(testLimits())
	p := newTestPayment(domain.TypeUPI, "500.00")
	p.Details = domain.UPIDetails{VPA: "no-at-sign", Purpose: ""}

	err := v.Validate(p)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
}
