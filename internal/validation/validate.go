package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"paycore/internal/config"
	"paycore/internal/domain"
)

// Validator checks a payment against structural and policy rules before
// it enters the pipeline. Every broken rule is collected so the caller
// can fix the whole request in one round trip.
type Validator struct {
	validate *validator.Validate
	limits   config.Limits
}

func New(limits config.Limits) *Validator {
	v := &Validator{
		validate: validator.New(),
		limits:   limits,
	}
	_ = v.validate.RegisterValidation("ifsc", func(fl validator.FieldLevel) bool {
		return domain.ValidIFSC(fl.Field().String())
	})
	return v
}

// Validate returns nil when the payment passes every check, otherwise a
// ValidationError listing all violations.
func (v *Validator) Validate(p *domain.Payment) error {
	var violations []string

	violations = append(violations, p.Sender.Violations("sender")...)
	violations = append(violations, p.Receiver.Violations("receiver")...)
	violations = append(violations, v.amountViolations(p)...)
	violations = append(violations, v.accountTypeViolations(p)...)
	violations = append(violations, v.purposeViolations(p)...)
	if p.Details != nil {
		violations = append(violations, p.Details.Violations()...)
	}

	if len(violations) > 0 {
		return &domain.ValidationError{Violations: violations}
	}
	return nil
}

// ValidateStruct runs tag-based validation on any request shape, used at
// the intake boundary before an aggregate exists.
func (v *Validator) ValidateStruct(i any) error {
	return v.validate.Struct(i)
}

func (v *Validator) amountViolations(p *domain.Payment) []string {
	var out []string
	value := p.Amount.Value()
	if !value.IsPositive() {
		out = append(out, "amount must be greater than zero")
		return out
	}
	bounds, ok := v.limits.PerType[string(p.Type)]
	if !ok {
		return out
	}
	if !bounds.Min.IsZero() && value.LessThan(bounds.Min) {
		out = append(out, fmt.Sprintf("%s amount %s is below the minimum %s",
			p.Type, value.StringFixed(2), bounds.Min.StringFixed(2)))
	}
	if !bounds.Max.IsZero() && value.GreaterThan(bounds.Max) {
		out = append(out, fmt.Sprintf("%s amount %s exceeds the maximum %s",
			p.Type, value.StringFixed(2), bounds.Max.StringFixed(2)))
	}
	return out
}

func (v *Validator) accountTypeViolations(p *domain.Payment) []string {
	if len(v.limits.AllowedAccountTypes) == 0 {
		return nil
	}
	var out []string
	check := func(side string, party domain.PaymentParty) {
		if party.AccountType == "" {
			return
		}
		if !contains(v.limits.AllowedAccountTypes, party.AccountType) {
			out = append(out, fmt.Sprintf("%s: account type %s is not permitted", side, party.AccountType))
		}
	}
	check("sender", p.Sender)
	check("receiver", p.Receiver)
	return out
}

func (v *Validator) purposeViolations(p *domain.Payment) []string {
	if p.Type != domain.TypeRTGS || len(v.limits.RTGSPurposeCodes) == 0 {
		return nil
	}
	code := p.Metadata[domain.MetaPurposeCode]
	if code == "" {
		return []string{"rtgs: purpose code is required"}
	}
	if !contains(v.limits.RTGSPurposeCodes, code) {
		return []string{fmt.Sprintf("rtgs: purpose code %s is not permitted", code)}
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
