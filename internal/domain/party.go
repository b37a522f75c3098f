package domain

import "regexp"

var (
	ifscPattern          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	accountNumberPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,22}$`)
)

// ValidIFSC reports whether code matches the IFSC branch format.
func ValidIFSC(code string) bool {
	return ifscPattern.MatchString(code)
}

// ValidAccountNumber reports whether the account number is 6-22
// alphanumeric characters.
func ValidAccountNumber(number string) bool {
	return accountNumberPattern.MatchString(number)
}

// PaymentParty identifies one side of a payment. AccountNumber and
// AccountName are mandatory; branch and IFSC depend on the scheme.
type PaymentParty struct {
	AccountNumber string `json:"account_number" validate:"required,alphanum,min=6,max=22"`
	AccountName   string `json:"account_name" validate:"required"`
	BankCode      string `json:"bank_code" validate:"required"`
	BankName      string `json:"bank_name"`
	BranchCode    string `json:"branch_code,omitempty"`
	IFSCCode      string `json:"ifsc_code,omitempty" validate:"omitempty,ifsc"`
	AccountType   string `json:"account_type,omitempty"`
}

// Violations returns every constraint the party breaks, empty when valid.
func (p PaymentParty) Violations(side string) []string {
	var out []string
	if p.AccountNumber == "" {
		out = append(out, side+": account number is required")
	} else if !ValidAccountNumber(p.AccountNumber) {
		out = append(out, side+": account number must be 6-22 alphanumeric characters")
	}
	if p.AccountName == "" {
		out = append(out, side+": account name is required")
	}
	if p.IFSCCode != "" && !ValidIFSC(p.IFSCCode) {
		out = append(out, side+": invalid IFSC code "+p.IFSCCode)
	}
	return out
}
