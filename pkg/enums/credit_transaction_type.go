package enums

import "fmt"

// CreditTransactionType classifies a ledger row.
type CreditTransactionType string

const (
	CreditTransactionGrant           CreditTransactionType = "grant"
	CreditTransactionConsume         CreditTransactionType = "consume"
	CreditTransactionExpire          CreditTransactionType = "expire"
	CreditTransactionRefund          CreditTransactionType = "refund"
	CreditTransactionAdminCorrection CreditTransactionType = "admin_correction"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionGrant,
	CreditTransactionConsume,
	CreditTransactionExpire,
	CreditTransactionRefund,
	CreditTransactionAdminCorrection,
}

// String implements fmt.Stringer.
func (t CreditTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsDebit reports whether rows of this type carry a negative delta.
func (t CreditTransactionType) IsDebit() bool {
	switch t {
	case CreditTransactionConsume, CreditTransactionExpire, CreditTransactionAdminCorrection:
		return true
	default:
		return false
	}
}

// ParseCreditTransactionType converts raw input into a CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
