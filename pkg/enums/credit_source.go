package enums

import "fmt"

// CreditSource records where a grant came from; it drives the expiry policy.
type CreditSource string

const (
	CreditSourceSubscriptionRenewal CreditSource = "subscription_renewal"
	CreditSourceOneTimePurchase     CreditSource = "one_time_purchase"
	CreditSourcePromotional         CreditSource = "promotional"
	CreditSourceAdminAdjustment     CreditSource = "admin_adjustment"
	CreditSourceRefund              CreditSource = "refund"
)

var validCreditSources = []CreditSource{
	CreditSourceSubscriptionRenewal,
	CreditSourceOneTimePurchase,
	CreditSourcePromotional,
	CreditSourceAdminAdjustment,
	CreditSourceRefund,
}

// String implements fmt.Stringer.
func (s CreditSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s CreditSource) IsValid() bool {
	for _, candidate := range validCreditSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCreditSource converts raw input into a CreditSource.
func ParseCreditSource(value string) (CreditSource, error) {
	for _, candidate := range validCreditSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit source %q", value)
}
