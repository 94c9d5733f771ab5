package enums

import "fmt"

// AccountStatus is the lifecycle status stored next to the plan.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusPaused   AccountStatus = "paused"
	AccountStatusPastDue  AccountStatus = "past_due"
	AccountStatusCanceled AccountStatus = "canceled"
)

var validAccountStatuses = []AccountStatus{
	AccountStatusActive,
	AccountStatusPaused,
	AccountStatusPastDue,
	AccountStatusCanceled,
}

// String implements fmt.Stringer.
func (s AccountStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s AccountStatus) IsValid() bool {
	for _, candidate := range validAccountStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAccountStatus converts raw input into an AccountStatus.
func ParseAccountStatus(value string) (AccountStatus, error) {
	for _, candidate := range validAccountStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account status %q", value)
}
