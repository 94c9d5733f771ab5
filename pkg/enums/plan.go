package enums

import "fmt"

// Plan is the account's billing tier.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanBasic        Plan = "basic"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
)

var validPlans = []Plan{
	PlanFree,
	PlanBasic,
	PlanStarter,
	PlanProfessional,
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p Plan) IsValid() bool {
	for _, candidate := range validPlans {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsPaid reports whether the plan is billed through the payment processor.
func (p Plan) IsPaid() bool {
	return p.IsValid() && p != PlanFree
}

// ParsePlan converts raw input into a Plan.
func ParsePlan(value string) (Plan, error) {
	for _, candidate := range validPlans {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan %q", value)
}
