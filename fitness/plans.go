package fitness

import "strings"

// SubscriptionStatus is the user's billing tier.
type SubscriptionStatus string

const (
	SubscriptionFree    SubscriptionStatus = "free"
	SubscriptionPremium SubscriptionStatus = "premium"
)

// FreePlanLimit is how many workout plans a free user may own.
const FreePlanLimit = 1

// ParseSubscriptionStatus maps s to a status; anything unrecognised is free.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	if strings.EqualFold(s, string(SubscriptionPremium)) {
		return SubscriptionPremium
	}
	return SubscriptionFree
}

// IsPremium reports whether the status unlocks premium features.
func (s SubscriptionStatus) IsPremium() bool {
	return s == SubscriptionPremium
}

// CanCreatePlan reports whether a user with existingPlans plans may add another.
func CanCreatePlan(status SubscriptionStatus, existingPlans int) bool {
	if status.IsPremium() {
		return true
	}
	return existingPlans < FreePlanLimit
}
