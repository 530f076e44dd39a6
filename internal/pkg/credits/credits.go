// Package credits computes usable credit totals and the debit split across
// credit types. Pure functions, no I/O; insufficiency is reported through
// the returned value, never an error.
package credits

import "github.com/wavecrate/wavecrate/internal/pkg/contentstore"

// Usage is the debit split for a requested spend amount. When Sufficient is
// false both amounts are zero and the caller must reject the purchase
// without mutating state.
type Usage struct {
	RegularCreditsToUse int  `json:"regular_credits_to_use"`
	SubCreditsToUse     int  `json:"sub_credits_to_use"`
	Sufficient          bool `json:"sufficient"`
}

// TotalCredits returns the user's usable purchasing power. Sub credits only
// count while the subscription is active; a canceled or past-due
// subscription contributes zero even if the stored counter is nonzero.
func TotalCredits(u *contentstore.User) int {
	if u == nil {
		return 0
	}
	total := u.RegularCredits
	if u.SubscriptionActive() {
		total += u.SubCredits
	}
	return total
}

// HasEnough is the cheap pre-check before the full spend workflow.
func HasEnough(u *contentstore.User, amount int) bool {
	return TotalCredits(u) >= amount
}

// CalculateUsage splits a spend amount across credit types. Sub credits are
// consumed first: they are forfeited on renewal, so spending them before
// regular credits minimizes waste. When sufficient, the split sums to the
// amount exactly.
func CalculateUsage(u *contentstore.User, amount int) Usage {
	availableSub := 0
	regular := 0
	if u != nil {
		regular = u.RegularCredits
		if u.SubscriptionActive() {
			availableSub = u.SubCredits
		}
	}

	if regular+availableSub < amount {
		return Usage{Sufficient: false}
	}

	subToUse := availableSub
	if amount < subToUse {
		subToUse = amount
	}
	return Usage{
		SubCreditsToUse:     subToUse,
		RegularCreditsToUse: amount - subToUse,
		Sufficient:          true,
	}
}
