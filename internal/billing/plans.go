// Package billing provides credit allocation, plan-to-tier mapping, and
// subscription change handling.
package billing

import "strings"

// SubscriptionTier identifies an internal subscription level. Tiers are what
// the rest of the platform keys feature access on; Stripe plan names are a
// provider-side display concern mapped onto tiers here.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierBasic      SubscriptionTier = "basic"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// tierMapping is the authoritative plan-name to tier table. Order matters for
// partial matching, so the table is a slice rather than a map.
var tierMapping = []struct {
	planName string
	tier     SubscriptionTier
}{
	{"Free Plan", TierFree},
	{"Basic Plan", TierBasic},
	{"Premium Plan", TierPremium},
	{"Enterprise Plan", TierEnterprise},
}

// MapPlanToTier resolves a Stripe plan name to a subscription tier.
// Resolution order:
//  1. Exact match against the mapping table.
//  2. Partial match: the first word of a table entry (lowercased) contained
//     anywhere in the lowercased input.
//  3. Default to the basic tier.
func MapPlanToTier(planName string) SubscriptionTier {
	for _, m := range tierMapping {
		if m.planName == planName {
			return m.tier
		}
	}

	lower := strings.ToLower(planName)
	for _, m := range tierMapping {
		firstWord := strings.Fields(strings.ToLower(m.planName))[0]
		if strings.Contains(lower, firstWord) {
			return m.tier
		}
	}

	return TierBasic
}
