package external

import (
	"fmt"

	"stripehome/internal/types"
)

// ResourceKind names a Stripe resource type this service knows how to list.
// The set is a closed, hand-maintained enumeration; admin listing rejects
// anything outside it rather than probing the provider.
type ResourceKind string

const (
	ResourceCustomer           ResourceKind = "customer"
	ResourceSubscription       ResourceKind = "subscription"
	ResourceProduct            ResourceKind = "product"
	ResourcePrice              ResourceKind = "price"
	ResourcePlan               ResourceKind = "plan"
	ResourceInvoice            ResourceKind = "invoice"
	ResourceCharge             ResourceKind = "charge"
	ResourcePaymentIntent      ResourceKind = "payment_intent"
	ResourceRefund             ResourceKind = "refund"
	ResourceEvent              ResourceKind = "event"
	ResourceDispute            ResourceKind = "dispute"
	ResourcePayout             ResourceKind = "payout"
	ResourceBalanceTransaction ResourceKind = "balance_transaction"
)

// resourcePaths binds each kind to its list endpoint path.
var resourcePaths = map[ResourceKind]string{
	ResourceCustomer:           "/v1/customers",
	ResourceSubscription:       "/v1/subscriptions",
	ResourceProduct:            "/v1/products",
	ResourcePrice:              "/v1/prices",
	ResourcePlan:               "/v1/plans",
	ResourceInvoice:            "/v1/invoices",
	ResourceCharge:             "/v1/charges",
	ResourcePaymentIntent:      "/v1/payment_intents",
	ResourceRefund:             "/v1/refunds",
	ResourceEvent:              "/v1/events",
	ResourceDispute:            "/v1/disputes",
	ResourcePayout:             "/v1/payouts",
	ResourceBalanceTransaction: "/v1/balance_transactions",
}

// ResourceKinds returns the supported kinds in a stable order.
func ResourceKinds() []ResourceKind {
	return []ResourceKind{
		ResourceCustomer,
		ResourceSubscription,
		ResourceProduct,
		ResourcePrice,
		ResourcePlan,
		ResourceInvoice,
		ResourceCharge,
		ResourcePaymentIntent,
		ResourceRefund,
		ResourceEvent,
		ResourceDispute,
		ResourcePayout,
		ResourceBalanceTransaction,
	}
}

// ResolveResourceKind validates a caller-supplied kind string and returns the
// provider list path. Unknown kinds are rejected with an invalid-request error
// naming the kind in details.
func ResolveResourceKind(kind string) (ResourceKind, string, error) {
	k := ResourceKind(kind)
	path, ok := resourcePaths[k]
	if !ok {
		return "", "", types.NewAppErrorWithDetails(
			types.ErrCodeProviderInvalid,
			fmt.Sprintf("unsupported resource kind %q", kind),
			nil,
			map[string]any{"kind": kind},
		)
	}
	return k, path, nil
}
