package reconcile

import (
	"context"

	"github.com/frahmantamala/checkout-payments/internal/order"
	"github.com/frahmantamala/checkout-payments/internal/payment"
)

// Store is the storage the engine reconciles against. Lookups return
// internal.ErrOrderNotFound or internal.ErrPaymentNotFound when nothing
// matches. Status writes are compare-and-set and report whether they won.
type Store interface {
	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	FindOrderByID(ctx context.Context, id int64) (*order.Order, error)
	FindOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*order.Order, error)
	MarkOrderPaid(ctx context.Context, id int64, upd order.PaidUpdate) (bool, error)
	MarkOrderCanceled(ctx context.Context, id int64, from ...order.Status) (bool, error)

	FindPaymentByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error)
	FindPaymentByChargeID(ctx context.Context, chargeID string) (*payment.Payment, error)
	CreatePayment(ctx context.Context, p *payment.Payment) error
	MarkPaymentSucceeded(ctx context.Context, id int64, ref payment.ChargeRef) error
	MarkPaymentFailed(ctx context.Context, id int64) error
	EnrichPayment(ctx context.Context, id int64, ref payment.ChargeRef) error
	EnrichPayments(ctx context.Context, orderID int64, ref payment.ChargeRef) (int64, error)
}

// Charge is the processor's view of the charge behind a payment intent.
type Charge struct {
	ID         string
	ReceiptURL string
}

// ChargeLookup finds the most recent charge for a payment intent. It returns
// nil, nil when the intent has no charge yet.
type ChargeLookup interface {
	LatestCharge(ctx context.Context, paymentIntentID string) (*Charge, error)
}

// FailurePolicy decides how a payment failure treats an order that is already paid.
type FailurePolicy struct {
	// OverridePaid lets a failure cancel a PAID order.
	OverridePaid bool
}

// DefaultFailurePolicy matches the processor integration's historical behaviour.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{OverridePaid: true}
}
