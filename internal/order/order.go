package order

import (
	"time"

	"github.com/shopspring/decimal"

	orderDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/order"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
)

type Order struct {
	ID                      int64           `json:"id"`
	UserID                  int64           `json:"user_id"`
	ProductID               int64           `json:"product_id"`
	Quantity                int             `json:"quantity"`
	TotalAmount             decimal.Decimal `json:"total_amount"`
	Currency                string          `json:"currency"`
	Status                  Status          `json:"status"`
	StripeCheckoutSessionID *string         `json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string         `json:"stripe_payment_intent_id,omitempty"`
	PaymentMethod           *string         `json:"payment_method,omitempty"`
	PaidAt                  *time.Time      `json:"paid_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// PaidUpdate carries the fields written by a PENDING -> PAID transition.
// Nil pointers leave the stored column untouched.
type PaidUpdate struct {
	PaidAt          time.Time
	PaymentMethod   *string
	PaymentIntentID *string
}

func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

func (o *Order) IsCanceled() bool {
	return o.Status == StatusCanceled
}

func (o *Order) IsTerminal() bool {
	return o.IsPaid() || o.IsCanceled()
}

// CanTransition reports whether the lifecycle allows moving from the current status to next.
func (o *Order) CanTransition(next Status) bool {
	return o.Status == StatusPending && (next == StatusPaid || next == StatusCanceled)
}

func NewPendingOrder(userID, productID int64, quantity int, unitPrice decimal.Decimal, currency string) *Order {
	now := time.Now()
	return &Order{
		UserID:      userID,
		ProductID:   productID,
		Quantity:    quantity,
		TotalAmount: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Currency:    currency,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func ToDataModel(o *Order) *orderDatamodel.Order {
	return &orderDatamodel.Order{
		ID:                      o.ID,
		UserID:                  o.UserID,
		ProductID:               o.ProductID,
		Quantity:                o.Quantity,
		TotalAmount:             o.TotalAmount,
		Currency:                o.Currency,
		Status:                  string(o.Status),
		StripeCheckoutSessionID: o.StripeCheckoutSessionID,
		StripePaymentIntentID:   o.StripePaymentIntentID,
		PaymentMethod:           o.PaymentMethod,
		PaidAt:                  o.PaidAt,
		CreatedAt:               o.CreatedAt,
		UpdatedAt:               o.UpdatedAt,
	}
}

func FromDataModel(o *orderDatamodel.Order) *Order {
	return &Order{
		ID:                      o.ID,
		UserID:                  o.UserID,
		ProductID:               o.ProductID,
		Quantity:                o.Quantity,
		TotalAmount:             o.TotalAmount,
		Currency:                o.Currency,
		Status:                  Status(o.Status),
		StripeCheckoutSessionID: o.StripeCheckoutSessionID,
		StripePaymentIntentID:   o.StripePaymentIntentID,
		PaymentMethod:           o.PaymentMethod,
		PaidAt:                  o.PaidAt,
		CreatedAt:               o.CreatedAt,
		UpdatedAt:               o.UpdatedAt,
	}
}
