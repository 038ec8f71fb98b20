package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/common/validation"
	"github.com/frahmantamala/checkout-payments/internal/order"
	"github.com/frahmantamala/checkout-payments/internal/paymentgateway"
)

// CreateCheckoutDTO is the checkout request. UserID is taken from the
// authenticated context, never from the body.
type CreateCheckoutDTO struct {
	UserID     int64  `json:"-"`
	ProductID  int64  `json:"product_id"`
	Quantity   int64  `json:"quantity,omitempty"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// Normalize applies the defaults: a missing quantity means one item.
func (dto *CreateCheckoutDTO) Normalize() {
	if dto.Quantity == 0 {
		dto.Quantity = 1
	}
}

func (dto CreateCheckoutDTO) Validate() *internal.AppError {
	validator := validation.NewValidator()
	validator.Field("user_id", dto.UserID).
		Required()
	validator.Field("product_id", dto.ProductID).
		Required().
		MinInt(1, internal.ErrCodeValidationFailed)
	validator.Field("quantity", dto.Quantity).
		MinInt(1, internal.ErrCodeInvalidQuantity).
		MaxInt(validation.MaxQuantity, internal.ErrCodeInvalidQuantity)
	validator.Field("success_url", dto.SuccessURL).
		MaxLength(2048).
		AbsoluteURL()
	validator.Field("cancel_url", dto.CancelURL).
		MaxLength(2048).
		AbsoluteURL()
	return validator.Validate()
}

type CheckoutResult struct {
	SessionID   string          `json:"session_id"`
	URL         string          `json:"url"`
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

type SessionDetails struct {
	Session *paymentgateway.Session `json:"session"`
	Order   *order.Order            `json:"order"`
}
