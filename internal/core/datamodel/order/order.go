package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                      int64           `gorm:"primaryKey"`
	UserID                  int64           `gorm:"column:user_id;not null;index"`
	ProductID               int64           `gorm:"column:product_id;not null"`
	Quantity                int             `gorm:"column:quantity;not null"`
	TotalAmount             decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency                string          `gorm:"column:currency;size:3;not null"`
	Status                  string          `gorm:"column:status;size:16;not null;index"`
	StripeCheckoutSessionID *string         `gorm:"column:stripe_checkout_session_id;uniqueIndex"`
	StripePaymentIntentID   *string         `gorm:"column:stripe_payment_intent_id;index"`
	PaymentMethod           *string         `gorm:"column:payment_method"`
	PaidAt                  *time.Time      `gorm:"column:paid_at"`
	CreatedAt               time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
