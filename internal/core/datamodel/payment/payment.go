package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID             int64           `gorm:"primaryKey"`
	OrderID        int64           `gorm:"column:order_id;not null;uniqueIndex"`
	UserID         int64           `gorm:"column:user_id;not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string          `gorm:"column:currency;size:3;not null"`
	Status         string          `gorm:"column:status;size:16;not null"`
	StripeChargeID *string         `gorm:"column:stripe_charge_id;index"`
	ReceiptURL     *string         `gorm:"column:receipt_url"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}
