package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              int64           `gorm:"primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	Description     *string         `gorm:"column:description"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency        string          `gorm:"column:currency;size:3;not null"`
	Stock           int             `gorm:"column:stock;not null"`
	ImageURL        *string         `gorm:"column:image_url"`
	StripeProductID *string         `gorm:"column:stripe_product_id"`
	StripePriceID   *string         `gorm:"column:stripe_price_id"`
	Mode            string          `gorm:"column:mode;size:16;not null"`
	Active          bool            `gorm:"column:active;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}
