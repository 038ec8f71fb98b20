package product

import (
	"time"

	"github.com/shopspring/decimal"

	productDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/product"
)

// Mode is the checkout session mode a product is sold under.
type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

type Product struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	Stock           int             `json:"stock"`
	ImageURL        *string         `json:"image_url,omitempty"`
	StripeProductID *string         `json:"-"`
	StripePriceID   *string         `json:"-"`
	Mode            Mode            `json:"mode"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsPriced reports whether the product has a processor price to check out against.
func (p *Product) IsPriced() bool {
	return p.StripePriceID != nil && *p.StripePriceID != ""
}

func (p *Product) CheckoutMode() Mode {
	if p.Mode == ModeSubscription {
		return ModeSubscription
	}
	return ModePayment
}

func (p *Product) ToResponse() ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Currency:    p.Currency,
		ImageURL:    p.ImageURL,
		Purchasable: p.IsPriced(),
	}
}

func NewProduct(name string, price decimal.Decimal, currency string) *Product {
	now := time.Now()
	return &Product{
		Name:      name,
		Price:     price,
		Currency:  currency,
		Mode:      ModePayment,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ToDataModel(p *Product) *productDatamodel.Product {
	return &productDatamodel.Product{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Currency:        p.Currency,
		Stock:           p.Stock,
		ImageURL:        p.ImageURL,
		StripeProductID: p.StripeProductID,
		StripePriceID:   p.StripePriceID,
		Mode:            string(p.Mode),
		Active:          p.Active,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func FromDataModel(p *productDatamodel.Product) *Product {
	return &Product{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Currency:        p.Currency,
		Stock:           p.Stock,
		ImageURL:        p.ImageURL,
		StripeProductID: p.StripeProductID,
		StripePriceID:   p.StripePriceID,
		Mode:            Mode(p.Mode),
		Active:          p.Active,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
