package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	paymentDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/payment"
)

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

type Payment struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         Status          `json:"status"`
	StripeChargeID *string         `json:"stripe_charge_id,omitempty"`
	ReceiptURL     *string         `json:"receipt_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ChargeRef is what the processor knows about the charge behind a payment.
// Empty fields mean "unknown" and are never written over stored values.
type ChargeRef struct {
	ChargeID   string
	ReceiptURL string
}

func (r ChargeRef) IsZero() bool {
	return r.ChargeID == "" && r.ReceiptURL == ""
}

func (r ChargeRef) HasReceipt() bool {
	return r.ReceiptURL != ""
}

// NewSucceeded builds the payment row created on the first observed success.
func NewSucceeded(orderID, userID int64, amount decimal.Decimal, currency string, ref ChargeRef) *Payment {
	now := time.Now()
	p := &Payment{
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  strings.ToLower(currency),
		Status:    StatusSucceeded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ref.ChargeID != "" {
		p.StripeChargeID = &ref.ChargeID
	}
	if ref.ReceiptURL != "" {
		p.ReceiptURL = &ref.ReceiptURL
	}
	return p
}

// Stripe charges these currencies in whole units.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func minorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// AmountFromMinorUnits converts a processor amount (cents) into major units.
func AmountFromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -minorUnitExponent(currency))
}

// ToMinorUnits is the inverse of AmountFromMinorUnits, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(minorUnitExponent(currency)).Round(0).IntPart()
}

func ToDataModel(p *Payment) *paymentDatamodel.Payment {
	return &paymentDatamodel.Payment{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		StripeChargeID: p.StripeChargeID,
		ReceiptURL:     p.ReceiptURL,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func FromDataModel(p *paymentDatamodel.Payment) *Payment {
	return &Payment{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         Status(p.Status),
		StripeChargeID: p.StripeChargeID,
		ReceiptURL:     p.ReceiptURL,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
