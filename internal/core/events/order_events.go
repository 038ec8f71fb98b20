package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeOrderPaid     = "order.paid"
	EventTypeOrderCanceled = "order.canceled"
)

type OrderPaidEvent struct {
	BaseEvent
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Source   string          `json:"source"`
}

// NewOrderPaidEvent is published once per order, after the PENDING -> PAID commit.
// source is the processor event type that settled the order.
func NewOrderPaidEvent(orderID, userID int64, amount decimal.Decimal, currency, source string) *OrderPaidEvent {
	return &OrderPaidEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderPaid,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id": orderID,
				"user_id":  userID,
				"amount":   amount.String(),
				"currency": currency,
				"source":   source,
			},
		},
		OrderID:  orderID,
		UserID:   userID,
		Amount:   amount,
		Currency: currency,
		Source:   source,
	}
}

type OrderCanceledEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	UserID         int64  `json:"user_id"`
	PreviousStatus string `json:"previous_status"`
	Reason         string `json:"reason"`
}

func NewOrderCanceledEvent(orderID, userID int64, previousStatus, reason string) *OrderCanceledEvent {
	return &OrderCanceledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCanceled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":        orderID,
				"user_id":         userID,
				"previous_status": previousStatus,
				"reason":          reason,
			},
		},
		OrderID:        orderID,
		UserID:         userID,
		PreviousStatus: previousStatus,
		Reason:         reason,
	}
}
