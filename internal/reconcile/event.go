package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
)

// Processor event type strings handled by the engine.
const (
	TypeCheckoutSessionCompleted = "checkout.session.completed"
	TypePaymentIntentSucceeded   = "payment_intent.succeeded"
	TypePaymentIntentFailed      = "payment_intent.payment_failed"
	TypeChargeSucceeded          = "charge.succeeded"
)

// Metadata keys written on checkout sessions and read back on completion.
const (
	MetadataOrderID   = "orderId"
	MetadataUserID    = "userId"
	MetadataProductID = "productId"
)

const defaultPaymentMethod = "card"

// Event is the closed set of notifications the engine understands. The
// unexported marker keeps other packages from adding variants.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type envelope struct {
	ID   string
	Type string
}

func (e envelope) EventID() string   { return e.ID }
func (e envelope) EventType() string { return e.Type }
func (envelope) isEvent()            {}

type CheckoutCompleted struct {
	envelope
	SessionID       string
	OrderRef        string
	PaymentIntentID string
	PaymentMethod   string
	AmountTotal     int64
	Currency        string
}

// OrderID parses the order reference from session metadata.
func (e CheckoutCompleted) OrderID() (int64, bool) {
	if e.OrderRef == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(e.OrderRef, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type PaymentSucceeded struct {
	envelope
	PaymentIntentID string
	AmountReceived  int64
	Currency        string
}

type PaymentFailed struct {
	envelope
	PaymentIntentID string
	FailureMessage  string
}

type ChargeSucceeded struct {
	envelope
	ChargeID        string
	PaymentIntentID string
	ReceiptURL      string
}

// Unrecognized covers event types the engine does not handle and known
// types whose payload could not be decoded.
type Unrecognized struct {
	envelope
	Err error
}

// Decode turns a verified processor event into one of the Event variants.
// It never fails; problems are reported through Unrecognized.Err.
func Decode(eventID, eventType string, raw json.RawMessage) Event {
	env := envelope{ID: eventID, Type: eventType}

	switch eventType {
	case TypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return unrecognized(env, err)
		}
		ev := CheckoutCompleted{
			envelope:      env,
			SessionID:     s.ID,
			OrderRef:      strings.TrimSpace(s.Metadata[MetadataOrderID]),
			PaymentMethod: defaultPaymentMethod,
			AmountTotal:   s.AmountTotal,
			Currency:      string(s.Currency),
		}
		if s.PaymentIntent != nil {
			ev.PaymentIntentID = s.PaymentIntent.ID
		}
		if len(s.PaymentMethodTypes) > 0 && s.PaymentMethodTypes[0] != "" {
			ev.PaymentMethod = s.PaymentMethodTypes[0]
		}
		return ev

	case TypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return unrecognized(env, err)
		}
		if pi.ID == "" {
			return unrecognized(env, fmt.Errorf("payment intent without id"))
		}
		return PaymentSucceeded{
			envelope:        env,
			PaymentIntentID: pi.ID,
			AmountReceived:  pi.AmountReceived,
			Currency:        string(pi.Currency),
		}

	case TypePaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return unrecognized(env, err)
		}
		if pi.ID == "" {
			return unrecognized(env, fmt.Errorf("payment intent without id"))
		}
		ev := PaymentFailed{envelope: env, PaymentIntentID: pi.ID}
		if pi.LastPaymentError != nil {
			ev.FailureMessage = pi.LastPaymentError.Msg
		}
		return ev

	case TypeChargeSucceeded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return unrecognized(env, err)
		}
		ev := ChargeSucceeded{
			envelope:   env,
			ChargeID:   ch.ID,
			ReceiptURL: ch.ReceiptURL,
		}
		if ch.PaymentIntent != nil {
			ev.PaymentIntentID = ch.PaymentIntent.ID
		}
		return ev
	}

	return Unrecognized{envelope: env}
}

func unrecognized(env envelope, err error) Unrecognized {
	return Unrecognized{envelope: env, Err: fmt.Errorf("decode %s payload: %w", env.Type, err)}
}
