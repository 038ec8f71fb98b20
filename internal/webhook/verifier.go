// Package webhook receives processor notifications, authenticates them and
// hands them to the reconciliation engine.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
)

// SignatureHeader carries the processor's HMAC signature of the raw body.
const SignatureHeader = "Stripe-Signature"

type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier fails with a configuration error when secret is empty so the
// service never accepts unauthenticated notifications.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, internal.NewConfigurationError("stripe webhook secret is not configured", internal.ErrCodeMissingSecret)
	}
	return &Verifier{
		secret:    secret,
		tolerance: stripewebhook.DefaultTolerance,
	}, nil
}

// Verify authenticates payload against signature and decodes it. Any failure
// is an AUTHENTICATION_ERROR and nothing downstream runs.
func (v *Verifier) Verify(payload []byte, signature string) (reconcile.Event, error) {
	if signature == "" {
		return nil, internal.ErrMissingSignature
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, v.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, internal.ErrInvalidSignature.WithCause(err)
	}

	return decode(event), nil
}

// DecodeEvent rebuilds a reconciliation event from a stored raw notification
// without checking its signature. Only use it on payloads that were verified
// when they arrived.
func DecodeEvent(payload []byte) (reconcile.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stored event: %w", err)
	}
	return decode(event), nil
}

func decode(event stripe.Event) reconcile.Event {
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return reconcile.Decode(event.ID, string(event.Type), raw)
}
