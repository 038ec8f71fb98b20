// Package paymentgateway wraps the Stripe API behind the small surface the
// checkout and reconciliation flows need.
package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
)

type Config struct {
	APIKey  string
	Timeout time.Duration
	// BaseURL overrides the Stripe API endpoint, used against local stubs.
	BaseURL string
}

// Client is constructed once at startup and shared; it holds no mutable state.
type Client struct {
	api    *client.API
	logger *slog.Logger
}

var _ reconcile.ChargeLookup = (*Client)(nil)

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     &leveledLogger{logger: logger},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if config.BaseURL != "" {
		backendConfig.URL = stripe.String(config.BaseURL)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)
	api := client.New(config.APIKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &Client{
		api:    api,
		logger: logger,
	}
}

// CreateCustomer registers a processor customer for a local user.
func (c *Client) CreateCustomer(ctx context.Context, userID int64, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata(reconcile.MetadataUserID, strconv.FormatInt(userID, 10))

	cus, err := c.api.Customers.New(params)
	if err != nil {
		c.logger.Error("stripe: failed to create customer", "user_id", userID, "error", err)
		return "", internal.NewExternalError("failed to create stripe customer", err)
	}

	c.logger.Info("stripe: customer created", "user_id", userID, "customer_id", cus.ID)
	return cus.ID, nil
}

// CreateCheckoutSession opens a hosted checkout session for one order.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	orderRef := strconv.FormatInt(req.OrderID, 10)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(req.Mode),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(orderRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(req.Quantity),
			},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Mode == string(stripe.CheckoutSessionModePayment) {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOnSession)),
			Metadata:         map[string]string{reconcile.MetadataOrderID: orderRef},
		}
	}
	params.Context = ctx
	params.AddMetadata(reconcile.MetadataOrderID, orderRef)
	params.AddMetadata(reconcile.MetadataUserID, strconv.FormatInt(req.UserID, 10))
	params.AddMetadata(reconcile.MetadataProductID, strconv.FormatInt(req.ProductID, 10))

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		c.logger.Error("stripe: failed to create checkout session", "order_id", req.OrderID, "error", err)
		return nil, internal.NewExternalError("failed to create checkout session", err)
	}

	c.logger.Info("stripe: checkout session created", "order_id", req.OrderID, "session_id", s.ID)
	return sessionFromStripe(s), nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, internal.NewNotFoundError("Checkout session not found", internal.ErrCodeSessionNotFound)
		}
		return nil, internal.NewExternalError("failed to retrieve checkout session", err)
	}
	return sessionFromStripe(s), nil
}

// LatestCharge returns the most recent charge of a payment intent, or nil
// when the intent has not been charged yet.
func (c *Client) LatestCharge(ctx context.Context, paymentIntentID string) (*reconcile.Charge, error) {
	params := &stripe.ChargeListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	it := c.api.Charges.List(params)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, fmt.Errorf("list charges for %s: %w", paymentIntentID, err)
		}
		return nil, nil
	}

	ch := it.Charge()
	return &reconcile.Charge{ID: ch.ID, ReceiptURL: ch.ReceiptURL}, nil
}
