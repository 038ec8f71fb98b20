// Package checkout opens processor checkout sessions for local orders.
package checkout

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/order"
	"github.com/frahmantamala/checkout-payments/internal/paymentgateway"
	"github.com/frahmantamala/checkout-payments/internal/product"
	"github.com/frahmantamala/checkout-payments/internal/user"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	SetStripeCustomerID(ctx context.Context, id int64, customerID string) (bool, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
	GetByCheckoutSessionID(ctx context.Context, sessionID string) (*order.Order, error)
	SetCheckoutSessionID(ctx context.Context, id int64, sessionID string) error
	MarkCanceled(ctx context.Context, id int64, from ...order.Status) (bool, error)
}

type Gateway interface {
	CreateCustomer(ctx context.Context, userID int64, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req paymentgateway.SessionRequest) (*paymentgateway.Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*paymentgateway.Session, error)
}

// URLs are the redirect targets used when the request leaves them empty.
type URLs struct {
	Success string
	Cancel  string
}

type Service struct {
	products ProductRepository
	users    UserRepository
	orders   OrderRepository
	gateway  Gateway
	urls     URLs
	logger   *slog.Logger
}

func NewService(products ProductRepository, users UserRepository, orders OrderRepository, gateway Gateway, urls URLs, logger *slog.Logger) *Service {
	return &Service{
		products: products,
		users:    users,
		orders:   orders,
		gateway:  gateway,
		urls:     urls,
		logger:   logger,
	}
}

// CreateCheckout records a PENDING order for the product and opens a hosted
// checkout session for it. The order id travels in the session metadata so
// the webhook can find the order again.
func (s *Service) CreateCheckout(ctx context.Context, dto CreateCheckoutDTO) (*CheckoutResult, error) {
	dto.Normalize()
	if err := dto.Validate(); err != nil {
		s.logger.Warn("checkout validation failed", "user_id", dto.UserID, "error", err.GetDetailedMessage())
		return nil, err
	}

	p, err := s.products.GetByID(ctx, dto.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, internal.ErrProductNotFound
	}
	if !p.IsPriced() {
		s.logger.Error("product has no processor price", "product_id", p.ID)
		return nil, internal.ErrProductNotPriced
	}

	u, err := s.users.GetByID(ctx, dto.UserID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}

	o := order.NewPendingOrder(u.ID, p.ID, int(dto.Quantity), p.Price, p.Currency)
	if err := s.orders.Create(ctx, o); err != nil {
		s.logger.Error("failed to create order", "user_id", u.ID, "product_id", p.ID, "error", err)
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, paymentgateway.SessionRequest{
		OrderID:    o.ID,
		UserID:     u.ID,
		ProductID:  p.ID,
		CustomerID: customerID,
		PriceID:    *p.StripePriceID,
		Quantity:   dto.Quantity,
		Mode:       string(p.CheckoutMode()),
		SuccessURL: firstNonEmpty(dto.SuccessURL, s.urls.Success),
		CancelURL:  firstNonEmpty(dto.CancelURL, s.urls.Cancel),
	})
	if err != nil {
		s.abandon(ctx, o.ID)
		return nil, err
	}

	if err := s.orders.SetCheckoutSessionID(ctx, o.ID, session.ID); err != nil {
		s.logger.Error("failed to store checkout session on order", "order_id", o.ID, "session_id", session.ID, "error", err)
		return nil, err
	}

	s.logger.Info("checkout session created",
		"order_id", o.ID,
		"user_id", u.ID,
		"product_id", p.ID,
		"session_id", session.ID,
		"total_amount", o.TotalAmount.String())

	return &CheckoutResult{
		SessionID:   session.ID,
		URL:         session.URL,
		OrderID:     o.ID,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
	}, nil
}

// GetCheckoutSession returns the processor's view of a session together with
// the order it was opened for. Sessions not linked to an order of the caller
// are reported as not found.
func (s *Service) GetCheckoutSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	if sessionID == "" {
		return nil, internal.NewValidationFieldError("session_id", "session_id is required", internal.ErrCodeValidationFailed)
	}

	o, err := s.orders.GetByCheckoutSessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID, ok := internal.UserIDFromContext(ctx); ok && userID != o.UserID {
		s.logger.Warn("session requested by a user that does not own it", "session_id", sessionID, "user_id", userID)
		return nil, internal.ErrOrderNotFound
	}

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &SessionDetails{Session: session, Order: o}, nil
}

// ensureCustomer returns the user's processor customer, creating it on first
// checkout. Concurrent first checkouts race on a conditional update; the
// loser adopts the stored id.
func (s *Service) ensureCustomer(ctx context.Context, u *user.User) (string, error) {
	if u.HasStripeCustomer() {
		return *u.StripeCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, u.ID, u.Email, u.Name)
	if err != nil {
		return "", err
	}

	stored, err := s.users.SetStripeCustomerID(ctx, u.ID, customerID)
	if err != nil {
		return "", err
	}
	if stored {
		return customerID, nil
	}

	current, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return "", err
	}
	if !current.HasStripeCustomer() {
		return "", internal.NewConflictError("stripe customer could not be stored", internal.ErrCodeCustomerConflict)
	}
	s.logger.Warn("stripe customer created concurrently, using stored one",
		"user_id", u.ID,
		"discarded_customer_id", customerID,
		"customer_id", *current.StripeCustomerID)
	return *current.StripeCustomerID, nil
}

// abandon cancels an order whose session could not be opened so it does not
// linger as PENDING.
func (s *Service) abandon(ctx context.Context, orderID int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.orders.MarkCanceled(ctx, orderID, order.StatusPending); err != nil {
		s.logger.Warn("failed to cancel order after session error", "order_id", orderID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
