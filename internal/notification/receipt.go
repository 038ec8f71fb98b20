package notification

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/frahmantamala/checkout-payments/internal/core/events"
	"github.com/frahmantamala/checkout-payments/internal/payment"
	"github.com/frahmantamala/checkout-payments/internal/user"
)

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
}

type PaymentLookup interface {
	GetByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error)
}

type Subscriber interface {
	Subscribe(eventType string, handler events.Handler)
}

var receiptHTML = template.Must(template.New("receipt").Parse(
	`<p>Hi {{.Name}},</p>
<p>We received your payment of <strong>{{.Amount}} {{.Currency}}</strong> for order #{{.OrderID}}.</p>
{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">View your receipt</a></p>{{end}}
<p>Thank you for your purchase.</p>`))

type receiptData struct {
	Name       string
	Amount     string
	Currency   string
	OrderID    int64
	ReceiptURL string
}

// ReceiptNotifier mails a payment confirmation when an order becomes PAID.
type ReceiptNotifier struct {
	users    UserLookup
	payments PaymentLookup
	mailer   Mailer
	logger   *slog.Logger
}

func NewReceiptNotifier(users UserLookup, payments PaymentLookup, mailer Mailer, logger *slog.Logger) *ReceiptNotifier {
	return &ReceiptNotifier{
		users:    users,
		payments: payments,
		mailer:   mailer,
		logger:   logger,
	}
}

func (n *ReceiptNotifier) Register(bus Subscriber) {
	bus.Subscribe(events.EventTypeOrderPaid, n.HandleOrderPaid)
}

func (n *ReceiptNotifier) HandleOrderPaid(ctx context.Context, event events.Event) error {
	paid, ok := event.(*events.OrderPaidEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, event.EventType())
	}

	u, err := n.users.GetByID(ctx, paid.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", paid.UserID, err)
	}

	data := receiptData{
		Name:     u.Name,
		Amount:   paid.Amount.StringFixed(2),
		Currency: strings.ToUpper(paid.Currency),
		OrderID:  paid.OrderID,
	}
	// the receipt link may arrive later through enrichment
	if p, err := n.payments.GetByOrderID(ctx, paid.OrderID); err == nil && p.ReceiptURL != nil {
		data.ReceiptURL = *p.ReceiptURL
	}

	var html strings.Builder
	if err := receiptHTML.Execute(&html, data); err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	msg := Message{
		ToEmail: u.Email,
		ToName:  u.Name,
		Subject: fmt.Sprintf("Payment received for order #%d", paid.OrderID),
		Text: fmt.Sprintf("Hi %s, we received your payment of %s %s for order #%d.",
			u.Name, data.Amount, data.Currency, paid.OrderID),
		HTML: html.String(),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return err
	}

	n.logger.Info("receipt sent", "order_id", paid.OrderID, "user_id", paid.UserID)
	return nil
}
