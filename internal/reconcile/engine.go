// Package reconcile applies processor payment notifications to local orders
// and payments so that the stored state converges regardless of delivery
// order or duplication.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/events"
	"github.com/frahmantamala/checkout-payments/internal/order"
	"github.com/frahmantamala/checkout-payments/internal/payment"
	"github.com/frahmantamala/checkout-payments/pkg/logger"
)

// A lost compare-and-set is re-evaluated from a fresh read at most this many times.
const maxTransitionAttempts = 3

var errLostRace = internal.NewConflictError("order changed concurrently", internal.ErrCodeInvalidTransition)

// Publisher receives domain events after a transition has committed.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Engine struct {
	store   Store
	charges ChargeLookup
	policy  FailurePolicy
	stats   *Stats
	bus     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithStats(s *Stats) Option {
	return func(e *Engine) { e.stats = s }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, charges ChargeLookup, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		charges: charges,
		policy:  DefaultFailurePolicy(),
		stats:   NewStats(),
		logger:  logger.LoggerWrapper(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

// Dispatch applies one event. Errors returned here were not absorbed as a
// no-op; storage outages among them are worth a redelivery.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (Result, error) {
	// A client disconnect must not abort a half-applied update.
	ctx = context.WithoutCancel(ctx)
	lg := e.logger.With("event_id", ev.EventID(), "event_type", ev.EventType())

	var (
		res Result
		err error
	)
	switch ev := ev.(type) {
	case CheckoutCompleted:
		res, err = e.checkoutCompleted(ctx, lg, ev)
	case PaymentSucceeded:
		res, err = e.paymentSucceeded(ctx, lg, ev)
	case PaymentFailed:
		res, err = e.paymentFailed(ctx, lg, ev)
	case ChargeSucceeded:
		res, err = e.chargeSucceeded(ctx, lg, ev)
	case Unrecognized:
		if ev.Err != nil {
			lg.Warn("event payload could not be decoded", "error", ev.Err)
			res = ignored(ev.Err.Error())
		} else {
			res = ignored("unhandled event type")
		}
	}

	if err != nil {
		e.stats.Record(OutcomeFailed)
		lg.Error("reconciliation failed", "error", err)
		return Result{Outcome: OutcomeFailed, OrderID: res.OrderID, Reason: err.Error()}, err
	}

	e.stats.Record(res.Outcome)
	switch res.Outcome {
	case OutcomeUnresolved:
		lg.Warn("reconciliation event unresolved",
			"reason", res.Reason,
			"unresolved_total", e.stats.Unresolved())
	case OutcomeIgnored:
		lg.Debug("event ignored", "reason", res.Reason)
	default:
		lg.Info("event reconciled", "outcome", res.Outcome, "order_id", res.OrderID, "reason", res.Reason)
	}
	return res, nil
}

func (e *Engine) checkoutCompleted(ctx context.Context, lg *slog.Logger, ev CheckoutCompleted) (Result, error) {
	orderID, ok := ev.OrderID()
	if !ok {
		return unresolved("session metadata carries no order id"), nil
	}

	var (
		res  Result
		paid *order.Order
	)
	err := e.store.Transaction(ctx, func(tx Store) error {
		for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
			o, err := tx.FindOrderByID(ctx, orderID)
			if err != nil {
				return err
			}
			if o.IsTerminal() {
				res = skipped(o.ID, "order already "+string(o.Status))
				return nil
			}

			upd := order.PaidUpdate{
				PaidAt:          e.now(),
				PaymentMethod:   optional(ev.PaymentMethod),
				PaymentIntentID: optional(ev.PaymentIntentID),
			}
			won, err := tx.MarkOrderPaid(ctx, o.ID, upd)
			if err != nil {
				return err
			}
			if !won {
				continue
			}

			amount, currency := settledAmount(o, ev.AmountTotal, ev.Currency)
			if err := ensureSucceededPayment(ctx, tx, o, amount, currency, payment.ChargeRef{}); err != nil {
				return err
			}

			paid = o
			res = applied(o.ID)
			return nil
		}
		return errLostRace
	})
	if errors.Is(err, internal.ErrOrderNotFound) {
		return unresolved("order not found"), nil
	}
	if err != nil {
		return Result{OrderID: orderID}, err
	}

	if paid != nil {
		e.checkSettled(lg, paid, ev.AmountTotal, ev.Currency)
		// Receipt subscribers read the payment, so the link goes in first.
		if ev.PaymentIntentID != "" {
			e.enrich(ctx, lg, ev.PaymentIntentID, paid.ID)
		}
		e.publishPaid(ctx, lg, paid, ev.EventType())
	}
	return res, nil
}

func (e *Engine) paymentSucceeded(ctx context.Context, lg *slog.Logger, ev PaymentSucceeded) (Result, error) {
	o, err := e.store.FindOrderByPaymentIntent(ctx, ev.PaymentIntentID)
	if errors.Is(err, internal.ErrOrderNotFound) {
		return unresolved("no order for payment intent"), nil
	}
	if err != nil {
		return Result{}, err
	}
	if o.IsTerminal() {
		return skipped(o.ID, "order already "+string(o.Status)), nil
	}

	// The processor is called outside the transaction so no row stays locked on it.
	ref := e.lookupCharge(ctx, lg, ev.PaymentIntentID)

	var (
		res  Result
		paid *order.Order
	)
	err = e.store.Transaction(ctx, func(tx Store) error {
		for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
			cur, err := tx.FindOrderByID(ctx, o.ID)
			if err != nil {
				return err
			}
			if cur.IsTerminal() {
				res = skipped(cur.ID, "order already "+string(cur.Status))
				return nil
			}

			won, err := tx.MarkOrderPaid(ctx, cur.ID, order.PaidUpdate{PaidAt: e.now()})
			if err != nil {
				return err
			}
			if !won {
				continue
			}

			amount, currency := settledAmount(cur, ev.AmountReceived, ev.Currency)
			if err := ensureSucceededPayment(ctx, tx, cur, amount, currency, ref); err != nil {
				return err
			}

			paid = cur
			res = applied(cur.ID)
			return nil
		}
		return errLostRace
	})
	if err != nil {
		return Result{OrderID: o.ID}, err
	}

	if paid != nil {
		e.checkSettled(lg, paid, ev.AmountReceived, ev.Currency)
		e.publishPaid(ctx, lg, paid, ev.EventType())
	}
	return res, nil
}

func (e *Engine) paymentFailed(ctx context.Context, lg *slog.Logger, ev PaymentFailed) (Result, error) {
	o, err := e.store.FindOrderByPaymentIntent(ctx, ev.PaymentIntentID)
	if errors.Is(err, internal.ErrOrderNotFound) {
		return unresolved("no order for payment intent"), nil
	}
	if err != nil {
		return Result{}, err
	}

	from := []order.Status{order.StatusPending}
	if e.policy.OverridePaid {
		from = append(from, order.StatusPaid)
	}

	var (
		res      Result
		canceled *order.Order
		previous order.Status
	)
	err = e.store.Transaction(ctx, func(tx Store) error {
		for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
			cur, err := tx.FindOrderByID(ctx, o.ID)
			if err != nil {
				return err
			}
			if cur.IsCanceled() {
				res = skipped(cur.ID, "order already CANCELED")
				return nil
			}
			if cur.IsPaid() && !e.policy.OverridePaid {
				res = skipped(cur.ID, "order already PAID; failure policy keeps it")
				return nil
			}

			won, err := tx.MarkOrderCanceled(ctx, cur.ID, from...)
			if err != nil {
				return err
			}
			if !won {
				continue
			}

			p, err := tx.FindPaymentByOrderID(ctx, cur.ID)
			switch {
			case errors.Is(err, internal.ErrPaymentNotFound):
			case err != nil:
				return err
			default:
				if err := tx.MarkPaymentFailed(ctx, p.ID); err != nil {
					return err
				}
			}

			previous = cur.Status
			canceled = cur
			res = applied(cur.ID)
			return nil
		}
		return errLostRace
	})
	if err != nil {
		return Result{OrderID: o.ID}, err
	}

	if canceled != nil {
		if previous == order.StatusPaid {
			lg.Warn("paid order canceled by payment failure", "order_id", canceled.ID, "payment_intent_id", ev.PaymentIntentID)
		}
		e.publish(ctx, lg, events.NewOrderCanceledEvent(canceled.ID, canceled.UserID, string(previous), ev.FailureMessage))
	}
	return res, nil
}

func (e *Engine) chargeSucceeded(ctx context.Context, lg *slog.Logger, ev ChargeSucceeded) (Result, error) {
	if ev.PaymentIntentID == "" {
		return skipped(0, "charge has no payment intent"), nil
	}

	var p *payment.Payment
	if ev.ChargeID != "" {
		found, err := e.store.FindPaymentByChargeID(ctx, ev.ChargeID)
		switch {
		case errors.Is(err, internal.ErrPaymentNotFound):
		case err != nil:
			return Result{}, err
		default:
			p = found
		}
	}

	if p == nil {
		o, err := e.store.FindOrderByPaymentIntent(ctx, ev.PaymentIntentID)
		if errors.Is(err, internal.ErrOrderNotFound) {
			return unresolved("no order for payment intent"), nil
		}
		if err != nil {
			return Result{}, err
		}

		p, err = e.store.FindPaymentByOrderID(ctx, o.ID)
		if errors.Is(err, internal.ErrPaymentNotFound) {
			return skipped(o.ID, "order has no payment yet"), nil
		}
		if err != nil {
			return Result{OrderID: o.ID}, err
		}
	}

	if ev.ReceiptURL == "" {
		return skipped(p.OrderID, "charge carries no receipt"), nil
	}

	ref := payment.ChargeRef{ChargeID: ev.ChargeID, ReceiptURL: ev.ReceiptURL}
	if err := e.store.EnrichPayment(ctx, p.ID, ref); err != nil {
		return Result{OrderID: p.OrderID}, err
	}
	lg.Debug("payment enriched from charge", "order_id", p.OrderID, "charge_id", ev.ChargeID)
	return applied(p.OrderID), nil
}

// enrich copies the latest charge's receipt onto the order's payments. It is
// best effort: lookup and write failures are logged, never returned.
func (e *Engine) enrich(ctx context.Context, lg *slog.Logger, paymentIntentID string, orderID int64) {
	ref := e.lookupCharge(ctx, lg, paymentIntentID)
	if !ref.HasReceipt() {
		return
	}

	n, err := e.store.EnrichPayments(ctx, orderID, ref)
	if err != nil {
		lg.Warn("receipt enrichment failed", "order_id", orderID, "payment_intent_id", paymentIntentID, "error", err)
		return
	}
	lg.Debug("receipt enrichment applied", "order_id", orderID, "rows", n)
}

func (e *Engine) lookupCharge(ctx context.Context, lg *slog.Logger, paymentIntentID string) payment.ChargeRef {
	if e.charges == nil || paymentIntentID == "" {
		return payment.ChargeRef{}
	}

	ch, err := e.charges.LatestCharge(ctx, paymentIntentID)
	if err != nil {
		lg.Warn("charge lookup failed", "payment_intent_id", paymentIntentID, "error", err)
		return payment.ChargeRef{}
	}
	if ch == nil {
		return payment.ChargeRef{}
	}
	return payment.ChargeRef{ChargeID: ch.ID, ReceiptURL: ch.ReceiptURL}
}

func (e *Engine) publishPaid(ctx context.Context, lg *slog.Logger, o *order.Order, source string) {
	e.publish(ctx, lg, events.NewOrderPaidEvent(o.ID, o.UserID, o.TotalAmount, o.Currency, source))
}

func (e *Engine) publish(ctx context.Context, lg *slog.Logger, ev events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		lg.Warn("failed to publish domain event", "domain_event", ev.EventType(), "error", err)
	}
}

// ensureSucceededPayment creates the order's payment or marks the existing one
// SUCCEEDED, filling in whatever charge refs are known.
func ensureSucceededPayment(ctx context.Context, tx Store, o *order.Order, amount decimal.Decimal, currency string, ref payment.ChargeRef) error {
	existing, err := tx.FindPaymentByOrderID(ctx, o.ID)
	switch {
	case errors.Is(err, internal.ErrPaymentNotFound):
		return tx.CreatePayment(ctx, payment.NewSucceeded(o.ID, o.UserID, amount, currency, ref))
	case err != nil:
		return err
	}
	return tx.MarkPaymentSucceeded(ctx, existing.ID, ref)
}

// checkSettled warns when the processor settled a different amount than the
// order total. The payment still records what the processor reported.
func (e *Engine) checkSettled(lg *slog.Logger, o *order.Order, minor int64, currency string) {
	if minor <= 0 || (currency != "" && !strings.EqualFold(currency, o.Currency)) {
		return
	}
	expected := payment.ToMinorUnits(o.TotalAmount, o.Currency)
	if minor != expected {
		lg.Warn("settled amount differs from order total",
			"order_id", o.ID,
			"expected_minor", expected,
			"settled_minor", minor,
			"currency", o.Currency)
	}
}

// settledAmount prefers the processor's figure and falls back to the order total.
func settledAmount(o *order.Order, minor int64, currency string) (decimal.Decimal, string) {
	if currency == "" {
		currency = o.Currency
	}
	if minor <= 0 {
		return o.TotalAmount, currency
	}
	return payment.AmountFromMinorUnits(minor, currency), currency
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
