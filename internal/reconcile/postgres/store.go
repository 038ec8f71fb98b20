package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	"github.com/frahmantamala/checkout-payments/internal/order"
	orderPostgres "github.com/frahmantamala/checkout-payments/internal/order/postgres"
	"github.com/frahmantamala/checkout-payments/internal/payment"
	paymentPostgres "github.com/frahmantamala/checkout-payments/internal/payment/postgres"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
)

// Store backs the reconciliation engine with the order and payment repositories.
type Store struct {
	db       *gorm.DB
	orders   *orderPostgres.OrderRepository
	payments *paymentPostgres.PaymentRepository
}

var _ reconcile.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		orders:   orderPostgres.NewOrderRepository(db),
		payments: paymentPostgres.NewPaymentRepository(db),
	}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx reconcile.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return storage.Classify(err)
}

func (s *Store) FindOrderByID(ctx context.Context, id int64) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Store) FindOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*order.Order, error) {
	return s.orders.GetByPaymentIntentID(ctx, paymentIntentID)
}

func (s *Store) MarkOrderPaid(ctx context.Context, id int64, upd order.PaidUpdate) (bool, error) {
	return s.orders.MarkPaid(ctx, id, upd)
}

func (s *Store) MarkOrderCanceled(ctx context.Context, id int64, from ...order.Status) (bool, error) {
	return s.orders.MarkCanceled(ctx, id, from...)
}

func (s *Store) FindPaymentByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error) {
	return s.payments.GetByOrderID(ctx, orderID)
}

func (s *Store) FindPaymentByChargeID(ctx context.Context, chargeID string) (*payment.Payment, error) {
	return s.payments.GetByChargeID(ctx, chargeID)
}

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	return s.payments.Create(ctx, p)
}

func (s *Store) MarkPaymentSucceeded(ctx context.Context, id int64, ref payment.ChargeRef) error {
	return s.payments.MarkSucceeded(ctx, id, ref)
}

func (s *Store) MarkPaymentFailed(ctx context.Context, id int64) error {
	return s.payments.MarkFailed(ctx, id)
}

func (s *Store) EnrichPayment(ctx context.Context, id int64, ref payment.ChargeRef) error {
	return s.payments.Enrich(ctx, id, ref)
}

func (s *Store) EnrichPayments(ctx context.Context, orderID int64, ref payment.ChargeRef) (int64, error) {
	return s.payments.EnrichByOrderID(ctx, orderID, ref)
}
