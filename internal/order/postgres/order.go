package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	orderDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	"github.com/frahmantamala/checkout-payments/internal/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	model := order.ToDataModel(o)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storage.Classify(err)
	}
	o.ID = model.ID
	o.CreatedAt = model.CreatedAt
	o.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *OrderRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*order.Order, error) {
	return r.first(ctx, "stripe_payment_intent_id = ?", paymentIntentID)
}

func (r *OrderRepository) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	return r.first(ctx, "stripe_checkout_session_id = ?", sessionID)
}

func (r *OrderRepository) first(ctx context.Context, query string, args ...interface{}) (*order.Order, error) {
	var model orderDatamodel.Order
	err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&model).Error
	if err != nil {
		return nil, storage.NotFoundOr(err, internal.ErrOrderNotFound)
	}
	return order.FromDataModel(&model), nil
}

func (r *OrderRepository) SetCheckoutSessionID(ctx context.Context, id int64, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stripe_checkout_session_id": sessionID,
			"updated_at":                 time.Now(),
		})
	if res.Error != nil {
		return storage.Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.ErrOrderNotFound
	}
	return nil
}

// MarkPaid moves an order from PENDING to PAID. It returns false when the
// order was not PENDING at write time, which callers treat as a lost race.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, upd order.PaidUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(order.StatusPaid),
		"paid_at":    upd.PaidAt,
		"updated_at": time.Now(),
	}
	if upd.PaymentMethod != nil {
		updates["payment_method"] = *upd.PaymentMethod
	}
	if upd.PaymentIntentID != nil {
		updates["stripe_payment_intent_id"] = *upd.PaymentIntentID
	}

	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ? AND status = ?", id, string(order.StatusPending)).
		Updates(updates)
	if res.Error != nil {
		return false, storage.Classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkCanceled sets CANCELED when the current status is one of from.
func (r *OrderRepository) MarkCanceled(ctx context.Context, id int64, from ...order.Status) (bool, error) {
	if len(from) == 0 {
		from = []order.Status{order.StatusPending}
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(map[string]interface{}{
			"status":     string(order.StatusCanceled),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, storage.Classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}
