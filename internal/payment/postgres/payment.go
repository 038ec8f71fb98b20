package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	paymentDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	"github.com/frahmantamala/checkout-payments/internal/payment"
)

// ErrPaymentExists is returned by Create when the order already has a payment.
var ErrPaymentExists = internal.NewConflictError("payment already exists for order", internal.ErrCodePaymentExists)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	model := payment.ToDataModel(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPaymentExists
		}
		return storage.Classify(err)
	}
	p.ID = model.ID
	p.CreatedAt = model.CreatedAt
	p.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (*payment.Payment, error) {
	return r.first(ctx, "stripe_charge_id = ?", chargeID)
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...interface{}) (*payment.Payment, error) {
	var model paymentDatamodel.Payment
	err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&model).Error
	if err != nil {
		return nil, storage.NotFoundOr(err, internal.ErrPaymentNotFound)
	}
	return payment.FromDataModel(&model), nil
}

// MarkSucceeded sets status SUCCEEDED and fills whichever refs are known.
func (r *PaymentRepository) MarkSucceeded(ctx context.Context, id int64, ref payment.ChargeRef) error {
	updates := refUpdates(ref)
	updates["status"] = string(payment.StatusSucceeded)
	return r.update(ctx, id, updates)
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     string(payment.StatusFailed),
		"updated_at": time.Now(),
	})
}

// Enrich writes charge refs onto a single payment. Empty refs are a no-op.
func (r *PaymentRepository) Enrich(ctx context.Context, id int64, ref payment.ChargeRef) error {
	if ref.IsZero() {
		return nil
	}
	return r.update(ctx, id, refUpdates(ref))
}

// EnrichByOrderID writes charge refs onto every payment of the order and
// returns how many rows were touched.
func (r *PaymentRepository) EnrichByOrderID(ctx context.Context, orderID int64, ref payment.ChargeRef) (int64, error) {
	if ref.IsZero() {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&paymentDatamodel.Payment{}).
		Where("order_id = ?", orderID).
		Updates(refUpdates(ref))
	if res.Error != nil {
		return 0, storage.Classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PaymentRepository) update(ctx context.Context, id int64, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&paymentDatamodel.Payment{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return storage.Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.ErrPaymentNotFound
	}
	return nil
}

// refUpdates never contains a key for an unknown ref, so stored values survive.
func refUpdates(ref payment.ChargeRef) map[string]interface{} {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if ref.ChargeID != "" {
		updates["stripe_charge_id"] = ref.ChargeID
	}
	if ref.ReceiptURL != "" {
		updates["receipt_url"] = ref.ReceiptURL
	}
	return updates
}
