package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	userDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/user"
	"github.com/frahmantamala/checkout-payments/internal/user"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	model := user.ToDataModel(u)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.NewConflictError("user already exists", internal.ErrCodeValidationFailed)
		}
		return storage.Classify(err)
	}
	u.ID = model.ID
	u.CreatedAt = model.CreatedAt
	u.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *UserRepository) first(ctx context.Context, query string, args ...interface{}) (*user.User, error) {
	var model userDatamodel.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		return nil, storage.NotFoundOr(err, internal.ErrUserNotFound)
	}
	return user.FromDataModel(&model), nil
}

// SetStripeCustomerID stores the processor customer id only if none is set.
// It returns false when another request already stored one.
func (r *UserRepository) SetStripeCustomerID(ctx context.Context, id int64, customerID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&userDatamodel.User{}).
		Where("id = ? AND stripe_customer_id IS NULL", id).
		Updates(map[string]interface{}{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return false, storage.Classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}
