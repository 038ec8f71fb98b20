package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	productDatamodel "github.com/frahmantamala/checkout-payments/internal/core/datamodel/product"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	"github.com/frahmantamala/checkout-payments/internal/product"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	var model productDatamodel.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, storage.NotFoundOr(err, internal.ErrProductNotFound)
	}
	return product.FromDataModel(&model), nil
}

func (r *ProductRepository) ListActive(ctx context.Context) ([]*product.Product, error) {
	var models []*productDatamodel.Product
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("name ASC").Find(&models).Error; err != nil {
		return nil, storage.Classify(err)
	}

	products := make([]*product.Product, 0, len(models))
	for _, m := range models {
		products = append(products, product.FromDataModel(m))
	}
	return products, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	model := product.ToDataModel(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storage.Classify(err)
	}
	p.ID = model.ID
	p.CreatedAt = model.CreatedAt
	p.UpdatedAt = model.UpdatedAt
	return nil
}
