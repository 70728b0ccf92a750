package repository

import (
	"context"
	"errors"

	"github.com/amifistore/cekot-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrProductNotFound = errors.New("product not found")

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByCode(ctx context.Context, code string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) ListActive(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ProductStatusActive).
		Order("category ASC, code ASC").
		Find(&products).Error
	return products, err
}

// Upsert writes a catalog row keyed by code; the importer calls this for
// every product the provider lists.
func (r *ProductRepository) Upsert(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "price", "status", "category", "provider_tag", "stock_hint", "updated_at",
			}),
		}).
		Create(product).Error
}
