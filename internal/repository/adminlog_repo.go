package repository

import (
	"context"

	"github.com/amifistore/cekot-sub000/internal/model"

	"gorm.io/gorm"
)

type AdminLogRepository struct {
	db *gorm.DB
}

func NewAdminLogRepository(db *gorm.DB) *AdminLogRepository {
	return &AdminLogRepository{db: db}
}

func (r *AdminLogRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.AdminLog) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *AdminLogRepository) List(ctx context.Context, page, pageSize int) ([]*model.AdminLog, int64, error) {
	var entries []*model.AdminLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AdminLog{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
