package repository

import (
	"context"
	"errors"

	"github.com/amifistore/cekot-sub000/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTopupNotFound = errors.New("topup request not found")
	ErrTopupSettled  = errors.New("topup request already settled")
)

type TopupRepository struct {
	db *gorm.DB
}

func NewTopupRepository(db *gorm.DB) *TopupRepository {
	return &TopupRepository{db: db}
}

func (r *TopupRepository) Create(ctx context.Context, req *model.TopupRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *TopupRepository) GetByID(ctx context.Context, id int64) (*model.TopupRequest, error) {
	var req model.TopupRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopupNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Settle moves PENDING to a terminal status. The CAS makes double approval
// (and approve/reject races) a no-op for the loser.
func (r *TopupRepository) Settle(ctx context.Context, tx *gorm.DB, id int64, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.TopupRequest{}).
		Where("id = ? AND status = ?", id, model.TopupStatusPending).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTopupSettled
	}
	return nil
}

// PendingAmounts lists open top-up amounts for a user; the uniqueness tail is
// retried against this set.
func (r *TopupRepository) PendingAmounts(ctx context.Context, chatID string) ([]int64, error) {
	var amounts []int64
	err := r.db.WithContext(ctx).
		Model(&model.TopupRequest{}).
		Where("user_id = ? AND status = ?", chatID, model.TopupStatusPending).
		Pluck("amount", &amounts).Error
	return amounts, err
}

func (r *TopupRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*model.TopupRequest, error) {
	var reqs []*model.TopupRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}
