package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amifistore/cekot-sub000/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrStaleStatus        = errors.New("order status changed concurrently")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrRefundAlreadyTaken = errors.New("refund already executed for this order")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByProviderRef(ctx context.Context, ref string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("provider_ref = ?", ref).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus is the CAS the whole pipeline is built on: the transition is
// checked against the DAG, then written only if the row still holds
// fromStatus. Losing the race surfaces as ErrStaleStatus and the caller
// re-reads. patch carries extra columns (sn, note) committed with the
// transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, ref, fromStatus, toStatus string, patch map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range patch {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("provider_ref = ? AND status = ?", ref, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkRefunded flips status_refund 0→1, recording that the refund decision
// (credit or hold) has executed. Exactly one caller wins; everyone else gets
// ErrRefundAlreadyTaken and must not credit the wallet.
func (r *OrderRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, ref string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("provider_ref = ? AND status_refund = 0", ref).
		Update("status_refund", 1)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundAlreadyTaken
	}
	return nil
}

// UpdateResult records sn/note observed without a status change. Empty values
// never overwrite recorded ones.
func (r *OrderRepository) UpdateResult(ctx context.Context, ref, sn, note string) error {
	updates := map[string]interface{}{}
	if sn != "" {
		updates["sn"] = sn
	}
	if note != "" {
		updates["note"] = note
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("provider_ref = ?", ref).
		Updates(updates).Error
}

// nonTerminalStatuses is the reconciler working set. DEBITED is included so
// an order that crashed between debit and dispatch is picked up again after a
// restart. FAILED orders join the set via the status_refund clause below:
// FAILED is not settled until the refund decision has committed.
var nonTerminalStatuses = []string{
	model.OrderStatusDebited,
	model.OrderStatusDispatched,
	model.OrderStatusProcessing,
	model.OrderStatusPendingProvider,
}

const workingSetClause = "(status IN ? OR (status = ? AND status_refund = 0))"

func (r *OrderRepository) GetNonTerminal(ctx context.Context, maxAge time.Duration, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where(workingSetClause+" AND updated_at >= ?",
			nonTerminalStatuses, model.OrderStatusFailed, time.Now().Add(-maxAge)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// GetTimedOut returns working-set orders the provider never confirmed within
// maxAge; the reconciler fails them out (which also settles a pending refund
// decision).
func (r *OrderRepository) GetTimedOut(ctx context.Context, maxAge time.Duration, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where(workingSetClause+" AND updated_at < ?",
			nonTerminalStatuses, model.OrderStatusFailed, time.Now().Add(-maxAge)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// SetLastNotified records the last status for which a user notification went
// out; the sender dedups against it.
func (r *OrderRepository) SetLastNotified(ctx context.Context, ref, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("provider_ref = ?", ref).
		Update("last_notified_status", status).Error
}

func (r *OrderRepository) ListByUser(ctx context.Context, chatID string, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", chatID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
