package repository

import (
	"context"
	"errors"

	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrOptimisticLock    = errors.New("concurrent balance update, retry")
)

// LedgerRepository is the only writer of balances. Every balance change pairs
// a conditional update on the user row with an append to wallet_transactions
// inside the caller's DB transaction, so a committed balance always equals
// the sum of its ledger rows.
type LedgerRepository struct {
	db  *gorm.DB
	ids *idgen.Snowflake
}

func NewLedgerRepository(db *gorm.DB, ids *idgen.Snowflake) *LedgerRepository {
	return &LedgerRepository{db: db, ids: ids}
}

// Debit withdraws amount from the user iff the balance covers it. The
// conditional update doubles as the optimistic lock: a concurrent write bumps
// version and this statement affects zero rows.
func (r *LedgerRepository) Debit(ctx context.Context, tx *gorm.DB, user *model.User, amount int64, kind, description string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("chat_id = ? AND balance >= ? AND version = ?", user.ChatID, amount, user.Version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		var current model.User
		if err := tx.WithContext(ctx).Where("chat_id = ?", user.ChatID).First(&current).Error; err != nil {
			return "", err
		}
		if current.Balance < amount {
			return "", ErrInsufficientFunds
		}
		return "", ErrOptimisticLock
	}

	trans := &model.WalletTransaction{
		TransactionNo: r.ids.TransactionNo(),
		UserID:        user.ChatID,
		Kind:          kind,
		Amount:        -amount,
		Description:   description,
		BalanceBefore: user.Balance,
		BalanceAfter:  user.Balance - amount,
	}
	if err := tx.WithContext(ctx).Create(trans).Error; err != nil {
		return "", err
	}

	return trans.TransactionNo, nil
}

// creditRetries bounds the version-race retry loop in Credit. A deposit has
// no precondition to lose, so the loop only ever spins on concurrent writers.
const creditRetries = 5

// Credit deposits amount (top-ups, refunds, adjustments). The update is
// pinned to the version read so the recorded before/after window is exact
// even under concurrent writers; a lost race re-reads and retries.
func (r *LedgerRepository) Credit(ctx context.Context, tx *gorm.DB, chatID string, amount int64, kind, description string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if tx == nil {
		tx = r.db
	}

	for attempt := 0; attempt < creditRetries; attempt++ {
		var user model.User
		if err := tx.WithContext(ctx).Where("chat_id = ?", chatID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", ErrUserNotFound
			}
			return "", err
		}

		result := tx.WithContext(ctx).
			Model(&model.User{}).
			Where("chat_id = ? AND version = ?", chatID, user.Version).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return "", result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}

		trans := &model.WalletTransaction{
			TransactionNo: r.ids.TransactionNo(),
			UserID:        chatID,
			Kind:          kind,
			Amount:        amount,
			Description:   description,
			BalanceBefore: user.Balance,
			BalanceAfter:  user.Balance + amount,
		}
		if err := tx.WithContext(ctx).Create(trans).Error; err != nil {
			return "", err
		}

		return trans.TransactionNo, nil
	}

	return "", ErrOptimisticLock
}

func (r *LedgerRepository) Balance(ctx context.Context, chatID string) (int64, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

// SumTransactions recomputes the balance from the ledger; the audit check for
// balance(u) = sum(transactions(u)).
func (r *LedgerRepository) SumTransactions(ctx context.Context, chatID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("user_id = ?", chatID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// CountByDescription counts ledger rows of a kind referencing a description
// (provider ref or top-up id). The single-debit and single-refund invariants
// are checked against this.
func (r *LedgerRepository) CountByDescription(ctx context.Context, kind, description string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("kind = ? AND description = ?", kind, description).
		Count(&count).Error
	return count, err
}

func (r *LedgerRepository) ListByUser(ctx context.Context, chatID string, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", chatID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
